package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-streamgw/internal/gateway"
	"github.com/technosupport/ts-streamgw/internal/player"
	"github.com/technosupport/ts-streamgw/internal/roster"
	"github.com/technosupport/ts-streamgw/internal/transcode"
)

func fakeGatewayServer(t *testing.T) (*httptest.Server, *gateway.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/config":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/webrtc":
			json.NewEncoder(w).Encode(gateway.SessionDescription{Type: "answer", SDP: "v=0\r\n"})
		case r.URL.Path == "/api/streams":
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, gateway.NewClient(srv.URL)
}

func testRoster() roster.Source {
	return &roster.StaticSource{Cameras: []roster.Camera{
		{ID: "cam-1", OrgID: "org-a", Name: "Front", SourceURL: "rtsp://u:p@10.0.0.1/s1", IsActive: true},
	}}
}

func TestGatewayProxy_AddStream(t *testing.T) {
	_, client := fakeGatewayServer(t)
	h := NewGatewayHandler(client, testRoster())

	body, _ := json.Marshal(proxyRequest{Action: "addStream", CameraID: "cam-1"})
	req := httptest.NewRequest("POST", "/api/v1/gateway/proxy", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Proxy(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success  bool   `json:"success"`
		StreamID string `json:"stream_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "org-a_cam-1_front", resp.StreamID)
}

func TestGatewayProxy_UnknownCamera(t *testing.T) {
	_, client := fakeGatewayServer(t)
	h := NewGatewayHandler(client, testRoster())

	body, _ := json.Marshal(proxyRequest{Action: "removeStream", CameraID: "missing"})
	req := httptest.NewRequest("POST", "/api/v1/gateway/proxy", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Proxy(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestGatewayProxy_UnknownAction(t *testing.T) {
	_, client := fakeGatewayServer(t)
	h := NewGatewayHandler(client, testRoster())

	req := httptest.NewRequest("POST", "/api/v1/gateway/proxy",
		bytes.NewReader([]byte(`{"action":"reboot"}`)))
	w := httptest.NewRecorder()
	h.Proxy(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGatewayProxy_WebRTC(t *testing.T) {
	_, client := fakeGatewayServer(t)
	h := NewGatewayHandler(client, testRoster())

	body, _ := json.Marshal(proxyRequest{Action: "webrtc", StreamID: "org-a_cam-1", OfferSDP: "v=0\r\noffer"})
	req := httptest.NewRequest("POST", "/api/v1/gateway/proxy", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Proxy(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                        `json:"success"`
		Answer  *gateway.SessionDescription `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Answer)
	assert.Equal(t, "answer", resp.Answer.Type)
}

func TestGatewayProxy_GatewayDown(t *testing.T) {
	client := gateway.NewClient("http://127.0.0.1:1")
	h := NewGatewayHandler(client, testRoster())

	body, _ := json.Marshal(proxyRequest{Action: "addStream", CameraID: "cam-1"})
	req := httptest.NewRequest("POST", "/api/v1/gateway/proxy", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Proxy(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGatewayProxyGet_Passthrough(t *testing.T) {
	var gotPath, gotSrc string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSrc = r.URL.Query().Get("src")
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	h := NewGatewayHandler(gateway.NewClient(srv.URL), testRoster())

	req := httptest.NewRequest("GET", "/api/v1/gateway/proxy?endpoint=stream.m3u8&src=org-a_cam-1", nil)
	w := httptest.NewRecorder()
	h.ProxyGet(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/stream.m3u8", gotPath)
	assert.Equal(t, "org-a_cam-1", gotSrc)
	assert.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "#EXTM3U")
}

func TestGatewayProxyGet_RejectsUnknownEndpoint(t *testing.T) {
	_, client := fakeGatewayServer(t)
	h := NewGatewayHandler(client, testRoster())

	req := httptest.NewRequest("GET", "/api/v1/gateway/proxy?endpoint=config", nil)
	w := httptest.NewRecorder()
	h.ProxyGet(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscode_RequiresKnownProtocol(t *testing.T) {
	h := NewTranscodeHandler(transcode.NewManager("ffmpeg", time.Second))

	req := httptest.NewRequest("GET", "/api/v1/transcode?url=gopher://cam/1", nil)
	w := httptest.NewRecorder()
	h.Serve(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/transcode", nil)
	w = httptest.NewRecorder()
	h.Serve(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscode_ThrottledAfterSpawnFailure(t *testing.T) {
	mgr := transcode.NewManager("/nonexistent/ffmpeg-binary", time.Minute)
	h := NewTranscodeHandler(mgr)

	// First request fails to spawn.
	req := httptest.NewRequest("GET", "/api/v1/transcode?url=rtsp://10.0.0.1/s1", nil)
	w := httptest.NewRecorder()
	h.Serve(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// Second request inside the window is throttled.
	req = httptest.NewRequest("GET", "/api/v1/transcode?url=rtsp://10.0.0.1/s1", nil)
	w = httptest.NewRecorder()
	h.Serve(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Operator reset clears the block.
	req = httptest.NewRequest("DELETE", "/api/v1/transcode", nil)
	w = httptest.NewRecorder()
	h.ResetThrottles(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/transcode?url=rtsp://10.0.0.1/s1", nil)
	w = httptest.NewRecorder()
	h.Serve(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code, "retry allowed after reset")
}

type fakeTestRegistrar struct {
	mu      sync.Mutex
	added   []string
	removed []string
	failAdd bool
}

func (f *fakeTestRegistrar) AddRawStream(ctx context.Context, streamID, sourceURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return gateway.ErrGatewayUnavailable
	}
	f.added = append(f.added, streamID)
	return nil
}

func (f *fakeTestRegistrar) RemoveRawStream(ctx context.Context, streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, streamID)
	return nil
}

func (f *fakeTestRegistrar) snapshot() (added, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...), append([]string(nil), f.removed...)
}

func TestCameraTest_RegistersAndTearsDown(t *testing.T) {
	reg := &fakeTestRegistrar{}
	h := NewCameraTestHandler(reg)
	h.teardown = 10 * time.Millisecond

	body := []byte(`{"stream_url":"rtsp://admin:pw@10.0.0.5/stream1","protocol":"rtsp"}`)
	req := httptest.NewRequest("POST", "/api/v1/cameras/test", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Test(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success  bool   `json:"success"`
		StreamID string `json:"stream_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.StreamID, "test_")

	require.Eventually(t, func() bool {
		_, removed := reg.snapshot()
		return len(removed) == 1 && removed[0] == resp.StreamID
	}, time.Second, 10*time.Millisecond, "disposable stream torn down after the preview window")
}

func TestCameraTest_ValidationErrors(t *testing.T) {
	h := NewCameraTestHandler(&fakeTestRegistrar{})

	cases := []struct {
		name string
		body string
	}{
		{"unknown protocol", `{"stream_url":"foo://x","protocol":"foo"}`},
		{"scheme mismatch", `{"stream_url":"http://10.0.0.5/feed","protocol":"rtsp"}`},
		{"missing credentials", `{"stream_url":"tapo://10.0.0.5","protocol":"tapo"}`},
		{"missing fields", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/cameras/test", bytes.NewReader([]byte(tc.body)))
			w := httptest.NewRecorder()
			h.Test(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCameraTest_GatewayDown(t *testing.T) {
	h := NewCameraTestHandler(&fakeTestRegistrar{failAdd: true})

	body := []byte(`{"stream_url":"rtsp://admin:pw@10.0.0.5/s1","protocol":"rtsp"}`)
	req := httptest.NewRequest("POST", "/api/v1/cameras/test", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Test(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

type fakeProbeStage struct {
	name string
	err  error
}

func (s *fakeProbeStage) Name() string { return s.name }

func (s *fakeProbeStage) Connect(ctx context.Context, streamID string) (io.Closer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func TestCameraTest_ProbeReportsTransport(t *testing.T) {
	h := NewCameraTestHandler(&fakeTestRegistrar{})
	h.teardown = time.Hour
	h.probeDelay = time.Millisecond
	h.ProbeStages = []player.Stage{
		&fakeProbeStage{name: "webrtc", err: errors.New("ice failed")},
		&fakeProbeStage{name: "hls"},
	}

	body := []byte(`{"stream_url":"rtsp://admin:pw@10.0.0.5/s1","protocol":"rtsp","probe":true}`)
	req := httptest.NewRequest("POST", "/api/v1/cameras/test", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Test(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Playable  bool   `json:"playable"`
		Transport string `json:"transport"`
		Attempts  []struct {
			Transport string `json:"transport"`
			Error     string `json:"error"`
		} `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Playable)
	assert.Equal(t, "hls", resp.Transport)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, "webrtc", resp.Attempts[0].Transport)
	assert.Contains(t, resp.Attempts[0].Error, "ice failed")
	assert.Empty(t, resp.Attempts[1].Error)
}

func TestSync_ReportsPartialFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &roster.StaticSource{Cameras: []roster.Camera{
		{ID: "cam-1", OrgID: "org-a", Name: "A", IsActive: true},
		{ID: "cam-2", OrgID: "org-a", Name: "B", IsActive: true},
	}}
	rec := gateway.NewReconciler(src, gateway.NewClient(srv.URL))
	h := NewSyncHandler(rec, nil)

	req := httptest.NewRequest("POST", "/api/v1/sync", nil)
	w := httptest.NewRecorder()
	h.Sync(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool               `json:"success"`
		Report  gateway.SyncReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Report.Total)
	assert.Equal(t, 1, resp.Report.Synced)
	require.Len(t, resp.Report.Failures, 1)
}

func TestProtocols_ListAndValidate(t *testing.T) {
	h := NewProtocolHandler()

	req := httptest.NewRequest("GET", "/api/v1/protocols", nil)
	w := httptest.NewRecorder()
	h.List(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ip_camera")
	assert.Contains(t, w.Body.String(), "rtsp")

	req = httptest.NewRequest("POST", "/api/v1/protocols/validate",
		bytes.NewReader([]byte(`{"protocol":"tapo","url":"tapo://10.0.0.2"}`)))
	w = httptest.NewRecorder()
	h.Validate(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "missing_credentials")
}

func TestHealthz_DegradedWhenGatewayDown(t *testing.T) {
	h := NewHealthHandler(gateway.NewClient("http://127.0.0.1:1"), nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h.Healthz(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Components["gateway"])
}
