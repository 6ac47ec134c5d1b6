package player

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name  string
	err   error
	block chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Connect(ctx context.Context, streamID string) (io.Closer, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return noopHandle{}, nil
}

func (s *fakeStage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestConnect_FirstStageWins(t *testing.T) {
	webrtc := &fakeStage{name: "webrtc"}
	hls := &fakeStage{name: "hls"}

	n := NewNegotiator(webrtc, hls)
	require.NoError(t, n.Connect(context.Background(), "org-a_cam-1"))

	state, stage := n.State()
	assert.Equal(t, StateConnected, state)
	assert.Equal(t, "webrtc", stage)
	assert.Equal(t, 1, webrtc.callCount())
	assert.Equal(t, 0, hls.callCount(), "later stages untouched after success")
}

func TestConnect_FallsBackInOrder(t *testing.T) {
	webrtc := &fakeStage{name: "webrtc", err: errors.New("ice failed")}
	hls := &fakeStage{name: "hls", err: errors.New("playlist 404")}
	mp4 := &fakeStage{name: "mp4"}

	n := NewNegotiator(webrtc, hls, mp4)
	require.NoError(t, n.Connect(context.Background(), "s1"))

	_, stage := n.State()
	assert.Equal(t, "mp4", stage)

	attempts := n.Attempts()
	require.Len(t, attempts, 3)
	assert.Equal(t, "webrtc", attempts[0].Stage)
	assert.Error(t, attempts[0].Err)
	assert.Equal(t, "hls", attempts[1].Stage)
	assert.Equal(t, "mp4", attempts[2].Stage)
	assert.NoError(t, attempts[2].Err)
}

func TestConnect_AllStagesFail(t *testing.T) {
	webrtc := &fakeStage{name: "webrtc", err: errors.New("a")}
	hls := &fakeStage{name: "hls", err: errors.New("b")}

	n := NewNegotiator(webrtc, hls)
	err := n.Connect(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrPlaybackExhausted)

	state, _ := n.State()
	assert.Equal(t, StateError, state)

	// Each stage tried exactly once per cycle.
	assert.Equal(t, 1, webrtc.callCount())
	assert.Equal(t, 1, hls.callCount())
}

func TestConnect_ReentrantWhileConnecting(t *testing.T) {
	block := make(chan struct{})
	slow := &fakeStage{name: "webrtc", block: block}

	n := NewNegotiator(slow)
	done := make(chan error, 1)
	go func() { done <- n.Connect(context.Background(), "s1") }()

	require.Eventually(t, func() bool {
		state, _ := n.State()
		return state == StateConnecting
	}, time.Second, 5*time.Millisecond)

	// A second Connect during negotiation is a no-op.
	require.NoError(t, n.Connect(context.Background(), "s1"))
	assert.Equal(t, 1, slow.callCount())

	close(block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, slow.callCount())
}

func TestConnect_NoOpWhenConnected(t *testing.T) {
	stage := &fakeStage{name: "webrtc"}
	n := NewNegotiator(stage)

	require.NoError(t, n.Connect(context.Background(), "s1"))
	require.NoError(t, n.Connect(context.Background(), "s1"))
	assert.Equal(t, 1, stage.callCount())
}

func TestConnect_StageTimeout(t *testing.T) {
	stuck := &fakeStage{name: "webrtc", block: make(chan struct{})}
	fallback := &fakeStage{name: "hls"}

	n := NewNegotiator(stuck, fallback)
	n.StageTimeout = 20 * time.Millisecond

	require.NoError(t, n.Connect(context.Background(), "s1"))
	_, stage := n.State()
	assert.Equal(t, "hls", stage)
}

func TestConnect_StateCallbackSequence(t *testing.T) {
	stage := &fakeStage{name: "webrtc"}
	n := NewNegotiator(stage)

	var mu sync.Mutex
	var states []State
	n.OnStateChange = func(s State, _ string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	require.NoError(t, n.Connect(context.Background(), "s1"))
	require.NoError(t, n.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestDisconnect_ClosesHandle(t *testing.T) {
	closed := false
	stage := stageFunc{name: "webrtc", fn: func(ctx context.Context, id string) (io.Closer, error) {
		return closerFunc(func() error { closed = true; return nil }), nil
	}}

	n := NewNegotiator(stage)
	require.NoError(t, n.Connect(context.Background(), "s1"))
	require.NoError(t, n.Disconnect())
	assert.True(t, closed)

	state, _ := n.State()
	assert.Equal(t, StateDisconnected, state)
}

func TestDisconnect_SupersedesInFlightConnect(t *testing.T) {
	release := make(chan struct{})
	var closed atomic.Bool
	// A stage mid-handshake that ignores cancellation and eventually
	// succeeds anyway.
	stage := stageFunc{name: "webrtc", fn: func(ctx context.Context, id string) (io.Closer, error) {
		<-release
		return closerFunc(func() error { closed.Store(true); return nil }), nil
	}}

	n := NewNegotiator(stage)
	done := make(chan error, 1)
	go func() { done <- n.Connect(context.Background(), "s1") }()

	require.Eventually(t, func() bool {
		state, _ := n.State()
		return state == StateConnecting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, n.Disconnect())
	close(release)
	assert.Error(t, <-done)

	state, _ := n.State()
	assert.Equal(t, StateDisconnected, state, "late stage success must not resurrect the connection")
	assert.True(t, closed.Load(), "handle from the superseded cycle is closed")
}

func TestDisconnect_CancelsStageContext(t *testing.T) {
	stuck := &fakeStage{name: "webrtc", block: make(chan struct{})}
	n := NewNegotiator(stuck)

	done := make(chan error, 1)
	go func() { done <- n.Connect(context.Background(), "s1") }()

	require.Eventually(t, func() bool {
		state, _ := n.State()
		return state == StateConnecting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, n.Disconnect())
	assert.ErrorIs(t, <-done, context.Canceled)

	state, _ := n.State()
	assert.Equal(t, StateDisconnected, state)
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, streamID string) (io.Closer, error)
}

func (s stageFunc) Name() string { return s.name }
func (s stageFunc) Connect(ctx context.Context, streamID string) (io.Closer, error) {
	return s.fn(ctx, streamID)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestHLSStage_ValidPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stream.m3u8", r.URL.Path)
		assert.Equal(t, "s1", r.URL.Query().Get("src"))
		w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n"))
	}))
	defer srv.Close()

	stage := &HLSStage{BaseURL: srv.URL}
	handle, err := stage.Connect(context.Background(), "s1")
	require.NoError(t, err)
	defer handle.Close()

	h, ok := handle.(noopHandle)
	require.True(t, ok)
	assert.Contains(t, h.URL(), "/api/stream.m3u8?src=s1")
}

func TestHLSStage_NotAPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>error</html>"))
	}))
	defer srv.Close()

	stage := &HLSStage{BaseURL: srv.URL}
	_, err := stage.Connect(context.Background(), "s1")
	assert.Error(t, err)
}

func TestMP4Stage_RequiresMediaBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 but empty body: dead source.
	}))
	defer srv.Close()

	stage := &MP4Stage{BaseURL: srv.URL}
	_, err := stage.Connect(context.Background(), "s1")
	assert.Error(t, err)
}

func TestMP4Stage_Connects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ftyp"))
	}))
	defer srv.Close()

	stage := &MP4Stage{BaseURL: srv.URL}
	handle, err := stage.Connect(context.Background(), "s1")
	require.NoError(t, err)
	handle.Close()
}
