package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-streamgw/internal/gateway"
	"github.com/technosupport/ts-streamgw/internal/player"
	"github.com/technosupport/ts-streamgw/internal/protocols"
)

// testTeardownDelay gives the dashboard time to preview the stream
// before the disposable registration disappears.
const testTeardownDelay = 15 * time.Second

type testRegistrar interface {
	AddRawStream(ctx context.Context, streamID, sourceURL string) error
	RemoveRawStream(ctx context.Context, streamID string) error
}

type CameraTestHandler struct {
	Gateway testRegistrar

	// ProbeStages, when set, lets the handler verify playback of the
	// registered stream instead of just registering it.
	ProbeStages []player.Stage

	// teardown is overridable so tests don't wait 15s.
	teardown time.Duration
	// probeDelay gives the gateway time to open the source before the
	// playback probe runs.
	probeDelay time.Duration
}

func NewCameraTestHandler(gw testRegistrar) *CameraTestHandler {
	return &CameraTestHandler{
		Gateway:    gw,
		teardown:   testTeardownDelay,
		probeDelay: time.Second,
	}
}

type cameraTestRequest struct {
	StreamURL string `json:"stream_url"`
	Protocol  string `json:"protocol"`
	Probe     bool   `json:"probe,omitempty"`
}

// Test validates a camera URL against its protocol grammar, registers
// it under a disposable id so the operator can preview it, and removes
// the registration after a short delay.
func (h *CameraTestHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req cameraTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StreamURL == "" || req.Protocol == "" {
		writeError(w, "stream_url and protocol are required", http.StatusBadRequest)
		return
	}

	desc, err := protocols.Lookup(req.Protocol)
	if err != nil {
		writeError(w, "unsupported protocol: "+req.Protocol, http.StatusBadRequest)
		return
	}
	if err := protocols.ValidateURL(req.Protocol, req.StreamURL); err != nil {
		switch {
		case errors.Is(err, protocols.ErrSchemeMismatch):
			writeError(w, "url does not match protocol "+desc.Scheme, http.StatusBadRequest)
		case errors.Is(err, protocols.ErrMissingCredentials):
			writeError(w, "protocol "+desc.Scheme+" requires credentials in the url", http.StatusBadRequest)
		default:
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	streamID := "test_" + uuid.New().String()
	if err := h.Gateway.AddRawStream(r.Context(), streamID, req.StreamURL); err != nil {
		if errors.Is(err, gateway.ErrGatewayUnavailable) {
			writeError(w, "media gateway unavailable", http.StatusBadGateway)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Deregister after the preview window; the request context is gone
	// by then so teardown uses its own.
	time.AfterFunc(h.teardown, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Gateway.RemoveRawStream(ctx, streamID); err != nil {
			log.Printf("[CAM-TEST] teardown failed stream=%s: %v", streamID, err)
		}
	})

	resp := map[string]interface{}{
		"success":    true,
		"stream_id":  streamID,
		"expires_in": int(h.teardown.Seconds()),
	}

	if req.Probe && len(h.ProbeStages) > 0 {
		transport, attempts := h.probe(r.Context(), streamID)
		resp["playable"] = transport != ""
		if transport != "" {
			resp["transport"] = transport
		}
		resp["attempts"] = attempts
	}

	writeJSON(w, http.StatusOK, resp)
}

type probeAttempt struct {
	Transport string `json:"transport"`
	Error     string `json:"error,omitempty"`
}

// probe walks the playback transport chain against the freshly
// registered stream and reports what actually connected.
func (h *CameraTestHandler) probe(ctx context.Context, streamID string) (string, []probeAttempt) {
	select {
	case <-time.After(h.probeDelay):
	case <-ctx.Done():
		return "", nil
	}

	neg := player.NewNegotiator(h.ProbeStages...)
	neg.StageTimeout = 5 * time.Second

	err := neg.Connect(ctx, streamID)

	attempts := make([]probeAttempt, 0, len(h.ProbeStages))
	for _, a := range neg.Attempts() {
		pa := probeAttempt{Transport: a.Stage}
		if a.Err != nil {
			pa.Error = a.Err.Error()
		}
		attempts = append(attempts, pa)
	}

	if err != nil {
		log.Printf("[CAM-TEST] probe failed stream=%s: %v", streamID, err)
		return "", attempts
	}

	_, transport := neg.State()
	if err := neg.Disconnect(); err != nil {
		log.Printf("[CAM-TEST] probe teardown stream=%s: %v", streamID, err)
	}
	return transport, attempts
}
