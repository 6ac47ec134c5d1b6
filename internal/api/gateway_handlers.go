package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/technosupport/ts-streamgw/internal/events"
	"github.com/technosupport/ts-streamgw/internal/gateway"
	"github.com/technosupport/ts-streamgw/internal/metrics"
	"github.com/technosupport/ts-streamgw/internal/roster"
)

// allowed GET passthrough endpoints on the media gateway. Anything
// else stays unreachable from the outside.
var proxyEndpoints = map[string]string{
	"streams":     "/api/streams",
	"stream.m3u8": "/api/stream.m3u8",
	"stream.mp4":  "/api/stream.mp4",
	"frame.jpeg":  "/api/frame.jpeg",
}

type GatewayHandler struct {
	Client *gateway.Client
	Source roster.Source

	// Events may be nil; Publish on a nil publisher is a no-op.
	Events *events.Publisher
}

func NewGatewayHandler(client *gateway.Client, source roster.Source) *GatewayHandler {
	return &GatewayHandler{Client: client, Source: source}
}

type proxyRequest struct {
	Action   string `json:"action"`
	CameraID string `json:"camera_id,omitempty"`
	StreamID string `json:"stream_id,omitempty"`
	OfferSDP string `json:"offer_sdp,omitempty"`
}

// Proxy dispatches control actions to the media gateway.
func (h *GatewayHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "addStream", "removeStream":
		h.handleStreamAction(w, r, req)
	case "webrtc":
		h.handleWebRTC(w, r, req)
	default:
		writeError(w, "unknown action: "+req.Action, http.StatusBadRequest)
	}
}

func (h *GatewayHandler) handleStreamAction(w http.ResponseWriter, r *http.Request, req proxyRequest) {
	if req.CameraID == "" {
		writeError(w, "camera_id is required", http.StatusBadRequest)
		return
	}
	cam, err := h.Source.GetByID(r.Context(), req.CameraID)
	if err != nil {
		if errors.Is(err, roster.ErrCameraNotFound) {
			writeError(w, "camera not found: "+req.CameraID, http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if req.Action == "addStream" {
		err = h.Client.AddStream(r.Context(), *cam)
	} else {
		err = h.Client.RemoveStream(r.Context(), *cam)
	}
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(req.Action, "error").Inc()
		if errors.Is(err, gateway.ErrGatewayUnavailable) {
			writeError(w, "media gateway unavailable", http.StatusBadGateway)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.GatewayRequests.WithLabelValues(req.Action, "ok").Inc()

	eventType := events.EventStreamAdded
	if req.Action == "removeStream" {
		eventType = events.EventStreamRemoved
	}
	h.Events.Publish(&events.StreamEvent{
		Type:     eventType,
		OrgID:    cam.OrgID,
		CameraID: cam.ID,
		StreamID: h.Client.StreamID(*cam),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"stream_id": h.Client.StreamID(*cam),
	})
}

func (h *GatewayHandler) handleWebRTC(w http.ResponseWriter, r *http.Request, req proxyRequest) {
	if req.StreamID == "" || req.OfferSDP == "" {
		writeError(w, "stream_id and offer_sdp are required", http.StatusBadRequest)
		return
	}

	answer, err := h.Client.NegotiateWebRTC(r.Context(), req.StreamID, req.OfferSDP)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues("webrtc", "error").Inc()
		var sigErr *gateway.SignalingError
		switch {
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			writeError(w, "media gateway unavailable", http.StatusBadGateway)
		case errors.As(err, &sigErr):
			writeError(w, sigErr.Error(), http.StatusBadGateway)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	metrics.GatewayRequests.WithLabelValues("webrtc", "ok").Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"answer":  answer,
	})
}

// ProxyGet streams an allowlisted gateway endpoint straight through to
// the client. Used for playlists, progressive MP4 and snapshots.
func (h *GatewayHandler) ProxyGet(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	src := r.URL.Query().Get("src")

	path, ok := proxyEndpoints[endpoint]
	if !ok {
		writeError(w, "unknown endpoint: "+endpoint, http.StatusBadRequest)
		return
	}
	if src == "" && endpoint != "streams" {
		writeError(w, "src is required", http.StatusBadRequest)
		return
	}

	target := h.Client.BaseURL + path
	if src != "" {
		target += "?src=" + url.QueryEscape(src)
	}

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		upstream.Header.Set("Range", rng)
	}

	// Streaming endpoints run until the client disconnects; no client
	// timeout here.
	client := &http.Client{Timeout: 0}
	resp, err := client.Do(upstream)
	if err != nil {
		writeError(w, "media gateway unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		if !isClientGone(r.Context(), err) {
			log.Printf("[GW-PROXY] copy ended: %v", err)
		}
	}
}

func isClientGone(ctx context.Context, err error) bool {
	if ctx.Err() == context.Canceled {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
