package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/technosupport/ts-streamgw/internal/metrics"
	"github.com/technosupport/ts-streamgw/internal/protocols"
	"github.com/technosupport/ts-streamgw/internal/transcode"
)

type TranscodeHandler struct {
	Manager *transcode.Manager
}

func NewTranscodeHandler(m *transcode.Manager) *TranscodeHandler {
	return &TranscodeHandler{Manager: m}
}

// Serve transcodes the source URL to fragmented MP4 and streams it
// chunked to the client. Playback starts as soon as ffmpeg emits the
// first fragment.
func (h *TranscodeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, "url is required", http.StatusBadRequest)
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		writeError(w, "invalid source url", http.StatusBadRequest)
		return
	}
	if _, err := protocols.Lookup(parsed.Scheme); err != nil {
		writeError(w, "unsupported protocol: "+parsed.Scheme, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")

	err = h.Manager.Serve(r.Context(), w, rawURL)
	switch {
	case err == nil:
		metrics.TranscodeSpawns.WithLabelValues("ok").Inc()
	case errors.Is(err, transcode.ErrTooManyFailures):
		metrics.TranscodeThrottled.Inc()
		writeError(w, "transcoder restart throttled, retry shortly", http.StatusTooManyRequests)
	case errors.Is(err, r.Context().Err()):
		// Viewer went away, nothing to report.
	default:
		metrics.TranscodeSpawns.WithLabelValues("error").Inc()
		var spawnErr *transcode.SpawnError
		if errors.As(err, &spawnErr) {
			// Headers may already be gone if streaming had started;
			// WriteHeader on a started response is a no-op with a log
			// line, which is acceptable here.
			writeError(w, "transcoder failed to start", http.StatusBadGateway)
		}
	}
}

// ResetThrottles clears the spawn throttle table, or a single source's
// entry when url is given. Wired to DELETE so operators can force an
// immediate retry after fixing a camera.
func (h *TranscodeHandler) ResetThrottles(w http.ResponseWriter, r *http.Request) {
	if rawURL := r.URL.Query().Get("url"); rawURL != "" {
		h.Manager.ClearThrottle(rawURL)
	} else {
		h.Manager.ResetThrottle()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Sessions lists live transcoding sessions and their states.
func (h *TranscodeHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": h.Manager.ActiveSessions(),
	})
}
