package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-streamgw/internal/metrics"
	"github.com/technosupport/ts-streamgw/internal/middleware"
	"github.com/technosupport/ts-streamgw/internal/sessions"
	"github.com/technosupport/ts-streamgw/internal/tokens"
)

type SessionHandler struct {
	Sessions  *sessions.Service
	Telemetry *sessions.TelemetryService
	Tokens    *tokens.Manager
}

func NewSessionHandler(s *sessions.Service, t *sessions.TelemetryService, tm *tokens.Manager) *SessionHandler {
	return &SessionHandler{Sessions: s, Telemetry: t, Tokens: tm}
}

// Start opens a viewer session and returns a playback token scoped to
// the requested stream.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		StreamID string `json:"stream_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StreamID == "" {
		writeError(w, "stream_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.Sessions.Start(r.Context(), ac.OrgID, ac.UserID, body.StreamID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionLimitExceeded) {
			metrics.SessionLimitExceeded.Inc()
			writeError(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	playbackToken, err := h.Tokens.IssuePlayback(ac.UserID, ac.OrgID, body.StreamID)
	if err != nil {
		writeError(w, "failed to issue playback token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"session":        sess,
		"playback_token": playbackToken,
	})
}

// End closes a viewer session.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		sessionID = r.PathValue("id")
	}
	if sessionID == "" {
		writeError(w, "session id is required", http.StatusBadRequest)
		return
	}
	if err := h.Sessions.End(r.Context(), sessionID); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Events ingests client playback telemetry.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	var evt sessions.TelemetryEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if evt.SessionID == "" || evt.EventType == "" {
		writeError(w, "session_id and event_type are required", http.StatusBadRequest)
		return
	}

	if err := h.Telemetry.RecordEvent(r.Context(), &evt); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
