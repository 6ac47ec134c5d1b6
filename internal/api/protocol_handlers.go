package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/technosupport/ts-streamgw/internal/protocols"
)

type ProtocolHandler struct{}

func NewProtocolHandler() *ProtocolHandler { return &ProtocolHandler{} }

// List returns the protocol catalog grouped by category, the shape the
// dashboard's "add camera" picker consumes.
func (h *ProtocolHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"categories": protocols.Categorize(),
	})
}

type validateRequest struct {
	Protocol string `json:"protocol"`
	URL      string `json:"url"`
}

// Validate checks a camera URL against the protocol grammar without
// touching the gateway.
func (h *ProtocolHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := protocols.ValidateURL(req.Protocol, req.URL); err != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, protocols.ErrUnknownScheme):
			reason = "unknown_scheme"
		case errors.Is(err, protocols.ErrSchemeMismatch):
			reason = "scheme_mismatch"
		case errors.Is(err, protocols.ErrMissingCredentials):
			reason = "missing_credentials"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"valid":   false,
			"reason":  reason,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"valid":   true,
	})
}
