package api

import (
	"net/http"

	"github.com/technosupport/ts-streamgw/internal/events"
	"github.com/technosupport/ts-streamgw/internal/gateway"
	"github.com/technosupport/ts-streamgw/internal/metrics"
)

type SyncHandler struct {
	Reconciler *gateway.Reconciler
	Events     *events.Publisher
}

func NewSyncHandler(r *gateway.Reconciler, ev *events.Publisher) *SyncHandler {
	return &SyncHandler{Reconciler: r, Events: ev}
}

// Sync pushes the camera roster into the gateway. The org query
// parameter scopes the pass to one organization; without it every
// active camera is synced.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org")

	var report gateway.SyncReport
	var err error
	if orgID == "" {
		report, err = h.Reconciler.SyncAll(r.Context())
	} else {
		report, err = h.Reconciler.SyncOrganization(r.Context(), orgID)
	}
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	outcome := "ok"
	if !report.AllSynced() {
		outcome = "partial"
		metrics.SyncCameraFailures.Add(float64(len(report.Failures)))
	}
	metrics.SyncRuns.WithLabelValues(outcome).Inc()

	h.Events.Publish(&events.StreamEvent{
		Type:   events.EventSyncCompleted,
		OrgID:  orgID,
		Detail: outcome,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}
