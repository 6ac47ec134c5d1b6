package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/technosupport/ts-streamgw/internal/roster"
)

// SyncFailure records one camera that could not be pushed to the
// gateway during a bulk sync.
type SyncFailure struct {
	CameraID string `json:"camera_id"`
	StreamID string `json:"stream_id"`
	Error    string `json:"error"`
}

// SyncReport summarizes one bulk sync pass.
type SyncReport struct {
	Total    int           `json:"total"`
	Synced   int           `json:"synced"`
	Failures []SyncFailure `json:"failures,omitempty"`
}

func (r SyncReport) AllSynced() bool { return len(r.Failures) == 0 }

// registrar is the slice of Client the reconciler needs.
type registrar interface {
	AddStream(ctx context.Context, cam roster.Camera) error
	StreamID(cam roster.Camera) string
}

// Reconciler pushes the active camera roster into the gateway. It is
// the recovery path after gateway restarts, which wipe the gateway's
// in-memory stream table.
type Reconciler struct {
	Source roster.Source
	Client registrar

	// OnSynced, when set, fires once per successfully registered camera.
	OnSynced func(cam roster.Camera, streamID string)
}

func NewReconciler(src roster.Source, client registrar) *Reconciler {
	return &Reconciler{Source: src, Client: client}
}

// SyncAll re-registers every active camera across all organizations.
// Per-camera failures are collected, never aborting the batch.
func (r *Reconciler) SyncAll(ctx context.Context) (SyncReport, error) {
	return r.sync(ctx, "")
}

// SyncOrganization re-registers the active cameras of one organization.
func (r *Reconciler) SyncOrganization(ctx context.Context, orgID string) (SyncReport, error) {
	if orgID == "" {
		return SyncReport{}, fmt.Errorf("organization id required")
	}
	return r.sync(ctx, orgID)
}

func (r *Reconciler) sync(ctx context.Context, orgID string) (SyncReport, error) {
	cams, err := r.Source.ListActive(ctx, orgID)
	if err != nil {
		return SyncReport{}, fmt.Errorf("list cameras: %w", err)
	}

	report := SyncReport{Total: len(cams)}
	for _, cam := range cams {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		streamID := r.Client.StreamID(cam)
		if err := r.Client.AddStream(ctx, cam); err != nil {
			log.Printf("[SYNC] camera=%s stream=%s failed: %v", cam.ID, streamID, err)
			report.Failures = append(report.Failures, SyncFailure{
				CameraID: cam.ID,
				StreamID: streamID,
				Error:    err.Error(),
			})
			continue
		}
		report.Synced++
		if r.OnSynced != nil {
			r.OnSynced(cam, streamID)
		}
	}

	log.Printf("[SYNC] org=%q synced=%d/%d failures=%d",
		orgID, report.Synced, report.Total, len(report.Failures))
	return report, nil
}
