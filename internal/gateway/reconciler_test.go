package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-streamgw/internal/roster"
	"github.com/technosupport/ts-streamgw/internal/streamid"
)

type fakeRegistrar struct {
	added   []string
	failIDs map[string]bool
}

func (f *fakeRegistrar) AddStream(ctx context.Context, cam roster.Camera) error {
	if f.failIDs[cam.ID] {
		return errors.New("push failed")
	}
	f.added = append(f.added, cam.ID)
	return nil
}

func (f *fakeRegistrar) StreamID(cam roster.Camera) string {
	return streamid.Resolve(cam.OrgID, cam.ID, cam.Name)
}

func TestSyncAll_PartialFailureContinues(t *testing.T) {
	src := &roster.StaticSource{Cameras: []roster.Camera{
		{ID: "cam-1", OrgID: "org-a", Name: "A", IsActive: true},
		{ID: "cam-2", OrgID: "org-a", Name: "B", IsActive: true},
		{ID: "cam-3", OrgID: "org-b", Name: "C", IsActive: true},
	}}
	reg := &fakeRegistrar{failIDs: map[string]bool{"cam-2": true}}

	r := NewReconciler(src, reg)
	report, err := r.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Synced)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "cam-2", report.Failures[0].CameraID)
	assert.False(t, report.AllSynced())

	// cam-3 still registered despite cam-2 failing.
	assert.Equal(t, []string{"cam-1", "cam-3"}, reg.added)
}

func TestSyncOrganization_Scoped(t *testing.T) {
	src := &roster.StaticSource{Cameras: []roster.Camera{
		{ID: "cam-1", OrgID: "org-a", Name: "A", IsActive: true},
		{ID: "cam-2", OrgID: "org-b", Name: "B", IsActive: true},
	}}
	reg := &fakeRegistrar{}

	r := NewReconciler(src, reg)
	report, err := r.SyncOrganization(context.Background(), "org-b")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.True(t, report.AllSynced())
	assert.Equal(t, []string{"cam-2"}, reg.added)
}

func TestSyncOrganization_RequiresOrgID(t *testing.T) {
	r := NewReconciler(&roster.StaticSource{}, &fakeRegistrar{})
	_, err := r.SyncOrganization(context.Background(), "")
	assert.Error(t, err)
}

func TestSyncAll_InactiveSkipped(t *testing.T) {
	src := &roster.StaticSource{Cameras: []roster.Camera{
		{ID: "cam-1", OrgID: "org-a", IsActive: false},
	}}
	reg := &fakeRegistrar{}

	r := NewReconciler(src, reg)
	report, err := r.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Empty(t, reg.added)
}

func TestSyncAll_CallbackFires(t *testing.T) {
	src := &roster.StaticSource{Cameras: []roster.Camera{
		{ID: "cam-1", OrgID: "org-a", Name: "Front", IsActive: true},
	}}
	reg := &fakeRegistrar{}

	var gotStream string
	r := NewReconciler(src, reg)
	r.OnSynced = func(cam roster.Camera, streamID string) { gotStream = streamID }

	_, err := r.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, streamid.Resolve("org-a", "cam-1", "Front"), gotStream)
}
