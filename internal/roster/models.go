// Package roster consumes the external camera registry. The registry is
// owned by the dashboard; this module only ever reads from it.
package roster

import (
	"context"
	"time"
)

// Camera is one row of the external camera registry.
type Camera struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"organization_id"`
	Name        string    `json:"name"`
	SourceURL   string    `json:"source_url"`
	FallbackURL string    `json:"fallback_url,omitempty"`
	Protocol    string    `json:"protocol"`
	Port        int       `json:"port,omitempty"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Source is the read-only view of the camera registry. An empty orgID
// means all organizations.
type Source interface {
	ListActive(ctx context.Context, orgID string) ([]Camera, error)
	GetByID(ctx context.Context, id string) (*Camera, error)
}
