package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrCameraNotFound = errors.New("camera not found")

// PostgresSource reads the dashboard's cameras table. All statements are
// SELECTs; schema ownership stays with the dashboard.
type PostgresSource struct {
	DB *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{DB: db}
}

const cameraColumns = `id, organization_id, name, source_url,
	COALESCE(fallback_url, ''), protocol, COALESCE(port, 0),
	COALESCE(username, ''), COALESCE(password, ''), is_active, updated_at`

func (s *PostgresSource) ListActive(ctx context.Context, orgID string) ([]Camera, error) {
	query := `SELECT ` + cameraColumns + `
		FROM cameras
		WHERE is_active = TRUE`
	args := []any{}
	if orgID != "" {
		query += ` AND organization_id = $1`
		args = append(args, orgID)
	}
	query += ` ORDER BY organization_id, id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roster query: %w", err)
	}
	defer rows.Close()

	var out []Camera
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &c.SourceURL,
			&c.FallbackURL, &c.Protocol, &c.Port,
			&c.Username, &c.Password, &c.IsActive, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("roster scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresSource) GetByID(ctx context.Context, id string) (*Camera, error) {
	query := `SELECT ` + cameraColumns + `
		FROM cameras
		WHERE id = $1`

	var c Camera
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.OrgID, &c.Name,
		&c.SourceURL, &c.FallbackURL, &c.Protocol, &c.Port,
		&c.Username, &c.Password, &c.IsActive, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCameraNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
