package roster

import "context"

// StaticSource serves a fixed camera list, used for file-configured
// deployments and in tests.
type StaticSource struct {
	Cameras []Camera
}

func (s *StaticSource) ListActive(ctx context.Context, orgID string) ([]Camera, error) {
	var out []Camera
	for _, c := range s.Cameras {
		if !c.IsActive {
			continue
		}
		if orgID != "" && c.OrgID != orgID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *StaticSource) GetByID(ctx context.Context, id string) (*Camera, error) {
	for i := range s.Cameras {
		if s.Cameras[i].ID == id {
			return &s.Cameras[i], nil
		}
	}
	return nil, ErrCameraNotFound
}
