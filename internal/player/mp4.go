package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// MP4Stage is the last-resort transport: progressive fragmented MP4
// over plain HTTP. Works everywhere a <video> tag works.
type MP4Stage struct {
	BaseURL string
	Client  *http.Client
}

func (s *MP4Stage) Name() string { return "mp4" }

func (s *MP4Stage) Connect(ctx context.Context, streamID string) (io.Closer, error) {
	streamURL := fmt.Sprintf("%s/api/stream.mp4?src=%s",
		strings.TrimRight(s.BaseURL, "/"), url.QueryEscape(streamID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mp4 probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mp4 probe: status %d", resp.StatusCode)
	}

	// Confirm the endpoint actually produces bytes before declaring
	// success; a 200 with an instantly closed body means the source is
	// dead.
	var probe [1]byte
	if _, err := io.ReadFull(resp.Body, probe[:]); err != nil {
		return nil, fmt.Errorf("mp4 probe: no media data: %w", err)
	}

	return noopHandle{url: streamURL}, nil
}
