package player

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// noopHandle is the teardown handle for stateless transports where the
// browser, not this process, holds the media connection.
type noopHandle struct{ url string }

func (h noopHandle) Close() error { return nil }

// URL returns the playback address the client should load.
func (h noopHandle) URL() string { return h.url }

// HLSStage probes the gateway's HLS endpoint. Higher latency than
// WebRTC but survives restrictive networks that block UDP.
type HLSStage struct {
	BaseURL string
	Client  *http.Client
}

func (s *HLSStage) Name() string { return "hls" }

func (s *HLSStage) Connect(ctx context.Context, streamID string) (io.Closer, error) {
	playlistURL := fmt.Sprintf("%s/api/stream.m3u8?src=%s",
		strings.TrimRight(s.BaseURL, "/"), url.QueryEscape(streamID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hls probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hls probe: status %d", resp.StatusCode)
	}

	// A valid playlist must open with the m3u8 magic line.
	line, err := bufio.NewReader(io.LimitReader(resp.Body, 1024)).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("hls probe: empty playlist")
	}
	if !strings.HasPrefix(strings.TrimSpace(line), "#EXTM3U") {
		return nil, fmt.Errorf("hls probe: not an m3u8 playlist")
	}

	return noopHandle{url: playlistURL}, nil
}
