// Package gateway talks to the local always-on media gateway process
// over its JSON control API. The gateway ingests camera source URLs and
// re-exposes them as WebRTC/HLS/MP4 endpoints; this client only
// registers sources and brokers signaling, it never carries media.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-streamgw/internal/roster"
	"github.com/technosupport/ts-streamgw/internal/streamid"
)

var (
	// ErrGatewayUnavailable covers network failures and non-2xx control
	// responses. Retry policy belongs to the caller.
	ErrGatewayUnavailable = errors.New("media gateway unavailable")
	// ErrProtocol covers well-connected but malformed responses.
	ErrProtocol = errors.New("malformed gateway response")
)

// SignalingError reports a failed WebRTC offer/answer exchange.
type SignalingError struct {
	StreamID string
	Err      error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("webrtc signaling failed for %s: %v", e.StreamID, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// SessionDescription is the JSON SDP wire format of the signaling
// endpoint.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, sample)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
	return nil
}

// StreamID computes the gateway identifier for a camera.
func (c *Client) StreamID(cam roster.Camera) string {
	return streamid.Resolve(cam.OrgID, cam.ID, cam.Name)
}

// AddStream registers streamId -> sources with the gateway. Re-adding
// an existing id is last-write-wins on the source list, so the call is
// idempotent from the caller's perspective.
func (c *Client) AddStream(ctx context.Context, cam roster.Camera) error {
	sources := []string{cam.SourceURL}
	if cam.FallbackURL != "" {
		sources = append(sources, cam.FallbackURL)
	}
	return c.patchStreams(ctx, c.StreamID(cam), sources)
}

// RemoveStream deregisters a camera by nulling its source list.
func (c *Client) RemoveStream(ctx context.Context, cam roster.Camera) error {
	return c.patchStreams(ctx, c.StreamID(cam), nil)
}

// AddRawStream registers an explicit id -> url pair, used by the
// connectivity test route for disposable streams.
func (c *Client) AddRawStream(ctx context.Context, streamID, sourceURL string) error {
	return c.patchStreams(ctx, streamID, []string{sourceURL})
}

// RemoveRawStream deregisters an explicit id.
func (c *Client) RemoveRawStream(ctx context.Context, streamID string) error {
	return c.patchStreams(ctx, streamID, nil)
}

func (c *Client) patchStreams(ctx context.Context, streamID string, sources []string) error {
	// A null source list deletes the entry on the gateway side.
	patch := map[string]map[string][]string{
		"streams": {streamID: sources},
	}
	return c.do(ctx, http.MethodPatch, "/api/config", patch, nil)
}

// NegotiateWebRTC forwards an SDP offer to the gateway's signaling
// endpoint and returns the parsed answer.
func (c *Client) NegotiateWebRTC(ctx context.Context, streamID, offerSDP string) (*SessionDescription, error) {
	offer := SessionDescription{Type: "offer", SDP: offerSDP}

	var answer SessionDescription
	err := c.do(ctx, http.MethodPost, "/api/webrtc?src="+streamID, offer, &answer)
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, &SignalingError{StreamID: streamID, Err: err}
	}
	if answer.Type != "answer" || answer.SDP == "" {
		return nil, &SignalingError{StreamID: streamID, Err: fmt.Errorf("%w: type=%q", ErrProtocol, answer.Type)}
	}
	return &answer, nil
}

// Streams returns the gateway's currently registered stream ids.
func (c *Client) Streams(ctx context.Context) (map[string]json.RawMessage, error) {
	var streams map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/streams", nil, &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

// Probe reports whether the gateway control plane answers at all.
func (c *Client) Probe(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/streams", nil, nil)
}
