package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-streamgw/internal/metrics"
)

// ReasonCode classifies why a transport attempt failed. Values are
// allowlisted so client input cannot explode metric cardinality.
type ReasonCode string

const (
	ReasonConnectTimeout  ReasonCode = "connect_timeout"
	ReasonICEFailed       ReasonCode = "ice_failed"
	ReasonSignalingFailed ReasonCode = "signaling_failed"
	ReasonPlaylistInvalid ReasonCode = "playlist_invalid"
	ReasonSourceOffline   ReasonCode = "source_offline"
	ReasonBrowserSupport  ReasonCode = "browser_not_supported"
	ReasonUnknown         ReasonCode = "unknown"
)

// TelemetryEvent is the client-reported playback event payload.
type TelemetryEvent struct {
	SessionID  string     `json:"session_id"`
	EventType  string     `json:"event_type"`
	Transport  string     `json:"transport,omitempty"`
	ReasonCode ReasonCode `json:"reason_code,omitempty"`
	TTFFMs     int64      `json:"ttff_ms,omitempty"`
}

var allowedEvents = map[string]bool{
	"webrtc_attempt":   true,
	"webrtc_connected": true,
	"webrtc_failed":    true,
	"fallback":         true,
	"hls_playing":      true,
	"mp4_playing":      true,
	"first_frame":      true,
	"playback_error":   true,
	"session_end":      true,
}

var allowedReasonCodes = map[ReasonCode]bool{
	ReasonConnectTimeout:  true,
	ReasonICEFailed:       true,
	ReasonSignalingFailed: true,
	ReasonPlaylistInvalid: true,
	ReasonSourceOffline:   true,
	ReasonBrowserSupport:  true,
	ReasonUnknown:         true,
}

const (
	telemetryRateWindow = 10 * time.Second
	telemetryRateLimit  = 40
)

// TelemetryService validates and records client playback events.
type TelemetryService struct {
	Redis    *redis.Client
	Sessions *Service
}

func NewTelemetryService(r *redis.Client, sessions *Service) *TelemetryService {
	return &TelemetryService{Redis: r, Sessions: sessions}
}

func (s *TelemetryService) RecordEvent(ctx context.Context, evt *TelemetryEvent) error {
	if !allowedEvents[evt.EventType] {
		metrics.TelemetryDropped.WithLabelValues("invalid_type").Inc()
		return fmt.Errorf("invalid event type: %s", evt.EventType)
	}
	if evt.ReasonCode != "" && !allowedReasonCodes[evt.ReasonCode] {
		metrics.TelemetryDropped.WithLabelValues("invalid_reason").Inc()
		return fmt.Errorf("invalid reason code: %s", evt.ReasonCode)
	}

	sess, err := s.Sessions.Get(ctx, evt.SessionID)
	if err != nil {
		// A session_end for an already-expired session is routine; the
		// active-index scrubber handles any leftovers.
		if evt.EventType == "session_end" {
			return nil
		}
		metrics.TelemetryDropped.WithLabelValues("unknown_session").Inc()
		return fmt.Errorf("session not found: %s", evt.SessionID)
	}

	limitKey := "view:evlimit:" + evt.SessionID
	count, err := s.Redis.Incr(ctx, limitKey).Result()
	if err == nil {
		if count == 1 {
			s.Redis.Expire(ctx, limitKey, telemetryRateWindow)
		}
		if count > telemetryRateLimit {
			metrics.TelemetryDropped.WithLabelValues("rate_limit").Inc()
			return fmt.Errorf("telemetry rate limit exceeded")
		}
	}

	if evt.EventType == "session_end" {
		return s.Sessions.End(ctx, evt.SessionID)
	}

	switch evt.EventType {
	case "fallback":
		reason := evt.ReasonCode
		if reason == "" {
			reason = ReasonUnknown
		}
		metrics.PlaybackFallbacks.WithLabelValues(string(reason)).Inc()
	case "webrtc_connected":
		metrics.PlaybackStarts.WithLabelValues("webrtc").Inc()
	case "hls_playing":
		metrics.PlaybackStarts.WithLabelValues("hls").Inc()
	case "mp4_playing":
		metrics.PlaybackStarts.WithLabelValues("mp4").Inc()
	}
	if evt.TTFFMs > 0 {
		metrics.TimeToFirstFrame.Observe(float64(evt.TTFFMs))
	}

	return s.Sessions.Heartbeat(ctx, sess.ID, evt.Transport)
}
