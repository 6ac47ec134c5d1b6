// Package metrics holds the Prometheus instruments shared across the
// service. Labels stay low-cardinality: transports, reason codes and
// route names only, never stream ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgw_gateway_requests_total",
		Help: "Control requests forwarded to the media gateway",
	}, []string{"action", "outcome"})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgw_sync_runs_total",
		Help: "Bulk roster sync passes by outcome",
	}, []string{"outcome"})

	SyncCameraFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgw_sync_camera_failures_total",
		Help: "Cameras that failed to register during sync",
	})

	TranscodeSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamgw_transcode_sessions_active",
		Help: "Currently running transcoder processes",
	})

	TranscodeSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgw_transcode_spawns_total",
		Help: "Transcoder spawn attempts by outcome",
	}, []string{"outcome"})

	TranscodeThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgw_transcode_throttled_total",
		Help: "Transcode requests rejected by the restart throttle",
	})

	PlaybackStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgw_playback_starts_total",
		Help: "Playback sessions started by transport",
	}, []string{"transport"})

	PlaybackFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgw_playback_fallbacks_total",
		Help: "Transport fallbacks by reason code",
	}, []string{"reason"})

	PlaybackExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgw_playback_exhausted_total",
		Help: "Viewers for whom every transport failed",
	})

	TimeToFirstFrame = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamgw_ttff_ms",
		Help:    "Client-reported time to first frame in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 3000, 5000, 10000},
	})

	TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamgw_telemetry_dropped_total",
		Help: "Client telemetry events rejected",
	}, []string{"reason"})

	SessionLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamgw_session_limit_exceeded_total",
		Help: "Session starts rejected by the per-user limit",
	})
)
