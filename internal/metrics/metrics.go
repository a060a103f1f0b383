// Package metrics exposes Prometheus instruments for the conversion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"audiojoin/internal/textutil"
)

// Conversion modes.
const (
	ModeDirect = "direct"
	ModeQueued = "queued"
)

// Conversion strategies.
const (
	StrategyCopy      = "copy"
	StrategyTranscode = "transcode"
)

// Conversion results.
const (
	ResultDone  = "done"
	ResultError = "error"
)

var (
	// ConversionsStarted counts ffmpeg launches.
	ConversionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiojoin_conversions_started_total",
		Help: "Conversions launched by mode, output format and strategy",
	}, []string{"mode", "format", "strategy"})

	// ConversionsFinished counts sessions reaching a terminal state after launch.
	ConversionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiojoin_conversions_finished_total",
		Help: "Conversions finished by result",
	}, []string{"result"})

	// ConversionDuration tracks wall time from launch to terminal state.
	ConversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audiojoin_conversion_duration_seconds",
		Help:    "Wall time from ffmpeg launch to completion",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	})

	// QueueClaims counts entries claimed by workers.
	QueueClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiojoin_queue_claims_total",
		Help: "Queue entries claimed by supervisors",
	})

	// SessionsReaped counts session directories removed by retention sweeps
	// and post-download cleanup.
	SessionsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiojoin_sessions_reaped_total",
		Help: "Session directories removed by reason",
	}, []string{"reason"})

	// ProgressPolls counts liveness and progress checks on converting sessions.
	ProgressPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiojoin_progress_polls_total",
		Help: "Progress polls of converting sessions by outcome",
	}, []string{"outcome"})
)

// RecordStart counts a launch.
func RecordStart(mode, format string, streamCopy bool) {
	strategy := StrategyTranscode
	if streamCopy {
		strategy = StrategyCopy
	}
	ConversionsStarted.WithLabelValues(mode, textutil.SanitizeToken(format), strategy).Inc()
}

// RecordFinish counts a terminal transition and observes its duration when
// the start time is known.
func RecordFinish(result string, started time.Time, now time.Time) {
	ConversionsFinished.WithLabelValues(result).Inc()
	if !started.IsZero() && now.After(started) {
		ConversionDuration.Observe(now.Sub(started).Seconds())
	}
}

// RecordReaped counts removed sessions.
func RecordReaped(reason string, n int) {
	if n > 0 {
		SessionsReaped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordPoll counts a progress poll outcome (running, done, error).
func RecordPoll(outcome string) {
	ProgressPolls.WithLabelValues(outcome).Inc()
}
