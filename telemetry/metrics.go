// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	VotesRecorded   prometheus.Counter
	VotesRejected   prometheus.Counter
	EventsPublished prometheus.Counter
	SinkDeliveries  prometheus.Counter
	SinkEvictions   prometheus.Counter
	SessionsStarted prometheus.Counter
	ProgressSaves   prometheus.Counter

	// Histograms (seconds)
	VoteRecordDuration prometheus.Observer
	TallyDuration      prometheus.Observer

	// Gauges
	RoomSubscribersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		VotesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "vote_recorded_total", Help: "Number of votes accepted (inserts and re-votes)"})
		VotesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "vote_rejected_total", Help: "Number of vote submissions rejected as invalid"})
		EventsPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "room_events_published_total", Help: "Number of events published to rooms"})
		SinkDeliveries = promauto.NewCounter(prometheus.CounterOpts{Name: "room_sink_deliveries_total", Help: "Number of per-subscriber deliveries attempted"})
		SinkEvictions = promauto.NewCounter(prometheus.CounterOpts{Name: "room_sink_evictions_total", Help: "Number of subscribers evicted after a failed delivery"})
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "tournament_sessions_started_total", Help: "Number of tournament sessions created or reactivated"})
		ProgressSaves = promauto.NewCounter(prometheus.CounterOpts{Name: "tournament_progress_saves_total", Help: "Number of tournament progress snapshots saved"})
		VoteRecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "vote_record_duration_seconds", Help: "RecordVote duration seconds (validate, upsert, tally)", Buckets: prometheus.DefBuckets})
		TallyDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "vote_tally_duration_seconds", Help: "Match tally query duration seconds", Buckets: prometheus.DefBuckets})
		RoomSubscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "room_subscribers", Help: "Current number of live stream subscribers across all rooms"})
	})
}

// CountVoteRecorded increments the accepted-vote counter.
func CountVoteRecorded() {
	if VotesRecorded != nil {
		VotesRecorded.Inc()
	}
}

// CountVoteRejected increments the rejected-vote counter.
func CountVoteRejected() {
	if VotesRejected != nil {
		VotesRejected.Inc()
	}
}

// CountEventPublished records one publish fanning out to n subscribers.
func CountEventPublished(n int) {
	if EventsPublished != nil {
		EventsPublished.Inc()
	}
	if SinkDeliveries != nil {
		SinkDeliveries.Add(float64(n))
	}
}

// CountSubscriberEviction increments the eviction counter.
func CountSubscriberEviction() {
	if SinkEvictions != nil {
		SinkEvictions.Inc()
	}
}

// AddRoomSubscribers adjusts the live subscriber gauge by delta.
func AddRoomSubscribers(delta int) {
	if RoomSubscribersGauge != nil {
		RoomSubscribersGauge.Add(float64(delta))
	}
}

// CountSessionStarted increments the session start counter.
func CountSessionStarted() {
	if SessionsStarted != nil {
		SessionsStarted.Inc()
	}
}

// CountProgressSave increments the progress save counter.
func CountProgressSave() {
	if ProgressSaves != nil {
		ProgressSaves.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
