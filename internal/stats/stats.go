// Package stats aggregates per-request telemetry. Recording is fire and
// forget: handlers enqueue an event and move on, a single worker fans it out
// to the configured sinks. A full queue drops the event rather than blocking
// the request path.
package stats

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"ztoapi/internal/metrics"
)

// Event is one completed chat request.
type Event struct {
	Timestamp    time.Time
	Platform     string
	Model        string
	Status       int
	Duration     time.Duration
	IsStreaming  bool
	CacheHit     bool
	TokenSource  string
	MessageCount int
	ClientIP     string
}

// Sink receives events off the worker goroutine. Implementations own their
// error handling; a sink failure never propagates.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Snapshot is the running in-process aggregate served by the stats endpoint.
type Snapshot struct {
	StartedAt       time.Time `json:"started_at"`
	TotalRequests   int64     `json:"total_requests"`
	SuccessRequests int64     `json:"success_requests"`
	FailedRequests  int64     `json:"failed_requests"`
	StreamRequests  int64     `json:"stream_requests"`
	CacheHits       int64     `json:"cache_hits"`
	AvgDurationMS   float64   `json:"avg_duration_ms"`
	MinDurationMS   int64     `json:"min_duration_ms"`
	MaxDurationMS   int64     `json:"max_duration_ms"`
	LastRequestAt   time.Time `json:"last_request_at,omitempty"`
}

type Recorder struct {
	events chan Event
	sinks  []Sink
	done   chan struct{}

	mu          sync.Mutex
	startedAt   time.Time
	total       int64
	success     int64
	failed      int64
	streams     int64
	cacheHits   int64
	durationSum time.Duration
	durationMin time.Duration
	durationMax time.Duration
	lastAt      time.Time
}

func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{
		events:    make(chan Event, 256),
		sinks:     sinks,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	go r.run()
	return r
}

// Record enqueues an event without blocking.
func (r *Recorder) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case r.events <- ev:
	default:
		slog.Warn("stats queue full, dropping event", "platform", ev.Platform)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		r.aggregate(ev)
		r.observe(ev)
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			sink.Record(ctx, ev)
			cancel()
		}
	}
}

func (r *Recorder) aggregate(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if ev.Status >= 200 && ev.Status < 300 {
		r.success++
	} else {
		r.failed++
	}
	if ev.IsStreaming {
		r.streams++
	}
	if ev.CacheHit {
		r.cacheHits++
	}
	r.durationSum += ev.Duration
	if r.total == 1 || ev.Duration < r.durationMin {
		r.durationMin = ev.Duration
	}
	if ev.Duration > r.durationMax {
		r.durationMax = ev.Duration
	}
	r.lastAt = ev.Timestamp
}

func (r *Recorder) observe(ev Event) {
	metrics.RequestsTotal.WithLabelValues(ev.Platform, ev.Model, strconv.Itoa(ev.Status)).Inc()
	metrics.RequestDuration.WithLabelValues(ev.Platform, ev.Model).Observe(ev.Duration.Seconds())
	if ev.CacheHit {
		metrics.CacheHitsTotal.Inc()
	} else if !ev.IsStreaming {
		metrics.CacheMissesTotal.Inc()
	}
	if ev.TokenSource != "" {
		metrics.TokenSourceTotal.WithLabelValues(ev.TokenSource).Inc()
	}
	if ev.Status == 502 || ev.Status == 504 {
		metrics.UpstreamErrorsTotal.WithLabelValues(ev.Platform).Inc()
	}
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		StartedAt:       r.startedAt,
		TotalRequests:   r.total,
		SuccessRequests: r.success,
		FailedRequests:  r.failed,
		StreamRequests:  r.streams,
		CacheHits:       r.cacheHits,
		MinDurationMS:   r.durationMin.Milliseconds(),
		MaxDurationMS:   r.durationMax.Milliseconds(),
		LastRequestAt:   r.lastAt,
	}
	if r.total > 0 {
		snap.AvgDurationMS = float64(r.durationSum.Milliseconds()) / float64(r.total)
	}
	return snap
}

// Close drains pending events and stops the worker.
func (r *Recorder) Close() {
	close(r.events)
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		slog.Warn("stats recorder close timed out")
	}
}
