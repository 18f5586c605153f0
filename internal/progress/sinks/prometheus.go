package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
)

// PrometheusSink exports sourcing progress via Prometheus. It owns collectors
// for item outcomes, phase counts, match scores and per-item wall time.
type PrometheusSink struct {
	itemsCompleted *prometheus.CounterVec
	itemsInFlight  prometheus.Gauge
	itemRuntime    *prometheus.HistogramVec
	phaseEvents    *prometheus.CounterVec
	matchScore     prometheus.Histogram

	tracker *itemTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		itemsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcer_items_completed_total",
			Help: "Catalog items that reached a terminal phase, partitioned by result.",
		}, []string{"result"}),
		itemsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sourcer_items_in_flight",
			Help: "Items currently being searched or downloaded.",
		}),
		itemRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcer_item_runtime_seconds",
			Help:    "Wall time from first search to terminal phase.",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 120, 300},
		}, []string{"result"}),
		phaseEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcer_phase_events_total",
			Help: "Progress events partitioned by phase.",
		}, []string{"phase"}),
		matchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sourcer_match_score",
			Help:    "Similarity score of accepted candidates.",
			Buckets: []float64{70, 75, 80, 85, 90, 95, 100},
		}),
		tracker: newItemTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.itemsCompleted,
		s.itemsInFlight,
		s.itemRuntime,
		s.phaseEvents,
		s.matchScore,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.phaseEvents.WithLabelValues(string(evt.Phase)).Inc()
	key := itemKey{run: evt.RunID, sku: evt.SKU}

	switch evt.Phase {
	case progress.PhaseSearching:
		if s.tracker.start(key, evt.TS) {
			s.itemsInFlight.Inc()
		}
	case progress.PhaseSuccess:
		s.matchScore.Observe(float64(evt.Score))
	}
	if !evt.Phase.Terminal() {
		return
	}
	result := resultLabel(evt.Phase)
	s.itemsCompleted.WithLabelValues(result).Inc()
	if started, ok := s.tracker.complete(key); ok {
		s.itemsInFlight.Dec()
		if d := evt.TS.Sub(started); d > 0 {
			s.itemRuntime.WithLabelValues(result).Observe(d.Seconds())
		}
	}
}

func resultLabel(p progress.Phase) string {
	switch p {
	case progress.PhaseSuccess:
		return "success"
	case progress.PhaseFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type itemKey struct {
	run [16]byte
	sku string
}

type itemTracker struct {
	mu      sync.Mutex
	running map[itemKey]time.Time
}

func newItemTracker() *itemTracker {
	return &itemTracker{running: make(map[itemKey]time.Time)}
}

func (t *itemTracker) start(key itemKey, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = at
	return true
}

func (t *itemTracker) complete(key itemKey) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[key]
	if ok {
		delete(t.running, key)
	}
	return started, ok
}
