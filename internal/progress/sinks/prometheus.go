package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pccwatch/tender-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for run lifecycle, page throughput, detail outcomes, and
// challenge solves.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pagesTotal     prometheus.Counter
	recordsFound   prometheus.Counter
	detailsTotal   *prometheus.CounterVec
	detailDuration *prometheus.HistogramVec
	challenges     *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tender_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tender_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tender_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		pagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tender_result_pages_total",
			Help: "Discovery result pages processed.",
		}),
		recordsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tender_records_found_total",
			Help: "Tender records discovered.",
		}),
		detailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_details_total",
			Help: "Detail fetch completions partitioned by result.",
		}, []string{"result"}),
		detailDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tender_detail_duration_seconds",
			Help:    "Detail fetch duration partitioned by result.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"result"}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_challenges_total",
			Help: "Challenge solve completions partitioned by result.",
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pagesTotal,
		s.recordsFound,
		s.detailsTotal,
		s.detailDuration,
		s.challenges,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StagePageDone:
		s.pagesTotal.Inc()
	case progress.StageRecordFound:
		s.recordsFound.Inc()
	case progress.StageDetailDone:
		s.handleDetailEvent(evt)
	case progress.StageChallengeDone:
		s.challenges.WithLabelValues(resultLabel(evt)).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleDetailEvent(evt progress.Event) {
	label := resultLabel(evt)
	s.detailsTotal.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.detailDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func resultLabel(evt progress.Event) string {
	if evt.Result == "" {
		return "unknown"
	}
	return string(evt.Result)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
