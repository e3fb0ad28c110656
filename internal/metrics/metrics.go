// Package metrics provides the pipeline's per-stage timing and error
// counters. Every stage timer updates two things at once: a rolling
// in-process window (exposed through the control protocol's get_metrics
// command) and a Prometheus series (exposed over /metrics for external
// scraping) — one set of recordings, two presentations.
package metrics

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_calls_active",
		Help: "Currently active pipeline runs",
	})

	CallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_calls_total",
		Help: "Total pipeline runs processed",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_e2e_duration_seconds",
		Help:    "End-to-end latency from utterance-ready to spoken response",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage and error type",
	}, []string{"stage", "error_type"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_chunks_processed_total",
		Help: "Total audio frames received by the capture pipeline",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_segments_total",
		Help: "Utterances completed by the voice activity detector",
	})
)

// windowSize is how many recent samples the rolling p95 is computed over.
const windowSize = 100

type rollingWindow struct {
	samples []float64
	next    int
	full    bool
}

func newRollingWindow() *rollingWindow {
	return &rollingWindow{samples: make([]float64, windowSize)}
}

func (w *rollingWindow) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % windowSize
	if w.next == 0 {
		w.full = true
	}
}

// p95 returns the 95th percentile over the current window using
// sorted[min(int(len*0.95), len-1)], matching the estimator this stack
// uses wherever it reports a rolling percentile.
func (w *rollingWindow) p95() float64 {
	n := windowSize
	if !w.full {
		n = w.next
	}
	if n == 0 {
		return 0
	}
	data := make([]float64, n)
	copy(data, w.samples[:n])
	sort.Float64s(data)
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}
	return data[idx]
}

// StageStats is a point-in-time snapshot of one stage's accumulated timing.
type StageStats struct {
	Calls     int
	Successes int
	Errors    int
	TotalMs   float64
	MinMs     float64
	MaxMs     float64
	P95Ms     float64
}

type stageAccumulator struct {
	calls, successes, errs int
	totalMs, minMs, maxMs  float64
	window                 *rollingWindow
}

func newStageAccumulator() *stageAccumulator {
	return &stageAccumulator{window: newRollingWindow()}
}

func (a *stageAccumulator) record(ms float64, ok bool) {
	a.calls++
	if ok {
		a.successes++
	} else {
		a.errs++
	}
	a.totalMs += ms
	if a.calls == 1 || ms < a.minMs {
		a.minMs = ms
	}
	if ms > a.maxMs {
		a.maxMs = ms
	}
	a.window.add(ms)
}

func (a *stageAccumulator) snapshot() StageStats {
	return StageStats{
		Calls: a.calls, Successes: a.successes, Errors: a.errs,
		TotalMs: a.totalMs, MinMs: a.minMs, MaxMs: a.maxMs, P95Ms: a.window.p95(),
	}
}

// Collector is the in-process scoped-timer collector backing get_metrics.
// Safe for concurrent use.
type Collector struct {
	mu          sync.Mutex
	stages      map[string]*stageAccumulator
	e2e         *rollingWindow
	startTime   time.Time
	requests    int
	successes   int
	failures    int
	logInterval time.Duration
	stopCh      chan struct{}
}

// NewCollector creates a Collector. If logInterval > 0, a background
// goroutine logs a summary every interval until Close is called.
func NewCollector(logInterval time.Duration) *Collector {
	c := &Collector{
		stages:      map[string]*stageAccumulator{},
		e2e:         newRollingWindow(),
		startTime:   time.Now(),
		logInterval: logInterval,
		stopCh:      make(chan struct{}),
	}
	if logInterval > 0 {
		go c.logLoop()
	}
	return c
}

// Timer starts a scoped timer for stage. Call Stop(err) when the stage
// completes; err nil means success.
func (c *Collector) Timer(stage string) *StageTimer {
	return &StageTimer{c: c, stage: stage, start: time.Now()}
}

// StageTimer is a single scoped measurement in flight.
type StageTimer struct {
	c     *Collector
	stage string
	start time.Time
}

// Stop records the elapsed duration against the stage, updating both the
// in-process rolling window and the matching Prometheus series.
func (t *StageTimer) Stop(err error) time.Duration {
	elapsed := time.Since(t.start)
	ms := float64(elapsed.Milliseconds())

	t.c.mu.Lock()
	acc, ok := t.c.stages[t.stage]
	if !ok {
		acc = newStageAccumulator()
		t.c.stages[t.stage] = acc
	}
	acc.record(ms, err == nil)
	t.c.mu.Unlock()

	StageDuration.WithLabelValues(t.stage).Observe(elapsed.Seconds())
	if err != nil {
		Errors.WithLabelValues(t.stage, "error").Inc()
	}
	return elapsed
}

// RecordRequest records one end-to-end pipeline run's outcome and latency.
func (c *Collector) RecordRequest(elapsed time.Duration, ok bool) {
	c.mu.Lock()
	c.requests++
	if ok {
		c.successes++
	} else {
		c.failures++
	}
	c.e2e.add(float64(elapsed.Milliseconds()))
	c.mu.Unlock()

	E2EDuration.Observe(elapsed.Seconds())
}

// SystemStats is a snapshot of system-level counters for get_metrics.
type SystemStats struct {
	UptimeSeconds float64
	Requests      int
	Successes     int
	Failures      int
	E2EP95Ms      float64
	Stages        map[string]StageStats
}

// Snapshot returns a consistent point-in-time copy of all metrics.
func (c *Collector) Snapshot() SystemStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stages := make(map[string]StageStats, len(c.stages))
	for name, acc := range c.stages {
		stages[name] = acc.snapshot()
	}

	return SystemStats{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Requests:      c.requests,
		Successes:     c.successes,
		Failures:      c.failures,
		E2EP95Ms:      c.e2e.p95(),
		Stages:        stages,
	}
}

// Close stops the periodic summary logger, if running.
func (c *Collector) Close() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func (c *Collector) logLoop() {
	ticker := time.NewTicker(c.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			s := c.Snapshot()
			slog.Info("metrics summary",
				"uptime_s", s.UptimeSeconds,
				"requests", s.Requests,
				"successes", s.Successes,
				"failures", s.Failures,
				"e2e_p95_ms", s.E2EP95Ms,
			)
		}
	}
}
