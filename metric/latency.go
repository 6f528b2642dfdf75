package metric

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tradewarden/tradewarden/core"
)

// StageTracker keeps a sliding window of stage durations and reports
// p50/p95 for the health endpoint. Observations also feed the Prometheus
// stage histogram.
type StageTracker struct {
	mu      sync.Mutex
	window  int
	samples map[string][]float64
}

// NewStageTracker creates a tracker holding up to window samples per stage.
func NewStageTracker(window int) *StageTracker {
	if window <= 0 {
		window = 256
	}
	return &StageTracker{
		window:  window,
		samples: make(map[string][]float64),
	}
}

// Observe records one stage duration.
func (t *StageTracker) Observe(stage string, d time.Duration) {
	StageSeconds.WithLabelValues(stage).Observe(d.Seconds())

	ms := float64(d.Microseconds()) / 1000.0

	t.mu.Lock()
	defer t.mu.Unlock()

	s := append(t.samples[stage], ms)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[stage] = s
}

// Track measures fn and records it under stage.
func (t *StageTracker) Track(stage string, fn func()) {
	start := time.Now()
	fn()
	t.Observe(stage, time.Since(start))
}

// Quantiles returns the p50 and p95 of the recorded window for a stage,
// in milliseconds. Returns zeros when no samples exist.
func (t *StageTracker) Quantiles(stage string) (p50, p95 float64) {
	t.mu.Lock()
	src := t.samples[stage]
	data := make([]float64, len(src))
	copy(data, src)
	t.mu.Unlock()

	if len(data) == 0 {
		return 0, 0
	}

	sort.Float64s(data)
	p50 = stat.Quantile(0.50, stat.LinInterp, data, nil)
	p95 = stat.Quantile(0.95, stat.LinInterp, data, nil)
	return p50, p95
}

// Report returns the latency summary for every tracked stage, sorted by
// stage name for stable health output.
func (t *StageTracker) Report() []core.StageLatency {
	t.mu.Lock()
	stages := make([]string, 0, len(t.samples))
	for stage := range t.samples {
		stages = append(stages, stage)
	}
	t.mu.Unlock()

	sort.Strings(stages)

	out := make([]core.StageLatency, 0, len(stages))
	for _, stage := range stages {
		p50, p95 := t.Quantiles(stage)
		out = append(out, core.StageLatency{Stage: stage, P50MS: p50, P95MS: p95})
	}
	return out
}
