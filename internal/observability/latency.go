package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Turn stages recorded by the orchestrator.
const (
	StageSTTFinalize = "stt_finalize"
	StageAgent       = "agent"
	StageSynthesis   = "synthesis"
	StageTurnTotal   = "turn_total"
	StageSummary     = "summary"
)

const DefaultLatencyWindow = 256

// DefaultStageTargets are the p95 budgets a healthy call stays within.
var DefaultStageTargets = map[string]time.Duration{
	StageSTTFinalize: 800 * time.Millisecond,
	StageAgent:       2500 * time.Millisecond,
	StageSynthesis:   900 * time.Millisecond,
	StageTurnTotal:   4 * time.Second,
	StageSummary:     3 * time.Second,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	// OverTarget counts samples in the window slower than the target.
	OverTarget int  `json:"over_target"`
	WithinP95  bool `json:"within_p95"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the newest samples per stage, oldest first.
type latencyWindow struct {
	mu      sync.Mutex
	size    int
	targets map[string]time.Duration
	series  map[string][]time.Duration
	counts  map[string]int
}

func newLatencyWindow(size int, targets map[string]time.Duration) *latencyWindow {
	if size <= 0 {
		size = DefaultLatencyWindow
	}
	merged := make(map[string]time.Duration, len(DefaultStageTargets)+len(targets))
	for stage, d := range DefaultStageTargets {
		merged[stage] = d
	}
	for stage, d := range targets {
		merged[stage] = d
	}
	return &latencyWindow{
		size:    size,
		targets: merged,
		series:  make(map[string][]time.Duration),
		counts:  make(map[string]int),
	}
}

func (w *latencyWindow) add(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.series[stage], d)
	if len(s) > w.size {
		s = slices.Clone(s[len(s)-w.size:])
	}
	w.series[stage] = s
}

func (w *latencyWindow) count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[name]++
}

func (w *latencyWindow) snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.series)),
	}
	for _, stage := range sortedKeys(w.series) {
		if st, ok := summarize(stage, w.series[stage], w.targets[stage]); ok {
			snap.Stages = append(snap.Stages, st)
		}
	}
	for _, name := range sortedKeys(w.counts) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.counts[name]})
	}
	return snap
}

func summarize(stage string, samples []time.Duration, target time.Duration) (StageStats, bool) {
	if len(samples) == 0 {
		return StageStats{}, false
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum time.Duration
	over := 0
	for _, d := range sorted {
		sum += d
		if target > 0 && d > target {
			over++
		}
	}
	p95 := nearestRank(sorted, 0.95)
	st := StageStats{
		Stage:      stage,
		Samples:    len(sorted),
		LastMS:     millis(samples[len(samples)-1]),
		AvgMS:      millis(sum / time.Duration(len(sorted))),
		P50MS:      millis(nearestRank(sorted, 0.50)),
		P95MS:      millis(p95),
		MaxMS:      millis(sorted[len(sorted)-1]),
		OverTarget: over,
		WithinP95:  target <= 0 || p95 <= target,
	}
	if target > 0 {
		st.TargetP95MS = millis(target)
	}
	return st, true
}

// nearestRank returns the smallest sample with at least q of the window at
// or below it.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
