package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8, nil)
	for _, ms := range []int{500, 700, 3000} {
		w.add(StageAgent, time.Duration(ms)*time.Millisecond)
	}
	w.count("llm_fallback")
	w.count("llm_fallback")

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageAgent || s.Samples != 3 {
		t.Fatalf("unexpected stage stats: %+v", s)
	}
	if s.LastMS != 3000 || s.P50MS != 700 || s.P95MS != 3000 || s.MaxMS != 3000 {
		t.Fatalf("last/p50/p95/max = %.2f/%.2f/%.2f/%.2f", s.LastMS, s.P50MS, s.P95MS, s.MaxMS)
	}
	if s.TargetP95MS != 2500 || s.OverTarget != 1 || s.WithinP95 {
		t.Fatalf("target accounting = %+v, want target 2500 with one slow sample", s)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want llm_fallback x2", snap.Indicators)
	}
}

func TestLatencyWindowKeepsNewestSamples(t *testing.T) {
	w := newLatencyWindow(2, nil)
	for _, ms := range []int{10, 20, 30} {
		w.add(StageSynthesis, time.Duration(ms)*time.Millisecond)
	}
	s := w.snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 || s.LastMS != 30 {
		t.Fatalf("stats = %+v, want the 20ms and 30ms samples", s)
	}
	if !s.WithinP95 || s.OverTarget != 0 {
		t.Fatalf("fast samples flagged over target: %+v", s)
	}
}

func TestLatencyWindowStageTargetOverrides(t *testing.T) {
	w := newLatencyWindow(4, map[string]time.Duration{
		StageSynthesis: 100 * time.Millisecond,
		"greeting":     time.Second,
	})
	w.add(StageSynthesis, 150*time.Millisecond)
	w.add(StageAgent, 100*time.Millisecond)
	w.add("greeting", 200*time.Millisecond)
	w.add("custom", 5*time.Second)

	byStage := map[string]StageStats{}
	for _, s := range w.snapshot().Stages {
		byStage[s.Stage] = s
	}
	if got := byStage[StageSynthesis]; got.TargetP95MS != 100 || got.WithinP95 {
		t.Fatalf("synthesis = %+v, want overridden 100ms target breached", got)
	}
	if got := byStage[StageAgent]; got.TargetP95MS != 2500 {
		t.Fatalf("agent target = %.2f, want default 2500", got.TargetP95MS)
	}
	if got := byStage["greeting"]; got.TargetP95MS != 1000 || !got.WithinP95 {
		t.Fatalf("greeting = %+v, want new 1000ms target met", got)
	}
	if got := byStage["custom"]; got.TargetP95MS != 0 || !got.WithinP95 {
		t.Fatalf("custom = %+v, want untargeted stage reported as within", got)
	}
}

func TestMetricsObserveTurnStage(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "voiceai_test",
		WithLatencyWindow(16),
		WithStageTargets(map[string]time.Duration{StageTurnTotal: time.Second}),
	)
	m.ObserveTurnStage(StageTurnTotal, 1500*time.Millisecond)

	snap := m.SnapshotTurnStages()
	if snap.WindowSize != 16 {
		t.Fatalf("WindowSize = %d, want 16", snap.WindowSize)
	}
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 1500 {
		t.Fatalf("snapshot = %+v, want one turn_total sample of 1500ms", snap)
	}
	if snap.Stages[0].OverTarget != 1 {
		t.Fatalf("OverTarget = %d, want 1 against the 1s target", snap.Stages[0].OverTarget)
	}
}
