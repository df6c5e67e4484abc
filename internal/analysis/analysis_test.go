package analysis

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// historyOf builds a history from confusion values spaced at the given
// interval, with matching coherence as the complement.
func historyOf(confusions []float64, step time.Duration) reconstruct.History {
	h := reconstruct.History{SessionID: ledger.NewSessionID(), Source: reconstruct.SourceMaterialized}
	for i, c := range confusions {
		h.States = append(h.States, reconstruct.State{
			SessionID: h.SessionID,
			Timestamp: base.Add(time.Duration(i) * step),
			Confusion: c,
			Coherence: 1 - c,
			Zone:      ledger.ZoneGreen,
		})
	}
	return h
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAnalyzeEmptyHistory(t *testing.T) {
	_, err := Analyze(reconstruct.History{})
	if !errors.Is(err, ledger.ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}
}

func TestAnalyzeSummaryAndCriticalPeriod(t *testing.T) {
	h := historyOf([]float64{0.1, 0.2, 0.9, 0.95, 0.2}, 10*time.Second)

	rep, err := Analyze(h)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.StateCount != 5 {
		t.Fatalf("state count %d", rep.StateCount)
	}
	if !near(rep.Confusion.Min, 0.1) || !near(rep.Confusion.Max, 0.95) {
		t.Fatalf("confusion bounds: %+v", rep.Confusion)
	}
	if !near(rep.Confusion.Average, 0.47) {
		t.Fatalf("average confusion %f, want 0.47", rep.Confusion.Average)
	}
	if !rep.TimeRange.Start.Equal(base) || !rep.TimeRange.End.Equal(base.Add(40*time.Second)) {
		t.Fatalf("time range: %+v", rep.TimeRange)
	}

	if len(rep.CriticalPeriods) != 1 {
		t.Fatalf("expected 1 critical period, got %d", len(rep.CriticalPeriods))
	}
	cp := rep.CriticalPeriods[0]
	if !cp.Start.Equal(base.Add(20 * time.Second)) {
		t.Fatalf("period start %s, want +20s", cp.Start)
	}
	if !cp.End.Equal(base.Add(30 * time.Second)) {
		t.Fatalf("period end %s, want +30s", cp.End)
	}
	if !near(cp.PeakConfusion, 0.95) {
		t.Fatalf("peak %f", cp.PeakConfusion)
	}
	if cp.Reason != "high_confusion" {
		t.Fatalf("reason %q", cp.Reason)
	}
}

func TestTrendClassification(t *testing.T) {
	cases := []struct {
		name       string
		confusions []float64
		want       Trend
	}{
		{"increasing", []float64{0.1, 0.1, 0.1, 0.5, 0.5, 0.9, 0.9, 0.9}, TrendIncreasing},
		{"decreasing", []float64{0.9, 0.9, 0.9, 0.5, 0.5, 0.1, 0.1, 0.1}, TrendDecreasing},
		{"flat", []float64{0.4, 0.4, 0.4, 0.4, 0.4, 0.4}, TrendStable},
		{"within threshold", []float64{0.40, 0.40, 0.41, 0.42, 0.43, 0.44}, TrendStable},
		{"too short", []float64{0.1, 0.9}, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := historyOf(tc.confusions, time.Minute)
			rep, err := Analyze(h)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if rep.ConfusionTrend != tc.want {
				t.Fatalf("trend %s, want %s", rep.ConfusionTrend, tc.want)
			}
		})
	}
}

func TestZoneDistributionAndParadoxProgression(t *testing.T) {
	h := historyOf([]float64{0.1, 0.5, 0.9, 0.95}, time.Minute)
	h.States[1].Zone = ledger.ZoneYellow
	h.States[2].Zone = ledger.ZoneRed
	h.States[3].Zone = ledger.ZoneEmergency
	h.States[1].ParadoxCount = 2
	h.States[2].ParadoxCount = 4
	h.MetaParadoxes = []reconstruct.MetaParadox{
		{Timestamp: base.Add(time.Minute), Name: "meta_observed_consensus", Confusion: 0.9},
	}

	rep, err := Analyze(h)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	want := map[string]int{"GREEN": 1, "YELLOW": 1, "RED": 1, "EMERGENCY": 1}
	for zone, n := range want {
		if rep.ZoneDistribution[zone] != n {
			t.Fatalf("zone %s: %d, want %d", zone, rep.ZoneDistribution[zone], n)
		}
	}

	if rep.Paradoxes.TotalParadoxes != 6 {
		t.Fatalf("total paradoxes %d", rep.Paradoxes.TotalParadoxes)
	}
	if rep.Paradoxes.MetaParadoxes != 1 {
		t.Fatalf("meta paradoxes %d", rep.Paradoxes.MetaParadoxes)
	}
	if !near(rep.Paradoxes.AverageParadoxesPerState, 1.5) {
		t.Fatalf("average paradoxes %f", rep.Paradoxes.AverageParadoxesPerState)
	}
}

func TestResetSynthesizesCriticalPeriod(t *testing.T) {
	h := historyOf([]float64{0.3, 0.4, 0.5}, time.Minute)
	resetAt := base.Add(10 * time.Minute)
	h.Resets = []reconstruct.Reset{
		{Timestamp: resetAt, ConfusionBefore: 0.97, CoherenceBefore: 0.1, Reason: "collapse"},
	}

	rep, err := Analyze(h)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.EmergencyResets != 1 {
		t.Fatalf("reset count %d", rep.EmergencyResets)
	}
	if len(rep.CriticalPeriods) != 1 {
		t.Fatalf("expected 1 period, got %d", len(rep.CriticalPeriods))
	}
	cp := rep.CriticalPeriods[0]
	if !cp.Start.Equal(resetAt.Add(-5*time.Minute)) || !cp.End.Equal(resetAt) {
		t.Fatalf("synthesized window: %+v", cp)
	}
	if cp.Reason != "emergency_reset" {
		t.Fatalf("reason %q", cp.Reason)
	}
}

func TestOverlappingPeriodsKeptSorted(t *testing.T) {
	// High confusion from +2m onward, with a reset at +4m whose lookback
	// overlaps the threshold-derived window. Both survive, sorted by start.
	h := historyOf([]float64{0.2, 0.3, 0.9, 0.95, 0.9}, time.Minute)
	resetAt := base.Add(4 * time.Minute)
	h.Resets = []reconstruct.Reset{{Timestamp: resetAt, ConfusionBefore: 0.9}}

	rep, err := Analyze(h)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(rep.CriticalPeriods) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(rep.CriticalPeriods))
	}
	if rep.CriticalPeriods[0].Start.After(rep.CriticalPeriods[1].Start) {
		t.Fatal("periods not sorted by start")
	}
	if rep.CriticalPeriods[0].Reason != "emergency_reset" {
		t.Fatalf("expected reset lookback first, got %q", rep.CriticalPeriods[0].Reason)
	}
}

func TestExportDocument(t *testing.T) {
	h := historyOf([]float64{0.1, 0.2, 0.3}, time.Minute)
	h.MetaParadoxes = []reconstruct.MetaParadox{
		{Timestamp: base.Add(time.Minute), Name: "meta_authenticity_of_ownership"},
	}
	exportedAt := base.Add(time.Hour)

	doc, err := Export(h, exportedAt)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.Metadata.SessionID != h.SessionID.String() {
		t.Fatalf("metadata session %s", doc.Metadata.SessionID)
	}
	if !doc.Metadata.ExportedAt.Equal(exportedAt) {
		t.Fatalf("exportedAt %s", doc.Metadata.ExportedAt)
	}
	if doc.Metadata.StateCount != 3 || len(doc.States) != 3 {
		t.Fatalf("state counts: %d / %d", doc.Metadata.StateCount, len(doc.States))
	}
	if doc.Analysis.StateCount != 3 {
		t.Fatalf("analysis state count %d", doc.Analysis.StateCount)
	}
	if len(doc.MetaParadoxes) != 1 {
		t.Fatalf("meta paradoxes %d", len(doc.MetaParadoxes))
	}

	if _, err := Export(reconstruct.History{}, exportedAt); !errors.Is(err, ledger.ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}
}
