// Package analysis derives statistics from a reconstructed session history.
// Everything here is pure: no clock, no store, no randomness. The same
// history always yields the same report.
package analysis

import (
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
)

// #region report-types

// TimeRange bounds the analyzed window.
type TimeRange struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DurationHours float64   `json:"durationHours"`
}

// MetricSummary is min/max/average over one metric series.
type MetricSummary struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// Trend labels the direction of a metric across the session.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// trendThreshold is the minimum first-third to last-third delta that
// counts as movement.
const trendThreshold = 0.05

// ParadoxProgression summarizes paradox accumulation over the session.
type ParadoxProgression struct {
	TotalParadoxes           uint64  `json:"totalParadoxes"`
	MetaParadoxes            int     `json:"metaParadoxes"`
	AverageParadoxesPerState float64 `json:"averageParadoxesPerState"`
}

// CriticalPeriod is a window where confusion exceeded the critical bound,
// or the synthetic window preceding an emergency reset.
type CriticalPeriod struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PeakConfusion float64   `json:"peakConfusion"`
	Reason        string    `json:"reason"`
}

// Report is the full statistical summary of one session.
type Report struct {
	SessionID        ledger.SessionID   `json:"sessionId"`
	StateCount       int                `json:"stateCount"`
	TimeRange        TimeRange          `json:"timeRange"`
	Confusion        MetricSummary      `json:"confusion"`
	Coherence        MetricSummary      `json:"coherence"`
	ConfusionTrend   Trend              `json:"confusionTrend"`
	ZoneDistribution map[string]int     `json:"zoneDistribution"`
	Paradoxes        ParadoxProgression `json:"paradoxProgression"`
	CriticalPeriods  []CriticalPeriod   `json:"criticalPeriods"`
	EmergencyResets  int                `json:"emergencyResetCount"`
	MetaParadoxNames []string           `json:"metaParadoxNames,omitempty"`
}

// #endregion report-types

// #region analyze

// criticalConfusion is the bound above which a state opens a critical period.
const criticalConfusion = 0.8

// resetLookback is the synthetic critical window preceding each reset.
const resetLookback = 5 * time.Minute

// Analyze computes the report for one reconstructed history. An empty state
// sequence is an error, not a zero report.
func Analyze(h reconstruct.History) (Report, error) {
	if len(h.States) == 0 {
		return Report{}, ledger.ErrEmptyHistory
	}

	rep := Report{
		SessionID:        h.SessionID,
		StateCount:       len(h.States),
		ZoneDistribution: make(map[string]int),
		EmergencyResets:  len(h.Resets),
	}

	first := h.States[0].Timestamp
	last := h.States[len(h.States)-1].Timestamp
	rep.TimeRange = TimeRange{
		Start:         first,
		End:           last,
		DurationHours: last.Sub(first).Hours(),
	}

	rep.Confusion = summarize(h.States, func(s reconstruct.State) float64 { return s.Confusion })
	rep.Coherence = summarize(h.States, func(s reconstruct.State) float64 { return s.Coherence })
	rep.ConfusionTrend = trend(h.States)

	var totalParadoxes uint64
	for _, s := range h.States {
		rep.ZoneDistribution[s.Zone.String()]++
		totalParadoxes += uint64(s.ParadoxCount)
	}
	rep.Paradoxes = ParadoxProgression{
		TotalParadoxes:           totalParadoxes,
		MetaParadoxes:            len(h.MetaParadoxes),
		AverageParadoxesPerState: float64(totalParadoxes) / float64(len(h.States)),
	}
	for _, m := range h.MetaParadoxes {
		rep.MetaParadoxNames = append(rep.MetaParadoxNames, m.Name)
	}

	rep.CriticalPeriods = criticalPeriods(h)
	return rep, nil
}

func summarize(states []reconstruct.State, metric func(reconstruct.State) float64) MetricSummary {
	sum := MetricSummary{Min: metric(states[0]), Max: metric(states[0])}
	var total float64
	for _, s := range states {
		v := metric(s)
		if v < sum.Min {
			sum.Min = v
		}
		if v > sum.Max {
			sum.Max = v
		}
		total += v
	}
	sum.Average = total / float64(len(states))
	return sum
}

// trend compares the mean confusion of the first and last thirds. Sessions
// shorter than three states are stable by definition.
func trend(states []reconstruct.State) Trend {
	n := len(states)
	if n < 3 {
		return TrendStable
	}
	third := n / 3
	var head, tail float64
	for i := 0; i < third; i++ {
		head += states[i].Confusion
	}
	for i := n - third; i < n; i++ {
		tail += states[i].Confusion
	}
	head /= float64(third)
	tail /= float64(third)
	switch {
	case tail-head > trendThreshold:
		return TrendIncreasing
	case head-tail > trendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// #endregion analyze

// #region critical-periods

// criticalPeriods scans the state sequence for high-confusion windows and
// synthesizes one window per emergency reset. Windows are sorted by start
// and intentionally not merged: overlapping reset and confusion windows
// are distinct findings.
func criticalPeriods(h reconstruct.History) []CriticalPeriod {
	var periods []CriticalPeriod

	var open bool
	var cur CriticalPeriod
	for _, s := range h.States {
		if s.Confusion > criticalConfusion {
			if !open {
				open = true
				cur = CriticalPeriod{Start: s.Timestamp, PeakConfusion: s.Confusion, Reason: "high_confusion"}
			} else if s.Confusion > cur.PeakConfusion {
				cur.PeakConfusion = s.Confusion
			}
			cur.End = s.Timestamp
			continue
		}
		if open {
			periods = append(periods, cur)
			open = false
		}
	}
	if open {
		periods = append(periods, cur)
	}

	for _, r := range h.Resets {
		periods = append(periods, CriticalPeriod{
			Start:         r.Timestamp.Add(-resetLookback),
			End:           r.Timestamp,
			PeakConfusion: r.ConfusionBefore,
			Reason:        "emergency_reset",
		})
	}

	// Insertion keeps confusion windows already ordered; a single stable
	// pass merges the reset windows in by start time.
	for i := 1; i < len(periods); i++ {
		for j := i; j > 0 && periods[j].Start.Before(periods[j-1].Start); j-- {
			periods[j], periods[j-1] = periods[j-1], periods[j]
		}
	}
	return periods
}

// #endregion critical-periods
