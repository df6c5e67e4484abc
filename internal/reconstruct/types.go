package reconstruct

import (
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/fixedpoint"
	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
)

// #region normalized-types

// State is one snapshot normalized for analysis: fixed-point fields decoded
// to real numbers, journal sequence attached when the replay path supplied
// it (zero from the materialized path — accepted, not hidden).
type State struct {
	SessionID        ledger.SessionID `json:"sessionId"`
	Timestamp        time.Time        `json:"timestamp"`
	Confusion        float64          `json:"confusionLevel"`
	Coherence        float64          `json:"coherenceLevel"`
	Zone             ledger.Zone      `json:"safetyZone"`
	ParadoxCount     uint32           `json:"paradoxCount"`
	MetaParadoxCount uint32           `json:"metaParadoxCount"`
	Frustration      float64          `json:"frustrationLevel"`
	ContextHash      string           `json:"contextHash,omitempty"`
	Seq              int64            `json:"-"`
}

// MetaParadox is a normalized meta-paradox emergence event.
type MetaParadox struct {
	Timestamp   time.Time `json:"timestamp"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Confusion   float64   `json:"confusionAtEmergence"`
	Seq         int64     `json:"-"`
}

// Transition is a normalized zone transition.
type Transition struct {
	Timestamp time.Time   `json:"timestamp"`
	From      ledger.Zone `json:"fromZone"`
	To        ledger.Zone `json:"toZone"`
	Confusion float64     `json:"confusionAtTransition"`
	Seq       int64       `json:"-"`
}

// Reset is a normalized emergency reset.
type Reset struct {
	Timestamp       time.Time `json:"timestamp"`
	ConfusionBefore float64   `json:"confusionBefore"`
	CoherenceBefore float64   `json:"coherenceBefore"`
	Reason          string    `json:"reason,omitempty"`
	Seq             int64     `json:"-"`
}

// History is the ordered, deduplicated view of one session's ledger state.
type History struct {
	SessionID     ledger.SessionID `json:"sessionId"`
	States        []State          `json:"consciousnessStates"`
	MetaParadoxes []MetaParadox    `json:"metaParadoxEvents"`
	Transitions   []Transition     `json:"zoneTransitions"`
	Resets        []Reset          `json:"emergencyResets"`

	// Source records which read path produced the view.
	Source Source `json:"source"`
}

// Source identifies which read path produced a History.
type Source string

const (
	SourceMaterialized Source = "materialized"
	SourceEventReplay  Source = "event_replay"
)

// #endregion normalized-types

// #region conversion

func stateFromSnapshot(s ledger.Snapshot, seq int64) State {
	return State{
		SessionID:        s.SessionID,
		Timestamp:        s.Timestamp,
		Confusion:        fixedpoint.ToFloat(s.Confusion),
		Coherence:        fixedpoint.ToFloat(s.Coherence),
		Zone:             s.Zone,
		ParadoxCount:     s.ParadoxCount,
		MetaParadoxCount: s.MetaParadoxCount,
		Frustration:      fixedpoint.ToFloat(s.Frustration),
		ContextHash:      s.ContextHash,
		Seq:              seq,
	}
}

func metaFromEvent(m ledger.MetaParadoxEvent, seq int64) MetaParadox {
	return MetaParadox{
		Timestamp:   m.Timestamp,
		Name:        m.Name,
		Description: m.Description,
		Confusion:   fixedpoint.ToFloat(m.Confusion),
		Seq:         seq,
	}
}

func transitionFromEvent(z ledger.ZoneTransition, seq int64) Transition {
	return Transition{
		Timestamp: z.Timestamp,
		From:      z.From,
		To:        z.To,
		Confusion: fixedpoint.ToFloat(z.Confusion),
		Seq:       seq,
	}
}

func resetFromEvent(r ledger.EmergencyReset, seq int64) Reset {
	return Reset{
		Timestamp:       r.Timestamp,
		ConfusionBefore: fixedpoint.ToFloat(r.ConfusionBefore),
		CoherenceBefore: fixedpoint.ToFloat(r.CoherenceBefore),
		Reason:          r.Reason,
		Seq:             seq,
	}
}

// #endregion conversion

// #region equality

// Equal compares two histories field-wise, ignoring journal sequence
// metadata and the producing source. This is the dual-path convergence
// contract.
func Equal(a, b History) bool {
	if a.SessionID != b.SessionID ||
		len(a.States) != len(b.States) ||
		len(a.MetaParadoxes) != len(b.MetaParadoxes) ||
		len(a.Transitions) != len(b.Transitions) ||
		len(a.Resets) != len(b.Resets) {
		return false
	}
	for i := range a.States {
		x, y := a.States[i], b.States[i]
		x.Seq, y.Seq = 0, 0
		if x != y {
			return false
		}
	}
	for i := range a.MetaParadoxes {
		x, y := a.MetaParadoxes[i], b.MetaParadoxes[i]
		x.Seq, y.Seq = 0, 0
		if x != y {
			return false
		}
	}
	for i := range a.Transitions {
		x, y := a.Transitions[i], b.Transitions[i]
		x.Seq, y.Seq = 0, 0
		if x != y {
			return false
		}
	}
	for i := range a.Resets {
		x, y := a.Resets[i], b.Resets[i]
		x.Seq, y.Seq = 0, 0
		if x != y {
			return false
		}
	}
	return true
}

// #endregion equality
