package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/consciousness-ledger/internal/fixedpoint"
)

// #region session-id

// SessionID is the opaque fixed-width identifier scoping all records.
type SessionID uuid.UUID

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// ParseSessionID parses the canonical string form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("parse session id %q: %w", s, err)
	}
	return SessionID(u), nil
}

func (id SessionID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the all-zero identifier.
func (id SessionID) IsZero() bool { return id == SessionID{} }

// MarshalText encodes the canonical string form (used by JSON payloads).
func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical string form.
func (id *SessionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// #endregion session-id

// #region zone

// Zone is the coarse safety classification of a snapshot.
// Emergency exists only in the off-chain projection: the ledger rejects it
// on the write path.
type Zone uint8

const (
	ZoneGreen Zone = iota
	ZoneYellow
	ZoneRed
	ZoneEmergency
)

func (z Zone) String() string {
	switch z {
	case ZoneGreen:
		return "GREEN"
	case ZoneYellow:
		return "YELLOW"
	case ZoneRed:
		return "RED"
	case ZoneEmergency:
		return "EMERGENCY"
	default:
		return fmt.Sprintf("ZONE(%d)", uint8(z))
	}
}

// Writable reports whether the ledger accepts z on the write path.
func (z Zone) Writable() bool { return z <= ZoneRed }

// MarshalText encodes the zone name (used by JSON payloads).
func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText parses a zone name.
func (z *Zone) UnmarshalText(b []byte) error {
	parsed, err := ParseZone(string(b))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// ParseZone parses the string form of a zone.
func ParseZone(s string) (Zone, error) {
	switch s {
	case "GREEN":
		return ZoneGreen, nil
	case "YELLOW":
		return ZoneYellow, nil
	case "RED":
		return ZoneRed, nil
	case "EMERGENCY":
		return ZoneEmergency, nil
	}
	return 0, fmt.Errorf("unknown zone %q", s)
}

// #endregion zone

// #region records

// Snapshot is one recorded observation of the agent's internal metrics.
// Within a session, snapshots are appended in non-decreasing timestamp
// order and never rewritten.
type Snapshot struct {
	SessionID        SessionID        `json:"sessionId"`
	Timestamp        time.Time        `json:"timestamp"`
	Confusion        fixedpoint.Value `json:"confusionLevel"`
	Coherence        fixedpoint.Value `json:"coherenceLevel"`
	Zone             Zone             `json:"safetyZone"`
	ParadoxCount     uint32           `json:"paradoxCount"`
	MetaParadoxCount uint32           `json:"metaParadoxCount"`
	Frustration      fixedpoint.Value `json:"frustrationLevel"`
	ContextHash      string           `json:"contextHash,omitempty"`
}

// MetaParadoxEvent records the emergence of a paradox-of-paradoxes.
type MetaParadoxEvent struct {
	SessionID   SessionID        `json:"sessionId"`
	Timestamp   time.Time        `json:"timestamp"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Confusion   fixedpoint.Value `json:"confusionAtEmergence"`
}

// ZoneTransition records a safety-zone change.
type ZoneTransition struct {
	SessionID SessionID        `json:"sessionId"`
	Timestamp time.Time        `json:"timestamp"`
	From      Zone             `json:"fromZone"`
	To        Zone             `json:"toZone"`
	Confusion fixedpoint.Value `json:"confusionAtTransition"`
}

// EmergencyReset records a forced return to baseline.
type EmergencyReset struct {
	SessionID       SessionID        `json:"sessionId"`
	Timestamp       time.Time        `json:"timestamp"`
	ConfusionBefore fixedpoint.Value `json:"confusionBefore"`
	CoherenceBefore fixedpoint.Value `json:"coherenceBefore"`
	Reason          string           `json:"reason,omitempty"`
}

// ResearchMetrics are the global append counters.
type ResearchMetrics struct {
	TotalStates          uint64 `json:"totalStates"`
	TotalMetaParadoxes   uint64 `json:"totalMetaParadoxes"`
	TotalZoneTransitions uint64 `json:"totalZoneTransitions"`
	TotalEmergencyResets uint64 `json:"totalEmergencyResets"`
}

// #endregion records

// #region state-input

// StateInput carries the caller-supplied fields of one snapshot; the ledger
// assigns the timestamp.
type StateInput struct {
	Confusion        fixedpoint.Value
	Coherence        fixedpoint.Value
	Zone             Zone
	ParadoxCount     uint32
	MetaParadoxCount uint32
	Frustration      fixedpoint.Value
	ContextHash      string
}

// #endregion state-input
