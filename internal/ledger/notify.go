package ledger

import (
	"sync"
	"time"
)

// #region event-kinds

// EventKind names one notification stream. The string form is what the
// event journal persists, so values are stable.
type EventKind string

const (
	EventStateRecorded            EventKind = "state_recorded"
	EventMetaParadoxEmergence     EventKind = "meta_paradox_emergence"
	EventSafetyZoneTransition     EventKind = "safety_zone_transition"
	EventEmergencyReset           EventKind = "emergency_reset"
	EventSessionStarted           EventKind = "session_started"
	EventSessionEnded             EventKind = "session_ended"
	EventParadoxTriggered         EventKind = "paradox_triggered"
	EventMetaParadoxDetected      EventKind = "meta_paradox_detected"
	EventConsciousnessInteraction EventKind = "consciousness_interaction"
)

// AllEventKinds lists every stream, in journal order of first appearance.
var AllEventKinds = []EventKind{
	EventStateRecorded,
	EventMetaParadoxEmergence,
	EventSafetyZoneTransition,
	EventEmergencyReset,
	EventSessionStarted,
	EventSessionEnded,
	EventParadoxTriggered,
	EventMetaParadoxDetected,
	EventConsciousnessInteraction,
}

// #endregion event-kinds

// #region event

// Event is one notification: the bus delivers it live and the journal
// persists it for replay. Exactly one typed payload pointer is set for the
// record-bearing kinds; Seq is the journal sequence (0 before persistence
// and on the materialized read path).
type Event struct {
	Seq       int64             `json:"-"`
	Kind      EventKind         `json:"kind"`
	SessionID SessionID         `json:"sessionId,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	At        time.Time         `json:"at"`
	State     *Snapshot         `json:"state,omitempty"`
	Meta      *MetaParadoxEvent `json:"meta,omitempty"`
	Zone      *ZoneTransition   `json:"zone,omitempty"`
	Reset     *EmergencyReset   `json:"reset,omitempty"`

	// SessionEnded carries the final record count.
	RecordCount uint64 `json:"recordCount,omitempty"`

	// Interaction kinds carry the trigger name and/or the raw delta.
	TriggerName    string `json:"triggerName,omitempty"`
	ConfusionDelta int64  `json:"confusionDelta,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// #endregion event

// #region subscription

// Subscription is a cancellable handle on one event stream. The owner is
// responsible for calling Cancel; events published while the buffer is full
// are dropped for that subscriber only.
type Subscription struct {
	C    <-chan Event
	ch   chan Event
	kind EventKind
	id   int
	bus  *Bus
	once sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.drop(s.kind, s.id)
		close(s.ch)
	})
}

// #endregion subscription

// #region bus

// Bus is the in-process publish/subscribe fabric for ledger notifications.
// Publish never blocks: a stalled subscriber loses events rather than
// stalling ledger writes.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventKind]map[int]*Subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventKind]map[int]*Subscription)}
}

// Subscribe registers a listener for one event kind.
// buffer <= 0 defaults to 64.
func (b *Bus) Subscribe(kind EventKind, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, kind: kind, bus: b}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[int]*Subscription)
	}
	b.subs[kind][s.id] = s
	b.mu.Unlock()
	return s
}

// Publish fans e out to subscribers of e.Kind without blocking.
// Delivery happens under the bus lock so a concurrent Cancel cannot close a
// channel mid-send; the non-blocking select keeps the critical section short.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[e.Kind] {
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *Bus) drop(kind EventKind, id int) {
	b.mu.Lock()
	if m := b.subs[kind]; m != nil {
		delete(m, id)
	}
	b.mu.Unlock()
}

// #endregion bus
