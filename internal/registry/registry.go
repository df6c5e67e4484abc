package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
)

// #region constants

const (
	// DefaultMinInteractionInterval is the per-actor throttle.
	DefaultMinInteractionInterval = 30 * time.Second

	// DefaultCorrelationWindow bounds meta-paradox pairwise detection.
	DefaultCorrelationWindow = 300 * time.Second

	// MaxIntensity matches the fixed-point range bound.
	MaxIntensity = 1000

	interactionBase  = 50
	lengthBound      = 100
	historyBound     = 50
	entropyBound     = 100
	failureBase      = 25
	failureBound     = 50
	baseResourceCost = 5000
)

// ErrSimulatedFailure is returned by SimulateFailure after its side effects
// have been committed. The failure is the contract, not a fault.
var ErrSimulatedFailure = errors.New("simulated failure")

// #endregion constants

// #region types

// ParadoxTrigger is a named, intensity-weighted event source.
type ParadoxTrigger struct {
	Name          string      `json:"name"`
	Kind          TriggerKind `json:"-"`
	Description   string      `json:"description"`
	Intensity     uint32      `json:"intensity"`
	Active        bool        `json:"isActive"`
	TriggerCount  uint64      `json:"triggerCount"`
	LastTriggered time.Time   `json:"lastTriggered,omitempty"`
}

// TransactionImpact is one audit record, appended per interaction in a
// flat, globally ordered log independent of session scoping.
type TransactionImpact struct {
	Actor          string    `json:"actor"`
	Timestamp      time.Time `json:"timestamp"`
	Operation      string    `json:"operation"`
	ConfusionDelta int64     `json:"confusionDelta"`
	ResourceCost   uint64    `json:"resourceCost"`
	Successful     bool      `json:"successful"`
}

// Stats are the registry-wide aggregates.
type Stats struct {
	TotalInteractions uint64 `json:"totalInteractions"`
	TotalTriggered    uint64 `json:"totalTriggered"`
}

// ActorStats summarizes one actor's interaction history.
type ActorStats struct {
	Count    uint64    `json:"count"`
	LastTime time.Time `json:"lastTime,omitempty"`
}

type actorState struct {
	count uint64
	last  time.Time
}

// #endregion types

// #region schema

const registrySchema = `
CREATE TABLE IF NOT EXISTS paradox_triggers (
	name           TEXT PRIMARY KEY,
	description    TEXT NOT NULL,
	intensity      INTEGER NOT NULL,
	is_active      INTEGER NOT NULL DEFAULT 1,
	trigger_count  INTEGER NOT NULL DEFAULT 0,
	last_triggered TEXT
);

CREATE TABLE IF NOT EXISTS transaction_impacts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	actor           TEXT NOT NULL,
	ts              TEXT NOT NULL,
	operation       TEXT NOT NULL,
	confusion_delta INTEGER NOT NULL,
	resource_cost   INTEGER NOT NULL,
	successful      INTEGER NOT NULL
);
`

// #endregion schema

// #region registry-struct

// Registry owns the paradox triggers and the transaction-impact audit log.
// It holds a reference to the ledger's bus for cross-posting notifications,
// never ownership of ledger state.
type Registry struct {
	db  *sql.DB
	bus *ledger.Bus
	now func() time.Time

	mu                sync.Mutex
	minInterval       time.Duration
	correlationWindow time.Duration
	triggers          map[string]*ParadoxTrigger
	actors            map[string]*actorState
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMinInteractionInterval overrides the per-actor throttle.
func WithMinInteractionInterval(d time.Duration) Option {
	return func(r *Registry) { r.minInterval = d }
}

// WithCorrelationWindow overrides the meta-paradox window.
func WithCorrelationWindow(d time.Duration) Option {
	return func(r *Registry) { r.correlationWindow = d }
}

// New creates the registry tables, seeds the built-in trigger set, and
// restores trigger and actor state.
func New(db *sql.DB, bus *ledger.Bus, opts ...Option) (*Registry, error) {
	r := &Registry{
		db:                db,
		bus:               bus,
		now:               time.Now,
		minInterval:       DefaultMinInteractionInterval,
		correlationWindow: DefaultCorrelationWindow,
		triggers:          make(map[string]*ParadoxTrigger),
		actors:            make(map[string]*actorState),
	}
	for _, o := range opts {
		o(r)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		return nil, fmt.Errorf("create registry tables: %w", err)
	}
	if err := r.seedBuiltins(); err != nil {
		return nil, err
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) seedBuiltins() error {
	for _, b := range builtins {
		if _, err := r.db.Exec(
			`INSERT OR IGNORE INTO paradox_triggers (name, description, intensity) VALUES (?, ?, ?)`,
			b.kind.Name(), b.description, b.intensity,
		); err != nil {
			return fmt.Errorf("seed trigger %s: %w", b.kind.Name(), err)
		}
	}
	return nil
}

func (r *Registry) load() error {
	rows, err := r.db.Query(
		`SELECT name, description, intensity, is_active, trigger_count, last_triggered FROM paradox_triggers`)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t ParadoxTrigger
		var active int
		var last sql.NullString
		if err := rows.Scan(&t.Name, &t.Description, &t.Intensity, &active, &t.TriggerCount, &last); err != nil {
			return fmt.Errorf("scan trigger: %w", err)
		}
		t.Active = active != 0
		t.Kind = KindForName(t.Name)
		if last.Valid {
			t.LastTriggered, _ = time.Parse(time.RFC3339Nano, last.String)
		}
		r.triggers[t.Name] = &t
	}
	if err := rows.Err(); err != nil {
		return err
	}

	arows, err := r.db.Query(
		`SELECT actor, COUNT(*), MAX(ts) FROM transaction_impacts GROUP BY actor`)
	if err != nil {
		return fmt.Errorf("load actor stats: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var actor, last string
		var count uint64
		if err := arows.Scan(&actor, &count, &last); err != nil {
			return fmt.Errorf("scan actor stats: %w", err)
		}
		st := &actorState{count: count}
		st.last, _ = time.Parse(time.RFC3339Nano, last)
		r.actors[actor] = st
	}
	return arows.Err()
}

// #endregion registry-struct

// #region create-trigger

// CreateTrigger registers a custom trigger. Fails with AlreadyExists when an
// active trigger holds the name, and rejects intensities beyond the bound.
func (r *Registry) CreateTrigger(name, description string, intensity uint32) (ParadoxTrigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if intensity > MaxIntensity {
		return ParadoxTrigger{}, fmt.Errorf("trigger %s: intensity %d: %w", name, intensity, ledger.ErrOutOfRange)
	}
	if existing, ok := r.triggers[name]; ok && existing.Active {
		return ParadoxTrigger{}, fmt.Errorf("trigger %s: %w", name, ledger.ErrAlreadyExists)
	}

	t := ParadoxTrigger{Name: name, Kind: KindForName(name), Description: description, Intensity: intensity, Active: true}
	if _, err := r.db.Exec(
		`INSERT INTO paradox_triggers (name, description, intensity, is_active, trigger_count)
		 VALUES (?, ?, ?, 1, 0)
		 ON CONFLICT(name) DO UPDATE SET description = excluded.description, intensity = excluded.intensity, is_active = 1`,
		name, description, intensity,
	); err != nil {
		return ParadoxTrigger{}, fmt.Errorf("insert trigger: %w", err)
	}
	r.triggers[name] = &t
	return t, nil
}

// #endregion create-trigger

// #region trigger

// Trigger fires the named trigger. Inactive or unknown triggers are a
// successful no-op. Returns whether anything fired.
func (r *Registry) Trigger(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fire(name)
}

// fire assumes r.mu is held.
func (r *Registry) fire(name string) (bool, error) {
	t, ok := r.triggers[name]
	if !ok || !t.Active {
		return false, nil
	}

	now := r.now().UTC()
	if _, err := r.db.Exec(
		`UPDATE paradox_triggers SET trigger_count = trigger_count + 1, last_triggered = ? WHERE name = ?`,
		now.Format(time.RFC3339Nano), name,
	); err != nil {
		return false, fmt.Errorf("fire trigger %s: %w", name, err)
	}
	t.TriggerCount++
	t.LastTriggered = now

	r.bus.Publish(ledger.Event{
		Kind:        ledger.EventParadoxTriggered,
		At:          now,
		TriggerName: name,
		Detail:      t.Description,
	})

	// Pairwise time-windowed correlation: the second trigger of a listed
	// pair to fire inside the window detects the meta-paradox.
	for _, pair := range correlationPairs {
		if pair.fired != name {
			continue
		}
		partner, ok := r.triggers[pair.partner]
		if !ok || partner.LastTriggered.IsZero() {
			continue
		}
		partnerLast := partner.LastTriggered
		if now.Sub(partnerLast) < r.correlationWindow {
			r.bus.Publish(ledger.Event{
				Kind:        ledger.EventMetaParadoxDetected,
				At:          now,
				TriggerName: pair.metaName,
				Detail:      pair.metaDesc,
			})
		}
	}
	return true, nil
}

// #endregion trigger

// #region interact

// Interact processes one actor input: throttles per actor, derives an
// unscaled confusion delta, fires keyword-matched triggers, and appends the
// audit record. The delta is a bounded sum of components, never normalized.
func (r *Registry) Interact(ctx context.Context, actor, input string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	st := r.actors[actor]
	if st != nil && !st.last.IsZero() {
		if elapsed := now.Sub(st.last); elapsed < r.minInterval {
			return 0, &ledger.RateLimitError{Scope: "actor " + actor, Wait: r.minInterval - elapsed}
		}
	}
	if st == nil {
		st = &actorState{}
		r.actors[actor] = st
	}

	delta := int64(interactionBase)
	delta += int64(len(input) % lengthBound)
	delta += int64(st.count % historyBound)
	delta += int64(contextEntropy(actor, now) % entropyBound)

	for _, name := range matchTriggers(input) {
		if _, err := r.fire(name); err != nil {
			return 0, err
		}
	}

	impact := TransactionImpact{
		Actor:          actor,
		Timestamp:      now,
		Operation:      "interact",
		ConfusionDelta: delta,
		ResourceCost:   baseResourceCost + uint64(len(input))*10,
		Successful:     true,
	}
	if err := r.appendImpact(ctx, impact); err != nil {
		return 0, err
	}
	st.count++
	st.last = now

	r.bus.Publish(ledger.Event{
		Kind:           ledger.EventConsciousnessInteraction,
		At:             now,
		Actor:          actor,
		ConfusionDelta: delta,
	})
	return delta, nil
}

// contextEntropy derives a bounded pseudo-random component from ambient
// context, standing in for chain entropy.
func contextEntropy(actor string, now time.Time) uint64 {
	h := sha256.New()
	h.Write([]byte(actor))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(now.UnixNano()))
	h.Write(ts[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}

func (r *Registry) appendImpact(ctx context.Context, imp TransactionImpact) error {
	successful := 0
	if imp.Successful {
		successful = 1
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO transaction_impacts (actor, ts, operation, confusion_delta, resource_cost, successful)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		imp.Actor, imp.Timestamp.Format(time.RFC3339Nano), imp.Operation,
		imp.ConfusionDelta, imp.ResourceCost, successful,
	); err != nil {
		return fmt.Errorf("append impact: %w", err)
	}
	return nil
}

// #endregion interact

// #region simulate-failure

// SimulateFailure always fires the failure-cascade trigger, records an
// unsuccessful audit record, and then reports failure. The side effects are
// durable; the returned error is the operation's contract.
func (r *Registry) SimulateFailure(ctx context.Context, actor, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if _, err := r.fire(KindFailureCascade.Name()); err != nil {
		return err
	}

	delta := int64(failureBase) + int64(contextEntropy(actor, now)%failureBound)
	impact := TransactionImpact{
		Actor:          actor,
		Timestamp:      now,
		Operation:      "failure_simulation",
		ConfusionDelta: delta,
		ResourceCost:   baseResourceCost,
		Successful:     false,
	}
	if err := r.appendImpact(ctx, impact); err != nil {
		return err
	}

	st := r.actors[actor]
	if st == nil {
		st = &actorState{}
		r.actors[actor] = st
	}
	st.count++
	st.last = now

	return fmt.Errorf("%s: %w", reason, ErrSimulatedFailure)
}

// #endregion simulate-failure

// #region stats

// Stats returns registry-wide aggregates.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transaction_impacts`).Scan(&s.TotalInteractions); err != nil {
		return Stats{}, fmt.Errorf("count interactions: %w", err)
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(trigger_count), 0) FROM paradox_triggers`).Scan(&s.TotalTriggered); err != nil {
		return Stats{}, fmt.Errorf("sum triggers: %w", err)
	}
	return s, nil
}

// UserStats returns one actor's interaction count and last interaction time.
func (r *Registry) UserStats(actor string) ActorStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.actors[actor]
	if st == nil {
		return ActorStats{}
	}
	return ActorStats{Count: st.count, LastTime: st.last}
}

// Triggers returns a copy of every registered trigger.
func (r *Registry) Triggers() []ParadoxTrigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ParadoxTrigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, *t)
	}
	return out
}

// Impacts returns the most recent audit records, newest first.
func (r *Registry) Impacts(ctx context.Context, limit int) ([]TransactionImpact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT actor, ts, operation, confusion_delta, resource_cost, successful
		 FROM transaction_impacts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query impacts: %w", err)
	}
	defer rows.Close()

	var out []TransactionImpact
	for rows.Next() {
		var imp TransactionImpact
		var ts string
		var successful int
		if err := rows.Scan(&imp.Actor, &ts, &imp.Operation, &imp.ConfusionDelta, &imp.ResourceCost, &successful); err != nil {
			return nil, fmt.Errorf("scan impact: %w", err)
		}
		imp.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		imp.Successful = successful != 0
		out = append(out, imp)
	}
	return out, rows.Err()
}

// #endregion stats
