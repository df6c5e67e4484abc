package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/fixedpoint"
)

// #region defaults

const (
	// DefaultMinRecordingInterval is the per-session write throttle.
	DefaultMinRecordingInterval = 60 * time.Second
)

// #endregion defaults

// #region ledger-struct

type sessionState struct {
	active       bool
	lastRecorded time.Time
}

// Ledger is the authoritative, access-controlled, append-only store of
// per-session snapshots and events. One instance exclusively owns its
// database; mutating operations are serialized by the internal mutex while
// reads run concurrently against SQLite's snapshot isolation.
type Ledger struct {
	db        *sql.DB
	authority string
	bus       *Bus
	now       func() time.Time

	mu          sync.Mutex
	paused      bool
	minInterval time.Duration
	sessions    map[SessionID]*sessionState
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects a time source. Tests use this to drive the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMinRecordingInterval overrides the default write throttle.
func WithMinRecordingInterval(d time.Duration) Option {
	return func(l *Ledger) { l.minInterval = d }
}

// New builds a Ledger over an opened database, restoring session state.
// authority is the sole principal allowed to mutate.
func New(db *sql.DB, authority string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		db:          db,
		authority:   authority,
		bus:         NewBus(),
		now:         time.Now,
		minInterval: DefaultMinRecordingInterval,
		sessions:    make(map[SessionID]*sessionState),
	}
	for _, o := range opts {
		o(l)
	}
	if err := l.loadSessions(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadSessions() error {
	rows, err := l.db.Query(`SELECT session_id, active, last_recorded_at FROM sessions`)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sid string
		var active int
		var last sql.NullString
		if err := rows.Scan(&sid, &active, &last); err != nil {
			return fmt.Errorf("scan session: %w", err)
		}
		id, err := ParseSessionID(sid)
		if err != nil {
			return err
		}
		st := &sessionState{active: active != 0}
		if last.Valid {
			st.lastRecorded, _ = time.Parse(time.RFC3339Nano, last.String)
		}
		l.sessions[id] = st
	}
	return rows.Err()
}

// Bus returns the notification bus for subscriptions.
func (l *Ledger) Bus() *Bus { return l.bus }

// #endregion ledger-struct

// #region guards

// checkWriter runs the two ambient gates every mutating call passes first.
func (l *Ledger) checkWriter(caller string) error {
	if caller != l.authority {
		return fmt.Errorf("principal %q: %w", caller, ErrUnauthorized)
	}
	if l.paused {
		return ErrPaused
	}
	return nil
}

func (l *Ledger) activeSession(id SessionID) (*sessionState, error) {
	st, ok := l.sessions[id]
	if !ok || !st.active {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotActive)
	}
	return st, nil
}

func checkRange(id SessionID, field string, v interface{ Valid() bool }) error {
	if !v.Valid() {
		return fmt.Errorf("session %s: %s: %w", id, field, ErrOutOfRange)
	}
	return nil
}

func checkZone(id SessionID, field string, z Zone) error {
	if !z.Writable() {
		return fmt.Errorf("session %s: %s %s not writable: %w", id, field, z, ErrOutOfRange)
	}
	return nil
}

// #endregion guards

// #region start-session

// StartSession marks id active. A previously ended session may be started
// again: appends resume while prior history stays retrievable.
func (l *Ledger) StartSession(ctx context.Context, caller string, id SessionID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkWriter(caller); err != nil {
		return err
	}
	if st, ok := l.sessions[id]; ok && st.active {
		return fmt.Errorf("session %s: %w", id, ErrAlreadyActive)
	}

	now := l.now().UTC()
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (session_id, active, started_at) VALUES (?, 1, ?)
		 ON CONFLICT(session_id) DO UPDATE SET active = 1, started_at = excluded.started_at, ended_at = NULL`,
		id.String(), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	ev := Event{Kind: EventSessionStarted, SessionID: id, At: now}
	if ev.Seq, err = appendJournal(tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	st := l.sessions[id]
	if st == nil {
		st = &sessionState{}
		l.sessions[id] = st
	}
	st.active = true
	l.bus.Publish(ev)
	return nil
}

// #endregion start-session

// #region record-state

// RecordState validates and appends one snapshot. The ordering of checks is
// fixed: writer → paused → session → range → rate limit. There is no
// buffering behind the throttle; the caller retries after the stated wait.
func (l *Ledger) RecordState(ctx context.Context, caller string, id SessionID, in StateInput) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkWriter(caller); err != nil {
		return Snapshot{}, err
	}
	st, err := l.activeSession(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := checkRange(id, "confusionLevel", in.Confusion); err != nil {
		return Snapshot{}, err
	}
	if err := checkRange(id, "coherenceLevel", in.Coherence); err != nil {
		return Snapshot{}, err
	}
	if err := checkRange(id, "frustrationLevel", in.Frustration); err != nil {
		return Snapshot{}, err
	}
	if err := checkZone(id, "safetyZone", in.Zone); err != nil {
		return Snapshot{}, err
	}

	now := l.now().UTC()
	if !st.lastRecorded.IsZero() {
		if elapsed := now.Sub(st.lastRecorded); elapsed < l.minInterval {
			return Snapshot{}, &RateLimitError{Scope: "session " + id.String(), Wait: l.minInterval - elapsed}
		}
	}

	snap := Snapshot{
		SessionID:        id,
		Timestamp:        now,
		Confusion:        in.Confusion,
		Coherence:        in.Coherence,
		Zone:             in.Zone,
		ParadoxCount:     in.ParadoxCount,
		MetaParadoxCount: in.MetaParadoxCount,
		Frustration:      in.Frustration,
		ContextHash:      in.ContextHash,
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var contextHash any
	if snap.ContextHash != "" {
		contextHash = snap.ContextHash
	}
	_, err = tx.Exec(
		`INSERT INTO snapshots (session_id, ts, confusion, coherence, zone, paradox_count, meta_paradox_count, frustration, context_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), now.Format(time.RFC3339Nano), snap.Confusion, snap.Coherence,
		snap.Zone.String(), snap.ParadoxCount, snap.MetaParadoxCount, snap.Frustration, contextHash,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET last_recorded_at = ? WHERE session_id = ?`,
		now.Format(time.RFC3339Nano), id.String(),
	); err != nil {
		return Snapshot{}, fmt.Errorf("update session: %w", err)
	}
	if _, err := tx.Exec(`UPDATE global_counters SET total_states = total_states + 1 WHERE id = 1`); err != nil {
		return Snapshot{}, fmt.Errorf("bump counter: %w", err)
	}

	ev := Event{Kind: EventStateRecorded, SessionID: id, At: now, State: &snap}
	if ev.Seq, err = appendJournal(tx, ev); err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("commit: %w", err)
	}

	st.lastRecorded = now
	l.bus.Publish(ev)
	return snap, nil
}

// #endregion record-state

// #region record-events

// RecordMetaParadox appends a meta-paradox emergence event.
func (l *Ledger) RecordMetaParadox(ctx context.Context, caller string, id SessionID, name, description string, confusion fixedpoint.Value) (MetaParadoxEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkWriter(caller); err != nil {
		return MetaParadoxEvent{}, err
	}
	if _, err := l.activeSession(id); err != nil {
		return MetaParadoxEvent{}, err
	}
	if err := checkRange(id, "confusionAtEmergence", confusion); err != nil {
		return MetaParadoxEvent{}, err
	}

	now := l.now().UTC()
	m := MetaParadoxEvent{SessionID: id, Timestamp: now, Name: name, Description: description, Confusion: confusion}

	err := l.appendEvent(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO meta_paradox_events (session_id, ts, name, description, confusion) VALUES (?, ?, ?, ?, ?)`,
			id.String(), now.Format(time.RFC3339Nano), m.Name, m.Description, m.Confusion,
		); err != nil {
			return fmt.Errorf("insert meta paradox: %w", err)
		}
		_, err := tx.Exec(`UPDATE global_counters SET total_meta_paradoxes = total_meta_paradoxes + 1 WHERE id = 1`)
		return err
	}, Event{Kind: EventMetaParadoxEmergence, SessionID: id, At: now, Meta: &m})
	if err != nil {
		return MetaParadoxEvent{}, err
	}
	return m, nil
}

// RecordZoneTransition appends a safety-zone transition event.
func (l *Ledger) RecordZoneTransition(ctx context.Context, caller string, id SessionID, from, to Zone, confusion fixedpoint.Value) (ZoneTransition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkWriter(caller); err != nil {
		return ZoneTransition{}, err
	}
	if _, err := l.activeSession(id); err != nil {
		return ZoneTransition{}, err
	}
	if err := checkRange(id, "confusionAtTransition", confusion); err != nil {
		return ZoneTransition{}, err
	}
	if err := checkZone(id, "fromZone", from); err != nil {
		return ZoneTransition{}, err
	}
	if err := checkZone(id, "toZone", to); err != nil {
		return ZoneTransition{}, err
	}

	now := l.now().UTC()
	z := ZoneTransition{SessionID: id, Timestamp: now, From: from, To: to, Confusion: confusion}

	err := l.appendEvent(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO zone_transitions (session_id, ts, from_zone, to_zone, confusion) VALUES (?, ?, ?, ?, ?)`,
			id.String(), now.Format(time.RFC3339Nano), from.String(), to.String(), confusion,
		); err != nil {
			return fmt.Errorf("insert zone transition: %w", err)
		}
		_, err := tx.Exec(`UPDATE global_counters SET total_zone_transitions = total_zone_transitions + 1 WHERE id = 1`)
		return err
	}, Event{Kind: EventSafetyZoneTransition, SessionID: id, At: now, Zone: &z})
	if err != nil {
		return ZoneTransition{}, err
	}
	return z, nil
}

// RecordEmergencyReset appends an emergency reset event.
func (l *Ledger) RecordEmergencyReset(ctx context.Context, caller string, id SessionID, confusionBefore, coherenceBefore fixedpoint.Value, reason string) (EmergencyReset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkWriter(caller); err != nil {
		return EmergencyReset{}, err
	}
	if _, err := l.activeSession(id); err != nil {
		return EmergencyReset{}, err
	}
	if err := checkRange(id, "confusionBefore", confusionBefore); err != nil {
		return EmergencyReset{}, err
	}
	if err := checkRange(id, "coherenceBefore", coherenceBefore); err != nil {
		return EmergencyReset{}, err
	}

	now := l.now().UTC()
	r := EmergencyReset{SessionID: id, Timestamp: now, ConfusionBefore: confusionBefore, CoherenceBefore: coherenceBefore, Reason: reason}

	err := l.appendEvent(ctx, func(tx *sql.Tx) error {
		var reasonPtr any
		if reason != "" {
			reasonPtr = reason
		}
		if _, err := tx.Exec(
			`INSERT INTO emergency_resets (session_id, ts, confusion_before, coherence_before, reason) VALUES (?, ?, ?, ?, ?)`,
			id.String(), now.Format(time.RFC3339Nano), confusionBefore, coherenceBefore, reasonPtr,
		); err != nil {
			return fmt.Errorf("insert emergency reset: %w", err)
		}
		_, err := tx.Exec(`UPDATE global_counters SET total_emergency_resets = total_emergency_resets + 1 WHERE id = 1`)
		return err
	}, Event{Kind: EventEmergencyReset, SessionID: id, At: now, Reset: &r})
	if err != nil {
		return EmergencyReset{}, err
	}
	return r, nil
}

// appendEvent runs the record insert and the journal append in one
// transaction, then publishes. Callers hold l.mu.
func (l *Ledger) appendEvent(ctx context.Context, insert func(*sql.Tx) error, ev Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insert(tx); err != nil {
		return err
	}
	if ev.Seq, err = appendJournal(tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	l.bus.Publish(ev)
	return nil
}

// #endregion record-events

// #region end-session

// EndSession clears the active flag. History remains readable and the id
// may be started again later.
func (l *Ledger) EndSession(ctx context.Context, caller string, id SessionID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkWriter(caller); err != nil {
		return 0, err
	}
	st, err := l.activeSession(id)
	if err != nil {
		return 0, err
	}

	var count uint64
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE session_id = ?`, id.String(),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	now := l.now().UTC()
	err = l.appendEvent(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE sessions SET active = 0, ended_at = ? WHERE session_id = ?`,
			now.Format(time.RFC3339Nano), id.String(),
		)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		return nil
	}, Event{Kind: EventSessionEnded, SessionID: id, At: now, RecordCount: count})
	if err != nil {
		return 0, err
	}
	st.active = false
	return count, nil
}

// #endregion end-session

// #region admin

// Pause blocks all mutating operations until Unpause.
func (l *Ledger) Pause(caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.authority {
		return fmt.Errorf("principal %q: %w", caller, ErrUnauthorized)
	}
	l.paused = true
	return nil
}

// Unpause lifts the administrative pause.
func (l *Ledger) Unpause(caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.authority {
		return fmt.Errorf("principal %q: %w", caller, ErrUnauthorized)
	}
	l.paused = false
	return nil
}

// SetMinRecordingInterval changes the write throttle for subsequent writes.
func (l *Ledger) SetMinRecordingInterval(caller string, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.authority {
		return fmt.Errorf("principal %q: %w", caller, ErrUnauthorized)
	}
	if d < 0 {
		return fmt.Errorf("interval %s: %w", d, ErrOutOfRange)
	}
	l.minInterval = d
	return nil
}

// #endregion admin

// #region reads

// Store-level query failures on the read paths surface as ErrUnavailable,
// which is the signal the reconstructor falls back to journal replay on.

// History returns the session's snapshots in append order.
func (l *Ledger) History(ctx context.Context, id SessionID) ([]Snapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, ts, confusion, coherence, zone, paradox_count, meta_paradox_count, frustration, context_hash
		 FROM snapshots WHERE session_id = ? ORDER BY id ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query history: %v: %w", err, ErrUnavailable)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// Latest returns the most recent snapshot, or ErrEmpty when none exists.
func (l *Ledger) Latest(ctx context.Context, id SessionID) (Snapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, ts, confusion, coherence, zone, paradox_count, meta_paradox_count, frustration, context_hash
		 FROM snapshots WHERE session_id = ? ORDER BY id DESC LIMIT 1`, id.String())
	if err != nil {
		return Snapshot{}, fmt.Errorf("query latest: %v: %w", err, ErrUnavailable)
	}
	defer rows.Close()
	snaps, err := scanSnapshots(rows)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, fmt.Errorf("session %s: %w", id, ErrEmpty)
	}
	return snaps[0], nil
}

// MetaParadoxHistory returns the session's meta-paradox events in order.
func (l *Ledger) MetaParadoxHistory(ctx context.Context, id SessionID) ([]MetaParadoxEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, ts, name, description, confusion
		 FROM meta_paradox_events WHERE session_id = ? ORDER BY id ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query meta paradoxes: %v: %w", err, ErrUnavailable)
	}
	defer rows.Close()
	return scanMetaParadoxes(rows)
}

// ZoneTransitions returns the session's zone transitions in order.
func (l *Ledger) ZoneTransitions(ctx context.Context, id SessionID) ([]ZoneTransition, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, ts, from_zone, to_zone, confusion
		 FROM zone_transitions WHERE session_id = ? ORDER BY id ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query zone transitions: %v: %w", err, ErrUnavailable)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

// EmergencyResets returns the session's emergency resets in order.
func (l *Ledger) EmergencyResets(ctx context.Context, id SessionID) ([]EmergencyReset, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, ts, confusion_before, coherence_before, reason
		 FROM emergency_resets WHERE session_id = ? ORDER BY id ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query emergency resets: %v: %w", err, ErrUnavailable)
	}
	defer rows.Close()
	return scanResets(rows)
}

// ResearchMetrics returns the global append counters.
func (l *Ledger) ResearchMetrics(ctx context.Context) (ResearchMetrics, error) {
	var m ResearchMetrics
	err := l.db.QueryRowContext(ctx,
		`SELECT total_states, total_meta_paradoxes, total_zone_transitions, total_emergency_resets
		 FROM global_counters WHERE id = 1`,
	).Scan(&m.TotalStates, &m.TotalMetaParadoxes, &m.TotalZoneTransitions, &m.TotalEmergencyResets)
	if err != nil {
		return ResearchMetrics{}, fmt.Errorf("query counters: %w", err)
	}
	return m, nil
}

// SessionActive reports whether id is currently active.
func (l *Ledger) SessionActive(id SessionID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sessions[id]
	return ok && st.active
}

// #endregion reads

// #region journal-reads

// Journal returns up to limit journal entries with seq > after, for the
// given session. A zero session id selects all sessions.
func (l *Ledger) Journal(ctx context.Context, id SessionID, after int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 256
	}
	var rows *sql.Rows
	var err error
	if id.IsZero() {
		rows, err = l.db.QueryContext(ctx,
			`SELECT seq, payload FROM event_journal WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
			after, limit)
	} else {
		rows, err = l.db.QueryContext(ctx,
			`SELECT seq, payload FROM event_journal WHERE seq > ? AND session_id = ? ORDER BY seq ASC LIMIT ?`,
			after, id.String(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query journal: %v: %w", err, ErrUnavailable)
	}
	defer rows.Close()
	return scanJournal(rows)
}

// #endregion journal-reads

// #region session-listing

// SessionInfo is the per-session summary row.
type SessionInfo struct {
	SessionID     SessionID  `json:"sessionId"`
	Active        bool       `json:"active"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	SnapshotCount uint64     `json:"snapshotCount"`
}

// Sessions lists every session the ledger knows about, newest first.
func (l *Ledger) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT s.session_id, s.active, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM snapshots WHERE session_id = s.session_id)
		FROM sessions s ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var idStr, startedStr string
		var active int
		var endedStr sql.NullString
		if err := rows.Scan(&idStr, &active, &startedStr, &endedStr, &info.SnapshotCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if info.SessionID, err = ParseSessionID(idStr); err != nil {
			return nil, fmt.Errorf("session id %q: %w", idStr, err)
		}
		info.Active = active != 0
		if info.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
			return nil, fmt.Errorf("started_at %q: %w", startedStr, err)
		}
		if endedStr.Valid {
			t, err := time.Parse(time.RFC3339Nano, endedStr.String)
			if err != nil {
				return nil, fmt.Errorf("ended_at %q: %w", endedStr.String, err)
			}
			info.EndedAt = &t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// #endregion session-listing

