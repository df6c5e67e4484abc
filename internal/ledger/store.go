package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	active           INTEGER NOT NULL,
	started_at       TEXT NOT NULL,
	ended_at         TEXT,
	last_recorded_at TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id         TEXT NOT NULL,
	ts                 TEXT NOT NULL,
	confusion          INTEGER NOT NULL,
	coherence          INTEGER NOT NULL,
	zone               TEXT NOT NULL,
	paradox_count      INTEGER NOT NULL,
	meta_paradox_count INTEGER NOT NULL,
	frustration        INTEGER NOT NULL,
	context_hash       TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS meta_paradox_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	ts          TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	confusion   INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS zone_transitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ts         TEXT NOT NULL,
	from_zone  TEXT NOT NULL,
	to_zone    TEXT NOT NULL,
	confusion  INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS emergency_resets (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL,
	ts               TEXT NOT NULL,
	confusion_before INTEGER NOT NULL,
	coherence_before INTEGER NOT NULL,
	reason           TEXT,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS event_journal (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	session_id TEXT,
	actor      TEXT,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS global_counters (
	id                     INTEGER PRIMARY KEY CHECK (id = 1),
	total_states           INTEGER NOT NULL DEFAULT 0,
	total_meta_paradoxes   INTEGER NOT NULL DEFAULT 0,
	total_zone_transitions INTEGER NOT NULL DEFAULT 0,
	total_emergency_resets INTEGER NOT NULL DEFAULT 0
);
`

// #endregion schema

// #region open

// OpenDB opens the ledger database and runs migrations.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO global_counters (id) VALUES (1)"); err != nil {
		return fmt.Errorf("seed counters: %w", err)
	}
	return nil
}

// #endregion open

// #region journal-append

// appendJournal writes one journal row inside tx and returns its sequence.
func appendJournal(tx *sql.Tx, e Event) (int64, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal journal payload: %w", err)
	}
	var sid any
	if !e.SessionID.IsZero() {
		sid = e.SessionID.String()
	}
	var actor any
	if e.Actor != "" {
		actor = e.Actor
	}
	res, err := tx.Exec(
		`INSERT INTO event_journal (kind, session_id, actor, created_at, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind), sid, actor, e.At.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("append journal: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal seq: %w", err)
	}
	return seq, nil
}

// #endregion journal-append

// #region scan-journal

func scanJournal(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode journal payload seq %d: %w", seq, err)
		}
		e.Seq = seq
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion scan-journal

// #region scan-helpers

func scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var sid, ts, zone string
		var contextHash sql.NullString
		if err := rows.Scan(&sid, &ts, &s.Confusion, &s.Coherence, &zone,
			&s.ParadoxCount, &s.MetaParadoxCount, &s.Frustration, &contextHash); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var err error
		if s.SessionID, err = ParseSessionID(sid); err != nil {
			return nil, err
		}
		if s.Zone, err = ParseZone(zone); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if contextHash.Valid {
			s.ContextHash = contextHash.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanMetaParadoxes(rows *sql.Rows) ([]MetaParadoxEvent, error) {
	var out []MetaParadoxEvent
	for rows.Next() {
		var m MetaParadoxEvent
		var sid, ts string
		if err := rows.Scan(&sid, &ts, &m.Name, &m.Description, &m.Confusion); err != nil {
			return nil, fmt.Errorf("scan meta paradox: %w", err)
		}
		var err error
		if m.SessionID, err = ParseSessionID(sid); err != nil {
			return nil, err
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanTransitions(rows *sql.Rows) ([]ZoneTransition, error) {
	var out []ZoneTransition
	for rows.Next() {
		var z ZoneTransition
		var sid, ts, from, to string
		if err := rows.Scan(&sid, &ts, &from, &to, &z.Confusion); err != nil {
			return nil, fmt.Errorf("scan zone transition: %w", err)
		}
		var err error
		if z.SessionID, err = ParseSessionID(sid); err != nil {
			return nil, err
		}
		if z.From, err = ParseZone(from); err != nil {
			return nil, fmt.Errorf("scan zone transition: %w", err)
		}
		if z.To, err = ParseZone(to); err != nil {
			return nil, fmt.Errorf("scan zone transition: %w", err)
		}
		z.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, z)
	}
	return out, rows.Err()
}

func scanResets(rows *sql.Rows) ([]EmergencyReset, error) {
	var out []EmergencyReset
	for rows.Next() {
		var r EmergencyReset
		var sid, ts string
		var reason sql.NullString
		if err := rows.Scan(&sid, &ts, &r.ConfusionBefore, &r.CoherenceBefore, &reason); err != nil {
			return nil, fmt.Errorf("scan emergency reset: %w", err)
		}
		var err error
		if r.SessionID, err = ParseSessionID(sid); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if reason.Valid {
			r.Reason = reason.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion scan-helpers
