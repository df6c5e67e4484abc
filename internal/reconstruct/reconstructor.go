package reconstruct

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
)

// #region sources

// ViewSource is the materialized read path: direct queries against the
// ledger's per-session collections.
type ViewSource interface {
	History(ctx context.Context, id ledger.SessionID) ([]ledger.Snapshot, error)
	MetaParadoxHistory(ctx context.Context, id ledger.SessionID) ([]ledger.MetaParadoxEvent, error)
	ZoneTransitions(ctx context.Context, id ledger.SessionID) ([]ledger.ZoneTransition, error)
	EmergencyResets(ctx context.Context, id ledger.SessionID) ([]ledger.EmergencyReset, error)
}

// JournalSource is the replay read path: chunked reads of the event journal.
type JournalSource interface {
	Journal(ctx context.Context, id ledger.SessionID, after int64, limit int) ([]ledger.Event, error)
}

// #endregion sources

// #region config

// Config bounds the replay fallback. Chunk size and retry budget are
// configuration, not assumptions.
type Config struct {
	ChunkSize   int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   256,
		MaxRetries:  3,
		BackoffBase: 200 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	}
}

func (c *Config) defaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 256
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
}

// #endregion config

// #region reconstructor

// Reconstructor produces the ordered, deduplicated view of one session.
// Request flow: TryMaterialized → Done, or on a connectivity-class failure
// TryEventReplay → Done. Validation failures never trigger the fallback.
// Instances are stateless per request; concurrent calls are safe.
type Reconstructor struct {
	view    ViewSource
	journal JournalSource
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds a reconstructor over the two read paths.
func New(view ViewSource, journal JournalSource, cfg Config) *Reconstructor {
	cfg.defaults()
	return &Reconstructor{view: view, journal: journal, cfg: cfg, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reconstruct returns the session's history from the first available path.
func (r *Reconstructor) Reconstruct(ctx context.Context, id ledger.SessionID) (History, error) {
	h, err := r.tryMaterialized(ctx, id)
	switch ledger.Classify(err) {
	case ledger.KindNone:
		return h, nil
	case ledger.KindUnavailable:
		return r.tryEventReplay(ctx, id)
	default:
		return History{}, err
	}
}

// Materialized reconstructs through the view path only, no fallback.
func (r *Reconstructor) Materialized(ctx context.Context, id ledger.SessionID) (History, error) {
	return r.tryMaterialized(ctx, id)
}

// Replayed reconstructs through the journal path only.
func (r *Reconstructor) Replayed(ctx context.Context, id ledger.SessionID) (History, error) {
	return r.tryEventReplay(ctx, id)
}

// #endregion reconstructor

// #region materialized

func (r *Reconstructor) tryMaterialized(ctx context.Context, id ledger.SessionID) (History, error) {
	snaps, err := r.view.History(ctx, id)
	if err != nil {
		return History{}, fmt.Errorf("materialized history: %w", err)
	}
	metas, err := r.view.MetaParadoxHistory(ctx, id)
	if err != nil {
		return History{}, fmt.Errorf("materialized meta paradoxes: %w", err)
	}
	zones, err := r.view.ZoneTransitions(ctx, id)
	if err != nil {
		return History{}, fmt.Errorf("materialized zone transitions: %w", err)
	}
	resets, err := r.view.EmergencyResets(ctx, id)
	if err != nil {
		return History{}, fmt.Errorf("materialized emergency resets: %w", err)
	}

	h := History{SessionID: id, Source: SourceMaterialized}
	for _, s := range snaps {
		h.States = append(h.States, stateFromSnapshot(s, 0))
	}
	for _, m := range metas {
		h.MetaParadoxes = append(h.MetaParadoxes, metaFromEvent(m, 0))
	}
	for _, z := range zones {
		h.Transitions = append(h.Transitions, transitionFromEvent(z, 0))
	}
	for _, e := range resets {
		h.Resets = append(h.Resets, resetFromEvent(e, 0))
	}
	finalize(&h)
	return h, nil
}

// #endregion materialized

// #region replay

type dedupKey struct {
	session ledger.SessionID
	ts      int64
	kind    ledger.EventKind
}

func (r *Reconstructor) tryEventReplay(ctx context.Context, id ledger.SessionID) (History, error) {
	h := History{SessionID: id, Source: SourceEventReplay}
	seen := make(map[dedupKey]bool)

	var after int64
	for {
		var chunk []ledger.Event
		err := r.withRetry(ctx, func() error {
			var cerr error
			chunk, cerr = r.journal.Journal(ctx, id, after, r.cfg.ChunkSize)
			return cerr
		})
		if err != nil {
			return History{}, err
		}
		if len(chunk) == 0 {
			break
		}
		for _, e := range chunk {
			after = e.Seq
			key := dedupKey{session: e.SessionID, ts: e.At.UnixNano(), kind: e.Kind}
			if seen[key] {
				continue
			}
			seen[key] = true
			switch e.Kind {
			case ledger.EventStateRecorded:
				if e.State != nil {
					h.States = append(h.States, stateFromSnapshot(*e.State, e.Seq))
				}
			case ledger.EventMetaParadoxEmergence:
				if e.Meta != nil {
					h.MetaParadoxes = append(h.MetaParadoxes, metaFromEvent(*e.Meta, e.Seq))
				}
			case ledger.EventSafetyZoneTransition:
				if e.Zone != nil {
					h.Transitions = append(h.Transitions, transitionFromEvent(*e.Zone, e.Seq))
				}
			case ledger.EventEmergencyReset:
				if e.Reset != nil {
					h.Resets = append(h.Resets, resetFromEvent(*e.Reset, e.Seq))
				}
			}
		}
		if len(chunk) < r.cfg.ChunkSize {
			break
		}
	}
	finalize(&h)
	return h, nil
}

// withRetry retries connectivity-class failures with exponential backoff,
// up to the configured budget, then surfaces ErrUnavailable. All other
// failures propagate immediately.
func (r *Reconstructor) withRetry(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			d := r.cfg.BackoffBase << (attempt - 1)
			if d > r.cfg.BackoffMax {
				d = r.cfg.BackoffMax
			}
			if err := r.sleep(ctx, d); err != nil {
				return err
			}
		}
		last = fn()
		if last == nil {
			return nil
		}
		if ledger.Classify(last) != ledger.KindUnavailable {
			return last
		}
	}
	return fmt.Errorf("event replay exhausted %d retries: %w", r.cfg.MaxRetries, ledger.ErrUnavailable)
}

// #endregion replay

// #region finalize

// finalize sorts each sequence ascending by timestamp (ties resolved by
// journal sequence, preserving append order) and applies the off-chain
// emergency-zone projection.
func finalize(h *History) {
	sort.SliceStable(h.States, func(i, j int) bool {
		if h.States[i].Timestamp.Equal(h.States[j].Timestamp) {
			return h.States[i].Seq < h.States[j].Seq
		}
		return h.States[i].Timestamp.Before(h.States[j].Timestamp)
	})
	sort.SliceStable(h.MetaParadoxes, func(i, j int) bool {
		return h.MetaParadoxes[i].Timestamp.Before(h.MetaParadoxes[j].Timestamp)
	})
	sort.SliceStable(h.Transitions, func(i, j int) bool {
		return h.Transitions[i].Timestamp.Before(h.Transitions[j].Timestamp)
	})
	sort.SliceStable(h.Resets, func(i, j int) bool {
		return h.Resets[i].Timestamp.Before(h.Resets[j].Timestamp)
	})
	projectEmergency(h)
}

// emergencyWindow is how far before a reset the projection extends.
const emergencyWindow = 5 * time.Minute

// projectEmergency maps the zone of snapshots inside the window preceding
// an emergency reset to the analysis-only EMERGENCY zone. The ledger never
// stores this zone; it exists only in the reconstructed view.
func projectEmergency(h *History) {
	for _, reset := range h.Resets {
		lo := reset.Timestamp.Add(-emergencyWindow)
		for i := range h.States {
			ts := h.States[i].Timestamp
			if !ts.Before(lo) && !ts.After(reset.Timestamp) {
				h.States[i].Zone = ledger.ZoneEmergency
			}
		}
	}
}

// #endregion finalize
