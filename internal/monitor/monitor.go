// Package monitor keeps per-session analysis reports current by watching
// the ledger's event feed and re-running reconstruction on change.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/analysis"
	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
)

// DefaultDebounce batches bursts of appends into one refresh.
const DefaultDebounce = 500 * time.Millisecond

// watchedKinds are the event kinds that invalidate a session's report.
var watchedKinds = []ledger.EventKind{
	ledger.EventStateRecorded,
	ledger.EventMetaParadoxEmergence,
	ledger.EventSafetyZoneTransition,
	ledger.EventEmergencyReset,
	ledger.EventSessionEnded,
}

// Monitor subscribes to ledger events and maintains a cache of analysis
// reports, one per session seen on the feed. Event handling never blocks
// the bus: delivery is buffered and refreshes run on the monitor's own
// goroutines.
type Monitor struct {
	rec      *reconstruct.Reconstructor
	bus      *ledger.Bus
	debounce time.Duration

	mu      sync.Mutex
	reports map[ledger.SessionID]analysis.Report
	pending map[ledger.SessionID]*time.Timer
	closed  bool

	subs   []*ledger.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts monitor construction.
type Option func(*Monitor)

// WithDebounce overrides the refresh batching window.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

// Start subscribes to the bus and begins watching. Callers must Close the
// monitor to release its subscriptions.
func Start(rec *reconstruct.Reconstructor, bus *ledger.Bus, opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		rec:      rec,
		bus:      bus,
		debounce: DefaultDebounce,
		reports:  make(map[ledger.SessionID]analysis.Report),
		pending:  make(map[ledger.SessionID]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, kind := range watchedKinds {
		sub := bus.Subscribe(kind, 128)
		m.subs = append(m.subs, sub)
		m.wg.Add(1)
		go m.watch(sub)
	}
	return m
}

func (m *Monitor) watch(sub *ledger.Subscription) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.SessionID.IsZero() {
				continue
			}
			m.schedule(ev.SessionID)
		}
	}
}

// schedule arms (or re-arms) the debounce timer for one session.
func (m *Monitor) schedule(id ledger.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.pending[id]; ok {
		t.Reset(m.debounce)
		return
	}
	m.pending[id] = time.AfterFunc(m.debounce, func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		m.refresh(id)
	})
}

func (m *Monitor) refresh(id ledger.SessionID) {
	h, err := m.rec.Reconstruct(m.ctx, id)
	if err != nil {
		log.Printf("[MONITOR] reconstruct %s: %v", id, err)
		return
	}
	rep, err := analysis.Analyze(h)
	if err != nil {
		log.Printf("[MONITOR] analyze %s: %v", id, err)
		return
	}
	m.mu.Lock()
	if !m.closed {
		m.reports[id] = rep
	}
	m.mu.Unlock()
}

// Report returns the cached report for a session, if one has been computed.
func (m *Monitor) Report(id ledger.SessionID) (analysis.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	return rep, ok
}

// Refresh recomputes a session's report immediately, bypassing the debounce.
func (m *Monitor) Refresh(ctx context.Context, id ledger.SessionID) (analysis.Report, error) {
	h, err := m.rec.Reconstruct(ctx, id)
	if err != nil {
		return analysis.Report{}, err
	}
	rep, err := analysis.Analyze(h)
	if err != nil {
		return analysis.Report{}, err
	}
	m.mu.Lock()
	if !m.closed {
		m.reports[id] = rep
	}
	m.mu.Unlock()
	return rep, nil
}

// Sessions lists the sessions with a cached report.
func (m *Monitor) Sessions() []ledger.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]ledger.SessionID, 0, len(m.reports))
	for id := range m.reports {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels the subscriptions, stops pending timers, and waits for the
// watch goroutines to drain.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, t := range m.pending {
		t.Stop()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.wg.Wait()
}
