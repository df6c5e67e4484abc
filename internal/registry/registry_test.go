package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/ledger"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *ledger.Bus, *testClock) {
	t.Helper()
	db, err := ledger.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	bus := ledger.NewBus()
	opts = append([]Option{WithClock(clock.now)}, opts...)
	r, err := New(db, bus, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, bus, clock
}

func findTrigger(t *testing.T, r *Registry, name string) ParadoxTrigger {
	t.Helper()
	for _, trig := range r.Triggers() {
		if trig.Name == name {
			return trig
		}
	}
	t.Fatalf("trigger %s not found", name)
	return ParadoxTrigger{}
}

func TestBuiltinsSeeded(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	for _, name := range []string{
		"transaction_authenticity", "digital_ownership", "recursive_self_observation",
		"consensus_reality", "value_paradox", "failure_cascade",
	} {
		trig := findTrigger(t, r, name)
		if !trig.Active {
			t.Fatalf("builtin %s not active", name)
		}
		if trig.Intensity == 0 || trig.Intensity > MaxIntensity {
			t.Fatalf("builtin %s intensity %d out of range", name, trig.Intensity)
		}
	}
}

func TestCreateTrigger(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, err := r.CreateTrigger("custom_paradox", "a new one", MaxIntensity+1); !errors.Is(err, ledger.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}

	trig, err := r.CreateTrigger("custom_paradox", "a new one", 400)
	if err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	if !trig.Active || trig.Kind != KindCustom {
		t.Fatalf("unexpected trigger: %+v", trig)
	}

	if _, err := r.CreateTrigger("custom_paradox", "again", 500); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestTriggerFireAndUnknownNoOp(t *testing.T) {
	r, bus, _ := newTestRegistry(t)
	sub := bus.Subscribe(ledger.EventParadoxTriggered, 4)
	defer sub.Cancel()

	fired, err := r.Trigger("value_paradox")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !fired {
		t.Fatal("expected fire")
	}
	if trig := findTrigger(t, r, "value_paradox"); trig.TriggerCount != 1 {
		t.Fatalf("expected count 1, got %d", trig.TriggerCount)
	}

	select {
	case ev := <-sub.C:
		if ev.TriggerName != "value_paradox" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no paradox_triggered event")
	}

	fired, err = r.Trigger("no_such_trigger")
	if err != nil {
		t.Fatalf("unknown trigger: %v", err)
	}
	if fired {
		t.Fatal("unknown trigger should be a no-op")
	}
}

func TestMetaParadoxCorrelationWindow(t *testing.T) {
	r, bus, clock := newTestRegistry(t)
	sub := bus.Subscribe(ledger.EventMetaParadoxDetected, 4)
	defer sub.Cancel()

	if _, err := r.Trigger("digital_ownership"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	clock.advance(100 * time.Second)
	if _, err := r.Trigger("transaction_authenticity"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.TriggerName != "meta_authenticity_of_ownership" {
			t.Fatalf("unexpected meta paradox: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected exactly one detection inside the window")
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("second detection: %+v", ev)
	default:
	}
}

func TestMetaParadoxOutsideWindow(t *testing.T) {
	r, bus, clock := newTestRegistry(t)
	sub := bus.Subscribe(ledger.EventMetaParadoxDetected, 4)
	defer sub.Cancel()

	if _, err := r.Trigger("recursive_self_observation"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	clock.advance(DefaultCorrelationWindow + time.Second)
	if _, err := r.Trigger("consensus_reality"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("detection outside window: %+v", ev)
	default:
	}
}

func TestInteractThrottleAndDelta(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	ctx := context.Background()

	delta, err := r.Interact(ctx, "researcher-1", "plain input")
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	if delta < interactionBase {
		t.Fatalf("delta %d below base", delta)
	}
	if delta >= interactionBase+lengthBound+historyBound+entropyBound {
		t.Fatalf("delta %d above component bounds", delta)
	}

	if _, err := r.Interact(ctx, "researcher-1", "again"); !errors.Is(err, ledger.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Other actors are throttled independently.
	if _, err := r.Interact(ctx, "researcher-2", "other actor"); err != nil {
		t.Fatalf("independent actor throttled: %v", err)
	}

	clock.advance(DefaultMinInteractionInterval)
	if _, err := r.Interact(ctx, "researcher-1", "after waiting"); err != nil {
		t.Fatalf("Interact after waiting: %v", err)
	}

	st := r.UserStats("researcher-1")
	if st.Count != 2 {
		t.Fatalf("expected 2 interactions, got %d", st.Count)
	}
}

func TestInteractFiresKeywordTriggers(t *testing.T) {
	r, bus, _ := newTestRegistry(t)
	sub := bus.Subscribe(ledger.EventParadoxTriggered, 8)
	defer sub.Cancel()
	ctx := context.Background()

	if _, err := r.Interact(ctx, "researcher-1", "who holds Ownership of an observed signature?"); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	// "signature" → transaction_authenticity, "ownership" → digital_ownership,
	// "observed" → recursive_self_observation.
	want := map[string]bool{
		"transaction_authenticity":   false,
		"digital_ownership":          false,
		"recursive_self_observation": false,
	}
	for range want {
		select {
		case ev := <-sub.C:
			if _, ok := want[ev.TriggerName]; !ok {
				t.Fatalf("unexpected trigger %s", ev.TriggerName)
			}
			want[ev.TriggerName] = true
		case <-time.After(time.Second):
			t.Fatalf("missing trigger events: %+v", want)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("trigger %s did not fire", name)
		}
	}
}

func TestSimulateFailureDurableSideEffects(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	err := r.SimulateFailure(ctx, "researcher-1", "induced cascade")
	if !errors.Is(err, ErrSimulatedFailure) {
		t.Fatalf("expected ErrSimulatedFailure, got %v", err)
	}

	// The failure must leave durable traces despite the error return.
	if trig := findTrigger(t, r, "failure_cascade"); trig.TriggerCount != 1 {
		t.Fatalf("failure_cascade count %d, want 1", trig.TriggerCount)
	}
	impacts, err := r.Impacts(ctx, 10)
	if err != nil {
		t.Fatalf("Impacts: %v", err)
	}
	if len(impacts) != 1 {
		t.Fatalf("expected 1 impact, got %d", len(impacts))
	}
	if impacts[0].Successful || impacts[0].Operation != "failure_simulation" {
		t.Fatalf("unexpected impact: %+v", impacts[0])
	}
	if st := r.UserStats("researcher-1"); st.Count != 1 {
		t.Fatalf("actor state not updated: %+v", st)
	}
}

func TestStatsAggregates(t *testing.T) {
	r, _, clock := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Interact(ctx, "a", "worth observing"); err != nil {
		t.Fatalf("Interact: %v", err)
	}
	clock.advance(time.Minute)
	if _, err := r.Interact(ctx, "a", "nothing special"); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	s, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.TotalInteractions != 2 {
		t.Fatalf("expected 2 interactions, got %d", s.TotalInteractions)
	}
	// "worth" and "observing" each fired a trigger on the first interaction.
	if s.TotalTriggered != 2 {
		t.Fatalf("expected 2 triggered, got %d", s.TotalTriggered)
	}
}

func TestRegistryStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := ledger.OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}

	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r, err := New(db, ledger.NewBus(), WithClock(clock.now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Trigger("value_paradox"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = ledger.OpenDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	r, err = New(db, ledger.NewBus(), WithClock(clock.now))
	if err != nil {
		t.Fatalf("New after reopen: %v", err)
	}
	if trig := findTrigger(t, r, "value_paradox"); trig.TriggerCount != 1 {
		t.Fatalf("trigger count not restored: %d", trig.TriggerCount)
	}
}
