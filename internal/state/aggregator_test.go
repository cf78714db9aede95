package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

func testAggregator(t *testing.T) *Aggregator {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAggregator(logger)
}

func logEvent(deviceID string, at time.Time, seq string) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		DeviceID:        deviceID,
		Category:        domain.CategoryDeviceLogs,
		Action:          "unlock",
		Trigger:         "keypad",
		Source:          "keypad_code",
		DeviceType:      "smartlock",
		CompletionState: "success",
		ActorName:       "Alice",
		OccurredAt:      at,
		SequenceID:      seq,
	}
}

func TestApply_FirstEventCreatesState(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	st, err := agg.Apply(logEvent("1", at, "100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.LastAction != "unlock" || st.Trigger != "keypad" {
		t.Errorf("state = %+v, want unlock/keypad", st)
	}
	if st.EventCounter != 1 {
		t.Errorf("event counter = %d, want 1", st.EventCounter)
	}
	if !st.LastDate.Equal(at) {
		t.Errorf("last date = %v, want %v", st.LastDate, at)
	}
}

func TestApply_DuplicateIsStale(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := logEvent("1", at, "100")

	if _, err := agg.Apply(ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := agg.Apply(ev)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	st, ok := agg.Snapshot("1")
	if !ok {
		t.Fatal("expected state")
	}
	if st.EventCounter != 1 {
		t.Errorf("event counter = %d, want 1 (duplicate must not bump)", st.EventCounter)
	}
}

func TestApply_EarlierTimestampRejected(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := agg.Apply(logEvent("1", at, "100")); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := agg.Apply(logEvent("1", at.Add(-time.Minute), "101"))
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	st, _ := agg.Snapshot("1")
	if st.EventCounter != 1 {
		t.Errorf("event counter = %d, want 1", st.EventCounter)
	}
	if !st.LastDate.Equal(at) {
		t.Errorf("last date moved backwards: %v", st.LastDate)
	}
}

func TestApply_EqualTimestampSequenceTieBreak(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := agg.Apply(logEvent("1", at, "100")); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// Same timestamp, higher sequence id: accepted.
	ev := logEvent("1", at, "101")
	ev.Action = "lock"
	st, err := agg.Apply(ev)
	if err != nil {
		t.Fatalf("tie-break apply: %v", err)
	}
	if st.LastAction != "lock" || st.EventCounter != 2 {
		t.Errorf("state = %+v, want lock with counter 2", st)
	}

	// Same timestamp, lower sequence id: stale.
	if _, err := agg.Apply(logEvent("1", at, "99")); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale for lower sequence id, got %v", err)
	}
}

func TestApply_CounterMonotonicAndDateNonDecreasing(t *testing.T) {
	agg := testAggregator(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var lastCounter int64
	var lastDate time.Time
	for i := 0; i < 10; i++ {
		st, err := agg.Apply(logEvent("1", base.Add(time.Duration(i)*time.Second), fmt.Sprintf("%d", i)))
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if st.EventCounter <= lastCounter {
			t.Fatalf("counter not strictly increasing: %d then %d", lastCounter, st.EventCounter)
		}
		if st.LastDate.Before(lastDate) {
			t.Fatalf("last date decreased: %v then %v", lastDate, st.LastDate)
		}
		lastCounter = st.EventCounter
		lastDate = st.LastDate
	}
}

func TestApply_StatusDoesNotTouchActionView(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := agg.Apply(logEvent("1", at, "100")); err != nil {
		t.Fatalf("log apply: %v", err)
	}

	status := &domain.NormalizedEvent{
		DeviceID:   "1",
		Category:   domain.CategoryDeviceStatus,
		OccurredAt: at.Add(time.Hour),
		Status:     []byte(`{"batteryCharge": 50}`),
	}
	if _, err := agg.Apply(status); err != nil {
		t.Fatalf("status apply: %v", err)
	}

	st, _ := agg.Snapshot("1")
	if st.EventCounter != 1 || st.LastAction != "unlock" {
		t.Errorf("status event mutated action view: %+v", st)
	}

	snap, ok := agg.Status("1")
	if !ok {
		t.Fatal("expected status snapshot")
	}
	if string(snap.State) != `{"batteryCharge": 50}` {
		t.Errorf("status block = %s", snap.State)
	}
}

func TestApply_UnknownCategoryOnlyDiagnostic(t *testing.T) {
	agg := testAggregator(t)

	ev := &domain.NormalizedEvent{
		DeviceID:   "1",
		Category:   domain.CategoryUnknown,
		OccurredAt: time.Now().UTC(),
	}
	if _, err := agg.Apply(ev); err != nil {
		t.Fatalf("unknown apply: %v", err)
	}
	if _, ok := agg.Snapshot("1"); ok {
		t.Error("unknown event must not create public state")
	}
}

func TestApply_AuthMapResolvesActor(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	auth := &domain.NormalizedEvent{
		DeviceID:  "1",
		Category:  domain.CategoryDeviceAuths,
		AuthID:    "42",
		ActorName: "Bob",
	}
	if _, err := agg.Apply(auth); err != nil {
		t.Fatalf("auth apply: %v", err)
	}

	ev := logEvent("1", at, "100")
	ev.ActorName = ""
	ev.AuthID = "42"
	st, err := agg.Apply(ev)
	if err != nil {
		t.Fatalf("log apply: %v", err)
	}
	if st.LastActor != "Bob" {
		t.Errorf("actor = %q, want Bob (from auth map)", st.LastActor)
	}

	// Deleting the auth falls back to the trigger label.
	auth.AuthDeleted = true
	if _, err := agg.Apply(auth); err != nil {
		t.Fatalf("auth delete: %v", err)
	}
	ev2 := logEvent("1", at.Add(time.Minute), "101")
	ev2.ActorName = ""
	ev2.AuthID = "42"
	st, err = agg.Apply(ev2)
	if err != nil {
		t.Fatalf("log apply: %v", err)
	}
	if st.LastActor != "keypad" {
		t.Errorf("actor = %q, want keypad fallback", st.LastActor)
	}
}

func TestApply_ParallelDevices(t *testing.T) {
	agg := testAggregator(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		deviceID := fmt.Sprintf("dev-%d", d)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := agg.Apply(logEvent(deviceID, base.Add(time.Duration(i)*time.Second), fmt.Sprintf("%d", i)))
				if err != nil {
					t.Errorf("%s apply %d: %v", deviceID, i, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for d := 0; d < 8; d++ {
		st, ok := agg.Snapshot(fmt.Sprintf("dev-%d", d))
		if !ok || st.EventCounter != 50 {
			t.Errorf("dev-%d: counter = %v, want 50", d, st)
		}
	}
}

func TestOnAccept_HookReceivesSnapshot(t *testing.T) {
	agg := testAggregator(t)

	var got *domain.DeviceState
	agg.OnAccept(func(ev *domain.NormalizedEvent, st *domain.DeviceState) {
		got = st
	})

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := agg.Apply(logEvent("1", at, "100")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got == nil || got.EventCounter != 1 {
		t.Errorf("hook snapshot = %+v", got)
	}
}

func TestRestore_SeedsOrdering(t *testing.T) {
	agg := testAggregator(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	agg.Restore(domain.DeviceState{
		DeviceID:     "1",
		LastAction:   "lock",
		LastDate:     at,
		EventCounter: 7,
	})

	// An older live event must not displace restored state.
	if _, err := agg.Apply(logEvent("1", at.Add(-time.Hour), "5")); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale against restored state, got %v", err)
	}

	st, err := agg.Apply(logEvent("1", at.Add(time.Hour), "6"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.EventCounter != 8 {
		t.Errorf("counter = %d, want 8", st.EventCounter)
	}
}
