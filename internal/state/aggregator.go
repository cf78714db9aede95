package state

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// ErrStale marks an event whose ordering key does not exceed the already
// accepted state for its device. Redelivery and out-of-order delivery are
// expected upstream behavior, so this is not a failure.
var ErrStale = errors.New("stale event")

// deviceEntry is the mutable per-device record. Each entry carries its own
// lock so different devices update fully in parallel while read-modify-write
// within one device stays serialized.
type deviceEntry struct {
	mu       sync.Mutex
	state    domain.DeviceState
	status   *domain.StatusSnapshot
	lastSeq  string
	lastSeen time.Time
}

// AcceptHook runs after an event has been accepted and the device state
// mutated, outside the per-device lock. Hooks are best-effort: the state
// mutation never depends on them.
type AcceptHook func(ev *domain.NormalizedEvent, st *domain.DeviceState)

// Aggregator maintains the per-device "last" views derived from normalized
// events, plus the authId-to-name map used for actor resolution.
type Aggregator struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry

	authMu  sync.RWMutex
	authMap map[string]string

	hooks  []AcceptHook
	logger *slog.Logger
}

func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		devices: make(map[string]*deviceEntry),
		authMap: make(map[string]string),
		logger:  logger,
	}
}

// OnAccept registers a hook invoked for every accepted DEVICE_LOGS event.
func (a *Aggregator) OnAccept(h AcceptHook) {
	a.hooks = append(a.hooks, h)
}

// Apply feeds one normalized event into the per-device state. It returns
// the updated state for accepted DEVICE_LOGS events, ErrStale for
// duplicates and late arrivals, and nil state for categories that do not
// touch the actor/action views.
func (a *Aggregator) Apply(ev *domain.NormalizedEvent) (*domain.DeviceState, error) {
	switch ev.Category {
	case domain.CategoryDeviceAuths:
		a.applyAuth(ev)
		return nil, nil

	case domain.CategoryDeviceStatus:
		entry := a.entry(ev.DeviceID)
		entry.mu.Lock()
		entry.status = &domain.StatusSnapshot{
			DeviceID:   ev.DeviceID,
			State:      ev.Status,
			ReceivedAt: ev.OccurredAt,
		}
		entry.mu.Unlock()
		return nil, nil

	case domain.CategoryUnknown:
		entry := a.entry(ev.DeviceID)
		entry.mu.Lock()
		if ev.OccurredAt.After(entry.lastSeen) {
			entry.lastSeen = ev.OccurredAt
		}
		entry.mu.Unlock()
		return nil, nil
	}

	entry := a.entry(ev.DeviceID)
	entry.mu.Lock()

	if !accepts(&entry.state, entry.lastSeq, ev) {
		entry.mu.Unlock()
		a.logger.Debug("stale event rejected",
			"device_id", ev.DeviceID,
			"occurred_at", ev.OccurredAt,
			"sequence_id", ev.SequenceID,
		)
		return nil, ErrStale
	}

	// All fields move together: a partially applied event would corrupt
	// the "last" view.
	entry.state.DeviceID = ev.DeviceID
	entry.state.LastActor = a.resolveActor(ev)
	entry.state.LastAction = ev.Action
	entry.state.Trigger = ev.Trigger
	entry.state.Source = ev.Source
	entry.state.DeviceType = ev.DeviceType
	entry.state.CompletionState = ev.CompletionState
	entry.state.LastDate = ev.OccurredAt
	entry.state.EventCounter++
	entry.state.UpdatedAt = time.Now().UTC()
	entry.lastSeq = ev.SequenceID
	if ev.OccurredAt.After(entry.lastSeen) {
		entry.lastSeen = ev.OccurredAt
	}

	snapshot := entry.state
	entry.mu.Unlock()

	for _, h := range a.hooks {
		h(ev, &snapshot)
	}

	return &snapshot, nil
}

// accepts decides the ordering rule: strictly newer timestamp wins, equal
// timestamps fall back to the sequence id tie-break. The first event for a
// device always wins.
func accepts(st *domain.DeviceState, lastSeq string, ev *domain.NormalizedEvent) bool {
	if st.EventCounter == 0 {
		return true
	}
	if ev.OccurredAt.After(st.LastDate) {
		return true
	}
	if ev.OccurredAt.Equal(st.LastDate) {
		return sequenceGreater(ev.SequenceID, lastSeq)
	}
	return false
}

// sequenceGreater compares platform-assigned sequence ids, numerically when
// both parse as integers, lexicographically otherwise.
func sequenceGreater(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return an > bn
	}
	return a > b
}

func (a *Aggregator) applyAuth(ev *domain.NormalizedEvent) {
	if ev.AuthID == "" {
		return
	}
	a.authMu.Lock()
	defer a.authMu.Unlock()
	if ev.AuthDeleted {
		delete(a.authMap, ev.AuthID)
		return
	}
	if ev.ActorName != "" {
		a.authMap[ev.AuthID] = ev.ActorName
	}
}

// resolveActor picks the display name for a log event: the name carried in
// the payload, else the auth map, else the trigger label.
func (a *Aggregator) resolveActor(ev *domain.NormalizedEvent) string {
	if ev.ActorName != "" {
		return ev.ActorName
	}
	if ev.AuthID != "" {
		a.authMu.RLock()
		name, ok := a.authMap[ev.AuthID]
		a.authMu.RUnlock()
		if ok {
			return name
		}
	}
	if ev.Trigger != "" {
		return ev.Trigger
	}
	return "unknown"
}

// SetActorName seeds the auth map, typically from the initial upstream
// auth listing at startup.
func (a *Aggregator) SetActorName(authID, name string) {
	if authID == "" || name == "" {
		return
	}
	a.authMu.Lock()
	a.authMap[authID] = name
	a.authMu.Unlock()
}

// Snapshot returns a copy of the current state for one device. The
// per-device lock is held only for the copy, so reads never block the
// write path longer than the critical section itself.
func (a *Aggregator) Snapshot(deviceID string) (*domain.DeviceState, bool) {
	a.mu.RLock()
	entry, ok := a.devices[deviceID]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state.EventCounter == 0 {
		return nil, false
	}
	st := entry.state
	return &st, true
}

// Status returns the most recent DEVICE_STATUS block for a device,
// if one has been received.
func (a *Aggregator) Status(deviceID string) (*domain.StatusSnapshot, bool) {
	a.mu.RLock()
	entry, ok := a.devices[deviceID]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status == nil {
		return nil, false
	}
	st := *entry.status
	return &st, true
}

// SnapshotAll copies out every device state with at least one accepted
// event.
func (a *Aggregator) SnapshotAll() []domain.DeviceState {
	a.mu.RLock()
	entries := make([]*deviceEntry, 0, len(a.devices))
	for _, e := range a.devices {
		entries = append(entries, e)
	}
	a.mu.RUnlock()

	out := make([]domain.DeviceState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.state.EventCounter > 0 {
			out = append(out, e.state)
		}
		e.mu.Unlock()
	}
	return out
}

// Restore seeds a device entry from persisted state, typically at startup.
// It must not be called once events are flowing.
func (a *Aggregator) Restore(st domain.DeviceState) {
	entry := a.entry(st.DeviceID)
	entry.mu.Lock()
	entry.state = st
	entry.mu.Unlock()
}

func (a *Aggregator) entry(deviceID string) *deviceEntry {
	a.mu.RLock()
	entry, ok := a.devices[deviceID]
	a.mu.RUnlock()
	if ok {
		return entry
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok = a.devices[deviceID]; ok {
		return entry
	}
	entry = &deviceEntry{}
	a.devices[deviceID] = entry
	return entry
}
