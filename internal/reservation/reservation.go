// Package reservation tracks which cars carry cargo already promised to move
// between two yards.
package reservation

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stockyard/extension/pkg/core"
)

// Tracker is a keyed store of reservations, at most one per car.
type Tracker struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]core.Reservation
	log  *slog.Logger
}

func New(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		byID: make(map[uuid.UUID]core.Reservation),
		log:  log.With("component", "reservation"),
	}
}

// Reserve binds car to an outbound/inbound yard pair. An existing reservation
// is never overwritten: the call is rejected and false returned.
func (t *Tracker) Reserve(car uuid.UUID, outbound, inbound string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byID[car]; ok {
		t.log.Error("Car already has a reservation",
			"carGUID", car,
			"outbound", existing.Outbound, "inbound", existing.Inbound,
			"requestedOutbound", outbound, "requestedInbound", inbound)
		return false
	}
	t.byID[car] = core.Reservation{Car: car, Outbound: outbound, Inbound: inbound}
	return true
}

// Release drops the reservation of car. It returns false when none exists.
func (t *Tracker) Release(car uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[car]; !ok {
		t.log.Warn("No reservation to release", "carGUID", car)
		return false
	}
	delete(t.byID, car)
	return true
}

func (t *Tracker) TryGet(car uuid.UUID) (core.Reservation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.byID[car]
	return r, ok
}

// Rekey moves a reservation to a car's new GUID after a respawn.
func (t *Tracker) Rekey(old, replacement uuid.UUID) {
	if old == replacement {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byID[old]
	if !ok {
		return
	}
	delete(t.byID, old)
	r.Car = replacement
	t.byID[replacement] = r
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// All returns every reservation ordered by car GUID.
func (t *Tracker) All() []core.Reservation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]core.Reservation, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Car.String() < out[j].Car.String()
	})
	return out
}

// Replace swaps the whole content, keeping the first of any duplicates.
func (t *Tracker) Replace(rs []core.Reservation) {
	byID := make(map[uuid.UUID]core.Reservation, len(rs))
	for _, r := range rs {
		if _, dup := byID[r.Car]; dup {
			t.log.Error("Duplicate reservation in loaded state", "carGUID", r.Car)
			continue
		}
		byID[r.Car] = r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = byID
}
