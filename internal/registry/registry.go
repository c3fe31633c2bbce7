// Package registry holds every equipment record, spawned or not.
package registry

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/stockyard/extension/internal/host"
	"github.com/stockyard/extension/internal/queue"
	"github.com/stockyard/extension/pkg/core"
)

// ErrDuplicateEquipment is returned when a record's unit ID or GUID is
// already registered.
var ErrDuplicateEquipment = errors.New("equipment already registered")

// SpawnFilter restricts EquipmentOnTrack by spawn state.
type SpawnFilter int

const (
	AnySpawnState SpawnFilter = iota
	SpawnedOnly
	UnspawnedOnly
)

func (f SpawnFilter) match(e *core.Equipment) bool {
	switch f {
	case SpawnedOnly:
		return e.IsSpawned
	case UnspawnedOnly:
		return !e.IsSpawned
	default:
		return true
	}
}

// Registry is the in-memory store of all equipment records.
//
// Every method is safe for concurrent use on its own. Callers that traverse
// and then mutate (job generation, spawn passes, save/load) additionally hold
// the exclusive section through Lock and Unlock so they never observe each
// other's half-finished work.
type Registry struct {
	section sync.Mutex

	mu      sync.RWMutex
	records []*core.Equipment

	ids host.IDAllocator
	log *slog.Logger
}

// New creates an empty registry. ids may be nil.
func New(ids host.IDAllocator, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		records: make([]*core.Equipment, 0),
		ids:     ids,
		log:     log.With("component", "registry"),
	}
}

// Lock enters the exclusive section shared by generation, spawn and
// persistence passes. It must not be held across a scheduler yield.
func (r *Registry) Lock() {
	r.section.Lock()
}

// Unlock leaves the exclusive section.
func (r *Registry) Unlock() {
	r.section.Unlock()
}

// Add registers a record and its unit ID.
func (r *Registry) Add(rec *core.Equipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.records {
		if e == rec || e.ID == rec.ID || (rec.CarGUID != uuid.Nil && e.CarGUID == rec.CarGUID) {
			r.log.Error("Refusing to register duplicate equipment",
				"id", rec.ID, "carGUID", rec.CarGUID, "existingID", e.ID)
			return ErrDuplicateEquipment
		}
	}
	if r.ids != nil && !r.ids.Register(rec.ID) {
		r.log.Warn("Unit ID was already allocated", "id", rec.ID)
	}
	r.records = append(r.records, rec)
	return nil
}

// Remove unregisters a record and its unit ID. Removing an absent record is
// logged and otherwise ignored.
func (r *Registry) Remove(rec *core.Equipment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.records {
		if e == rec {
			r.records = append(r.records[:i], r.records[i+1:]...)
			if r.ids != nil {
				r.ids.Unregister(rec.ID)
			}
			return
		}
	}
	r.log.Warn("Tried to remove equipment that is not registered", "id", rec.ID, "carGUID", rec.CarGUID)
}

// Replace swaps the whole content of the registry, re-allocating unit IDs.
func (r *Registry) Replace(records []*core.Equipment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ids != nil {
		for _, e := range r.records {
			r.ids.Unregister(e.ID)
		}
		for _, e := range records {
			if !r.ids.Register(e.ID) {
				r.log.Warn("Unit ID was already allocated", "id", e.ID)
			}
		}
	}
	r.records = append(make([]*core.Equipment, 0, len(records)), records...)
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Contains reports whether rec itself is registered.
func (r *Registry) Contains(rec *core.Equipment) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.records, rec)
}

// All returns a snapshot of every record in registration order.
func (r *Registry) All() []*core.Equipment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*core.Equipment(nil), r.records...)
}

// FindByUnit returns the record of a live handle. Zero or several matches are
// logged as data corruption; the first match (or nil) is returned.
func (r *Registry) FindByUnit(h core.Handle) *core.Equipment {
	if h == 0 {
		return nil
	}
	return r.findOne("handle", h, func(e *core.Equipment) bool { return e.Handle == h })
}

// FindByCarGUID returns the record of a car GUID, with the same reporting as
// FindByUnit.
func (r *Registry) FindByCarGUID(guid uuid.UUID) *core.Equipment {
	if guid == uuid.Nil {
		return nil
	}
	return r.findOne("carGUID", guid, func(e *core.Equipment) bool { return e.CarGUID == guid })
}

func (r *Registry) findOne(key string, value any, match func(*core.Equipment) bool) *core.Equipment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var first *core.Equipment
	n := 0
	for _, e := range r.records {
		if match(e) {
			if first == nil {
				first = e
			}
			n++
		}
	}
	switch {
	case n == 0:
		r.log.Error("No equipment found", key, value)
	case n > 1:
		r.log.Error("Multiple equipment records found", key, value, "matches", n)
	}
	return first
}

// lookup resolves a GUID without reporting; used by traversal.
func (r *Registry) lookup(guid uuid.UUID) *core.Equipment {
	for _, e := range r.records {
		if e.CarGUID == guid {
			return e
		}
	}
	return nil
}

// ConnectedEquipment returns every record reachable from rec by following
// couplings, rec included. A GUID is never visited twice, so malformed data
// containing a cycle still terminates.
func (r *Registry) ConnectedEquipment(rec *core.Equipment) []*core.Equipment {
	if rec == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*core.Equipment{rec}
	frontier := queue.NewFrontier(func(e *core.Equipment) uuid.UUID { return e.CarGUID }, rec)

	for cur, ok := frontier.Pop(); ok; cur, ok = frontier.Pop() {
		for _, next := range []uuid.UUID{cur.CoupledFront, cur.CoupledRear} {
			if next == uuid.Nil || frontier.Seen(next) {
				continue
			}
			partner := r.lookup(next)
			if partner == nil {
				frontier.Mark(next)
				r.log.Error("Coupled equipment is not registered", "id", cur.ID, "partnerGUID", next)
				continue
			}
			if !partner.IsCoupledTo(cur.CarGUID) {
				r.log.Error("Asymmetric coupling", "id", cur.ID, "partnerID", partner.ID)
			}
			result = append(result, partner)
			frontier.Push(partner)
		}
	}
	return result
}

// CheckSpawnState reports whether every member of a connected component
// agrees on IsSpawned. A disagreement is logged; it is never fatal.
func (r *Registry) CheckSpawnState(component []*core.Equipment) bool {
	if len(component) == 0 {
		return true
	}
	want := component[0].IsSpawned
	for _, e := range component[1:] {
		if e.IsSpawned != want {
			ids := make([]string, len(component))
			states := make([]bool, len(component))
			for i, m := range component {
				ids[i] = m.ID
				states[i] = m.IsSpawned
			}
			r.log.Error("Connected equipment has mixed spawn state", "ids", ids, "spawned", states)
			return false
		}
	}
	return true
}

// EquipmentOnTrack returns the records with a bogie on track, filtered by
// spawn state.
func (r *Registry) EquipmentOnTrack(track core.TrackID, filter SpawnFilter) []*core.Equipment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*core.Equipment
	for _, e := range r.records {
		if e.IsOnTrack(track) && filter.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// OccupiedLength sums the physical length of every car standing on track,
// separations included.
func (r *Registry) OccupiedLength(track core.TrackID, lengthOf func(*core.Equipment) float64) float64 {
	cars := r.EquipmentOnTrack(track, AnySpawnState)
	if len(cars) == 0 {
		return 0
	}
	total := core.CarSeparation
	for _, e := range cars {
		total += lengthOf(e) + core.CarSeparation
	}
	return total
}
