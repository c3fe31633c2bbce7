// Package hosttest provides in-memory fakes of the host collaborators.
package hosttest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stockyard/extension/internal/host"
	"github.com/stockyard/extension/pkg/core"
)

// ErrUnknownHandle is returned by World for handles it never issued.
var ErrUnknownHandle = errors.New("unknown handle")

// IDs is an IDAllocator backed by a set.
type IDs struct {
	mu  sync.Mutex
	ids map[string]bool
}

func NewIDs() *IDs {
	return &IDs{ids: make(map[string]bool)}
}

func (a *IDs) Register(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ids[id] {
		return false
	}
	a.ids[id] = true
	return true
}

func (a *IDs) Unregister(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.ids, id)
}

// Has reports whether id is currently allocated.
func (a *IDs) Has(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ids[id]
}

// Car is a car materialized in the fake world.
type Car struct {
	GUID     uuid.UUID
	Position core.Vector3
	Speed    float64
	Cargo    core.CargoType
}

// World is a host.World keeping live cars in a map.
type World struct {
	mu   sync.Mutex
	next core.Handle
	cars map[core.Handle]*Car

	// NewGUIDOnSpawn makes Spawn hand out a fresh GUID, as a real host does
	// after a reload.
	NewGUIDOnSpawn bool

	// SpeedErr and PositionErr, when set, fail lookups for that handle.
	SpeedErr    map[core.Handle]error
	PositionErr map[core.Handle]error
	SpawnErr    error

	Spawned   int
	Despawned int
}

func NewWorld() *World {
	return &World{
		cars:        make(map[core.Handle]*Car),
		SpeedErr:    make(map[core.Handle]error),
		PositionErr: make(map[core.Handle]error),
	}
}

func (w *World) Spawn(rec *core.Equipment) (core.Handle, uuid.UUID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SpawnErr != nil {
		return 0, uuid.Nil, w.SpawnErr
	}
	w.next++
	guid := rec.CarGUID
	if w.NewGUIDOnSpawn || guid == uuid.Nil {
		guid = uuid.New()
	}
	w.cars[w.next] = &Car{GUID: guid, Position: rec.Position, Cargo: rec.LoadedCargo}
	w.Spawned++
	return w.next, guid, nil
}

func (w *World) Despawn(h core.Handle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.cars[h]; !ok {
		return fmt.Errorf("despawn %d: %w", h, ErrUnknownHandle)
	}
	delete(w.cars, h)
	w.Despawned++
	return nil
}

func (w *World) Snapshot(h core.Handle, rec *core.Equipment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.cars[h]
	if !ok {
		return fmt.Errorf("snapshot %d: %w", h, ErrUnknownHandle)
	}
	rec.Position = c.Position
	if c.Cargo != "" {
		rec.LoadedCargo = c.Cargo
	}
	return nil
}

func (w *World) Speed(h core.Handle) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.SpeedErr[h]; err != nil {
		return 0, err
	}
	c, ok := w.cars[h]
	if !ok {
		return 0, fmt.Errorf("speed %d: %w", h, ErrUnknownHandle)
	}
	return c.Speed, nil
}

func (w *World) Position(h core.Handle) (core.Vector3, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.PositionErr[h]; err != nil {
		return core.Vector3{}, err
	}
	c, ok := w.cars[h]
	if !ok {
		return core.Vector3{}, fmt.Errorf("position %d: %w", h, ErrUnknownHandle)
	}
	return c.Position, nil
}

// Car returns the live car behind h.
func (w *World) Car(h core.Handle) (*Car, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.cars[h]
	return c, ok
}

// Live returns the number of materialized cars.
func (w *World) Live() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cars)
}

// Player is a host.Player with settable fields.
type Player struct {
	mu       sync.Mutex
	position core.Vector3
	train    core.Handle
}

func NewPlayer(pos core.Vector3) *Player {
	return &Player{position: pos}
}

func (p *Player) Position() core.Vector3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Player) CurrentTrain() (core.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.train, p.train != 0
}

func (p *Player) MoveTo(pos core.Vector3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

func (p *Player) Drive(h core.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.train = h
}

// Runtime is a host.JobRuntime recording launched chains.
type Runtime struct {
	mu      sync.Mutex
	Chains  []*core.JobChain
	FailErr error
}

func (r *Runtime) Launch(chain *core.JobChain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailErr != nil {
		return r.FailErr
	}
	r.Chains = append(r.Chains, chain)
	return nil
}

// Launched returns a copy of the launched chains.
func (r *Runtime) Launched() []*core.JobChain {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.JobChain(nil), r.Chains...)
}

// Failures collects reports sent to a host.FailureReporter.
type Failures struct {
	mu      sync.Mutex
	Reports []error
}

func (f *Failures) Reporter() host.FailureReporter {
	return func(component string, err error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.Reports = append(f.Reports, fmt.Errorf("%s: %w", component, err))
	}
}

func (f *Failures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Reports)
}

var (
	_ host.IDAllocator = (*IDs)(nil)
	_ host.World       = (*World)(nil)
	_ host.Player      = (*Player)(nil)
	_ host.JobRuntime  = (*Runtime)(nil)
)
