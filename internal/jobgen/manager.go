// Package jobgen generates job chains per yard from idle equipment.
package jobgen

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/internal/host"
	"github.com/stockyard/extension/internal/jobs"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/internal/scheduler"
	"github.com/stockyard/extension/pkg/core"
)

// DefaultAttempts is the number of failed attempts allowed per pool.
const DefaultAttempts = 30

// Spawner materializes a connectivity component. The caller holds the
// registry's exclusive section.
type Spawner interface {
	SpawnComponent(component []*core.Equipment) error
}

// Config tunes generation.
type Config struct {
	Attempts int
}

// Dependencies holds the collaborators shared by every yard controller.
type Dependencies struct {
	Registry     *registry.Registry
	Reservations *reservation.Tracker
	Ledger       *jobs.Ledger
	Space        *jobs.TrackSpace
	Catalog      catalog.Catalog
	Spawner      Spawner
	Player       host.Player
	Runtime      host.JobRuntime
	Scheduler    *scheduler.Scheduler
	Failures     host.FailureReporter

	// Rand drives set shuffling and window sizes. A seeded source makes runs
	// reproducible in tests.
	Rand *rand.Rand

	// OnReport, when set, receives the report of every finished run.
	OnReport func(Report)
}

// Manager owns one Controller per yard.
type Manager struct {
	cfg     Config
	deps    Dependencies
	log     *slog.Logger
	metrics *metrics
	builder *jobs.Builder

	yards map[string]*core.Yard

	mu          sync.Mutex
	controllers map[string]*Controller

	randMu sync.Mutex
}

// NewManager creates a manager for the given yards.
func NewManager(cfg Config, deps Dependencies, yards []*core.Yard, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	met, err := newMetrics()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		deps:        deps,
		log:         log.With("component", "jobgen"),
		metrics:     met,
		yards:       make(map[string]*core.Yard, len(yards)),
		controllers: make(map[string]*Controller),
	}
	for _, y := range yards {
		if _, dup := m.yards[y.ID]; dup {
			return nil, fmt.Errorf("duplicate yard %q", y.ID)
		}
		m.yards[y.ID] = y
	}
	m.builder = &jobs.Builder{
		Catalog:      deps.Catalog,
		Registry:     deps.Registry,
		Reservations: deps.Reservations,
		Space:        deps.Space,
		Yards:        m,
		Log:          m.log,
	}
	return m, nil
}

// Yard resolves a yard by ID.
func (m *Manager) Yard(id string) (*core.Yard, bool) {
	y, ok := m.yards[id]
	return y, ok
}

// Yards returns every yard ordered by ID.
func (m *Manager) Yards() []*core.Yard {
	out := make([]*core.Yard, 0, len(m.yards))
	for _, y := range m.yards {
		out = append(out, y)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// For returns the memoized controller of a yard.
func (m *Manager) For(yardID string) (*Controller, bool) {
	y, ok := m.yards[yardID]
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[yardID]
	if !ok {
		c = &Controller{yard: y, m: m, log: m.log.With("yard", yardID)}
		m.controllers[yardID] = c
	}
	return c, true
}

// Running returns the IDs of yards with a generation run in flight.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, c := range m.controllers {
		if c.Running() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) shuffle(sets []CoupledSet) {
	m.randMu.Lock()
	defer m.randMu.Unlock()
	m.deps.Rand.Shuffle(len(sets), func(i, j int) { sets[i], sets[j] = sets[j], sets[i] })
}

func (m *Manager) selectLoading(sets []CoupledSet, lim Limits) ([]CoupledSet, error) {
	m.randMu.Lock()
	defer m.randMu.Unlock()
	return SelectLoading(sets, lim, m.deps.Rand)
}

// launch registers chain and hands it to the runtime. On failure every
// side effect of building it is undone.
func (m *Manager) launch(chain *core.JobChain) error {
	chain.OnCompleted = m.onCompleted
	chain.OnAbandoned = m.onAbandoned

	if err := m.deps.Ledger.Add(chain); err != nil {
		m.rollback(chain, false)
		return err
	}
	if err := m.deps.Runtime.Launch(chain); err != nil {
		m.rollback(chain, true)
		return fmt.Errorf("launching chain %s: %w", chain.ID, err)
	}
	return nil
}

func (m *Manager) rollback(chain *core.JobChain, inLedger bool) {
	if inLedger {
		m.deps.Ledger.Remove(chain)
	}
	m.deps.Space.Free(chain.ID)
	for _, car := range chain.Reserved {
		m.deps.Reservations.Release(car)
	}
}

func (m *Manager) releaseReservations(chain *core.JobChain) {
	for _, car := range chain.Cars {
		if _, ok := m.deps.Reservations.TryGet(car); ok {
			m.deps.Reservations.Release(car)
		}
	}
}

// resolve maps chain cars back to registry records, dropping unknown ones.
func (m *Manager) resolve(chain *core.JobChain) []*core.Equipment {
	out := make([]*core.Equipment, 0, len(chain.Cars))
	for _, guid := range chain.Cars {
		if e := m.deps.Registry.FindByCarGUID(guid); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) onCompleted(chain *core.JobChain) {
	m.deps.Ledger.Remove(chain)
	m.deps.Space.Free(chain.ID)
	cars := m.resolve(chain)

	next := chain.Yard
	switch chain.Kind() {
	case core.JobTransport:
		if len(chain.Stages) > 0 {
			next = chain.Stages[0].Destination
		}
	case core.JobShuntingUnload:
		m.releaseReservations(chain)
	}

	m.log.Info("Job chain completed", "chain", chain.ID, "kind", chain.Kind().String(), "next", next, "cars", len(cars))
	c, ok := m.For(next)
	if !ok {
		m.log.Error("Completed chain points at unknown yard", "chain", chain.ID, "yard", next)
		return
	}
	if len(cars) > 0 {
		c.GenerateJobs(cars)
	}
}

func (m *Manager) onAbandoned(chain *core.JobChain) {
	m.deps.Ledger.Remove(chain)
	m.deps.Space.Free(chain.ID)
	if chain.Kind() == core.JobTransport {
		m.releaseReservations(chain)
	}
	m.log.Info("Job chain abandoned", "chain", chain.ID, "kind", chain.Kind().String())
}

// StopAll cancels every generation run in flight.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.controllers {
		c.Stop()
	}
}

// Reset cancels every run and forgets active chains and their track bookings.
// Chains the runtime still holds keep their callbacks, which then find
// nothing to remove.
func (m *Manager) Reset() {
	m.StopAll()
	n := m.deps.Ledger.Reset()
	m.deps.Space.Reset()
	if n > 0 {
		m.log.Info("Dropped active job chains", "chains", n)
	}
}
