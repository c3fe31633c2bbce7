// Package spawn materializes and dematerializes equipment around the player.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stockyard/extension/internal/host"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/internal/scheduler"
	"github.com/stockyard/extension/pkg/core"
)

const instrumentationName = "github.com/stockyard/extension/internal/spawn"

// Config holds the distances and cadence of the controller.
type Config struct {
	Interval        time.Duration
	SpawnDistance   float64
	DespawnDistance float64
	StationarySpeed float64
}

// JobIndex answers whether a car is referenced by an active job.
type JobIndex interface {
	HasActiveJob(car uuid.UUID) bool
	Rekey(old, replacement uuid.UUID)
}

// Dependencies holds the collaborators of the controller.
type Dependencies struct {
	Registry     *registry.Registry
	Reservations *reservation.Tracker
	Jobs         JobIndex // optional
	World        host.World
	Player       host.Player
	Scheduler    *scheduler.Scheduler

	// OnPass, when set, receives the statistics of every completed pass.
	OnPass func(Stats)
}

// Stats summarizes one pass.
type Stats struct {
	Components int
	Spawned    int
	Despawned  int
	Vetoed     int
	Skipped    int
}

// Veto reasons.
const (
	VetoPlayerTrain = "player_train"
	VetoMoving      = "moving"
	VetoNearby      = "nearby"
	VetoActiveJob   = "active_job"
	VetoLookup      = "lookup_failed"
)

// Controller runs the periodic spawn/despawn pass.
type Controller struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	mu   sync.Mutex
	task *scheduler.Task

	spawned   metric.Int64Counter
	despawned metric.Int64Counter
	vetoed    metric.Int64Counter
}

// New creates a controller. A spawn distance not below the despawn distance
// is clamped to keep the hysteresis band.
func New(cfg Config, deps Dependencies, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "spawn")

	if cfg.SpawnDistance >= cfg.DespawnDistance {
		clamped := cfg.DespawnDistance * 2 / 3
		log.Warn("Spawn distance must be below despawn distance, clamping",
			"spawnDistance", cfg.SpawnDistance, "despawnDistance", cfg.DespawnDistance, "clamped", clamped)
		cfg.SpawnDistance = clamped
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	c := &Controller{cfg: cfg, deps: deps, log: log}

	m := otel.Meter(instrumentationName)
	var err error
	c.spawned, err = m.Int64Counter("spawn.cars.spawned",
		metric.WithDescription("Total cars materialized"))
	if err != nil {
		return nil, fmt.Errorf("creating spawned counter: %w", err)
	}
	c.despawned, err = m.Int64Counter("spawn.cars.despawned",
		metric.WithDescription("Total cars dematerialized"))
	if err != nil {
		return nil, fmt.Errorf("creating despawned counter: %w", err)
	}
	c.vetoed, err = m.Int64Counter("spawn.components.vetoed",
		metric.WithDescription("Despawns vetoed, by reason"))
	if err != nil {
		return nil, fmt.Errorf("creating vetoed counter: %w", err)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Start launches the periodic task. Starting a running controller is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		select {
		case <-c.task.Done():
		default:
			return
		}
	}
	c.task = c.deps.Scheduler.Go("spawn", c.loop)
	c.log.Info("Car deletion enabled", "interval", c.cfg.Interval)
}

// Stop cancels the periodic task.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return
	}
	c.task.Stop()
	c.task = nil
	c.log.Info("Car deletion disabled")
}

// Running reports whether the periodic task is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return false
	}
	select {
	case <-c.task.Done():
		return false
	default:
		return true
	}
}

func (c *Controller) loop(t *scheduler.Task) error {
	for {
		stats, err := c.Pass(t)
		if err != nil {
			return err
		}
		if c.deps.OnPass != nil {
			c.deps.OnPass(stats)
		}
		if err := t.Sleep(c.cfg.Interval); err != nil {
			return err
		}
	}
}

// Pass visits every connectivity component once, yielding after each.
// Records unregistered while the pass was parked are skipped.
func (c *Controller) Pass(y scheduler.Yielder) (Stats, error) {
	var stats Stats
	seen := make(map[*core.Equipment]bool)
	anchor := c.deps.Player.Position()

	for _, rec := range c.deps.Registry.All() {
		if seen[rec] {
			continue
		}

		c.deps.Registry.Lock()
		if !c.deps.Registry.Contains(rec) {
			c.deps.Registry.Unlock()
			continue
		}
		component := c.deps.Registry.ConnectedEquipment(rec)
		for _, e := range component {
			seen[e] = true
		}
		c.visit(component, anchor, &stats)
		c.deps.Registry.Unlock()

		stats.Components++
		if err := y.Yield(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (c *Controller) visit(component []*core.Equipment, anchor core.Vector3, stats *Stats) {
	if !c.deps.Registry.CheckSpawnState(component) {
		stats.Skipped++
		return
	}

	if component[0].IsSpawned {
		if reason, vetoed := c.despawnVeto(component); vetoed {
			stats.Vetoed++
			c.vetoed.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("reason", reason)))
			return
		}
		c.despawnComponent(component)
		stats.Despawned += len(component)
		return
	}

	if !c.withinSpawnDistance(component, anchor) {
		return
	}
	if err := c.SpawnComponent(component); err != nil {
		c.log.Error("Failed to spawn component", "id", component[0].ID, "error", err)
		return
	}
	stats.Spawned += len(component)
}

func (c *Controller) withinSpawnDistance(component []*core.Equipment, anchor core.Vector3) bool {
	for _, e := range component {
		if e.Position.DistanceTo(anchor) < c.cfg.SpawnDistance {
			return true
		}
	}
	return false
}

// despawnVeto returns the first reason the component must stay in the world.
// Reasons are checked in order: player train, then per member moving, nearby
// and active job. A failed lookup vetoes.
func (c *Controller) despawnVeto(component []*core.Equipment) (string, bool) {
	if h, ok := c.deps.Player.CurrentTrain(); ok {
		for _, e := range component {
			if e.Handle == h {
				return VetoPlayerTrain, true
			}
		}
	}

	anchor := c.deps.Player.Position()
	for _, e := range component {
		speed, err := c.deps.World.Speed(e.Handle)
		if err != nil {
			c.log.Error("Speed lookup failed", "id", e.ID, "error", err)
			return VetoLookup, true
		}
		if speed >= c.cfg.StationarySpeed {
			return VetoMoving, true
		}

		pos, err := c.deps.World.Position(e.Handle)
		if err != nil {
			c.log.Error("Position lookup failed", "id", e.ID, "error", err)
			return VetoLookup, true
		}
		if pos.DistanceTo(anchor) < c.cfg.DespawnDistance {
			return VetoNearby, true
		}

		if c.deps.Jobs != nil && c.deps.Jobs.HasActiveJob(e.CarGUID) {
			return VetoActiveJob, true
		}
	}
	return "", false
}

// despawnComponent snapshots every member before any is removed, since
// couplings cannot be read once a partner is gone.
func (c *Controller) despawnComponent(component []*core.Equipment) {
	for _, e := range component {
		if err := c.deps.World.Snapshot(e.Handle, e); err != nil {
			c.log.Error("Snapshot before despawn failed, keeping last state", "id", e.ID, "error", err)
		}
	}
	for _, e := range component {
		e.IsMarkedForDespawning = true
	}
	for _, e := range component {
		if err := c.deps.World.Despawn(e.Handle); err != nil {
			c.log.Error("Despawn failed", "id", e.ID, "error", err)
		}
		e.Handle = 0
		e.IsSpawned = false
		e.IsMarkedForDespawning = false
	}
	c.despawned.Add(context.Background(), int64(len(component)))
	c.log.Debug("Despawned component", "id", component[0].ID, "cars", len(component))
}

// SpawnComponent materializes every member of a component and re-keys
// couplings, reservations and jobs when the world assigns new GUIDs.
// The caller holds the registry's exclusive section.
func (c *Controller) SpawnComponent(component []*core.Equipment) error {
	rekeyed := make(map[uuid.UUID]uuid.UUID)
	handles := make([]core.Handle, 0, len(component))

	for _, e := range component {
		if e.IsSpawned {
			continue
		}
		h, guid, err := c.deps.World.Spawn(e)
		if err != nil {
			for _, spawned := range handles {
				if derr := c.deps.World.Despawn(spawned); derr != nil {
					err = errors.Join(err, derr)
				}
			}
			return fmt.Errorf("spawning %s: %w", e.ID, err)
		}
		handles = append(handles, h)
		if guid != uuid.Nil && guid != e.CarGUID {
			rekeyed[e.CarGUID] = guid
		}
	}

	i := 0
	for _, e := range component {
		if e.IsSpawned {
			continue
		}
		e.Handle = handles[i]
		e.IsSpawned = true
		e.IsMarkedForDespawning = false
		i++
	}

	for old, fresh := range rekeyed {
		for _, e := range component {
			if e.CarGUID == old {
				e.CarGUID = fresh
			}
			if e.CoupledFront == old {
				e.CoupledFront = fresh
			}
			if e.CoupledRear == old {
				e.CoupledRear = fresh
			}
		}
		if c.deps.Reservations != nil {
			c.deps.Reservations.Rekey(old, fresh)
		}
		if c.deps.Jobs != nil {
			c.deps.Jobs.Rekey(old, fresh)
		}
	}

	c.spawned.Add(context.Background(), int64(len(handles)))
	c.log.Debug("Spawned component", "id", component[0].ID, "cars", len(handles), "rekeyed", len(rekeyed))
	return nil
}

// SnapshotSpawned copies live state into every spawned record. The caller
// holds the registry's exclusive section.
func (c *Controller) SnapshotSpawned() {
	for _, e := range c.deps.Registry.All() {
		if !e.IsSpawned {
			continue
		}
		if err := c.deps.World.Snapshot(e.Handle, e); err != nil {
			c.log.Error("Snapshot failed", "id", e.ID, "error", err)
		}
	}
}

// DespawnAll dematerializes every spawned component without the distance
// gate, e.g. before a session unloads.
func (c *Controller) DespawnAll() int {
	c.deps.Registry.Lock()
	defer c.deps.Registry.Unlock()

	seen := make(map[*core.Equipment]bool)
	n := 0
	for _, rec := range c.deps.Registry.All() {
		if seen[rec] || !rec.IsSpawned {
			continue
		}
		component := c.deps.Registry.ConnectedEquipment(rec)
		spawned := component[:0:0]
		for _, e := range component {
			seen[e] = true
			if e.IsSpawned {
				spawned = append(spawned, e)
			}
		}
		c.despawnComponent(spawned)
		n += len(spawned)
	}
	return n
}
