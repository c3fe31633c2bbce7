package jobgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stockyard/extension/internal/jobs"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/scheduler"
	"github.com/stockyard/extension/pkg/core"
)

var kinds = []core.JobKind{core.JobShuntingLoad, core.JobTransport, core.JobShuntingUnload}

// Report summarizes one generation run.
type Report struct {
	Yard       string
	Jobs       []*core.JobChain
	Candidates int
	Excluded   int
	// FailedAttempts and Unassigned are indexed by job kind.
	FailedAttempts map[core.JobKind]int
	Unassigned     map[core.JobKind]int
}

func newReport(yard string) Report {
	return Report{
		Yard:           yard,
		FailedAttempts: make(map[core.JobKind]int),
		Unassigned:     make(map[core.JobKind]int),
	}
}

// Controller generates jobs for one yard. At most one run is in flight.
type Controller struct {
	yard *core.Yard
	m    *Manager
	log  *slog.Logger

	mu   sync.Mutex
	task *scheduler.Task
}

func (c *Controller) Yard() *core.Yard { return c.yard }

// GenerateJobs starts a run as a scheduler task, cancelling the run already
// in flight for this yard. A nil pool collects candidates from the yard.
func (c *Controller) GenerateJobs(pool []*core.Equipment) *scheduler.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.task != nil {
		c.task.Stop()
	}
	c.task = c.m.deps.Scheduler.Go("jobgen:"+c.yard.ID, func(t *scheduler.Task) error {
		return c.runTask(t, pool)
	})
	return c.task
}

// Stop cancels the run in flight, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		c.task.Stop()
		c.task = nil
	}
}

// Running reports whether a run is in flight.
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

// runTask is the task boundary: panics are caught here and reported to the
// host.
func (c *Controller) runTask(t *scheduler.Task, pool []*core.Equipment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job generation at %s panicked: %v", c.yard.ID, r)
			c.log.Error("Job generation panicked", "panic", r, "stack", string(debug.Stack()))
			if c.m.deps.Failures != nil {
				c.m.deps.Failures("jobgen", err)
			}
		}
	}()

	report, err := c.Generate(t, pool)
	if errors.Is(err, context.Canceled) {
		c.log.Debug("Job generation superseded", "jobs", len(report.Jobs))
		return err
	}
	if c.m.deps.OnReport != nil {
		c.m.deps.OnReport(report)
	}
	return err
}

// Generate runs the algorithm synchronously, yielding through y at every
// suspension point. A nil pool collects candidates from the yard.
func (c *Controller) Generate(y scheduler.Yielder, pool []*core.Equipment) (Report, error) {
	start := time.Now()
	report := newReport(c.yard.ID)
	reg := c.m.deps.Registry

	if pool == nil {
		var err error
		if pool, err = c.collect(y); err != nil {
			return report, err
		}
	}
	report.Candidates = len(pool)
	if len(pool) == 0 {
		c.log.Debug("No candidate cars")
		return report, nil
	}

	reg.Lock()
	pools := Partition(c.yard, c.m.deps.Catalog, c.m.deps.Reservations, pool)
	reg.Unlock()
	report.Excluded = len(pools.Excluded)

	for _, kind := range kinds {
		if err := c.generatePool(y, kind, pools.Of(kind), &report); err != nil {
			return report, err
		}
	}

	yardAttr := metric.WithAttributes(attribute.String("yard", c.yard.ID))
	c.m.metrics.runs.Record(context.Background(), time.Since(start).Seconds(), yardAttr)
	c.log.Info("Job generation finished",
		"jobs", len(report.Jobs), "candidates", report.Candidates, "excluded", report.Excluded,
		"duration", time.Since(start))
	return report, nil
}

// collect gathers the yard's track cars and the player's train, minus cars
// already in an active job. Unspawned components found on the yard are
// spawned first.
func (c *Controller) collect(y scheduler.Yielder) ([]*core.Equipment, error) {
	reg := c.m.deps.Registry
	seen := make(map[*core.Equipment]bool)
	var pool []*core.Equipment
	add := func(cars []*core.Equipment) {
		for _, e := range cars {
			if seen[e] {
				continue
			}
			seen[e] = true
			if c.m.deps.Ledger.HasActiveJob(e.CarGUID) {
				continue
			}
			pool = append(pool, e)
		}
	}

	for _, track := range c.yard.Tracks() {
		reg.Lock()
		for _, e := range reg.EquipmentOnTrack(track.ID, registry.UnspawnedOnly) {
			if e.IsSpawned {
				continue // spawned with an earlier component
			}
			component := reg.ConnectedEquipment(e)
			if !reg.CheckSpawnState(component) {
				continue
			}
			if c.m.deps.Spawner == nil {
				continue
			}
			if err := c.m.deps.Spawner.SpawnComponent(component); err != nil {
				c.log.Error("Failed to spawn yard cars", "track", track.ID, "id", e.ID, "error", err)
			}
		}
		add(reg.EquipmentOnTrack(track.ID, registry.SpawnedOnly))
		reg.Unlock()

		if err := y.Yield(); err != nil {
			return nil, err
		}
	}

	if c.m.deps.Player != nil {
		if h, ok := c.m.deps.Player.CurrentTrain(); ok {
			reg.Lock()
			if e := reg.FindByUnit(h); e != nil {
				add(reg.ConnectedEquipment(e))
			}
			reg.Unlock()
		}
	}
	return pool, nil
}

// generatePool runs the attempt loop for one pool. A built job does not
// consume an attempt; a failure does.
func (c *Controller) generatePool(y scheduler.Yielder, kind core.JobKind, pool []*core.Equipment, report *Report) error {
	if len(pool) == 0 {
		return nil
	}
	log := c.log.With("kind", kind.String())
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("yard", c.yard.ID), attribute.String("kind", kind.String()))

	jobsBefore := len(report.Jobs)
	failed := 0
	for failed < c.m.cfg.Attempts && len(pool) > 0 {
		if err := y.Yield(); err != nil {
			return err
		}

		req, ok, err := c.prepare(kind, pool)
		if !ok {
			log.Debug("No cargo association for remaining cars", "cars", len(pool))
			break
		}
		if err == nil {
			if err = y.Yield(); err != nil {
				return err
			}
			var chain *core.JobChain
			if chain, err = c.build(kind, req); err == nil {
				report.Jobs = append(report.Jobs, chain)
				pool = without(pool, req.Cars())
				c.m.metrics.generated.Add(ctx, 1, attrs)
				log.Debug("Generated job", "chain", chain.ID, "cars", len(chain.Cars))
				continue
			}
		}

		failed++
		c.m.metrics.failed.Add(ctx, 1, attrs)
		log.Debug("Generation attempt failed", "attempt", failed, "error", err)
	}

	report.FailedAttempts[kind] = failed
	report.Unassigned[kind] = len(pool)
	if len(pool) > 0 {
		c.m.metrics.unassigned.Add(ctx, int64(len(pool)), attrs)
	}
	log.Info("Pool generation done",
		"jobs", len(report.Jobs)-jobsBefore, "carsLeft", len(pool), "failedAttempts", failed)
	return nil
}

// prepare chooses the association and the coupled sets of the next job.
// ok is false when the pool has no association at all.
func (c *Controller) prepare(kind core.JobKind, pool []*core.Equipment) (req jobs.Request, ok bool, err error) {
	reg := c.m.deps.Registry
	cat := c.m.deps.Catalog
	rs := c.yard.Ruleset

	reg.Lock()
	defer reg.Unlock()

	assoc, ok := Largest(Associations(kind, c.yard, cat, c.m.deps.Reservations, pool))
	if !ok {
		return req, false, nil
	}

	target, absMin := Minimums(rs.MinCarsPerJob, len(assoc.Cars))
	lim := Limits{
		Min:       rs.MinCarsPerJob,
		Target:    target,
		AbsMin:    absMin,
		MaxCars:   rs.MaxCarsPerJob,
		MaxLength: MaxTrainLength(kind, c.yard, assoc, c.m.Yard),
		MaxTracks: rs.MaxShuntingStorageTracks,
		Total:     len(assoc.Cars),
	}

	lengthOf := func(e *core.Equipment) float64 { return cat.CarLength(e.CarType) }
	sets := GroupCoupledSets(assoc.Cars, lengthOf, lim.MaxCars, lim.MaxLength)
	sets = FitToLength(sets, lengthOf, lim.MaxLength)
	c.m.shuffle(sets)

	req = jobs.Request{
		Yard:     c.yard,
		Group:    assoc.Group,
		Outbound: assoc.Key.Outbound,
		Inbound:  assoc.Key.Inbound,
	}
	if kind == core.JobShuntingLoad {
		selected, err := c.m.selectLoading(sets, lim)
		if err != nil {
			return req, true, err
		}
		for _, s := range selected {
			req.Sets = append(req.Sets, s.Cars)
		}
		return req, true, nil
	}

	selected, err := SelectSingle(sets, lim)
	if err != nil {
		return req, true, err
	}
	req.Sets = [][]*core.Equipment{selected.Cars}
	return req, true, nil
}

func (c *Controller) build(kind core.JobKind, req jobs.Request) (*core.JobChain, error) {
	c.m.deps.Registry.Lock()
	defer c.m.deps.Registry.Unlock()

	for _, e := range req.Cars() {
		if c.m.deps.Ledger.HasActiveJob(e.CarGUID) {
			return nil, fmt.Errorf("car %s: %w", e.ID, jobs.ErrAlreadyAssigned)
		}
	}

	var (
		chain *core.JobChain
		err   error
	)
	switch kind {
	case core.JobShuntingLoad:
		chain, err = c.m.builder.BuildLoad(req)
	case core.JobTransport:
		chain, err = c.m.builder.BuildHaul(req)
	default:
		chain, err = c.m.builder.BuildUnload(req)
	}
	if err != nil {
		return nil, err
	}
	if err := c.m.launch(chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func without(pool, used []*core.Equipment) []*core.Equipment {
	drop := make(map[*core.Equipment]bool, len(used))
	for _, e := range used {
		drop[e] = true
	}
	out := pool[:0:0]
	for _, e := range pool {
		if !drop[e] {
			out = append(out, e)
		}
	}
	return out
}
