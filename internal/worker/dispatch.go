package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockyard/extension/internal/dispatcher"
	"github.com/stockyard/extension/internal/persist"
	"github.com/stockyard/extension/internal/util"
)

// RegisterHandlers registers all host commands with the dispatcher.
// Every handler runs on the calling thread; long work is handed to the
// scheduler.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	opts := []dispatcher.Option{dispatcher.Logged(), dispatcher.Recovered(m.report)}

	d.Register(CommandGenerateJobs, m.handleGenerateJobs, opts...)
	d.Register(CommandCarDeletion, m.handleCarDeletion, opts...)
	d.Register(CommandSave, m.handleSave, opts...)
	d.Register(CommandLoad, m.handleLoad, opts...)
	d.Register(CommandStatus, m.handleStatus, opts...)
}

// handleGenerateJobs starts a generation run for one yard, or for every yard
// when no ID is given. A run already in flight for a yard is superseded.
func (m *Manager) handleGenerateJobs(e dispatcher.Event) (any, error) {
	id := util.CleanArg(e.Arg(0))
	if id == "" {
		started := make([]string, 0)
		for _, y := range m.deps.Jobs.Yards() {
			c, _ := m.deps.Jobs.For(y.ID)
			c.GenerateJobs(nil)
			started = append(started, y.ID)
		}
		return started, nil
	}

	c, ok := m.deps.Jobs.For(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownYard, id)
	}
	c.GenerateJobs(nil)
	return []string{id}, nil
}

func (m *Manager) handleCarDeletion(e dispatcher.Event) (any, error) {
	enabled, err := util.ParseBool(e.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("car deletion flag: %w", err)
	}
	if enabled {
		m.deps.Spawn.Start()
	} else {
		m.deps.Spawn.Stop()
	}
	if m.deps.OnCarDeletion != nil {
		m.deps.OnCarDeletion(enabled)
	}
	return enabled, nil
}

func (m *Manager) handleSave(e dispatcher.Event) (any, error) {
	start := time.Now()

	reg := m.deps.Registry
	reg.Lock()
	m.deps.Spawn.SnapshotSpawned()
	doc := persist.Capture(reg.All(), m.deps.Reservations.All())
	reg.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.deps.SaveTimeout)
	defer cancel()
	if err := m.deps.Storage.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("saving: %w", err)
	}

	took := time.Since(start)
	if m.deps.Monitor != nil {
		m.deps.Monitor.RecordSave(start, took)
	}
	if m.deps.OnSaved != nil {
		m.deps.OnSaved()
	}
	m.log.Info("Saved", "equipment", len(doc.Equipment), "reservations", len(doc.Reservations), "took", took)
	return len(doc.Equipment), nil
}

// handleLoad replaces the registry and tracker with the stored document.
// Generation and the spawn loop are stopped, active chains are forgotten and
// spawned cars are removed from the world first. A spawn loop that was
// running is restarted afterwards. A missing or unreadable save is an error
// only when the caller marks the load mandatory; otherwise the session
// starts empty.
func (m *Manager) handleLoad(e dispatcher.Event) (any, error) {
	mandatory, err := util.ParseBool(e.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("mandatory flag: %w", err)
	}

	if m.deps.Spawn.Running() {
		m.deps.Spawn.Stop()
		defer m.deps.Spawn.Start()
	}
	m.deps.Jobs.Reset()
	m.deps.Spawn.DespawnAll()

	ctx, cancel := context.WithTimeout(context.Background(), m.deps.SaveTimeout)
	defer cancel()
	doc, err := m.deps.Storage.Load(ctx)
	if err != nil {
		if mandatory {
			if errors.Is(err, persist.ErrIncompatibleSave) {
				return nil, fmt.Errorf("loading: %w", err)
			}
			return nil, fmt.Errorf("loading: %w: %w", persist.ErrIncompatibleSave, err)
		}
		if errors.Is(err, persist.ErrNoSave) {
			m.log.Info("No save found, starting empty")
		} else {
			m.log.Warn("Save could not be loaded, starting empty", "error", err)
		}
		doc = &persist.Document{Version: persist.Version}
	}

	m.deps.Registry.Lock()
	res, err := persist.Restore(doc, m.deps.Registry, m.deps.Reservations, m.log)
	m.deps.Registry.Unlock()
	if err != nil {
		return nil, fmt.Errorf("restoring: %w", err)
	}
	return res, nil
}

func (m *Manager) handleStatus(e dispatcher.Event) (any, error) {
	if m.deps.Monitor == nil {
		return nil, errors.New("monitor not configured")
	}
	return m.deps.Monitor.JSON(), nil
}
