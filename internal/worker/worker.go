// Package worker binds the host command surface to the extension's
// components.
package worker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/stockyard/extension/internal/host"
	"github.com/stockyard/extension/internal/jobgen"
	"github.com/stockyard/extension/internal/monitor"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/internal/spawn"
	"github.com/stockyard/extension/internal/storage"
)

// Host commands.
const (
	CommandGenerateJobs = ":GENERATE:JOBS:"
	CommandCarDeletion  = ":CAR:DELETION:"
	CommandSave         = ":SAVE:"
	CommandLoad         = ":LOAD:"
	CommandStatus       = ":STATUS:"
)

// ErrUnknownYard is returned when a command names a yard that is not configured.
var ErrUnknownYard = errors.New("unknown yard")

// Dependencies holds the components the handlers drive.
type Dependencies struct {
	Registry     *registry.Registry
	Reservations *reservation.Tracker
	Jobs         *jobgen.Manager
	Spawn        *spawn.Controller
	Storage      storage.Backend
	Monitor      *monitor.Service
	Failures     host.FailureReporter

	// OnSaved, when set, runs after every successful save.
	OnSaved func()
	// OnCarDeletion, when set, receives every change of the car deletion
	// toggle.
	OnCarDeletion func(enabled bool)

	// SaveTimeout bounds a single save or load.
	SaveTimeout time.Duration

	Log *slog.Logger
}

// Manager owns the command handlers.
type Manager struct {
	deps Dependencies
	log  *slog.Logger
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.SaveTimeout <= 0 {
		deps.SaveTimeout = 30 * time.Second
	}
	return &Manager{
		deps: deps,
		log:  deps.Log.With("component", "worker"),
	}
}

func (m *Manager) report(component string, err error) {
	if m.deps.Failures != nil {
		m.deps.Failures(component, err)
	}
}
