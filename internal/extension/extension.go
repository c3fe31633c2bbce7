// Package extension wires the equipment registry, the spawn controller and
// job generation to a host, and exposes them through the command surface.
package extension

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/internal/channel"
	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/dispatcher"
	"github.com/stockyard/extension/internal/host"
	"github.com/stockyard/extension/internal/influx"
	"github.com/stockyard/extension/internal/jobgen"
	"github.com/stockyard/extension/internal/jobs"
	"github.com/stockyard/extension/internal/logging"
	"github.com/stockyard/extension/internal/monitor"
	intOtel "github.com/stockyard/extension/internal/otel"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/internal/scheduler"
	"github.com/stockyard/extension/internal/spawn"
	"github.com/stockyard/extension/internal/storage"
	"github.com/stockyard/extension/internal/worker"
	"github.com/stockyard/extension/pkg/core"
)

// module defs - set at build time via ldflags
var (
	CurrentExtensionVersion = "0.0.1"
	BuildDate               = "unknown"
)

// ExtensionName prefixes log files.
const ExtensionName = "stockyard"

const statsBuffer = 256

// ErrIncompleteHost is returned by New when a required collaborator is missing.
var ErrIncompleteHost = errors.New("host is missing a required collaborator")

// Host holds the collaborators provided by the simulation.
type Host struct {
	World    host.World
	Player   host.Player
	Runtime  host.JobRuntime
	IDs      host.IDAllocator     // optional
	Failures host.FailureReporter // optional

	// Catalog and Yards default to the config sections of the same name.
	Catalog catalog.Catalog
	Yards   []*core.Yard
}

// Options tunes the bootstrap.
type Options struct {
	// ConfigDir holds stockyard.cfg.json. Empty uses defaults only.
	ConfigDir string
	// LogWriter replaces the session log file.
	LogWriter io.Writer
	// Session names the running session in every log record.
	Session string
}

// Extension is a fully wired instance.
type Extension struct {
	host    Host
	started time.Time

	slogManager *logging.SlogManager
	log         *slog.Logger
	zlog        zerolog.Logger
	logFile     *os.File
	logPath     string
	otel        *intOtel.Provider

	session     atomic.Value
	carDeletion atomic.Bool

	registry  *registry.Registry
	tracker   *reservation.Tracker
	ledger    *jobs.Ledger
	scheduler *scheduler.Scheduler
	spawn     *spawn.Controller
	jobs      *jobgen.Manager

	store       storage.Backend
	storageName string
	influx      *influx.Manager
	stats       *channel.Buffered[any]
	statsDone   chan struct{}
	monitor     *monitor.Service
	dispatcher  *dispatcher.Dispatcher

	frameBudget time.Duration

	shutdownOnce sync.Once
	shutdownErr  error
}

// New loads the configuration, sets up logging and telemetry, and wires
// every component. On error everything already opened is released.
func New(ctx context.Context, h Host, opts Options) (*Extension, error) {
	if h.World == nil || h.Player == nil || h.Runtime == nil {
		return nil, ErrIncompleteHost
	}

	e := &Extension{
		host:        h,
		started:     time.Now(),
		slogManager: logging.NewSlogManager(),
	}
	e.session.Store(opts.Session)

	var configErr error
	if opts.ConfigDir != "" {
		configErr = config.Load(opts.ConfigDir)
	} else {
		config.LoadDefaults()
	}

	e.setupLogging(ctx, opts.LogWriter)
	if configErr != nil {
		e.log.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		e.log.Info("Loaded config", "dir", opts.ConfigDir)
	}

	steps := []func(context.Context) error{
		e.setupComponents,
		e.setupStorage,
		e.setupInflux,
		e.setupMonitor,
		e.setupDispatcher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			e.log.Error("Extension setup failed", "error", err)
			_ = e.Shutdown(ctx)
			return nil, err
		}
	}

	e.log.Info("Extension ready",
		"version", CurrentExtensionVersion,
		"storage", e.storageName,
		"yards", len(e.jobs.Yards()),
		"commands", e.dispatcher.Commands())
	return e, nil
}

func (e *Extension) setupLogging(ctx context.Context, w io.Writer) {
	level := config.GetString("logLevel")

	// Bootstrap logger until the sinks are known.
	e.log = slog.Default()

	if w == nil {
		dir := config.GetString("logsDir")
		if err := os.MkdirAll(dir, 0755); err != nil {
			e.log.Error("Failed to create logs directory", "error", err, "path", dir)
		} else {
			path := logging.LogFilePath(dir, ExtensionName, e.started)
			if _, err := os.Stat(path); err == nil {
				_ = os.Rename(path, path+".old")
			}
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				e.log.Error("Failed to create/open log file!", "error", err, "path", path)
			} else {
				e.logFile = f
				e.logPath = path
				w = f
			}
		}
	}

	var setupErrs []error

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		p, err := intOtel.New(ctx, otelCfg, w, CurrentExtensionVersion)
		if err != nil {
			setupErrs = append(setupErrs, fmt.Errorf("otel: %w", err))
		} else {
			e.otel = p
		}
	}

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, err := logging.NewGELFHandler(gl.Address, logging.ParseLevel(level))
		if err != nil {
			setupErrs = append(setupErrs, err)
		} else {
			extra = append(extra, h)
		}
	}

	var provider *sdklog.LoggerProvider
	if e.otel != nil {
		provider = e.otel.LoggerProvider()
	}
	e.slogManager.Setup(w, level, logging.Options{
		Provider: provider,
		Context:  e.logContext,
		Extra:    extra,
	})
	e.log = e.slogManager.Logger()

	zw := w
	if zw == nil {
		zw = os.Stdout
	}
	e.zlog = logging.NewZerolog(zw, level, e.logContext)

	for _, err := range setupErrs {
		e.log.Error("Optional log sink unavailable", "error", err)
	}
	if e.logPath != "" {
		e.log.Info("Logging to file", "path", e.logPath)
	}
}

// logContext adds the session state to every log record.
func (e *Extension) logContext() []slog.Attr {
	return []slog.Attr{
		slog.String("session", e.Session()),
		slog.Bool("carDeletion", e.carDeletion.Load()),
	}
}

func (e *Extension) setupComponents(context.Context) error {
	h := e.host
	e.registry = registry.New(h.IDs, e.log)
	e.tracker = reservation.New(e.log)
	e.ledger = jobs.NewLedger()
	e.scheduler = scheduler.New(e.log)

	cat := h.Catalog
	if cat == nil {
		tables, err := config.GetCatalogConfig()
		if err != nil {
			return err
		}
		cat = catalog.NewStatic(tables)
	}
	yards := h.Yards
	if yards == nil {
		var err error
		if yards, err = config.GetYards(); err != nil {
			return err
		}
	}

	sc := config.GetSpawnConfig()
	var err error
	e.spawn, err = spawn.New(spawn.Config{
		Interval:        sc.Interval,
		SpawnDistance:   sc.SpawnDistance,
		DespawnDistance: sc.DespawnDistance,
		StationarySpeed: sc.StationarySpeed,
	}, spawn.Dependencies{
		Registry:     e.registry,
		Reservations: e.tracker,
		Jobs:         e.ledger,
		World:        h.World,
		Player:       h.Player,
		Scheduler:    e.scheduler,
		OnPass:       e.publishSpawnStats,
	}, e.log)
	if err != nil {
		return fmt.Errorf("spawn controller: %w", err)
	}

	gc := config.GetGenerationConfig()
	e.frameBudget = gc.FrameBudget
	e.jobs, err = jobgen.NewManager(jobgen.Config{Attempts: gc.Attempts}, jobgen.Dependencies{
		Registry:     e.registry,
		Reservations: e.tracker,
		Ledger:       e.ledger,
		Space:        jobs.NewTrackSpace(),
		Catalog:      cat,
		Spawner:      e.spawn,
		Player:       h.Player,
		Runtime:      h.Runtime,
		Scheduler:    e.scheduler,
		Failures:     e.reportFailure,
		OnReport:     e.publishReport,
	}, yards, e.log)
	if err != nil {
		return fmt.Errorf("job generation: %w", err)
	}
	return nil
}

func (e *Extension) setupStorage(ctx context.Context) error {
	cfg := config.GetStorageConfig()
	b, err := storage.NewBackend(ctx, cfg, storage.Loggers{
		Log: e.log,
		DB:  e.zlog.With().Str("component", "database").Logger(),
	})
	if err != nil {
		return err
	}
	if err := b.Init(); err != nil {
		_ = b.Close()
		return fmt.Errorf("initializing %s storage: %w", cfg.Type, err)
	}
	e.store = b
	e.storageName = cfg.Type
	if l, ok := b.(storage.Locatable); ok && l.Location() != cfg.Type {
		e.storageName = cfg.Type + ":" + l.Location()
	}
	e.log.Info("Storage initialized", "backend", e.storageName)
	return nil
}

// setupInflux connects the statistics sink. It is optional: failures are
// logged and the extension runs without it.
func (e *Extension) setupInflux(ctx context.Context) error {
	ic := config.GetInfluxConfig()
	if !ic.Enabled {
		return nil
	}
	m := influx.NewManager(e.zlog.With().Str("component", "influx").Logger(), ic)
	if err := m.Connect(ctx); err != nil {
		e.log.Warn("Statistics sink unavailable", "error", err)
		_ = m.Close()
		return nil
	}
	e.influx = m
	e.stats = channel.NewBuffered[any](statsBuffer)
	e.statsDone = make(chan struct{})
	go e.drainStats()
	return nil
}

func (e *Extension) setupMonitor(context.Context) error {
	deps := monitor.Dependencies{
		Equipment:    e.equipmentCounts,
		Reservations: e.tracker.Len,
		ActiveJobs:   e.ledger.Len,
		Tasks:        e.scheduler.Len,
		CarDeletion:  e.spawn.Running,
		Generating:   e.jobs.Running,
		Storage:      e.storageName,
		Log:          e.log.With("component", "monitor"),
	}
	if e.stats != nil {
		deps.StatsDropped = e.stats.Dropped
	}
	e.monitor = monitor.NewService(deps)
	mc := config.GetMonitorConfig()
	if mc.StatusFile == "" {
		return nil
	}
	if err := e.monitor.Start(mc.StatusFile, mc.Interval); err != nil {
		e.log.Warn("Status file disabled", "error", err)
	}
	return nil
}

func (e *Extension) setupDispatcher(context.Context) error {
	d, err := dispatcher.New(logging.NewDispatcherLogger(
		e.zlog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	worker.NewManager(worker.Dependencies{
		Registry:      e.registry,
		Reservations:  e.tracker,
		Jobs:          e.jobs,
		Spawn:         e.spawn,
		Storage:       e.store,
		Monitor:       e.monitor,
		Failures:      e.reportFailure,
		OnSaved:       e.flushTelemetry,
		OnCarDeletion: e.carDeletion.Store,
		Log:           e.log,
	}).RegisterHandlers(d)
	e.registerLifecycleHandlers(d)
	e.dispatcher = d
	return nil
}

// equipmentCounts runs in the exclusive section so spawn flags are read
// between task steps.
func (e *Extension) equipmentCounts() (total, spawned int) {
	e.registry.Lock()
	defer e.registry.Unlock()
	for _, rec := range e.registry.All() {
		total++
		if rec.IsSpawned {
			spawned++
		}
	}
	return total, spawned
}

func (e *Extension) reportFailure(component string, err error) {
	e.log.Error("Critical failure", "component", component, "error", err)
	if e.host.Failures != nil {
		e.host.Failures(component, err)
	}
}

func (e *Extension) flushTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e.otel != nil {
		if err := e.otel.Flush(ctx); err != nil {
			e.log.Warn("Failed to flush OTel data", "error", err)
		}
	}
}

// Session returns the session name attached to log records.
func (e *Extension) Session() string {
	s, _ := e.session.Load().(string)
	return s
}

// SetSession renames the running session.
func (e *Extension) SetSession(name string) {
	e.session.Store(name)
}

// Tick advances the scheduler by dt within the configured frame budget. The
// host calls it once per frame from the thread that issues commands.
func (e *Extension) Tick(dt time.Duration) int {
	return e.scheduler.Tick(dt, e.frameBudget)
}

func (e *Extension) Logger() *slog.Logger               { return e.log }
func (e *Extension) LogPath() string                    { return e.logPath }
func (e *Extension) Registry() *registry.Registry       { return e.registry }
func (e *Extension) Reservations() *reservation.Tracker { return e.tracker }
func (e *Extension) Ledger() *jobs.Ledger               { return e.ledger }
func (e *Extension) Jobs() *jobgen.Manager              { return e.jobs }
func (e *Extension) Spawn() *spawn.Controller           { return e.spawn }
func (e *Extension) Monitor() *monitor.Service          { return e.monitor }

// Shutdown stops every task, drains the statistics queue and releases
// storage, telemetry and the log file. It does not save.
func (e *Extension) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		if e.jobs != nil {
			e.jobs.StopAll()
		}
		if e.spawn != nil {
			e.spawn.Stop()
		}
		if e.dispatcher != nil {
			e.dispatcher.Close()
		}
		if e.scheduler != nil {
			e.scheduler.Shutdown()
		}
		if e.monitor != nil {
			e.monitor.Stop()
		}
		if e.stats != nil {
			e.stats.Close()
			<-e.statsDone
		}

		var errs []error
		if e.influx != nil {
			errs = append(errs, e.influx.Close())
		}
		if e.store != nil {
			errs = append(errs, e.store.Close())
		}
		if e.otel != nil {
			errs = append(errs, e.otel.Shutdown(ctx))
		}
		e.shutdownErr = errors.Join(errs...)
		if e.shutdownErr != nil {
			e.log.Error("Shutdown incomplete", "error", e.shutdownErr)
		} else {
			e.log.Info("Extension stopped")
		}
		if e.logFile != nil {
			_ = e.logFile.Close()
		}
	})
	return e.shutdownErr
}
