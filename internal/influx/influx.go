// Package influx writes generation and spawn statistics to InfluxDB, with a
// gzip line-protocol backup file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/jobgen"
	"github.com/stockyard/extension/internal/spawn"
	"github.com/stockyard/extension/pkg/core"
)

// Measurement names.
const (
	MeasurementGeneration = "job_generation"
	MeasurementSpawn      = "spawn_pass"
)

// ErrDisabled is returned by Connect when the sink is turned off.
var ErrDisabled = errors.New("influx sink disabled")

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	client influxdb2.Client
	writer influxdb2_api.WriteAPI
	valid  bool

	mu         sync.Mutex
	backup     *gzip.Writer
	backupFile io.Closer
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{cfg: cfg, logger: log}
}

// Connect establishes the connection. When the server does not answer a
// ping, points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.logger.Warn().Err(err).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.valid = true
	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	m.UseBackup(file)
	return nil
}

// UseBackup directs all points to w as gzip-compressed line protocol.
func (m *Manager) UseBackup(w io.WriteCloser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = false
	m.backup = gzip.NewWriter(w)
	m.backupFile = w
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")

	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * 90, // 90 days
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

func (m *Manager) createWriter() {
	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.writer.Errors())
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backup == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WriteReport records the outcome of a generation run. Errors are logged.
func (m *Manager) WriteReport(r jobgen.Report) {
	if err := m.WritePoint(ReportPoint(r, time.Now())); err != nil {
		m.logger.Error().Err(err).Str("yard", r.Yard).Msg("Failed to write generation report")
	}
}

// WriteSpawnStats records the outcome of a spawn pass. Errors are logged.
func (m *Manager) WriteSpawnStats(s spawn.Stats) {
	if err := m.WritePoint(SpawnPoint(s, time.Now())); err != nil {
		m.logger.Error().Err(err).Msg("Failed to write spawn stats")
	}
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer != nil {
		m.writer.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}

	var errs []error
	if m.backup != nil {
		errs = append(errs, m.backup.Close())
		m.backup = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

// ReportPoint converts a generation report to a point tagged by yard.
func ReportPoint(r jobgen.Report, ts time.Time) *influxdb2_write.Point {
	cars := 0
	for _, chain := range r.Jobs {
		cars += len(chain.Cars)
	}

	p := influxdb2_write.NewPointWithMeasurement(MeasurementGeneration).
		AddTag("yard", r.Yard).
		AddField("jobs", len(r.Jobs)).
		AddField("cars_assigned", cars).
		AddField("candidates", r.Candidates).
		AddField("excluded", r.Excluded).
		SetTime(ts)

	for _, kind := range []core.JobKind{core.JobShuntingLoad, core.JobTransport, core.JobShuntingUnload} {
		name := fieldName(kind)
		p.AddField("failed_"+name, r.FailedAttempts[kind])
		p.AddField("unassigned_"+name, r.Unassigned[kind])
	}
	return p
}

// SpawnPoint converts spawn pass statistics to a point.
func SpawnPoint(s spawn.Stats, ts time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementSpawn).
		AddField("components", s.Components).
		AddField("spawned", s.Spawned).
		AddField("despawned", s.Despawned).
		AddField("vetoed", s.Vetoed).
		AddField("skipped", s.Skipped).
		SetTime(ts)
}

func fieldName(k core.JobKind) string {
	switch k {
	case core.JobShuntingLoad:
		return "load"
	case core.JobTransport:
		return "haul"
	case core.JobShuntingUnload:
		return "unload"
	default:
		return strings.ToLower(k.String())
	}
}
