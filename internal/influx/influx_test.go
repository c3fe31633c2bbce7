package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/jobgen"
	"github.com/stockyard/extension/internal/spawn"
	"github.com/stockyard/extension/pkg/core"
)

type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closingBuffer) Close() error {
	b.closed = true
	return nil
}

func lines(t *testing.T, b *closingBuffer) []string {
	t.Helper()
	zr, err := gzip.NewReader(&b.Buffer)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestReportPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	r := jobgen.Report{
		Yard:       "CM",
		Jobs:       []*core.JobChain{{Cars: make([]uuid.UUID, 3)}, {Cars: make([]uuid.UUID, 2)}},
		Candidates: 7,
		Excluded:   1,
		FailedAttempts: map[core.JobKind]int{
			core.JobShuntingLoad: 4,
		},
		Unassigned: map[core.JobKind]int{
			core.JobTransport: 2,
		},
	}

	line := influxdb2_write.PointToLineProtocol(ReportPoint(r, ts), time.Second)

	assert.True(t, strings.HasPrefix(line, "job_generation,yard=CM "), line)
	for _, field := range []string{
		"jobs=2i", "cars_assigned=5i", "candidates=7i", "excluded=1i",
		"failed_load=4i", "failed_haul=0i", "unassigned_haul=2i", "unassigned_unload=0i",
	} {
		assert.Contains(t, line, field)
	}
	assert.Contains(t, line, " 1700000000")
}

func TestSpawnPoint(t *testing.T) {
	line := influxdb2_write.PointToLineProtocol(SpawnPoint(spawn.Stats{
		Components: 4, Spawned: 1, Despawned: 2, Vetoed: 1,
	}, time.Unix(10, 0)), time.Second)

	assert.True(t, strings.HasPrefix(line, "spawn_pass "), line)
	assert.Contains(t, line, "components=4i")
	assert.Contains(t, line, "despawned=2i")
	assert.Contains(t, line, "skipped=0i")
}

func TestManager_BackupWriter(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Bucket: "stockyard_stats"})
	buf := &closingBuffer{}
	m.UseBackup(buf)

	m.WriteReport(jobgen.Report{Yard: "FF"})
	m.WriteSpawnStats(spawn.Stats{Spawned: 3})
	require.NoError(t, m.Close())
	assert.True(t, buf.closed)

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "job_generation,yard=FF "))
	assert.True(t, strings.HasPrefix(got[1], "spawn_pass "))
}

func TestManager_NoSink(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{})
	err := m.WritePoint(SpawnPoint(spawn.Stats{}, time.Now()))
	assert.Error(t, err)
	assert.NoError(t, m.Close())
}

func TestManager_ConnectDisabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Enabled: false})
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}
