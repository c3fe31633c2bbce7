package memory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/persist"
)

func TestSave_WritesFileReadBackByNewBackend(t *testing.T) {
	ctx := context.Background()
	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "saves", "stockyard.json")
		b := New(config.JSONConfig{Path: path, Compress: compress}, nil)
		require.NoError(t, b.Init())

		doc := &persist.Document{Version: persist.Version, Equipment: []persist.Record{{ID: "L-001"}}}
		require.NoError(t, b.Save(ctx, doc))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, compress, bytes.HasPrefix(data, gzipMagic))

		fresh := New(config.JSONConfig{Path: path}, nil)
		got, err := fresh.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "L-001", got.Equipment[0].ID)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temporary files are cleaned up")
	}
}

func TestLoad_IncompatibleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0644))

	_, err := New(config.JSONConfig{Path: path}, nil).Load(context.Background())
	assert.ErrorIs(t, err, persist.ErrIncompatibleSave)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "memory", New(config.JSONConfig{}, nil).Location())
	assert.Equal(t, "/tmp/s.json", New(config.JSONConfig{Path: "/tmp/s.json"}, nil).Location())
}
