// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the SQLite-specific parts are the in-memory
// database, the dump loop, and reading the dump file when memory is empty.
package sqlitestorage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/database"
	"github.com/stockyard/extension/internal/persist"
	gormstorage "github.com/stockyard/extension/internal/storage/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	cfg config.SQLiteConfig
	log zerolog.Logger

	dirty    atomic.Bool
	dumpMu   sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a new SQLite storage backend.
func New(cfg config.SQLiteConfig, log zerolog.Logger) (*Backend, error) {
	db, err := database.OpenMemory("stockyard-" + uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	b := &Backend{
		cfg: cfg,
		log: log,
	}
	b.Backend = gormstorage.New(db, b.closeDB)
	return b, nil
}

// Init migrates the in-memory schema and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.Path != "" && b.cfg.DumpInterval > 0 {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the
// in-memory database.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	dumpErr := b.dumpIfDirty()
	return errors.Join(dumpErr, b.Backend.Close())
}

// Location returns the dump file path.
func (b *Backend) Location() string {
	return b.cfg.Path
}

// Save writes the document to memory; the dump loop persists it.
func (b *Backend) Save(ctx context.Context, doc *persist.Document) error {
	if err := b.Backend.Save(ctx, doc); err != nil {
		return err
	}
	b.dirty.Store(true)
	return nil
}

// Load reads the in-memory document, falling back to the dump file after a
// restart.
func (b *Backend) Load(ctx context.Context) (*persist.Document, error) {
	doc, err := b.Backend.Load(ctx)
	if !errors.Is(err, persist.ErrNoSave) || b.cfg.Path == "" {
		return doc, err
	}
	if _, statErr := os.Stat(b.cfg.Path); statErr != nil {
		return nil, persist.ErrNoSave
	}

	disk, err := database.OpenSQLite(b.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening dump file: %w", err)
	}
	fromDisk := gormstorage.New(disk, func() error {
		sqlDB, err := disk.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	defer fromDisk.Close()

	b.log.Info().Str("path", b.cfg.Path).Msg("Reading save from dump file")
	return fromDisk.Load(ctx)
}

// Dump writes the in-memory database to the dump file now.
func (b *Backend) Dump() error {
	b.dumpMu.Lock()
	defer b.dumpMu.Unlock()
	return database.DumpToDisk(b.DB(), b.cfg.Path, b.log)
}

func (b *Backend) dumpIfDirty() error {
	if b.cfg.Path == "" || !b.dirty.Swap(false) {
		return nil
	}
	if err := b.Dump(); err != nil {
		b.dirty.Store(true)
		return err
	}
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.dumpIfDirty(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}

func (b *Backend) closeDB() error {
	sqlDB, err := b.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
