package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/database"
	gormstorage "github.com/stockyard/extension/internal/storage/gorm"
	"github.com/stockyard/extension/internal/storage/memory"
	sqlitestorage "github.com/stockyard/extension/internal/storage/sqlite"
)

// Loggers carries the loggers handed to backends.
type Loggers struct {
	Log *slog.Logger
	DB  zerolog.Logger
}

// NewBackend creates a storage backend based on configuration. The backend
// is not yet initialised.
func NewBackend(ctx context.Context, cfg config.StorageConfig, logs Loggers) (Backend, error) {
	switch cfg.Type {
	case "json", "":
		return memory.New(cfg.JSON, logs.Log), nil
	case "memory":
		return memory.New(config.JSONConfig{}, logs.Log), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, logs.DB)
	case "postgres":
		m := database.NewManager(logs.DB, cfg.SQLite.Path)
		if err := m.Connect(ctx, cfg.DB); err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		return gormstorage.New(m.DB, m.Close), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Type)
	}
}
