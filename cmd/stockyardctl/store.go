package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/database"
	"github.com/stockyard/extension/internal/persist"
	"github.com/stockyard/extension/internal/storage"
	gormstorage "github.com/stockyard/extension/internal/storage/gorm"
	"github.com/stockyard/extension/internal/storage/memory"
)

var sqliteMagic = []byte("SQLite format 3\x00")

// isSQLiteFile reports whether path starts with the SQLite file header.
func isSQLiteFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(header, sqliteMagic), nil
}

// wantsSQLite picks the output backend from the destination's extension.
func wantsSQLite(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// openSave opens path as a storage backend. Existing files are sniffed;
// missing ones are created according to their extension.
func openSave(path string, log *slog.Logger) (storage.Backend, error) {
	sqlite := wantsSQLite(path)
	if _, err := os.Stat(path); err == nil {
		if sqlite, err = isSQLiteFile(path); err != nil {
			return nil, err
		}
	}

	var b storage.Backend
	if sqlite {
		db, err := database.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		b = gormstorage.New(db, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	} else {
		b = memory.New(config.JSONConfig{
			Path:     path,
			Compress: strings.EqualFold(filepath.Ext(path), ".gz"),
		}, log)
	}

	if err := b.Init(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// loadSave reads the document stored at path.
func loadSave(ctx context.Context, path string, log *slog.Logger) (*persist.Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	b, err := openSave(path, log)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	doc, err := b.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return doc, nil
}
