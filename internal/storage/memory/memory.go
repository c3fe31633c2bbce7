// Package memory keeps the last saved document in memory and, when a path is
// configured, mirrors it to a JSON file.
package memory

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/stockyard/extension/internal/config"
	"github.com/stockyard/extension/internal/persist"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Backend stores the document in memory and in an optional JSON file.
type Backend struct {
	cfg config.JSONConfig
	log *slog.Logger

	mu   sync.RWMutex
	last *persist.Document
}

// New creates a new memory backend. An empty cfg.Path keeps the document in
// memory only.
func New(cfg config.JSONConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{cfg: cfg, log: log}
}

// Init ensures the output directory exists.
func (b *Backend) Init() error {
	if b.cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.cfg.Path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// Location returns the save file path.
func (b *Backend) Location() string {
	if b.cfg.Path == "" {
		return "memory"
	}
	return b.cfg.Path
}

// Save keeps doc and writes it to the file, replacing any previous save.
func (b *Backend) Save(_ context.Context, doc *persist.Document) error {
	data, err := persist.Encode(doc)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.Path != "" {
		if err := writeFile(b.cfg.Path, data, b.cfg.Compress); err != nil {
			return err
		}
	}
	b.last = doc
	b.log.Debug("Saved document", "path", b.Location(), "bytes", len(data))
	return nil
}

// Load returns the last saved document, reading the file when nothing has
// been saved in this session.
func (b *Backend) Load(_ context.Context) (*persist.Document, error) {
	b.mu.RLock()
	last := b.last
	b.mu.RUnlock()
	if last != nil {
		return last, nil
	}
	if b.cfg.Path == "" {
		return nil, persist.ErrNoSave
	}

	data, err := readFile(b.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persist.ErrNoSave
	}
	if err != nil {
		return nil, err
	}
	return persist.Decode(data, b.log)
}

// writeFile writes data next to path and renames it into place.
func writeFile(path string, data []byte, compress bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing save file: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("compressing save file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing save file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing save file: %w", err)
	}
	return nil
}

// readFile reads path, inflating it when it is gzip-compressed.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening compressed save: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
