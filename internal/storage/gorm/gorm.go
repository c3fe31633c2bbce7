// Package gormstorage implements the storage.Backend interface on any gorm
// dialect. A save replaces all rows in one transaction.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stockyard/extension/internal/database"
	"github.com/stockyard/extension/internal/model"
	"github.com/stockyard/extension/internal/model/convert"
	"github.com/stockyard/extension/internal/persist"
)

const batchSize = 500

// Backend stores the document as rows.
type Backend struct {
	db      *gorm.DB
	closeFn func() error
	now     func() time.Time
}

// New wraps db. closeFn, when set, runs on Close.
func New(db *gorm.DB, closeFn func() error) *Backend {
	return &Backend{db: db, closeFn: closeFn, now: time.Now}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema.
func (b *Backend) Init() error {
	return database.Migrate(b.db)
}

// Close releases the connection when the backend owns it.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Location returns the dialect name.
func (b *Backend) Location() string {
	return b.db.Dialector.Name()
}

// Save replaces the stored document.
func (b *Backend) Save(ctx context.Context, doc *persist.Document) error {
	rows := convert.DocumentToRows(doc, b.now().UTC())

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range model.DatabaseModels {
			if err := tx.Unscoped().Where("1 = 1").Delete(table).Error; err != nil {
				return fmt.Errorf("clearing %T: %w", table, err)
			}
		}
		if err := tx.Create(&rows.Info).Error; err != nil {
			return fmt.Errorf("writing save info: %w", err)
		}
		if len(rows.Equipment) > 0 {
			if err := tx.CreateInBatches(rows.Equipment, batchSize).Error; err != nil {
				return fmt.Errorf("writing equipment: %w", err)
			}
		}
		if len(rows.Reservations) > 0 {
			if err := tx.CreateInBatches(rows.Reservations, batchSize).Error; err != nil {
				return fmt.Errorf("writing reservations: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// Load reads the stored document.
func (b *Backend) Load(ctx context.Context) (*persist.Document, error) {
	db := b.db.WithContext(ctx)

	var rows convert.Rows
	err := db.Order("saved_at DESC").First(&rows.Info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, persist.ErrNoSave
	}
	if err != nil {
		return nil, fmt.Errorf("reading save info: %w", err)
	}
	if err := db.Order("id").Find(&rows.Equipment).Error; err != nil {
		return nil, fmt.Errorf("reading equipment: %w", err)
	}
	if err := db.Order("id").Find(&rows.Reservations).Error; err != nil {
		return nil, fmt.Errorf("reading reservations: %w", err)
	}

	doc := convert.RowsToDocument(rows)
	if err := persist.Check(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
