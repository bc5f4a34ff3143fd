package journal

import (
	"context"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

// GormSink writes journal rows to a SQL database through gorm.
type GormSink struct {
	db        *gorm.DB
	batchSize int
}

// NewGormSink creates the sink. Call Migrate once before writing.
func NewGormSink(db *gorm.DB, batchSize int) *GormSink {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &GormSink{db: db, batchSize: batchSize}
}

// Migrate creates or updates the journal tables.
func (s *GormSink) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&CommandRow{}, &FillRow{}); err != nil {
		return errors.Wrap(err, "migrate journal tables")
	}
	return nil
}

// Write inserts both batches in one transaction.
func (s *GormSink) Write(ctx context.Context, commands []CommandRow, fills []FillRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(commands) > 0 {
			if err := tx.CreateInBatches(&commands, s.batchSize).Error; err != nil {
				return errors.Wrap(err, "insert journal commands")
			}
		}
		if len(fills) > 0 {
			if err := tx.CreateInBatches(&fills, s.batchSize).Error; err != nil {
				return errors.Wrap(err, "insert journal fills")
			}
		}
		return nil
	})
}
