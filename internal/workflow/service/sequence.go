package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenPathLab/lims/internal/workflow/model"
)

// Sequence model names.
const (
	SequenceModelAccession = "accession"
	SequenceModelSample    = "sample"
)

// SequenceAllocator hands out gap-tolerant, strictly increasing numbers per (prefix, model).
type SequenceAllocator interface {
	Next(ctx context.Context, tx *gorm.DB, prefix, modelName string) (int64, error)
	NextCode(ctx context.Context, tx *gorm.DB, prefix, modelName string, width int) (string, error)
}

// SequenceGenerator allocates numbers from sequence_counters under a row lock.
// It must run inside the caller's transaction; the lock is held until that
// transaction ends, which serializes concurrent allocations for the same pair.
type SequenceGenerator struct{}

// NewSequenceGenerator creates a new SequenceGenerator.
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{}
}

func (g *SequenceGenerator) lockCounter(ctx context.Context, tx *gorm.DB, prefix, modelName string, counter *model.SequenceCounter) error {
	return tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prefix = ? AND model = ?", prefix, modelName).
		Take(counter).Error
}

// Next returns the next value for (prefix, modelName), creating the counter on first use.
func (g *SequenceGenerator) Next(ctx context.Context, tx *gorm.DB, prefix, modelName string) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("sequence allocation requires a transaction")
	}

	var counter model.SequenceCounter
	err := g.lockCounter(ctx, tx, prefix, modelName, &counter)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Another transaction may create the same row first; DO NOTHING lets us fall
		// through to the locked read and wait on theirs.
		seed := &model.SequenceCounter{Prefix: prefix, Model: modelName, LastValue: 0, UpdatedAt: time.Now().UTC()}
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return 0, fmt.Errorf("failed to create sequence counter %s/%s: %w", prefix, modelName, err)
		}
		err = g.lockCounter(ctx, tx, prefix, modelName, &counter)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock sequence counter %s/%s: %w", prefix, modelName, err)
	}

	next := counter.LastValue + 1
	if err := tx.WithContext(ctx).Model(&model.SequenceCounter{}).
		Where("prefix = ? AND model = ?", prefix, modelName).
		Updates(map[string]any{"last_value": next, "updated_at": time.Now().UTC()}).Error; err != nil {
		return 0, fmt.Errorf("failed to advance sequence counter %s/%s: %w", prefix, modelName, err)
	}
	return next, nil
}

// NextCode formats the next value as prefix followed by the value zero-padded to width.
// A width of zero disables padding.
func (g *SequenceGenerator) NextCode(ctx context.Context, tx *gorm.DB, prefix, modelName string, width int) (string, error) {
	value, err := g.Next(ctx, tx, prefix, modelName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%0*d", prefix, width, value), nil
}
