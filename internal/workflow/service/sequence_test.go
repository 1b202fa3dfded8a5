package service

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSequenceGenerator_LocksCounterRow(t *testing.T) {
	db, sqlMock := setupTestDB(t)
	gen := NewSequenceGenerator()
	ctx := context.Background()

	sqlMock.ExpectBegin()
	tx := db.Begin()

	sqlMock.ExpectQuery(`SELECT \* FROM "sequence_counters" WHERE prefix = \$1 AND model = \$2 LIMIT \$3 FOR UPDATE`).
		WithArgs("SP2026-", SequenceModelAccession, 1).
		WillReturnRows(sqlmock.NewRows([]string{"prefix", "model", "last_value"}).
			AddRow("SP2026-", SequenceModelAccession, 41))

	sqlMock.ExpectExec(`UPDATE "sequence_counters" SET "last_value"=\$1,"updated_at"=\$2 WHERE prefix = \$3 AND model = \$4`).
		WithArgs(int64(42), sqlmock.AnyArg(), "SP2026-", SequenceModelAccession).
		WillReturnResult(sqlmock.NewResult(0, 1))

	code, err := gen.NextCode(ctx, tx, "SP2026-", SequenceModelAccession, 6)
	require.NoError(t, err)
	assert.Equal(t, "SP2026-000042", code)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestSequenceGenerator_RequiresTransaction(t *testing.T) {
	_, err := NewSequenceGenerator().Next(context.Background(), nil, "SP", SequenceModelAccession)
	assert.Error(t, err)
}

func TestSequenceGenerator_CountersAreIndependent(t *testing.T) {
	db := setupSQLiteDB(t)
	gen := NewSequenceGenerator()
	ctx := context.Background()

	next := func(prefix, modelName string) int64 {
		var v int64
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			v, err = gen.Next(ctx, tx, prefix, modelName)
			return err
		}))
		return v
	}

	assert.Equal(t, int64(1), next("A-", SequenceModelSample))
	assert.Equal(t, int64(2), next("A-", SequenceModelSample))
	assert.Equal(t, int64(1), next("B-", SequenceModelSample))
	assert.Equal(t, int64(1), next("A-", SequenceModelAccession))
	assert.Equal(t, int64(3), next("A-", SequenceModelSample))
}

func TestSequenceGenerator_ConcurrentAllocationsAreUnique(t *testing.T) {
	db := setupSQLiteDB(t)
	gen := NewSequenceGenerator()
	ctx := context.Background()

	const workers = 20
	values := make(chan int64, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				v, err := gen.Next(ctx, tx, "SP2026-", SequenceModelAccession)
				if err != nil {
					return err
				}
				values <- v
				return nil
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(values)
	close(errs)

	for err := range errs {
		t.Fatalf("allocation failed: %v", err)
	}

	seen := make(map[int64]bool, workers)
	for v := range values {
		assert.False(t, seen[v], "duplicate sequence value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, workers)
	for v := int64(1); v <= workers; v++ {
		assert.True(t, seen[v], "missing sequence value %d", v)
	}
}
