package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
)

func TestInsertErr(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		exists bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique violation", errors.Join(errors.New("exec"), &pgconn.PgError{Code: "23505"}), true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"connection error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := insertErr(tt.err, "reading")
			if got := errors.Is(err, ledger.ErrAlreadyExists); got != tt.exists {
				t.Errorf("Expected ErrAlreadyExists=%v, got %v (%v)", tt.exists, got, err)
			}
			if !tt.exists && !errors.Is(err, tt.err) {
				t.Errorf("Expected cause to be kept, got %v", err)
			}
		})
	}
}

func setupRepository(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	repo := NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo, pool
}

func createMeter(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	account := "IT-" + uuid.NewString()[:8]
	_, err := pool.Exec(context.Background(),
		`INSERT INTO meters (account_number, balance, model) VALUES ($1, 0, $2)`, account, string(db.ModelAV3Star))
	if err != nil {
		t.Fatalf("insert meter: %v", err)
	}
	return account
}

func TestWithinMeter_LastReadingFollowsInsertOrder(t *testing.T) {
	repo, pool := setupRepository(t)
	ctx := context.Background()
	account := createMeter(t, pool)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// the second reading carries an earlier clock, as from a node running behind
	inserts := []db.Reading{
		{TaskName: "Process--a.jpg", Measure: 10, Consumption: 10, Timestamp: base.Add(100 * time.Second)},
		{TaskName: "Process--b.jpg", Measure: 12, Consumption: 2, Timestamp: base.Add(97 * time.Second)},
	}
	for _, rd := range inserts {
		if err := repo.WithinMeter(ctx, account, func(tx ledger.MeterTx) error {
			return tx.InsertReading(ctx, &rd)
		}); err != nil {
			t.Fatalf("insert reading: %v", err)
		}
	}

	err := repo.WithinMeter(ctx, account, func(tx ledger.MeterTx) error {
		last, err := tx.LastReading(ctx)
		if err != nil {
			return err
		}
		if last == nil || last.Measure != 12 {
			t.Errorf("Expected last reading measure 12, got %+v", last)
		}
		recent, err := tx.RecentConsumptions(ctx, 5)
		if err != nil {
			return err
		}
		if len(recent) != 2 || recent[0] != 2 || recent[1] != 10 {
			t.Errorf("Expected consumptions [2 10], got %v", recent)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinMeter failed: %v", err)
	}

	list, err := repo.ListReadings(ctx, account)
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(list) != 2 || list[0].Measure != 10 || list[1].Measure != 12 {
		t.Errorf("Expected readings in insert order, got %+v", list)
	}
}

func TestWithinMeter_DuplicateTaskIsAlreadyExists(t *testing.T) {
	repo, pool := setupRepository(t)
	ctx := context.Background()
	account := createMeter(t, pool)

	insert := func() error {
		return repo.WithinMeter(ctx, account, func(tx ledger.MeterTx) error {
			if err := tx.InsertReading(ctx, &db.Reading{TaskName: "Process--dup.jpg", Measure: 4, Consumption: 4, Timestamp: time.Now()}); err != nil {
				return err
			}
			_, err := tx.AddBalance(ctx, 4)
			return err
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}

	m, err := repo.GetMeter(ctx, account)
	if err != nil {
		t.Fatalf("get meter: %v", err)
	}
	if m.Balance != 4 {
		t.Errorf("Expected the failed transaction rolled back, balance 4, got %d", m.Balance)
	}
}
