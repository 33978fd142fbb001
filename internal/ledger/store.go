package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
)

// Store is the authoritative keyed record store for meters, readings, bills and prepays.
// Read accessors never lock. All balance changes go through WithinMeter.
type Store interface {
	GetMeter(ctx context.Context, accountNumber string) (*db.Meter, error)
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetBill(ctx context.Context, id uuid.UUID) (*db.Bill, error)
	GetPrepay(ctx context.Context, id uuid.UUID) (*db.Prepay, error)

	ListReadings(ctx context.Context, accountNumber string) ([]db.Reading, error)
	ListBills(ctx context.Context, accountNumber string, status db.Status) ([]db.Bill, error)
	ListPrepays(ctx context.Context, accountNumber string, status db.Status) ([]db.Prepay, error)

	// InsertBills appends bills that carry no balance side effect (history import).
	InsertBills(ctx context.Context, bills []db.Bill) error

	// WithinMeter runs fn in one transaction holding the meter row. Writes made through
	// the MeterTx commit together when fn returns nil and are discarded otherwise.
	WithinMeter(ctx context.Context, accountNumber string, fn func(tx MeterTx) error) error
}

// MeterTx is the view of one meter inside a WithinMeter transaction.
type MeterTx interface {
	// Meter returns the meter snapshot as of the last AddBalance.
	Meter() db.Meter

	LastReading(ctx context.Context) (*db.Reading, error)
	ReadingForTask(ctx context.Context, taskName string) (*db.Reading, error)
	RecentConsumptions(ctx context.Context, limit int) ([]int64, error)
	Bill(ctx context.Context, id uuid.UUID) (*db.Bill, error)
	Prepay(ctx context.Context, id uuid.UUID) (*db.Prepay, error)

	InsertReading(ctx context.Context, r *db.Reading) error
	InsertBill(ctx context.Context, b *db.Bill) error
	InsertPrepay(ctx context.Context, p *db.Prepay) error
	MarkBillPaid(ctx context.Context, id uuid.UUID) error
	MarkPrepayPaid(ctx context.Context, id uuid.UUID) error

	// AddBalance is the only balance mutator. It returns the new balance.
	AddBalance(ctx context.Context, delta int64) (int64, error)
}
