package ledger

import (
	"context"

	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/shopspring/decimal"
)

// Ledger serializes balance updates per meter in process, on top of whatever
// isolation the Store provides. Different meters never share a lock.
type Ledger struct {
	Store
	locks *keyedMutex
}

// New wraps a Store with per-meter single-writer sections
func New(store Store) *Ledger {
	return &Ledger{Store: store, locks: newKeyedMutex()}
}

// WithinMeter holds the meter's lock for the duration of the store transaction.
func (l *Ledger) WithinMeter(ctx context.Context, accountNumber string, fn func(tx MeterTx) error) error {
	unlock := l.locks.Lock(accountNumber)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Store.WithinMeter(ctx, accountNumber, fn)
}

// Consumption returns the m3 consumed since the last reading. Measures are
// cumulative dial values, so with no prior reading the measure is the consumption.
func Consumption(measure int64, last *db.Reading) int64 {
	if last == nil {
		return measure
	}
	return measure - last.Measure
}

// Amount converts an m3 quantity to currency at factor, rounded to cents.
func Amount(quantity int64, factor float64) float64 {
	return decimal.NewFromInt(quantity).
		Mul(decimal.NewFromFloat(factor)).
		Round(2).
		InexactFloat64()
}

// QuantityFor converts a currency amount back to whole m3 at factor.
func QuantityFor(amount float64, factor float64) int64 {
	if factor == 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).
		Div(decimal.NewFromFloat(factor)).
		Round(0).
		IntPart()
}
