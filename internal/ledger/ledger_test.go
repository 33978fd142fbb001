package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
)

func seededStore(accounts ...string) *MemoryStore {
	s := NewMemoryStore()
	for _, a := range accounts {
		s.PutMeter(db.Meter{AccountNumber: a, Model: db.ModelAV3Star})
	}
	return s
}

func TestConsumption(t *testing.T) {
	if got := Consumption(12, nil); got != 12 {
		t.Errorf("Expected first reading to consume its measure, got %d", got)
	}
	if got := Consumption(12, &db.Reading{Measure: 20}); got != -8 {
		t.Errorf("Expected -8, got %d", got)
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		quantity int64
		factor   float64
		expected float64
	}{
		{10, 12, 120},
		{3, 0.1, 0.3},
		{7, 1.005, 7.04},
		{0, 12, 0},
	}
	for _, tt := range tests {
		if got := Amount(tt.quantity, tt.factor); got != tt.expected {
			t.Errorf("Amount(%d, %v) = %v, expected %v", tt.quantity, tt.factor, got, tt.expected)
		}
	}
}

func TestQuantityFor(t *testing.T) {
	if got := QuantityFor(125.5, 10); got != 13 {
		t.Errorf("Expected 13, got %d", got)
	}
	if got := QuantityFor(120, 12); got != 10 {
		t.Errorf("Expected 10, got %d", got)
	}
	if got := QuantityFor(50, 0); got != 0 {
		t.Errorf("Expected 0 for zero factor, got %d", got)
	}
}

func TestWithinMeter_DiscardsOnError(t *testing.T) {
	s := seededStore("A1")
	l := New(s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := l.WithinMeter(ctx, "A1", func(tx MeterTx) error {
		if err := tx.InsertReading(ctx, &db.Reading{TaskName: "t1", Measure: 5, Consumption: 5}); err != nil {
			return err
		}
		if _, err := tx.AddBalance(ctx, 5); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	m, _ := s.GetMeter(ctx, "A1")
	if m.Balance != 0 {
		t.Errorf("Expected balance rolled back to 0, got %d", m.Balance)
	}
	readings, _ := s.ListReadings(ctx, "A1")
	if len(readings) != 0 {
		t.Errorf("Expected no readings, got %d", len(readings))
	}
}

func TestWithinMeter_Commits(t *testing.T) {
	s := seededStore("A1")
	l := New(s)
	ctx := context.Background()

	var billID uuid.UUID
	err := l.WithinMeter(ctx, "A1", func(tx MeterTx) error {
		if err := tx.InsertReading(ctx, &db.Reading{TaskName: "t1", Measure: 5, Consumption: 5}); err != nil {
			return err
		}
		nb, err := tx.AddBalance(ctx, 5)
		if err != nil {
			return err
		}
		if tx.Meter().Balance != nb {
			t.Errorf("Expected snapshot to follow AddBalance")
		}
		b := &db.Bill{Balance: nb, Status: db.StatusUnpaid}
		if err := tx.InsertBill(ctx, b); err != nil {
			return err
		}
		billID = b.ID
		// Reads inside the transaction see staged writes
		last, _ := tx.LastReading(ctx)
		if last == nil || last.Measure != 5 {
			t.Errorf("Expected staged reading to be visible, got %+v", last)
		}
		return tx.MarkBillPaid(ctx, billID)
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	m, _ := s.GetMeter(ctx, "A1")
	if m.Balance != 5 {
		t.Errorf("Expected balance 5, got %d", m.Balance)
	}
	b, err := s.GetBill(ctx, billID)
	if err != nil {
		t.Fatalf("Expected bill to be stored: %v", err)
	}
	if b.Status != db.StatusPaid || b.AccountNumber != "A1" {
		t.Errorf("Unexpected bill: %+v", b)
	}
}

func TestWithinMeter_DuplicateTask(t *testing.T) {
	s := seededStore("A1")
	ctx := context.Background()

	insert := func(tx MeterTx) error {
		return tx.InsertReading(ctx, &db.Reading{TaskName: "same", Measure: 1, Consumption: 1})
	}
	if err := s.WithinMeter(ctx, "A1", insert); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.WithinMeter(ctx, "A1", insert); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestWithinMeter_ForeignBill(t *testing.T) {
	s := seededStore("A1", "A2")
	ctx := context.Background()

	var id uuid.UUID
	_ = s.WithinMeter(ctx, "A1", func(tx MeterTx) error {
		b := &db.Bill{Status: db.StatusUnpaid}
		err := tx.InsertBill(ctx, b)
		id = b.ID
		return err
	})

	err := s.WithinMeter(ctx, "A2", func(tx MeterTx) error {
		_, err := tx.Bill(ctx, id)
		return err
	})
	if !IsNotFound(err) {
		t.Errorf("Expected bill of another meter to be invisible, got %v", err)
	}
}

func TestWithinMeter_UnknownMeter(t *testing.T) {
	l := New(NewMemoryStore())

	err := l.WithinMeter(context.Background(), "NOPE", func(MeterTx) error { return nil })
	if !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
	if n := l.locks.held(); n != 0 {
		t.Errorf("Expected lock to be released, %d held", n)
	}
}

func TestWithinMeter_CancelledContext(t *testing.T) {
	l := New(seededStore("A1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := l.WithinMeter(ctx, "A1", func(MeterTx) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("Expected cancellation before fn runs, got %v (called=%v)", err, called)
	}
}

func TestWithinMeter_Serializes(t *testing.T) {
	s := seededStore("A1", "A2")
	l := New(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := "A1"
			if i%2 == 1 {
				account = "A2"
			}
			_ = l.WithinMeter(ctx, account, func(tx MeterTx) error {
				_, err := tx.AddBalance(ctx, 1)
				return err
			})
		}(i)
	}
	wg.Wait()

	for _, a := range []string{"A1", "A2"} {
		m, _ := s.GetMeter(ctx, a)
		if m.Balance != 25 {
			t.Errorf("Expected %s balance 25, got %d", a, m.Balance)
		}
	}
	if n := l.locks.held(); n != 0 {
		t.Errorf("Expected all locks released, %d held", n)
	}
}

func TestInsertBills(t *testing.T) {
	s := seededStore("A1")
	ctx := context.Background()

	bills := []db.Bill{
		{ID: uuid.New(), AccountNumber: "A1", Status: db.StatusPaid},
		{ID: uuid.New(), AccountNumber: "A1", Status: db.StatusPaid},
	}
	if err := s.InsertBills(ctx, bills); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.InsertBills(ctx, bills[:1]); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Expected duplicate id to fail, got %v", err)
	}
	listed, _ := s.ListBills(ctx, "A1", db.StatusPaid)
	if len(listed) != 2 {
		t.Errorf("Expected 2 bills, got %d", len(listed))
	}
	unpaid, _ := s.ListBills(ctx, "A1", db.StatusUnpaid)
	if len(unpaid) != 0 {
		t.Errorf("Expected no unpaid bills, got %d", len(unpaid))
	}
}

func TestError(t *testing.T) {
	cause := fmt.Errorf("meter X: %w", ErrNotFound)
	err := Wrap(cause, KindGet, EntityMeter, "cannot get meter %s", "X")

	if err.Error() != "[Meter] get error: cannot get meter X: meter X: ledger: not found" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !IsNotFound(err) {
		t.Error("Expected wrapped not found to be detected")
	}
	outer := fmt.Errorf("handler: %w", err)
	if KindOf(outer) != KindGet {
		t.Errorf("Expected KindGet through wrapping, got %s", KindOf(outer))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("Expected unknown kind for plain errors")
	}
}
