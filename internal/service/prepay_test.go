package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
)

func TestIssuePrepay_FailsWithDebt(t *testing.T) {
	f := newFixture(t)

	f.submit(t, "A1", "img.jpg", 3)
	if _, err := f.svc.IssuePrepay(context.Background(), "A1", 10); !ledger.IsKind(err, ledger.KindCreation) {
		t.Errorf("Expected creation error with positive balance, got %v", err)
	}
	prepays, _ := f.store.ListPrepays(context.Background(), "A1", "")
	if len(prepays) != 0 {
		t.Errorf("Expected no prepay, got %d", len(prepays))
	}
}

func TestIssuePrepay_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.IssuePrepay(context.Background(), "A1", 0); !ledger.IsKind(err, ledger.KindInput) {
		t.Errorf("Expected input error, got %v", err)
	}
}

func TestPrepay_PaymentSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.IssuePrepay(ctx, "A1", 8)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Status != db.StatusUnpaid || p.Prepay != 8 || p.Balance != 0 {
		t.Errorf("Unexpected prepay: %+v", p)
	}
	if p.Amount != 100 {
		t.Errorf("Expected amount 8 x 12.5 = 100, got %v", p.Amount)
	}
	if got := f.balance(t, "A1"); got != 0 {
		t.Errorf("Expected balance untouched before payment, got %d", got)
	}

	paid, err := f.svc.PayPrepay(ctx, p.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if paid.Status != db.StatusPaid {
		t.Errorf("Expected Paid, got %s", paid.Status)
	}
	if got := f.balance(t, "A1"); got != -8 {
		t.Errorf("Expected balance -8 after payment, got %d", got)
	}

	if _, err := f.svc.PayPrepay(ctx, p.ID); !ledger.IsKind(err, ledger.KindPayment) {
		t.Errorf("Expected payment error on second payment, got %v", err)
	}
	if got := f.balance(t, "A1"); got != -8 {
		t.Errorf("Expected balance to move once, got %d", got)
	}
}

func TestPrepay_IssuanceSettlement(t *testing.T) {
	f := newFixture(t, WithSettlement(SettlementIssuance))
	ctx := context.Background()

	p, err := f.svc.IssuePrepay(ctx, "A1", 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Status != db.StatusPaid || p.PaidAt == nil {
		t.Errorf("Expected prepay settled at issuance, got %+v", p)
	}
	if got := f.balance(t, "A1"); got != -4 {
		t.Errorf("Expected balance -4, got %d", got)
	}

	if _, err := f.svc.PayPrepay(ctx, p.ID); !ledger.IsKind(err, ledger.KindPayment) {
		t.Errorf("Expected payment error, got %v", err)
	}
	if got := f.balance(t, "A1"); got != -4 {
		t.Errorf("Expected balance to move once, got %d", got)
	}

	// Credit can be stacked while the balance stays non-positive
	if _, err := f.svc.IssuePrepay(ctx, "A1", 6); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := f.balance(t, "A1"); got != -10 {
		t.Errorf("Expected balance -10, got %d", got)
	}
}

func TestPrepay_ReadingsConsumeCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, _ := f.svc.IssuePrepay(ctx, "A1", 10)
	_, _ = f.svc.PayPrepay(ctx, p.ID)
	f.submit(t, "A1", "img.jpg", 4)

	if got := f.balance(t, "A1"); got != -6 {
		t.Errorf("Expected balance -6, got %d", got)
	}
	if _, err := f.svc.IssueBill(ctx, "A1"); !ledger.IsKind(err, ledger.KindCreation) {
		t.Errorf("Expected nothing to bill while in credit, got %v", err)
	}
}

func TestPayPrepay_UnknownPrepay(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.PayPrepay(context.Background(), uuid.New()); !ledger.IsKind(err, ledger.KindGet) {
		t.Errorf("Expected get error, got %v", err)
	}
}

func TestPrepayFactor(t *testing.T) {
	f := newFixture(t)

	factor, err := f.svc.PrepayFactor(context.Background(), 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if factor != testPrepayFactor {
		t.Errorf("Expected %v, got %v", testPrepayFactor, factor)
	}
	if _, err := f.svc.PrepayFactor(context.Background(), -1); !ledger.IsKind(err, ledger.KindInput) {
		t.Errorf("Expected input error, got %v", err)
	}
}

func TestParseSettlement(t *testing.T) {
	if m, err := ParseSettlement(""); err != nil || m != SettlementPayment {
		t.Errorf("Expected payment default, got %s %v", m, err)
	}
	if m, err := ParseSettlement("issuance"); err != nil || m != SettlementIssuance {
		t.Errorf("Expected issuance, got %s %v", m, err)
	}
	if _, err := ParseSettlement("later"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
