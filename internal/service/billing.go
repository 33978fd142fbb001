package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"github.com/septivank/water-metering-ledger/tools/timeparser"
	"go.uber.org/zap"
)

// historyFutureToleranceMinutes is how far ahead of the local clock an imported bill date may be.
const historyFutureToleranceMinutes = 24 * 60

// IssueBill converts a positive meter balance into an Unpaid bill and brings
// the balance to zero in the same transaction.
func (s *LedgerService) IssueBill(ctx context.Context, accountNumber string) (bill *db.Bill, err error) {
	defer observe("bill.issue", time.Now(), &err)

	factor, err := s.rates.PostpayFactor(ctx, accountNumber)
	if err != nil {
		return nil, ledger.Wrap(err, ledger.KindCreation, ledger.EntityBill, "no postpay factor for meter %s", accountNumber)
	}

	var balance int64
	err = s.ledger.WithinMeter(ctx, accountNumber, func(tx ledger.MeterTx) error {
		m := tx.Meter()
		if m.Balance <= 0 {
			return ledger.NewError(ledger.KindCreation, ledger.EntityBill, "nothing to bill: meter %s balance is %d", accountNumber, m.Balance)
		}
		b := &db.Bill{
			Date:    s.now(),
			Balance: m.Balance,
			Amount:  ledger.Amount(m.Balance, factor),
			Status:  db.StatusUnpaid,
		}
		if err := tx.InsertBill(ctx, b); err != nil {
			return err
		}
		nb, err := tx.AddBalance(ctx, -m.Balance)
		if err != nil {
			return err
		}
		bill, balance = b, nb
		return nil
	})
	if err != nil {
		return nil, opError(err, ledger.KindCreation, ledger.EntityBill, "cannot issue bill for meter %s", accountNumber)
	}

	s.logger.Info("bill issued",
		zap.String("account_number", accountNumber),
		zap.String("bill_id", bill.ID.String()),
		zap.Int64("billed_m3", bill.Balance),
		zap.Float64("amount", bill.Amount),
	)
	s.publish(ctx, s.logger, mq.LedgerEvent{
		Type:          mq.EventBillIssued,
		AccountNumber: accountNumber,
		EntityID:      bill.ID.String(),
		Quantity:      bill.Balance,
		Amount:        bill.Amount,
		Balance:       balance,
	})
	return bill, nil
}

// PayBill marks an Unpaid bill as Paid. The balance already moved at issuance.
func (s *LedgerService) PayBill(ctx context.Context, billID uuid.UUID) (bill *db.Bill, err error) {
	defer observe("bill.pay", time.Now(), &err)

	ref, err := s.ledger.GetBill(ctx, billID)
	if err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityBill, "cannot resolve bill %s", billID)
	}

	var balance int64
	err = s.ledger.WithinMeter(ctx, ref.AccountNumber, func(tx ledger.MeterTx) error {
		b, err := tx.Bill(ctx, billID)
		if err != nil {
			return err
		}
		if b.Status != db.StatusUnpaid {
			return ledger.NewError(ledger.KindPayment, ledger.EntityBill, "bill %s is already %s", billID, b.Status)
		}
		if err := tx.MarkBillPaid(ctx, billID); err != nil {
			return err
		}
		paidAt := s.now()
		b.Status = db.StatusPaid
		b.PaidAt = &paidAt
		bill, balance = b, tx.Meter().Balance
		return nil
	})
	if err != nil {
		return nil, opError(err, ledger.KindPayment, ledger.EntityBill, "cannot pay bill %s", billID)
	}

	s.logger.Info("bill paid",
		zap.String("account_number", bill.AccountNumber),
		zap.String("bill_id", billID.String()),
	)
	s.publish(ctx, s.logger, mq.LedgerEvent{
		Type:          mq.EventBillPaid,
		AccountNumber: bill.AccountNumber,
		EntityID:      billID.String(),
		Quantity:      bill.Balance,
		Amount:        bill.Amount,
		Balance:       balance,
	})
	return bill, nil
}

// ImportHistory seeds a meter with Paid bills from an external billing
// export keyed by date. It never touches the balance.
func (s *LedgerService) ImportHistory(ctx context.Context, accountNumber string, history map[string]float64) (bills []db.Bill, err error) {
	defer observe("bill.import", time.Now(), &err)

	if len(history) == 0 {
		return nil, ledger.NewError(ledger.KindInput, ledger.EntityBill, "empty billing history for meter %s", accountNumber)
	}
	if _, err := s.ledger.GetMeter(ctx, accountNumber); err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityMeter, "cannot import history for meter %s", accountNumber)
	}
	factor, err := s.rates.PostpayFactor(ctx, accountNumber)
	if err != nil {
		return nil, ledger.Wrap(err, ledger.KindCreation, ledger.EntityBill, "no postpay factor for meter %s", accountNumber)
	}

	now := s.now()
	bills = make([]db.Bill, 0, len(history))
	for raw, amount := range history {
		date, err := timeparser.ParseBillingDate(raw)
		if err != nil {
			return nil, ledger.Wrap(err, ledger.KindInput, ledger.EntityBill, "invalid history date")
		}
		if date.After(now) && !timeparser.IsWithinTolerance(date, now, historyFutureToleranceMinutes) {
			return nil, ledger.NewError(ledger.KindInput, ledger.EntityBill, "history date %s is in the future", raw)
		}
		if amount < 0 {
			return nil, ledger.NewError(ledger.KindInput, ledger.EntityBill, "negative amount %.2f on %s", amount, raw)
		}
		paidAt := date
		bills = append(bills, db.Bill{
			ID:            uuid.New(),
			AccountNumber: accountNumber,
			Date:          date,
			Balance:       ledger.QuantityFor(amount, factor),
			Amount:        amount,
			Status:        db.StatusPaid,
			PaidAt:        &paidAt,
		})
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].Date.Before(bills[j].Date) })

	if err := s.ledger.InsertBills(ctx, bills); err != nil {
		return nil, opError(err, ledger.KindCreation, ledger.EntityBill, "cannot import history for meter %s", accountNumber)
	}

	s.logger.Info("billing history imported",
		zap.String("account_number", accountNumber),
		zap.Int("bills", len(bills)),
	)
	return bills, nil
}
