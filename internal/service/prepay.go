package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"go.uber.org/zap"
)

// PrepayFactor returns the currency-per-m3 factor for a prepay of m3.
func (s *LedgerService) PrepayFactor(ctx context.Context, m3 int64) (float64, error) {
	if r := s.validator.ValidatePrepay(m3); !r.IsValid {
		return 0, ledger.NewError(ledger.KindInput, ledger.EntityPrepay, "%s", r.Reason)
	}
	factor, err := s.rates.PrepayFactor(ctx, m3)
	if err != nil {
		return 0, ledger.Wrap(err, ledger.KindGet, ledger.EntityPrepay, "no prepay factor for %d m3", m3)
	}
	return factor, nil
}

// IssuePrepay charges m3 of water in advance for a meter without debt. The
// balance moves exactly once per prepay: here under issuance settlement, in
// PayPrepay otherwise.
func (s *LedgerService) IssuePrepay(ctx context.Context, accountNumber string, m3 int64) (prepay *db.Prepay, err error) {
	defer observe("prepay.issue", time.Now(), &err)

	factor, err := s.PrepayFactor(ctx, m3)
	if err != nil {
		return nil, err
	}

	var balance int64
	err = s.ledger.WithinMeter(ctx, accountNumber, func(tx ledger.MeterTx) error {
		m := tx.Meter()
		if m.Balance > 0 {
			return ledger.NewError(ledger.KindCreation, ledger.EntityPrepay, "meter %s owes %d m3, pay the debt before prepaying", accountNumber, m.Balance)
		}
		p := &db.Prepay{
			Date:    s.now(),
			Balance: m.Balance,
			Prepay:  m3,
			Amount:  ledger.Amount(m3, factor),
			Status:  db.StatusUnpaid,
		}
		balance = m.Balance
		if s.settlement == SettlementIssuance {
			paidAt := p.Date
			p.Status = db.StatusPaid
			p.PaidAt = &paidAt
		}
		if err := tx.InsertPrepay(ctx, p); err != nil {
			return err
		}
		if s.settlement == SettlementIssuance {
			nb, err := tx.AddBalance(ctx, -m3)
			if err != nil {
				return err
			}
			balance = nb
		}
		prepay = p
		return nil
	})
	if err != nil {
		return nil, opError(err, ledger.KindCreation, ledger.EntityPrepay, "cannot issue prepay for meter %s", accountNumber)
	}

	s.logger.Info("prepay issued",
		zap.String("account_number", accountNumber),
		zap.String("prepay_id", prepay.ID.String()),
		zap.Int64("prepay_m3", m3),
		zap.Float64("amount", prepay.Amount),
		zap.String("settlement", string(s.settlement)),
	)
	s.publish(ctx, s.logger, mq.LedgerEvent{
		Type:          mq.EventPrepayIssued,
		AccountNumber: accountNumber,
		EntityID:      prepay.ID.String(),
		Quantity:      m3,
		Amount:        prepay.Amount,
		Balance:       balance,
	})
	return prepay, nil
}

// PayPrepay confirms payment of an Unpaid prepay and applies its balance decrement.
func (s *LedgerService) PayPrepay(ctx context.Context, prepayID uuid.UUID) (prepay *db.Prepay, err error) {
	defer observe("prepay.pay", time.Now(), &err)

	ref, err := s.ledger.GetPrepay(ctx, prepayID)
	if err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityPrepay, "cannot resolve prepay %s", prepayID)
	}

	var balance int64
	err = s.ledger.WithinMeter(ctx, ref.AccountNumber, func(tx ledger.MeterTx) error {
		p, err := tx.Prepay(ctx, prepayID)
		if err != nil {
			return err
		}
		if p.Status != db.StatusUnpaid {
			return ledger.NewError(ledger.KindPayment, ledger.EntityPrepay, "prepay %s is already %s", prepayID, p.Status)
		}
		if err := tx.MarkPrepayPaid(ctx, prepayID); err != nil {
			return err
		}
		nb, err := tx.AddBalance(ctx, -p.Prepay)
		if err != nil {
			return err
		}
		paidAt := s.now()
		p.Status = db.StatusPaid
		p.PaidAt = &paidAt
		prepay, balance = p, nb
		return nil
	})
	if err != nil {
		return nil, opError(err, ledger.KindPayment, ledger.EntityPrepay, "cannot pay prepay %s", prepayID)
	}

	s.logger.Info("prepay paid",
		zap.String("account_number", prepay.AccountNumber),
		zap.String("prepay_id", prepayID.String()),
		zap.Int64("balance", balance),
	)
	s.publish(ctx, s.logger, mq.LedgerEvent{
		Type:          mq.EventPrepayPaid,
		AccountNumber: prepay.AccountNumber,
		EntityID:      prepayID.String(),
		Quantity:      prepay.Prepay,
		Amount:        prepay.Amount,
		Balance:       balance,
	})
	return prepay, nil
}
