package service

import (
	"context"
	"time"

	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/tasks"
)

func parseStatus(entity ledger.Entity, status string) (db.Status, error) {
	switch db.Status(status) {
	case "", db.StatusUnpaid, db.StatusPaid:
		return db.Status(status), nil
	}
	return "", ledger.NewError(ledger.KindInput, entity, "unknown status %q", status)
}

// GetMeter returns a meter with its current balance.
func (s *LedgerService) GetMeter(ctx context.Context, accountNumber string) (*db.Meter, error) {
	m, err := s.ledger.GetMeter(ctx, accountNumber)
	if err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityMeter, "cannot get meter %s", accountNumber)
	}
	return m, nil
}

// ListReadings lists a meter's readings in the order they were applied.
func (s *LedgerService) ListReadings(ctx context.Context, accountNumber string) ([]db.Reading, error) {
	readings, err := s.ledger.ListReadings(ctx, accountNumber)
	if err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityReading, "cannot list readings of meter %s", accountNumber)
	}
	return readings, nil
}

// ListBills lists a meter's bills. An empty status returns all of them.
func (s *LedgerService) ListBills(ctx context.Context, accountNumber, status string) ([]db.Bill, error) {
	st, err := parseStatus(ledger.EntityBill, status)
	if err != nil {
		return nil, err
	}
	bills, err := s.ledger.ListBills(ctx, accountNumber, st)
	if err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityBill, "cannot list bills of meter %s", accountNumber)
	}
	return bills, nil
}

// ListPrepays lists a meter's prepays. An empty status returns all of them.
func (s *LedgerService) ListPrepays(ctx context.Context, accountNumber, status string) ([]db.Prepay, error) {
	st, err := parseStatus(ledger.EntityPrepay, status)
	if err != nil {
		return nil, err
	}
	prepays, err := s.ledger.ListPrepays(ctx, accountNumber, st)
	if err != nil {
		return nil, opError(err, ledger.KindGet, ledger.EntityPrepay, "cannot list prepays of meter %s", accountNumber)
	}
	return prepays, nil
}

// LeaseTasks hands out up to max visible tasks of queue to an external worker.
func (s *LedgerService) LeaseTasks(ctx context.Context, queue string, max int, leaseFor time.Duration) ([]tasks.Task, error) {
	if !tasks.KnownQueue(queue) {
		return nil, ledger.NewError(ledger.KindInput, ledger.EntityTask, "unknown queue %q", queue)
	}
	if max <= 0 || leaseFor <= 0 {
		return nil, ledger.NewError(ledger.KindInput, ledger.EntityTask, "lease needs a positive count and duration")
	}
	leased, err := s.queue.Lease(ctx, queue, max, leaseFor)
	if err != nil {
		return nil, ledger.Wrap(err, ledger.KindTask, ledger.EntityTask, "cannot lease from %s", queue)
	}
	s.observeDepth(ctx, queue)
	return leased, nil
}

// DeleteTask acknowledges a task. It reports false when the task was already gone.
func (s *LedgerService) DeleteTask(ctx context.Context, queue, name string) (bool, error) {
	if !tasks.KnownQueue(queue) {
		return false, ledger.NewError(ledger.KindInput, ledger.EntityTask, "unknown queue %q", queue)
	}
	deleted, err := s.queue.Delete(ctx, queue, name)
	if err != nil {
		return false, ledger.Wrap(err, ledger.KindTask, ledger.EntityTask, "cannot delete task %s from %s", name, queue)
	}
	s.observeDepth(ctx, queue)
	return deleted, nil
}
