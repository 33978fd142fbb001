package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/anomaly"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"github.com/septivank/water-metering-ledger/internal/rates"
	"github.com/septivank/water-metering-ledger/internal/tasks"
	"github.com/septivank/water-metering-ledger/internal/validator"
	"go.uber.org/zap"
)

const (
	testPostpayFactor = 10.0
	testPrepayFactor  = 12.5
)

type notification struct {
	account, title, body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, account, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification{account, title, body})
	return nil
}

func (n *fakeNotifier) last(t *testing.T) notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("Expected a notification, got none")
	}
	return n.sent[len(n.sent)-1]
}

type fakeEvents struct {
	mu     sync.Mutex
	events []mq.LedgerEvent
}

func (e *fakeEvents) Publish(_ context.Context, event mq.LedgerEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeSeries struct {
	mu      sync.Mutex
	written []db.Reading
}

func (f *fakeSeries) RecordConsumption(_ context.Context, r db.Reading, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, r)
	return nil
}

// flakyQueue fails selected operations of an otherwise working queue.
type flakyQueue struct {
	*tasks.MemoryQueue
	failDelete  bool
	failEnqueue bool
}

func (q *flakyQueue) Delete(ctx context.Context, queue, name string) (bool, error) {
	if q.failDelete {
		return false, errors.New("queue backend unavailable")
	}
	return q.MemoryQueue.Delete(ctx, queue, name)
}

func (q *flakyQueue) Enqueue(ctx context.Context, queue string, task tasks.Task) error {
	if q.failEnqueue {
		return errors.New("queue backend unavailable")
	}
	return q.MemoryQueue.Enqueue(ctx, queue, task)
}

type fixture struct {
	svc      *LedgerService
	store    *ledger.MemoryStore
	queue    *flakyQueue
	notifier *fakeNotifier
	events   *fakeEvents
	series   *fakeSeries
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil, opts...)
}

// newFixtureWithStore lets wrap intercept the memory store behind the ledger.
func newFixtureWithStore(t *testing.T, wrap func(*ledger.MemoryStore) ledger.Store, opts ...Option) *fixture {
	t.Helper()

	store := ledger.NewMemoryStore()
	owner := uuid.New()
	store.PutUser(db.User{ID: owner, Email: "owner@example.com", InstallationID: "inst-1"})
	for _, account := range []string{"A1", "A2", "A3"} {
		store.PutMeter(db.Meter{AccountNumber: account, Model: db.ModelAV3Star, OwnerID: &owner})
	}

	src, err := rates.NewStatic(rates.Table{Postpay: testPostpayFactor, Prepay: testPrepayFactor})
	if err != nil {
		t.Fatalf("Failed to build rates: %v", err)
	}

	f := &fixture{
		store:    store,
		queue:    &flakyQueue{MemoryQueue: tasks.NewMemoryQueue()},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		series:   &fakeSeries{},
	}
	opts = append([]Option{
		WithEvents(f.events),
		WithConsumptionRecorder(f.series),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
	}, opts...)
	var backing ledger.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	f.svc = NewLedgerService(
		ledger.New(backing),
		f.queue,
		src,
		f.notifier,
		anomaly.NewDetector(3.0, 3),
		validator.NewValidator(0),
		zap.NewNop(),
		opts...,
	)
	return f
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	m, err := f.store.GetMeter(context.Background(), account)
	if err != nil {
		t.Fatalf("Failed to get meter: %v", err)
	}
	return m.Balance
}

func (f *fixture) readings(t *testing.T, account string) []db.Reading {
	t.Helper()
	rs, err := f.store.ListReadings(context.Background(), account)
	if err != nil {
		t.Fatalf("Failed to list readings: %v", err)
	}
	return rs
}

func (f *fixture) depth(t *testing.T, queue string) int {
	t.Helper()
	n, err := f.queue.Depth(context.Background(), queue)
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	return n
}

// submit enqueues an image and posts an automated result for it.
func (f *fixture) submit(t *testing.T, account, image string, measure int64) *ResultOutcome {
	t.Helper()
	ctx := context.Background()
	task, err := f.svc.EnqueueReading(ctx, account, image, "")
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	out, err := f.svc.CorrelateResult(ctx, ResultInput{TaskName: task.Name, Payload: task.Payload, Measure: measure})
	if err != nil {
		t.Fatalf("Failed to correlate result: %v", err)
	}
	return out
}

// racingStore commits a competing reading for the next task just before the
// caller's transaction inserts its own, as another node would.
type racingStore struct {
	*ledger.MemoryStore
	raceTask    string
	raceMeasure int64
	raced       bool
}

func (s *racingStore) WithinMeter(ctx context.Context, accountNumber string, fn func(tx ledger.MeterTx) error) error {
	if s.raced || s.raceTask == "" {
		return s.MemoryStore.WithinMeter(ctx, accountNumber, fn)
	}
	s.raced = true
	err := s.MemoryStore.WithinMeter(ctx, accountNumber, func(tx ledger.MeterTx) error {
		if err := tx.InsertReading(ctx, &db.Reading{TaskName: s.raceTask, Measure: s.raceMeasure, Consumption: s.raceMeasure}); err != nil {
			return err
		}
		_, err := tx.AddBalance(ctx, s.raceMeasure)
		return err
	})
	if err != nil {
		return err
	}
	return s.MemoryStore.WithinMeter(ctx, accountNumber, func(tx ledger.MeterTx) error {
		return fn(staleTx{tx})
	})
}

// staleTx misses readings committed after the transaction's snapshot.
type staleTx struct {
	ledger.MeterTx
}

func (staleTx) ReadingForTask(context.Context, string) (*db.Reading, error) {
	return nil, nil
}
