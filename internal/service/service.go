package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/water-metering-ledger/internal/anomaly"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/metrics"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"github.com/septivank/water-metering-ledger/internal/tasks"
	"github.com/septivank/water-metering-ledger/internal/validator"
	"go.uber.org/zap"
)

// Settlement selects when a Prepay moves the meter balance.
type Settlement string

const (
	// SettlementPayment creates Prepays Unpaid and decrements the balance on PayPrepay.
	SettlementPayment Settlement = "payment"
	// SettlementIssuance creates Prepays Paid and decrements the balance immediately.
	SettlementIssuance Settlement = "issuance"
)

// ParseSettlement maps a config value to a Settlement.
func ParseSettlement(s string) (Settlement, error) {
	switch Settlement(s) {
	case "", SettlementPayment:
		return SettlementPayment, nil
	case SettlementIssuance:
		return SettlementIssuance, nil
	}
	return "", fmt.Errorf("unknown prepay settlement %q", s)
}

// RateSource supplies currency-per-m3 factors.
type RateSource interface {
	PostpayFactor(ctx context.Context, accountNumber string) (float64, error)
	PrepayFactor(ctx context.Context, m3 int64) (float64, error)
}

// Notifier delivers a push message to the owner of a meter.
type Notifier interface {
	Notify(ctx context.Context, accountNumber, title, body string) error
}

// EventPublisher publishes ledger events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, event mq.LedgerEvent) error
}

// ConsumptionRecorder stores applied readings as a time series.
type ConsumptionRecorder interface {
	RecordConsumption(ctx context.Context, reading db.Reading, class string) error
}

// LedgerService runs the reading pipeline and the billing and prepay engines
// against one ledger. Only this service mutates meter balances.
type LedgerService struct {
	ledger    *ledger.Ledger
	queue     tasks.Queue
	rates     RateSource
	notifier  Notifier
	detector  *anomaly.Detector
	validator *validator.Validator
	logger    *zap.Logger

	events        EventPublisher
	series        ConsumptionRecorder
	settlement    Settlement
	historyWindow int
	now           func() time.Time
}

// Option configures optional collaborators of a LedgerService.
type Option func(*LedgerService)

// WithEvents publishes ledger events through p.
func WithEvents(p EventPublisher) Option {
	return func(s *LedgerService) { s.events = p }
}

// WithConsumptionRecorder writes applied readings to r.
func WithConsumptionRecorder(r ConsumptionRecorder) Option {
	return func(s *LedgerService) { s.series = r }
}

// WithSettlement selects the prepay settlement mode.
func WithSettlement(m Settlement) Option {
	return func(s *LedgerService) { s.settlement = m }
}

// WithHistoryWindow sets how many recent consumptions feed spike detection.
func WithHistoryWindow(n int) Option {
	return func(s *LedgerService) {
		if n > 0 {
			s.historyWindow = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	l *ledger.Ledger,
	queue tasks.Queue,
	rates RateSource,
	notifier Notifier,
	detector *anomaly.Detector,
	validator *validator.Validator,
	logger *zap.Logger,
	opts ...Option,
) *LedgerService {
	s := &LedgerService{
		ledger:        l,
		queue:         queue,
		rates:         rates,
		notifier:      notifier,
		detector:      detector,
		validator:     validator,
		logger:        logger,
		settlement:    SettlementPayment,
		historyWindow: 10,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settlement returns the configured prepay settlement mode.
func (s *LedgerService) Settlement() Settlement {
	return s.settlement
}

// publish sends event when a publisher is configured. Failures are logged only.
func (s *LedgerService) publish(ctx context.Context, logger *zap.Logger, event mq.LedgerEvent) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		metrics.IncSideEffectFailure("event")
		logger.Warn("failed to publish ledger event",
			zap.Error(err),
			zap.String("type", event.Type),
		)
	}
}

// notify pushes a message and returns a warning string on failure, "" otherwise.
func (s *LedgerService) notify(ctx context.Context, logger *zap.Logger, accountNumber, title, body string) string {
	if s.notifier == nil {
		return ""
	}
	if err := s.notifier.Notify(ctx, accountNumber, title, body); err != nil {
		metrics.IncSideEffectFailure("notification")
		logger.Warn("failed to send notification",
			zap.Error(err),
			zap.String("title", title),
		)
		return "notification not delivered: " + err.Error()
	}
	return ""
}

// opError gives a lower level fault an entity-specific kind. Errors that
// already carry a kind pass through; missing records become get errors.
func opError(err error, kind ledger.Kind, entity ledger.Entity, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var le *ledger.Error
	if errors.As(err, &le) {
		return err
	}
	if ledger.IsNotFound(err) {
		return ledger.Wrap(err, ledger.KindGet, entity, format, args...)
	}
	return ledger.Wrap(err, kind, entity, format, args...)
}

func observe(operation string, start time.Time, err *error) {
	metrics.ObserveOperation(operation, metrics.Result(*err), time.Since(start))
}
