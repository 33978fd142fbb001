package service

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/water-metering-ledger/internal/anomaly"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/logging"
	"github.com/septivank/water-metering-ledger/internal/metrics"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"github.com/septivank/water-metering-ledger/internal/notify"
	"github.com/septivank/water-metering-ledger/internal/tasks"
	"go.uber.org/zap"
)

// Outcome is the terminal state of a correlated OCR result.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeNegative    Outcome = "negative_consumption"
	OutcomeOCRError    Outcome = "ocr_error"
	OutcomeReviewError Outcome = "review_error"
)

// ResultInput is an OCR result as posted by the external worker or a human reviewer.
type ResultInput struct {
	TaskName string
	Payload  string
	Measure  int64
	Error    string
	Human    bool
}

// ResultOutcome describes what CorrelateResult did.
type ResultOutcome struct {
	Outcome       Outcome
	AccountNumber string
	Image         string
	Reading       *db.Reading
	Consumption   int64
	Balance       int64
	// Flag is set to the anomaly class when an applied reading looks unusual.
	Flag     string
	Warnings []string
}

func (o *ResultOutcome) warn(w string) {
	if w != "" {
		o.Warnings = append(o.Warnings, w)
	}
}

// EnqueueReading creates the processing task for a new meter image. An empty
// queue means image-processing.
func (s *LedgerService) EnqueueReading(ctx context.Context, accountNumber, image, queue string) (task tasks.Task, err error) {
	defer observe("reading.enqueue", time.Now(), &err)

	if queue == "" {
		queue = tasks.QueueImageProcessing
	}
	if !tasks.KnownQueue(queue) {
		return tasks.Task{}, ledger.NewError(ledger.KindInput, ledger.EntityTask, "unknown queue %q", queue)
	}
	if r := s.validator.ValidateImage(accountNumber, image); !r.IsValid {
		return tasks.Task{}, ledger.NewError(ledger.KindInput, ledger.EntityTask, "%s", r.Reason)
	}
	if _, err := s.ledger.GetMeter(ctx, accountNumber); err != nil {
		return tasks.Task{}, opError(err, ledger.KindGet, ledger.EntityMeter, "cannot enqueue image for meter %s", accountNumber)
	}

	task = tasks.NewTask(accountNumber, image)
	if err := s.queue.Enqueue(ctx, queue, task); err != nil {
		return tasks.Task{}, ledger.Wrap(err, ledger.KindTask, ledger.EntityTask, "cannot create task %s in %s", task.Name, queue)
	}
	task.Queue = queue

	s.logger.Info("reading task enqueued",
		zap.String("task_name", task.Name),
		zap.String("queue", queue),
		zap.String("account_number", accountNumber),
	)
	s.observeDepth(ctx, queue)
	return task, nil
}

// CorrelateResult applies an OCR result to the ledger or reroutes it for
// rework. When a queue operation fails after the ledger committed, the outcome
// is returned together with a task error; the ledger change stays.
func (s *LedgerService) CorrelateResult(ctx context.Context, in ResultInput) (out *ResultOutcome, err error) {
	defer observe("reading.result", time.Now(), &err)

	accountNumber, image, err := tasks.ParsePayload(in.Payload)
	if err != nil {
		return nil, err
	}
	if want := tasks.TaskName(image); in.TaskName != want {
		return nil, ledger.NewError(ledger.KindInput, ledger.EntityTask, "task name %q does not match payload %q, expected %q", in.TaskName, in.Payload, want)
	}
	logger := logging.WithTask(s.logger, in.TaskName, accountNumber).With(zap.Bool("human", in.Human))
	logger.Info("correlating OCR result",
		zap.Int64("measure", in.Measure),
		zap.String("error", in.Error),
	)

	out = &ResultOutcome{AccountNumber: accountNumber, Image: image}
	defer func() {
		if out != nil && out.Outcome != "" {
			metrics.IncReadingOutcome(string(out.Outcome), out.Consumption)
		}
	}()

	if in.Error != "" {
		return s.handleOCRError(ctx, logger, in, out)
	}

	if r := s.validator.ValidateMeasure(in.Measure); !r.IsValid {
		return nil, ledger.NewError(ledger.KindInput, ledger.EntityReading, "%s", r.Reason)
	}

	var class anomaly.Class
	err = s.ledger.WithinMeter(ctx, accountNumber, func(tx ledger.MeterTx) error {
		existing, err := tx.ReadingForTask(ctx, in.TaskName)
		if err != nil {
			return err
		}
		if existing != nil {
			out.Outcome = OutcomeDuplicate
			out.Reading = existing
			out.Balance = tx.Meter().Balance
			return nil
		}

		last, err := tx.LastReading(ctx)
		if err != nil {
			return err
		}
		consumption := ledger.Consumption(in.Measure, last)
		history, err := tx.RecentConsumptions(ctx, s.historyWindow)
		if err != nil {
			return err
		}
		var reason string
		class, reason = s.detector.Classify(consumption, history)
		out.Consumption = consumption

		if class == anomaly.ClassNegative {
			out.Outcome = OutcomeNegative
			out.Balance = tx.Meter().Balance
			logger.Warn("negative consumption, reading rejected",
				zap.Int64("consumption", consumption),
				zap.String("reason", reason),
			)
			return nil
		}
		if class == anomaly.ClassSpike {
			out.Flag = string(class)
			logger.Warn("consumption spike", zap.String("reason", reason))
		}

		reading := &db.Reading{
			TaskName:    in.TaskName,
			Measure:     in.Measure,
			Consumption: consumption,
			Human:       in.Human,
			Timestamp:   s.now(),
		}
		if err := tx.InsertReading(ctx, reading); err != nil {
			return err
		}
		balance, err := tx.AddBalance(ctx, consumption)
		if err != nil {
			return err
		}
		out.Outcome = OutcomeApplied
		out.Reading = reading
		out.Balance = balance
		return nil
	})
	if errors.Is(err, ledger.ErrAlreadyExists) {
		// a concurrent delivery of the same task committed first
		out, err = s.committedDuplicate(ctx, accountNumber, image, in.TaskName)
	}
	if err != nil {
		out = nil
		return nil, opError(err, ledger.KindCreation, ledger.EntityReading, "cannot apply reading for meter %s", accountNumber)
	}

	switch out.Outcome {
	case OutcomeNegative:
		return s.rerouteNegative(ctx, logger, in, out)
	case OutcomeDuplicate:
		logger.Info("duplicate result, balance not credited again")
		return out, s.finishAutomated(ctx, in)
	}

	logger.Info("reading applied",
		zap.Int64("consumption", out.Consumption),
		zap.Int64("balance", out.Balance),
	)
	if s.series != nil {
		if err := s.series.RecordConsumption(ctx, *out.Reading, string(class)); err != nil {
			metrics.IncSideEffectFailure("timeseries")
			logger.Warn("failed to record consumption", zap.Error(err))
		}
	}
	s.publish(ctx, logger, mq.LedgerEvent{
		Type:          mq.EventReadingApplied,
		AccountNumber: accountNumber,
		EntityID:      out.Reading.ID.String(),
		TaskName:      in.TaskName,
		Quantity:      out.Consumption,
		Balance:       out.Balance,
		Flag:          out.Flag,
	})

	if err := s.finishAutomated(ctx, in); err != nil {
		return out, err
	}
	out.warn(s.notify(ctx, logger, accountNumber, notify.TitleNewReading, notify.NewReadingBody(in.Measure)))
	return out, nil
}

// committedDuplicate reports the reading another delivery stored for taskName
// together with the balance that followed it.
func (s *LedgerService) committedDuplicate(ctx context.Context, accountNumber, image, taskName string) (*ResultOutcome, error) {
	out := &ResultOutcome{Outcome: OutcomeDuplicate, AccountNumber: accountNumber, Image: image}
	err := s.ledger.WithinMeter(ctx, accountNumber, func(tx ledger.MeterTx) error {
		existing, err := tx.ReadingForTask(ctx, taskName)
		if err != nil {
			return err
		}
		out.Reading = existing
		out.Balance = tx.Meter().Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LedgerService) handleOCRError(ctx context.Context, logger *zap.Logger, in ResultInput, out *ResultOutcome) (*ResultOutcome, error) {
	s.publish(ctx, logger, mq.LedgerEvent{
		Type:          mq.EventReadingFailed,
		AccountNumber: out.AccountNumber,
		TaskName:      in.TaskName,
		Reason:        in.Error,
	})

	if in.Human {
		logger.Warn("human review reported an error")
		out.Outcome = OutcomeReviewError
		out.warn(s.notify(ctx, logger, out.AccountNumber, notify.TitleReviewResult, in.Error))
		return out, nil
	}

	logger.Warn("OCR reported an error, rerouting to need-help")
	out.Outcome = OutcomeOCRError
	if err := s.reroute(ctx, in, out, tasks.QueueNeedHelp); err != nil {
		return out, err
	}
	out.warn(s.notify(ctx, logger, out.AccountNumber, notify.TitleReadingError, notify.OCRFailureBody()))
	return out, nil
}

func (s *LedgerService) rerouteNegative(ctx context.Context, logger *zap.Logger, in ResultInput, out *ResultOutcome) (*ResultOutcome, error) {
	s.publish(ctx, logger, mq.LedgerEvent{
		Type:          mq.EventReadingRejected,
		AccountNumber: out.AccountNumber,
		TaskName:      in.TaskName,
		Quantity:      out.Consumption,
		Balance:       out.Balance,
		Reason:        string(anomaly.ClassNegative),
	})
	if err := s.reroute(ctx, in, out, tasks.QueueNegativeConsumption); err != nil {
		return out, err
	}
	out.warn(s.notify(ctx, logger, out.AccountNumber, notify.TitleReadingError, notify.NegativeConsumptionBody()))
	return out, nil
}

// reroute removes an automated task from image-processing and enqueues the
// same image in queue. An existing item in queue counts as already rerouted.
func (s *LedgerService) reroute(ctx context.Context, in ResultInput, out *ResultOutcome, queue string) error {
	if err := s.finishAutomated(ctx, in); err != nil {
		return err
	}
	task := tasks.NewTask(out.AccountNumber, out.Image)
	if err := s.queue.Enqueue(ctx, queue, task); err != nil && !errors.Is(err, ledger.ErrAlreadyExists) {
		return ledger.Wrap(err, ledger.KindTask, ledger.EntityTask, "cannot create task %s in %s", task.Name, queue)
	}
	s.observeDepth(ctx, queue)
	return nil
}

// finishAutomated deletes the original task of an automated result. Human
// results have no task in image-processing.
func (s *LedgerService) finishAutomated(ctx context.Context, in ResultInput) error {
	if in.Human {
		return nil
	}
	if _, err := s.queue.Delete(ctx, tasks.QueueImageProcessing, in.TaskName); err != nil {
		return ledger.Wrap(err, ledger.KindTask, ledger.EntityTask, "cannot delete task %s from %s", in.TaskName, tasks.QueueImageProcessing)
	}
	s.observeDepth(ctx, tasks.QueueImageProcessing)
	return nil
}

func (s *LedgerService) observeDepth(ctx context.Context, queue string) {
	if n, err := s.queue.Depth(ctx, queue); err == nil {
		metrics.SetQueueDepth(queue, n)
	}
}
