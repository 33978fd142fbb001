package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/septivank/water-metering-ledger/internal/mq"
	"go.uber.org/zap"
)

// ResultProcessor feeds OCR results delivered over AMQP into the pipeline
type ResultProcessor struct {
	ledger *LedgerService
	logger *zap.Logger
}

// NewResultProcessor creates a new result processor
func NewResultProcessor(ledger *LedgerService, logger *zap.Logger) *ResultProcessor {
	return &ResultProcessor{ledger: ledger, logger: logger}
}

// ProcessMessage correlates one result message. Any error dead-letters the
// message; a redelivery after a partial failure is safe because readings are
// keyed by task name.
func (p *ResultProcessor) ProcessMessage(ctx context.Context, body []byte) error {
	var msg mq.ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal result message: %w", err)
	}
	if msg.TaskName == "" {
		return errors.New("result message without task_name")
	}

	outcome, err := p.ledger.CorrelateResult(ctx, ResultInput{
		TaskName: msg.TaskName,
		Payload:  msg.TaskPayload,
		Measure:  msg.Result,
		Error:    msg.Error,
		Human:    msg.Human,
	})
	if err != nil {
		return fmt.Errorf("failed to correlate result: %w", err)
	}

	for _, w := range outcome.Warnings {
		p.logger.Warn("result processed with warning",
			zap.String("task_name", msg.TaskName),
			zap.String("warning", w),
		)
	}
	p.logger.Info("result message processed",
		zap.String("task_name", msg.TaskName),
		zap.String("outcome", string(outcome.Outcome)),
	)
	return nil
}
