package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/septivank/water-metering-ledger/internal/config"
	"github.com/septivank/water-metering-ledger/internal/httpapi"
	"github.com/septivank/water-metering-ledger/internal/metrics"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"github.com/septivank/water-metering-ledger/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func initMetrics() {
	metrics.Init()
}

// startResultConsumer consumes OCR results from RabbitMQ when a connection is configured
func startResultConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ResultProcessor,
) error {
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.ResultQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.ResultExchange,
		RoutingKey:    cfg.RabbitMQ.ResultRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting result consumer",
				zap.String("queue", cfg.RabbitMQ.ResultQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("result consumer stopped gracefully")
			return nil
		},
	})
	return nil
}

// startHTTPServer serves the operation API until fx stops
func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, svc *service.LedgerService, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(httpapi.NewApp(svc, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("cannot listen on %s: %w", srv.Addr, err)
			}
			logger.Info("http server listening",
				zap.String("addr", srv.Addr),
				zap.String("prepay_settlement", string(svc.Settlement())))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
