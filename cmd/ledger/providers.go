package main

import (
	"context"
	"time"

	"github.com/septivank/water-metering-ledger/internal/anomaly"
	"github.com/septivank/water-metering-ledger/internal/config"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/influxdb"
	"github.com/septivank/water-metering-ledger/internal/ledger"
	"github.com/septivank/water-metering-ledger/internal/mq"
	"github.com/septivank/water-metering-ledger/internal/notify"
	"github.com/septivank/water-metering-ledger/internal/rates"
	"github.com/septivank/water-metering-ledger/internal/repository"
	"github.com/septivank/water-metering-ledger/internal/service"
	"github.com/septivank/water-metering-ledger/internal/tasks"
	"github.com/septivank/water-metering-ledger/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideDBPool creates the database pool and applies the schema on start.
// It returns nil when neither backend is postgres.
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	if !cfg.UsesPostgres() {
		return nil, nil
	}
	pool, err := db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repository.NewRepository(pool).Migrate(ctx); err != nil {
				return err
			}
			logger.Info("database schema applied")
			return nil
		},
	})
	return pool, nil
}

// ProvideStore selects the ledger store backend
func ProvideStore(cfg *config.Config, pool *db.Pool, logger *zap.Logger) (ledger.Store, error) {
	if cfg.Database.StoreBackend == config.BackendPostgres {
		return repository.NewRepository(pool), nil
	}
	store := ledger.NewMemoryStore()
	if cfg.Database.SeedFile != "" {
		if err := store.LoadSeed(cfg.Database.SeedFile); err != nil {
			return nil, err
		}
		logger.Info("memory store seeded", zap.String("file", cfg.Database.SeedFile))
	}
	logger.Warn("using in-memory ledger store, balances are lost on restart")
	return store, nil
}

// ProvideLedger wraps the store with per-meter locking
func ProvideLedger(store ledger.Store) *ledger.Ledger {
	return ledger.New(store)
}

// ProvideQueue selects the task queue backend
func ProvideQueue(cfg *config.Config, pool *db.Pool) tasks.Queue {
	if cfg.Database.QueueBackend == config.BackendPostgres {
		return tasks.NewPostgresQueue(pool)
	}
	return tasks.NewMemoryQueue()
}

// ProvideRates builds the rate table from env defaults and the optional rates file
func ProvideRates(cfg *config.Config) (*rates.Static, error) {
	table, err := rates.LoadTable(cfg.Rates.File, rates.Table{
		Postpay: cfg.Rates.PostpayFactor,
		Prepay:  cfg.Rates.PrepayFactor,
	})
	if err != nil {
		return nil, err
	}
	return rates.NewStatic(table)
}

// ProvideNotifier pushes through the configured endpoint, or logs when none is set
func ProvideNotifier(cfg *config.Config, store ledger.Store, logger *zap.Logger) service.Notifier {
	var pusher notify.Pusher = notify.NewLogPusher(logger)
	if cfg.Push.URL != "" {
		pusher = notify.NewHTTPPusher(cfg.Push.URL, cfg.Push.AppID, cfg.Push.APIKey, cfg.Push.Timeout)
	}
	return notify.NewDispatcher(store, pusher)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.MaxMeasure)
}

// ProvideMQConnection dials RabbitMQ. It returns nil when RABBITMQ_URL is empty.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, result consumer and ledger events disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideEventPublisher creates the ledger event publisher when RabbitMQ is configured
func ProvideEventPublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	if conn == nil {
		return nil, nil
	}
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideConsumptionRecorder connects to InfluxDB when INFLUX_URL is set
func ProvideConsumptionRecorder(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*influxdb.Client, error) {
	if cfg.InfluxDB.URL == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := influxdb.NewClient(ctx, influxdb.Config{
		URL:    cfg.InfluxDB.URL,
		Token:  cfg.InfluxDB.Token,
		Org:    cfg.InfluxDB.Org,
		Bucket: cfg.InfluxDB.Bucket,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("influxdb consumption sink enabled", zap.String("bucket", cfg.InfluxDB.Bucket))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.Close()
			return nil
		},
	})
	return client, nil
}

// ProvideLedgerService assembles the service with whichever optional sinks are enabled
func ProvideLedgerService(
	cfg *config.Config,
	l *ledger.Ledger,
	queue tasks.Queue,
	rateSource *rates.Static,
	notifier service.Notifier,
	detector *anomaly.Detector,
	v *validator.Validator,
	publisher *mq.Publisher,
	recorder *influxdb.Client,
	logger *zap.Logger,
) (*service.LedgerService, error) {
	settlement, err := service.ParseSettlement(cfg.Rates.PrepaySettlement)
	if err != nil {
		return nil, err
	}
	opts := []service.Option{
		service.WithSettlement(settlement),
		service.WithHistoryWindow(cfg.Anomaly.HistoryWindow),
	}
	if publisher != nil {
		opts = append(opts, service.WithEvents(publisher))
	}
	if recorder != nil {
		opts = append(opts, service.WithConsumptionRecorder(recorder))
	}
	return service.NewLedgerService(l, queue, rateSource, notifier, detector, v, logger, opts...), nil
}

// ProvideResultProcessor creates the AMQP result processor
func ProvideResultProcessor(svc *service.LedgerService, logger *zap.Logger) *service.ResultProcessor {
	return service.NewResultProcessor(svc, logger)
}
