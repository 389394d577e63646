// Package app assembles the name registry from configuration. The server and
// the operator CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"dattas/internal/ledger"
	"dattas/internal/names/metrics"
	"dattas/internal/names/models"
	"dattas/internal/names/ports"
	"dattas/internal/names/service"
	"dattas/internal/names/store"
	"dattas/internal/origin"
	"dattas/internal/platform/config"
	"dattas/internal/platform/postgres"
	"dattas/internal/platform/redis"
	id "dattas/pkg/domain"
	audit "dattas/pkg/platform/audit"
	"dattas/pkg/platform/audit/publishers/kafka"
	auditmemory "dattas/pkg/platform/audit/store/memory"
	auditpostgres "dattas/pkg/platform/audit/store/postgres"
	auditredis "dattas/pkg/platform/audit/store/redis"
	"dattas/pkg/platform/audit/worker"
	"dattas/pkg/platform/tx"
)

// Ledger is everything the app needs from a ledger backend.
type Ledger interface {
	ports.Ledger
	ledger.Depositor
	origin.Directory
}

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Service *service.Service
	Ledger  Ledger
	Events  *audit.Publisher
	Tokens  *origin.Tokens // nil without a signing key
	Metrics *metrics.Metrics
	Redis   *redis.Client
	DB      *sql.DB
	outbox  audit.Outbox
	closers []func() error
}

// Build opens the configured backends, applies genesis endowments and
// constructs the names service. Callers must Close the result.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewWithRegistry(reg),
	}
	if cfg.Auth.JWTSigningKey != "" {
		a.Tokens = origin.NewTokens(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var (
		registry ports.Registry
		txRunner ports.Tx
		locker   ports.Locker
		events   audit.Store
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, openErr := postgres.Open(ctx, postgres.Options{
			URL:             cfg.Storage.DatabaseURL,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if openErr != nil {
			return nil, fmt.Errorf("open postgres: %w", openErr)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pgStore := store.NewPostgres(db)
		registry, txRunner, locker = pgStore, tx.NewRunner(db), pgStore
		a.Ledger = ledger.NewPostgresLedger(db)
		pgEvents := auditpostgres.New(db)
		events, a.outbox = pgEvents, pgEvents
	case config.BackendRedis:
		client, dialErr := redis.New(ctx, cfg.Redis)
		if dialErr != nil {
			return nil, fmt.Errorf("connect redis: %w", dialErr)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		registry, txRunner = store.NewRedis(client.Client), tx.NewRedisRunner(client.Client)
		a.Ledger = ledger.NewRedisLedger(client.Client)
		events = auditredis.New(client.Client)
	default:
		registry, txRunner = store.NewInMemoryStore(), service.NewSerialTx()
		a.Ledger = ledger.NewInMemoryLedger()
		events = auditmemory.NewInMemoryStore()
	}
	a.Events = audit.NewPublisher(events)

	allocations, err := ledger.ParseGenesis(cfg.Names.Genesis)
	if err != nil {
		return nil, err
	}
	if err := endowMissing(ctx, a.Ledger, allocations); err != nil {
		return nil, err
	}

	sink, err := ledger.NewSlashSink(cfg.Names.SlashSink, a.Ledger, logger)
	if err != nil {
		return nil, err
	}

	var gateOpts []origin.GateOption
	if cfg.Names.ForceOriginAccount != "" {
		forcer, err := id.ParseAccountID(cfg.Names.ForceOriginAccount)
		if err != nil {
			return nil, fmt.Errorf("FORCE_ORIGIN_ACCOUNT: %w", err)
		}
		gateOpts = append(gateOpts, origin.WithForceAccount(forcer))
	}

	a.Service, err = service.New(
		registry,
		a.Ledger,
		origin.NewGate(a.Ledger, gateOpts...),
		a.Events,
		models.Params{
			MinLength:      cfg.Names.MinLength,
			MaxLength:      cfg.Names.MaxLength,
			ReservationFee: id.Balance(cfg.Names.ReservationFee),
		},
		service.WithLogger(logger),
		service.WithMetrics(a.Metrics),
		service.WithTx(txRunner),
		service.WithLocker(locker),
		service.WithSlashHandler(sink),
		service.WithStrictInvariants(cfg.Strict),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// endowMissing credits genesis allocations only to accounts the ledger has
// never seen, so restarting against a durable ledger does not mint twice.
func endowMissing(ctx context.Context, l Ledger, allocations []ledger.Allocation) error {
	fresh := allocations[:0:0]
	for _, alloc := range allocations {
		ok, err := l.Exists(ctx, alloc.Account)
		if err != nil {
			return fmt.Errorf("genesis lookup %s: %w", alloc.Account, err)
		}
		if !ok {
			fresh = append(fresh, alloc)
		}
	}
	return ledger.Endow(ctx, l, fresh)
}

// Relay returns the outbox relay worker, or nil when no brokers are
// configured.
func (a *App) Relay(ctx context.Context) (*worker.Worker, error) {
	if len(a.Config.Kafka.Brokers) == 0 {
		return nil, nil
	}
	if a.outbox == nil {
		return nil, errors.New("event relay requires the postgres backend")
	}
	producer, err := kafka.New(a.Config.Kafka.Brokers, a.Config.Kafka.Topic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { producer.Close(); return nil })
	if err := producer.EnsureTopic(ctx, 1, 1); err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", a.Config.Kafka.Topic, err)
	}
	return worker.NewWorker(a.outbox, producer,
		worker.WithLogger(a.Logger),
		worker.WithInterval(a.Config.Kafka.RelayInterval),
		worker.WithBatchSize(a.Config.Kafka.BatchSize),
	), nil
}

// Health pings whichever external backend is in use.
func (a *App) Health(ctx context.Context) error {
	if a.Redis != nil {
		return a.Redis.Health(ctx)
	}
	if a.DB != nil {
		return a.DB.PingContext(ctx)
	}
	return nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
