package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ledgermetrics "ttkn/internal/ledger/metrics"
	"ttkn/internal/ledger/service"
	ledgermemory "ttkn/internal/ledger/store/memory"
	ledgerpg "ttkn/internal/ledger/store/postgres"
	ledgerredis "ttkn/internal/ledger/store/redis"
	"ttkn/internal/platform/config"
	"ttkn/internal/platform/httpserver"
	"ttkn/internal/platform/kafka/producer"
	"ttkn/internal/platform/logger"
	"ttkn/internal/platform/postgres"
	redisclient "ttkn/internal/platform/redis"
	audit "ttkn/pkg/platform/audit"
	"ttkn/pkg/platform/audit/publisher"
	"ttkn/pkg/platform/audit/sink"
	auditmemory "ttkn/pkg/platform/audit/store/memory"
	auditpg "ttkn/pkg/platform/audit/store/postgres"
	"ttkn/pkg/platform/circuit"
)

const (
	auditTopicPartitions = 3
	// brokerDefaultReplication asks the broker for its configured default.
	brokerDefaultReplication = -1
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// app holds the resources opened for one serve run.
type app struct {
	cfg    config.Server
	logger *slog.Logger

	db          *sql.DB
	redis       *redisclient.Client
	store       service.Store
	auditReader auditReader
	publisher   *publisher.Publisher
	checks      []readyCheck

	closers []func()
}

// auditReader is the read side of an audit store, served on the admin routes.
type auditReader interface {
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type readyCheck struct {
	name  string
	check func(ctx context.Context) error
}

// warnInsecureDefaults flags settings that are only safe on a laptop.
func (a *app) warnInsecureDefaults(ctx context.Context) {
	if a.cfg.UsesDefaultSigningKey() {
		a.logger.WarnContext(ctx, "bearer tokens are signed with the development default key; anyone can mint owner tokens",
			"flag", config.FlagJWTSigningKey,
		)
	}
}

func runServe(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	a := &app{cfg: cfg, logger: log}
	defer a.close()
	a.warnInsecureDefaults(ctx)

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openAudit(ctx); err != nil {
		return err
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(ledgermetrics.New(nil)),
	}
	if a.publisher != nil {
		opts = append(opts, service.WithAuditPublisher(a.publisher))
	}
	svc, err := service.New(a.store, opts...)
	if err != nil {
		return err
	}
	if err := svc.Bootstrap(ctx, cfg.Owner); err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}

	srv := httpserver.New(cfg.Addr, a.router(svc), cfg.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, "ttkn listening",
			"addr", cfg.Addr,
			"store", cfg.Store,
			"audit_sink", cfg.Audit.Sink,
			"owner", cfg.Owner.String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down", "timeout", cfg.ShutdownTimeout)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// database opens the shared Postgres handle on first use.
func (a *app) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := postgres.Open(ctx, postgres.Config{
		URL:          a.cfg.Database.URL,
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
		MaxIdleConns: a.cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.checks = append(a.checks, readyCheck{name: "postgres", check: db.PingContext})

	if a.cfg.Database.Migrate {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			return nil, err
		}
		a.logger.InfoContext(ctx, "database schema applied", "migrations", applied)
	}
	return db, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case config.StoreMemory:
		a.store = ledgermemory.New()
	case config.StorePostgres:
		db, err := a.database(ctx)
		if err != nil {
			return err
		}
		a.store = ledgerpg.New(db)
	case config.StoreRedis:
		client, err := redisclient.New(ctx, a.cfg.Redis)
		if err != nil {
			return err
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks = append(a.checks, readyCheck{name: "redis", check: client.Health})
		a.store = ledgerredis.New(client.Client, ledgerredis.WithKeyPrefix(a.cfg.Redis.KeyPrefix))
	default:
		return fmt.Errorf("unknown store %q", a.cfg.Store)
	}
	return nil
}

// openAudit builds the audit pipeline: target sink, circuit breaker guard and
// publisher. Kafka deployments read the trail back from Postgres when a
// database is configured, as materialized by the audit-consumer command.
func (a *app) openAudit(ctx context.Context) error {
	var target audit.Sink
	switch a.cfg.Audit.Sink {
	case config.AuditSinkNone:
		return nil
	case config.AuditSinkMemory:
		s := auditmemory.NewInMemoryStore()
		target, a.auditReader = s, s
	case config.AuditSinkPostgres:
		db, err := a.database(ctx)
		if err != nil {
			return err
		}
		s := auditpg.New(db)
		target, a.auditReader = s, s
	case config.AuditSinkKafka:
		p, err := producer.New(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, producer.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := p.Close(closeCtx); err != nil {
				a.logger.Warn("kafka producer flush failed", "error", err)
			}
		})
		if err := p.EnsureTopic(ctx, auditTopicPartitions, brokerDefaultReplication); err != nil {
			return err
		}
		a.checks = append(a.checks, readyCheck{name: "kafka", check: p.Ping})
		target = p
		if a.cfg.Database.URL != "" {
			db, err := a.database(ctx)
			if err != nil {
				return err
			}
			a.auditReader = auditpg.New(db)
		}
	default:
		return fmt.Errorf("unknown audit sink %q", a.cfg.Audit.Sink)
	}

	guarded := sink.NewGuarded(target, circuit.New("audit-"+a.cfg.Audit.Sink),
		sink.WithMetrics(sink.NewMetrics(nil)),
		sink.WithLogger(a.logger),
	)
	a.publisher = publisher.NewPublisher(guarded,
		publisher.WithAsyncBuffer(a.cfg.Audit.Buffer),
		publisher.WithLogger(a.logger),
	)
	// Registered last so it closes first and drains into a still-open sink.
	a.closers = append(a.closers, a.publisher.Close)
	return nil
}

// close releases resources in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
