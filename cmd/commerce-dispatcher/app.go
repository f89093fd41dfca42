package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/config"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/dispatch"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/health"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/inbox"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/outbox"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/relay"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	pgxsession "github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/pgx"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/webhook"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow"
	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/workflow/remote"
)

type app struct {
	router  http.Handler
	runner  *relay.Runner
	db      session.SessionPool
	inbox   *inbox.PgInbox
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	registry := workflow.DefaultRegistry()

	client := remote.NewClient(remote.Config{
		Endpoint:            cfg.Workflow.Endpoint,
		Namespace:           cfg.Workflow.Namespace,
		APIKey:              cfg.Workflow.APIKey,
		CallTimeout:         cfg.Workflow.CallTimeout,
		ConsecutiveFailures: cfg.Workflow.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Workflow.Breaker.OpenTimeout,
	}, remote.WithLogger(logger.Named("workflow")))
	if !client.Configured() {
		logger.Warn("workflow service endpoint not configured, events will be queued in the outbox")
	}
	requestLog := logger.Named("workflow.http")
	client.Pool().OnRequestEnded().Attach(func(e session.RequestEndedEvent) {
		view := e.RequestView
		fields := []zap.Field{zap.String("request", view.String())}
		if view.ResponseTime != nil {
			fields = append(fields, zap.Duration("elapsed", *view.ResponseTime))
		}
		if view.Err != nil {
			fields = append(fields, zap.Error(view.Err))
		}
		requestLog.Debug("workflow request finished", fields...)
	})

	store, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var guard webhook.ReplayGuard
	if cfg.Redis.URL != "" {
		rdb, err := webhook.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		guard = webhook.NewRedisReplayGuard(rdb, cfg.Webhooks.ReplayTTL)
	} else if a.db != nil {
		pgInbox := inbox.NewInbox(a.db, "", cfg.Webhooks.ReplayTTL)
		if err := pgInbox.Setup(ctx); err != nil {
			return nil, err
		}
		guard = pgInbox
		a.inbox = pgInbox
	} else {
		logger.Warn("neither redis nor postgres configured, webhook replay protection disabled")
	}

	tracer := otel.Tracer("crossdispatch")
	router := dispatch.NewRouter(registry, client, logger.Named("dispatch"), tracer)
	facade := dispatch.NewFacade(router, logger.Named("dispatch"))

	processor, err := relay.NewProcessor(router,
		relay.WithConcurrency(cfg.Outbox.Concurrency),
		relay.WithLogger(logger.Named("relay")),
		relay.WithTracer(tracer),
		relay.WithMeterProvider(otel.GetMeterProvider()),
	)
	if err != nil {
		return nil, err
	}
	a.runner = relay.NewRunner(processor, store, cfg.Outbox.PollInterval, logger.Named("relay"))
	if client.Configured() {
		a.runner.RecoverWith(client.Ping)
	}

	sources := webhookSources(cfg.Webhooks.Sources)
	if err := webhook.ValidateSources(sources, func(eventType string) bool {
		_, found := registry.Lookup(eventType)
		return found
	}); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	health.NewChecker(client, cfg.Workflow.HealthTimeout).Mount(r)
	webhook.NewHandler(sources, facade, store, guard, logger.Named("webhook")).Mount(r)
	a.router = r

	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (outbox.Store, error) {
	if cfg.Postgres.URL == "" {
		logger.Warn("postgres not configured, outbox is kept in memory and lost on restart")
		return outbox.NewMemoryStore(cfg.Outbox.BatchSize, cfg.Outbox.LeaseTTL, cfg.Outbox.MaxRetries), nil
	}

	pool, err := pgxsession.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)

	a.db = pgxsession.NewSessionPool(pool)
	store := outbox.NewPgStore(
		a.db,
		cfg.Outbox.Table,
		cfg.Outbox.BatchSize,
		cfg.Outbox.LeaseTTL,
		cfg.Outbox.MaxRetries,
	)
	if err := store.Setup(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func webhookSources(configured []config.WebhookSource) []webhook.Source {
	sources := make([]webhook.Source, 0, len(configured))
	for _, src := range configured {
		sources = append(sources, webhook.Source{
			Name:            src.Name,
			SignatureHeader: src.SignatureHeader,
			Secret:          src.Secret,
			TypeField:       src.TypeField,
			Events:          src.Events,
		})
	}
	return sources
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
