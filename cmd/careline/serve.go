package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/carelinehq/careline/internal/actions"
	"github.com/carelinehq/careline/internal/audit"
	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/db"
	"github.com/carelinehq/careline/internal/dispatch"
	"github.com/carelinehq/careline/internal/gateway"
	"github.com/carelinehq/careline/internal/intent"
	"github.com/carelinehq/careline/internal/logger"
	"github.com/carelinehq/careline/internal/media"
	"github.com/carelinehq/careline/internal/notify"
	"github.com/carelinehq/careline/internal/pipeline"
	"github.com/carelinehq/careline/internal/server"
	"github.com/carelinehq/careline/internal/session"
	"github.com/carelinehq/careline/internal/template"
	"github.com/carelinehq/careline/internal/transcribe"
	"github.com/carelinehq/careline/internal/transport"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideTemplates,
			provideTransportClient,
			provideSender,
			provideMediaSource,
			provideMediaResolver,
			provideTranscriber,
			provideClassifier,
			provideSessionStore,
			provideCareClient,
			provideHandlerRegistry,
			provideDispatcher,
			provideAuditRecorder,
			provideEngine,
			provideDedup,
			provideWebhookHandler,
			provideReminder,
			provideServer,
		),
		fx.Invoke(
			startReminder,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideTemplates(cfg config.Config) (*template.Registry, error) {
	registry, err := template.Load(cfg.Templates.Path)
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	return registry, nil
}

func provideTransportClient(log *slog.Logger, cfg config.Config) *transport.Client {
	return transport.NewClient(log, cfg.Transport)
}

func provideSender(client *transport.Client) transport.Sender { return client }

func provideMediaSource(client *transport.Client) transport.MediaSource { return client }

func provideMediaResolver(log *slog.Logger, cfg config.Config, source transport.MediaSource) *media.Resolver {
	return media.NewResolver(log, source, cfg.Transport.MaxMediaBytes)
}

func provideTranscriber(log *slog.Logger, cfg config.Config) transcribe.Transcriber {
	return transcribe.NewClient(log, cfg.Transcribe)
}

func provideClassifier(log *slog.Logger, cfg config.Config) *intent.Classifier {
	var primary intent.PrimaryClassifier
	if cfg.Classify.BaseURL != "" {
		primary = intent.NewClient(log, cfg.Classify)
	}
	return intent.NewClassifier(log, primary, cfg.Classify.Timeout())
}

func provideSessionStore(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool) *session.Store {
	return session.NewStore(log, session.NewPostgresPersistence(pool), cfg.Pipeline.HistoryLimit)
}

func provideCareClient(log *slog.Logger, cfg config.Config) *actions.Client {
	return actions.NewClient(log, cfg.Care)
}

func provideHandlerRegistry(log *slog.Logger, cfg config.Config, client *actions.Client) *dispatch.Registry {
	return actions.NewRegistry(log, client, client, client, client, client, cfg.Care.Hotline)
}

func provideDispatcher(log *slog.Logger, cfg config.Config, registry *dispatch.Registry) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, registry,
		cfg.Classify.AutoExecuteThreshold,
		cfg.Classify.ConfirmThreshold,
		cfg.Pipeline.HandlerTimeout())
}

func provideAuditRecorder(log *slog.Logger, pool *pgxpool.Pool) audit.Recorder {
	return audit.NewLogger(log, pool)
}

func provideEngine(
	log *slog.Logger,
	cfg config.Config,
	store *session.Store,
	resolver *media.Resolver,
	transcriber transcribe.Transcriber,
	classifier *intent.Classifier,
	dispatcher *dispatch.Dispatcher,
	templates *template.Registry,
	sender transport.Sender,
	recorder audit.Recorder,
) *pipeline.Engine {
	return pipeline.NewEngine(log, store, resolver, transcriber, classifier, dispatcher,
		templates, sender, recorder, cfg.Pipeline.TurnBudget())
}

func provideDedup(pool *pgxpool.Pool) gateway.Dedup {
	return gateway.NewPostgresDedup(pool)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, dedup gateway.Dedup, engine *pipeline.Engine) *gateway.Handler {
	return gateway.NewHandler(log, cfg.Webhook, dedup, engine)
}

func provideReminder(log *slog.Logger, cfg config.Config, client *actions.Client, templates *template.Registry, sender transport.Sender) *notify.Reminder {
	return notify.NewReminder(log, client, templates, sender, cfg.Notify.ReminderCron, cfg.Notify.Lookahead())
}

func provideServer(log *slog.Logger, cfg config.Config, webhook *gateway.Handler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, webhook)
}

func startReminder(lc fx.Lifecycle, cfg config.Config, reminder *notify.Reminder) {
	if !cfg.Notify.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return reminder.Start() },
		OnStop:  func(ctx context.Context) error { reminder.Stop(ctx); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
