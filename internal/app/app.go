package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr-karan/checkchef/internal/alerts"
	"github.com/mr-karan/checkchef/internal/backends"
	"github.com/mr-karan/checkchef/internal/backends/elastic"
	"github.com/mr-karan/checkchef/internal/builds"
	"github.com/mr-karan/checkchef/internal/config"
	"github.com/mr-karan/checkchef/internal/definitions"
	"github.com/mr-karan/checkchef/internal/drift"
	"github.com/mr-karan/checkchef/internal/engine"
	"github.com/mr-karan/checkchef/internal/grafana"
	"github.com/mr-karan/checkchef/internal/rollup"
	"github.com/mr-karan/checkchef/internal/server"
	"github.com/mr-karan/checkchef/internal/snapshot"
	"github.com/mr-karan/checkchef/internal/sqlite"
	"github.com/mr-karan/checkchef/pkg/logger"
)

// App represents the core application context, holding dependencies and configuration.
type App struct {
	Config    *config.Config
	SQLite    *sqlite.DB
	Sources   *backends.Registry
	Logger    *slog.Logger
	Scheduler *engine.Scheduler
	Drift     *drift.Runner
	server    *server.Server
	codec     *snapshot.Codec
	nats      *alerts.NATSDispatcher
	BuildInfo string
	Version   string
}

// Options contains configuration needed when creating a new App instance.
type Options struct {
	ConfigPath string
	BuildInfo  string
	Version    string
}

// New loads configuration and creates an App. Nothing is connected until Initialize.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger.New(cfg.Logging.Level, cfg.Logging.Format),
		BuildInfo: opts.BuildInfo,
		Version:   opts.Version,
	}, nil
}

// Initialize opens the database, seeds definitions, registers sources and wires the
// engine, drift runner and HTTP server.
func (a *App) Initialize(ctx context.Context) error {
	var err error

	a.SQLite, err = sqlite.New(sqlite.Options{Config: a.Config.SQLite, Logger: a.Logger})
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite: %w", err)
	}

	if err := a.seedDefinitions(ctx); err != nil {
		return err
	}

	a.Sources = backends.NewRegistry(elastic.NewFactory(a.Logger), a.Logger)
	for _, src := range a.Config.Sources {
		if err := a.Sources.AddSource(src); err != nil {
			return fmt.Errorf("failed to register source %s: %w", src.Name, err)
		}
		a.Logger.Info("registered metrics source", "source", src.Name, "url", src.URL)
	}

	a.codec, err = snapshot.NewCodec(a.Config.Engine.SnapshotLevel)
	if err != nil {
		return fmt.Errorf("failed to create snapshot codec: %w", err)
	}

	dispatcher, err := a.buildDispatcher()
	if err != nil {
		return err
	}

	engineOpts := engine.Options{
		Sources:          a.Sources,
		History:          a.SQLite,
		Codec:            a.codec,
		Logger:           a.Logger,
		StoreTimeout:     a.Config.Engine.StoreTimeout,
		IncompleteWindow: a.Config.Engine.IncompleteWindow,
		DefaultInterval:  a.Config.Engine.DefaultInterval,
	}
	if a.Config.Builds.URL != "" {
		buildClient, err := builds.NewClient(builds.ClientOptions{
			URL:      a.Config.Builds.URL,
			Username: a.Config.Builds.Username,
			Token:    a.Config.Builds.Token,
			Timeout:  a.Config.Builds.Timeout,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create build client: %w", err)
		}
		engineOpts.Builds = buildClient
	}

	eng := a.Config.Engine
	a.Scheduler = engine.NewScheduler(engine.SchedulerOptions{
		Store:      a.SQLite,
		Engine:     engine.New(engineOpts),
		Dispatcher: dispatcher,
		Logger:     a.Logger,
		Policy: rollup.Policy{
			AlertInterval:        eng.AlertInterval,
			NotificationInterval: eng.NotificationInterval,
			DutyOfficers:         eng.DutyOfficers,
			FallbackOfficers:     eng.FallbackOfficers,
		},
		Workers:      eng.Workers,
		QueueSize:    eng.QueueSize,
		TickInterval: eng.TickInterval,
		HistoryLimit: eng.HistoryLimit,
	})

	if a.Config.Drift.Enabled && a.Config.Grafana.URL != "" {
		dashboards, err := grafana.NewClient(grafana.ClientOptions{
			URL:     a.Config.Grafana.URL,
			APIKey:  a.Config.Grafana.APIKey,
			Timeout: a.Config.Grafana.Timeout,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create dashboard client: %w", err)
		}
		a.Drift = drift.NewRunner(drift.RunnerOptions{
			Store:           a.SQLite,
			Dashboards:      dashboards,
			Sources:         a.Sources,
			Dispatcher:      dispatcher,
			Logger:          a.Logger,
			Interval:        a.Config.Drift.Interval,
			RecencyWindow:   a.Config.Drift.RecencyWindow,
			DefaultInterval: eng.DefaultInterval,
		})
	} else {
		a.Logger.Warn("dashboard drift detection disabled", "drift_enabled", a.Config.Drift.Enabled)
	}

	a.server = server.New(server.ServerOptions{
		Config:  a.Config.Server,
		Engine:  a.Config.Engine,
		Store:   a.SQLite,
		Runner:  a.Scheduler,
		Sources: a.Sources,
		Codec:   a.codec,
		Logger:  a.Logger,
		Version: a.Version,
	})

	a.Scheduler.Start(ctx)
	if a.Drift != nil {
		a.Drift.Start(ctx)
	}
	return nil
}

func (a *App) seedDefinitions(ctx context.Context) error {
	path := a.Config.Definitions.Path
	if path == "" {
		a.Logger.Info("no definitions file configured, using stored checks only")
		return nil
	}
	set, err := definitions.Load(path, definitions.AcceptOptions{DefaultInterval: a.Config.Engine.DefaultInterval})
	if err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	if _, err := definitions.Seed(ctx, a.SQLite, set, a.Logger); err != nil {
		return fmt.Errorf("failed to seed definitions: %w", err)
	}
	return nil
}

// buildDispatcher fans notifications out to the log and every configured channel.
func (a *App) buildDispatcher() (alerts.Dispatcher, error) {
	cfg := a.Config.Alerts
	dispatchers := []alerts.Dispatcher{alerts.NewLogDispatcher(a.Logger)}

	if len(cfg.Webhooks) > 0 {
		dispatchers = append(dispatchers, alerts.NewWebhookDispatcher(alerts.WebhookOptions{
			URLs:          cfg.Webhooks,
			Timeout:       cfg.RequestTimeout,
			SkipTLSVerify: cfg.TLSInsecureSkipVerify,
			Logger:        a.Logger,
		}))
	}
	if cfg.AlertmanagerURL != "" {
		am, err := alerts.NewAlertmanagerDispatcher(alerts.AlertmanagerOptions{
			BaseURL:       cfg.AlertmanagerURL,
			Timeout:       cfg.RequestTimeout,
			SkipTLSVerify: cfg.TLSInsecureSkipVerify,
			MaxRetries:    cfg.AlertmanagerMaxRetries,
			GeneratorURL:  cfg.ExternalURL,
			Logger:        a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create alertmanager dispatcher: %w", err)
		}
		dispatchers = append(dispatchers, am)
	}
	if cfg.NATSURL != "" {
		nd, err := alerts.NewNATSDispatcher(cfg.NATSURL, cfg.NATSSubject, a.Logger)
		if err != nil {
			return nil, err
		}
		a.nats = nd
		dispatchers = append(dispatchers, nd)
	}
	if cfg.SMTPHost != "" {
		dispatchers = append(dispatchers, alerts.NewEmailDispatcher(alerts.EmailOptions{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			From:          cfg.SMTPFrom,
			ReplyTo:       cfg.SMTPReplyTo,
			Security:      cfg.SMTPSecurity,
			Timeout:       cfg.RequestTimeout,
			SkipTLSVerify: cfg.TLSInsecureSkipVerify,
			Logger:        a.Logger,
		}))
	}
	a.Logger.Info("notification channels configured", "count", len(dispatchers))
	return alerts.NewMultiDispatcher(dispatchers...), nil
}

// Start runs the HTTP server. It blocks until the server stops.
func (a *App) Start() error {
	if a.server == nil {
		return fmt.Errorf("server not initialized")
	}
	a.Logger.Info("starting server", "version", a.Version)
	return a.server.Start()
}

// Shutdown gracefully stops all application components with timeouts.
//
//nolint:contextcheck // Shutdown receives its own context from caller (e.g., signal handler)
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	serverCtx, serverCancel := context.WithTimeout(ctx, 5*time.Second)
	defer serverCancel()

	// Stop accepting requests before the engine goes away.
	if a.server != nil {
		a.Logger.Info("shutting down HTTP server")

		serverDone := make(chan error, 1)
		go func() {
			serverDone <- a.server.Shutdown(serverCtx)
		}()

		select {
		case err := <-serverDone:
			if err != nil {
				a.Logger.Error("error shutting down server", "error", err)
			} else {
				a.Logger.Info("HTTP server shut down successfully")
			}
		case <-serverCtx.Done():
			a.Logger.Warn("timeout shutting down HTTP server, continuing")
		}
	}

	if a.Drift != nil {
		a.Logger.Info("stopping drift runner")
		a.Drift.Stop()
	}
	if a.Scheduler != nil {
		a.Logger.Info("stopping scheduler")
		a.Scheduler.Stop()
	}

	if a.nats != nil {
		a.nats.Close()
	}
	if a.Sources != nil {
		if err := a.Sources.Close(); err != nil {
			a.Logger.Error("error closing store clients", "error", err)
		}
	}
	if a.codec != nil {
		a.codec.Close()
	}

	if a.SQLite != nil {
		a.Logger.Info("closing SQLite connection")
		if err := a.SQLite.Close(); err != nil {
			a.Logger.Error("error closing SQLite", "error", err)
		} else {
			a.Logger.Info("SQLite connection closed successfully")
		}
	}

	a.Logger.Info("application shutdown complete")
	return nil
}
