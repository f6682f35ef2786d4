package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/api"
	"github.com/mrblonde/orders/pkg/audit"
	"github.com/mrblonde/orders/pkg/auth"
	"github.com/mrblonde/orders/pkg/config"
	"github.com/mrblonde/orders/pkg/gate"
	"github.com/mrblonde/orders/pkg/portal"
	"github.com/mrblonde/orders/pkg/ratelimit"
	"github.com/mrblonde/orders/pkg/store"
	"github.com/mrblonde/orders/pkg/telemetry"
	"github.com/mrblonde/orders/pkg/token"
	"github.com/mrblonde/orders/pkg/version"
)

const remoteValidationTimeout = 5 * time.Second

func newServeCommand(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			zl := SetupLogger(flags.Debug)
			defer func() { _ = zl.Sync() }()
			log := zl.Sugar()
			log.Infow("Starting orders", version.GetBuildInfo().LogFields()...)
			flags.Print(log)

			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := Build(ctx, cfg, flags.Debug, zl)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Server.Listen(ctx)
		},
	}
}

// App holds the wired components of a running server.
type App struct {
	Server   *api.Server
	Limiters *ratelimit.Set
	Store    store.Store
	Audit    *audit.Manager

	log     *zap.SugaredLogger
	closers []func()
}

// Build wires every component from cfg. Close releases whatever Build
// acquired, also when Build fails halfway.
func Build(ctx context.Context, cfg config.Config, debug bool, zl *zap.Logger) (app *App, err error) {
	log := zl.Sugar()
	app = &App{log: log}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	if err := cfg.ResolvePortalSecret(log); err != nil {
		return nil, err
	}
	signer, err := token.NewSigner(cfg.Portal.SigningSecret)
	if err != nil {
		return nil, err
	}

	tracing, err := telemetry.Setup(ctx, cfg.Tracing, version.Version, log)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	app.closers = append(app.closers, func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Warnw("Flushing traces", "error", err)
		}
	})

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		app.Store = pg
	} else {
		log.Warnw("No database configured, using an empty in-memory store", "environment", cfg.Environment)
		app.Store = store.NewMemory()
	}
	app.closers = append(app.closers, app.Store.Close)

	app.Limiters, err = buildLimiters(cfg.RateLimit, log, app)
	if err != nil {
		return nil, err
	}
	app.Limiters.Start()
	app.closers = append(app.closers, app.Limiters.Stop)

	app.Audit, err = buildAudit(cfg.Audit, zl)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() {
		if err := app.Audit.Close(); err != nil {
			log.Warnw("Closing audit manager", "error", err)
		}
	})

	sessions, err := buildSessions(cfg.Auth, log)
	if err != nil {
		return nil, err
	}
	var sessionSource auth.SessionSource
	if sessions != nil {
		sessionSource = sessions
		app.closers = append(app.closers, sessions.Close)
	} else {
		log.Warnw("No admin token verification configured, admin area is unreachable")
	}
	var validator auth.Validator
	if cfg.Auth.URL != "" {
		validator = auth.NewRemoteValidator(cfg.Auth.URL, cfg.Auth.AnonKey, remoteValidationTimeout)
	}

	g, err := gate.New(gate.Options{
		Development: cfg.IsDevelopment(),
		BaseURL:     cfg.Frontend.BaseURL,
		EnforceCSRF: cfg.CSRF.Enforce,
		Limiters:    app.Limiters,
		Admins:      app.Store,
		Sessions:    sessionSource,
		Validator:   validator,
		Audit:       app.Audit,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	app.Server = api.NewServer(zl, cfg, debug, g)
	portalManager := portal.NewManager(signer, app.Store, cfg.IsProduction(), log, app.Audit)
	app.Server.Use(portalManager.PagesMiddleware())
	err = app.Server.RegisterAll([]api.APIController{
		portal.NewController(portalManager, log),
		api.NewAdminController(app.Limiters, app.Audit, log),
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func buildLimiters(rl config.RateLimit, log *zap.SugaredLogger, app *App) (*ratelimit.Set, error) {
	setCfg := ratelimit.SetConfig{
		Backend:     rl.Backend,
		Strategy:    rl.Strategy,
		Auth:        ratelimit.Config{Window: rl.Auth.Window, MaxRequests: rl.Auth.MaxRequests},
		Order:       ratelimit.Config{Window: rl.Order.Window, MaxRequests: rl.Order.MaxRequests},
		General:     ratelimit.Config{Window: rl.General.Window, MaxRequests: rl.General.MaxRequests},
		RedisPrefix: rl.Redis.Prefix,
	}
	if rl.Backend == ratelimit.BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     rl.Redis.Addr,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
		})
		app.closers = append(app.closers, func() {
			if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				log.Warnw("Closing redis client", "error", err)
			}
		})
		setCfg.Redis = client
	}

	set, err := ratelimit.NewSetFromConfig(setCfg, log)
	if err != nil {
		return nil, fmt.Errorf("building rate limiters: %w", err)
	}
	log.Infow("Rate limiting configured", "backend", rl.Backend, "strategy", rl.Strategy,
		"auth", rl.Auth.MaxRequests, "order", rl.Order.MaxRequests, "general", rl.General.MaxRequests)
	return set, nil
}

func buildAudit(cfg config.Audit, zl *zap.Logger) (*audit.Manager, error) {
	sinks := []audit.Sink{audit.NewLogSink(zl)}
	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("creating kafka audit sink: %w", err)
		}
		sinks = append(sinks, audit.NewBreakerSink(ks, audit.BreakerConfig{}, zl))
	}

	var sink audit.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = audit.NewMultiSink(sinks, zl)
	}
	return audit.NewManager(sink, audit.ManagerConfig{
		QueueSize:     cfg.QueueSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, zl), nil
}

// buildSessions returns nil when neither a JWKS URL nor a JWT secret is set.
func buildSessions(a config.Auth, log *zap.SugaredLogger) (*auth.CookieSessions, error) {
	switch {
	case a.JWKSURL != "":
		s, err := auth.NewJWKSSessions(a.CookieName, a.JWKSURL, log)
		if err != nil {
			return nil, fmt.Errorf("loading admin token keys: %w", err)
		}
		return s, nil
	case a.JWTSecret != "":
		return auth.NewHMACSessions(a.CookieName, a.JWTSecret)
	default:
		return nil, nil
	}
}
