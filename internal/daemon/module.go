// Package daemon composes the gateway process: configuration, logging,
// the session manager, the dispatch engine, and the HTTP server, wired
// through fx with lifecycle hooks for clean startup and shutdown.
package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"wagate/internal/auth"
	"wagate/internal/bus"
	"wagate/internal/config"
	"wagate/internal/conn"
	"wagate/internal/dispatch"
	"wagate/internal/httpapi"
	"wagate/internal/lock"
	"wagate/internal/logging"
	"wagate/internal/metrics"
	"wagate/internal/msglog"
	"wagate/internal/status"
	"wagate/internal/wa"
)

// Params holds the command-line inputs passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the gateway daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideManager,
			provideRing,
			provideEngine,
			provideTokenManager,
			provideLoginLimiter,
			provideRecorder,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg config.Config) (*zap.Logger, error) {
	logPath := filepath.Join(cfg.Gateway.AuthFolder, "logs", "wagate.log")
	return logging.New(logPath, cfg.Gateway.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(cfg.Gateway.AuthFolder, 0700); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("auth_folder", cfg.Gateway.AuthFolder))
	l, err := lock.Acquire(cfg.Gateway.AuthFolder)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideManager(cfg config.Config, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	factory := func(ctx context.Context) (conn.Transport, error) {
		return wa.NewAdapter(ctx, cfg.Gateway.AuthFolder, logger)
	}
	return conn.NewManager(cfg.Gateway.AuthFolder, factory, machine, b, logger)
}

func provideRing() *msglog.Ring {
	return msglog.NewRing(msglog.DefaultCapacity)
}

func provideEngine(cfg config.Config, m *conn.Manager, ring *msglog.Ring, b *bus.Bus, logger *zap.Logger) *dispatch.Engine {
	return dispatch.NewEngine(m, ring, b, logger, dispatch.Options{
		MessageDelay:     cfg.Gateway.MessageDelay,
		CountryPrefix:    cfg.Gateway.CountryPrefix,
		DailyLimit:       cfg.Gateway.DailyLimit,
		TypingSimulation: cfg.Gateway.TypingSimulation,
		NumberCheck:      cfg.Gateway.NumberCheck,
	})
}

func provideTokenManager(cfg config.Config) (*auth.Manager, error) {
	return auth.NewManager(cfg.Dashboard.JWTSecret, cfg.Dashboard.TokenTTL)
}

func provideLoginLimiter() *auth.LoginLimiter {
	return auth.NewLoginLimiter()
}

func provideRecorder(b *bus.Bus) *metrics.Recorder {
	return metrics.NewRecorder(b)
}

func provideRouter(cfg config.Config, m *conn.Manager, engine *dispatch.Engine, ring *msglog.Ring, tokens *auth.Manager, limiter *auth.LoginLimiter, logger *zap.Logger) *gin.Engine {
	return httpapi.NewRouter(httpapi.Deps{
		Manager:           m,
		Dispatcher:        engine,
		Log:               ring,
		Tokens:            tokens,
		Limiter:           limiter,
		Logger:            logger,
		APIKey:            cfg.Server.APIKey,
		DashboardUsername: cfg.Dashboard.Username,
		DashboardPassword: cfg.Dashboard.Password,
		CountryPrefix:     cfg.Gateway.CountryPrefix,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, manager *conn.Manager, recorder *metrics.Recorder, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			recorder.Start(context.Background())

			// Serve HTTP before the session is up: health, metrics, and
			// the dashboard must answer while pairing is pending.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Synchronous: a session that cannot even begin to
			// initialize should abort startup.
			if err := manager.Initialize(context.Background()); err != nil {
				logger.Error("session initialization failed", zap.Error(err))
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Destroy(ctx)
			recorder.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
