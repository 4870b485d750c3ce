package healthcheck

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"github.com/canopy-network/collatorx/pkg/collator"
	"github.com/canopy-network/collatorx/pkg/config"
	"github.com/canopy-network/collatorx/pkg/failover"
	"github.com/canopy-network/collatorx/pkg/logging"
	"github.com/canopy-network/collatorx/pkg/notify"
	"github.com/canopy-network/collatorx/pkg/redis"
	"github.com/canopy-network/collatorx/pkg/retry"
	"github.com/canopy-network/collatorx/pkg/rpc"
	"github.com/canopy-network/collatorx/pkg/secret"
	"github.com/canopy-network/collatorx/pkg/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Collector produces the telemetry snapshot of a pass.
type Collector interface {
	Collect(ctx context.Context, expected []string) (telemetry.Snapshot, error)
}

// HeightSource returns the canonical chain height.
type HeightSource interface {
	ChainHeight(ctx context.Context) (uint64, error)
}

// Decider runs the failover decision over the merged node states.
type Decider interface {
	Run(ctx context.Context, states *cluster.States, height uint64) (*failover.Decision, error)
}

// Drainer waits for fire-and-forget commands still in flight.
type Drainer interface {
	Wait(timeout time.Duration) bool
}

// App runs failover passes for one network, once or on a cron schedule.
type App struct {
	Config   *config.Config
	Registry *cluster.Registry

	Telemetry Collector
	Chain     HeightSource
	Engine    Decider
	Drainer   Drainer
	Notifier  notify.Sink

	// RedisClient is nil unless NOTIFY_REDIS_CHANNEL is set and Redis was reachable.
	RedisClient *redis.Client

	// Cron is only set up when Config.CronSpec is not empty.
	Cron *cron.Cron

	// Server exposes liveness and the last pass outcome in cron mode.
	Server *http.Server

	Logger *zap.Logger

	last atomic.Pointer[RunReport]
}

// Initialize loads the configuration and wires the application. Configuration
// errors are fatal before any network activity.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New("healthcheck")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to initialize failover controller", zap.Error(err))
	}
	return app
}

// Build wires the production components for a validated configuration.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	codec, err := secret.NewJWECodec(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	nodes := collator.NewClient(cfg.NetworkName, codec, httpClient)

	feed := telemetry.NewWebsocketFeed(cfg.TelemetryURL, cfg.TelemetryHash, logger.Named("telemetry"))
	aggregator := telemetry.NewAggregator(feed, logger.Named("telemetry"), telemetry.Options{
		Timeout:     cfg.TelemetryTimeout,
		QuietPeriod: cfg.QuietPeriod,
	})

	chain := rpc.NewChainHeightProvider(cfg.RPCEndpoints, rpc.DefaultDial(httpClient), logger.Named("rpc"))

	engineLogger := logger.Named("failover")
	prober := failover.NewProber(nodes, engineLogger, registry.Len())
	executor := failover.NewExecutor(nodes, engineLogger, cfg.HTTPTimeout)
	engine := failover.NewEngine(prober, executor, engineLogger, failover.Policy{
		LagThreshold: cfg.BlockLagThreshold,
		ForceFail:    cfg.ForceFail,
	})

	app := &App{
		Config:    cfg,
		Registry:  registry,
		Telemetry: aggregator,
		Chain:     chain,
		Engine:    engine,
		Drainer:   executor,
		Logger:    logger,
	}
	app.Notifier = app.buildNotifier(ctx)

	if cfg.CronSpec != "" {
		if err := app.SetupScheduler(ctx, cfg.CronSpec); err != nil {
			return nil, err
		}
	}

	logger.Info("Failover controller initialized",
		zap.String("network", cfg.NetworkName),
		zap.Strings("nodes", registry.NetworkIDs()),
		zap.Uint64("lag_threshold", cfg.BlockLagThreshold),
		zap.Bool("force_fail", cfg.ForceFail),
		zap.String("cron", cfg.CronSpec))

	return app, nil
}

// buildNotifier always logs; Redis and webhook delivery are optional.
func (a *App) buildNotifier(ctx context.Context) notify.Sink {
	sinks := notify.Multi{notify.NewLogSink(a.Logger)}

	if a.Config.RedisChannel != "" {
		redisClient, err := redis.NewClient(ctx, a.Logger.Named("redis"))
		if err != nil {
			a.Logger.Warn("Failed to initialize Redis client - Redis notifications will be disabled",
				zap.Error(err))
		} else {
			a.RedisClient = redisClient
			sinks = append(sinks, notify.NewRedisSink(redisClient, a.Config.RedisChannel))
		}
	}

	if a.Config.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(
			a.Config.WebhookURL,
			&http.Client{Timeout: a.Config.HTTPTimeout},
			retry.DefaultConfig(),
			a.Logger.Named("webhook"),
		))
	}
	return sinks
}

// SetupScheduler sets up the cron scheduler. Overlapping passes are skipped.
func (a *App) SetupScheduler(ctx context.Context, cronSpec string) error {
	logger := cronLogger{a.Logger.Named("cron").Sugar()}
	// Seconds field, optional
	a.Cron = cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := a.Cron.AddFunc(cronSpec, func() {
		a.RunOnce(ctx)
	})
	return err
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("Cron started", zap.String("cronSpec", a.Config.CronSpec))
}

// StopCron waits for a running pass and stops the scheduler.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Start runs in cron mode and blocks until ctx is canceled.
func (a *App) Start(ctx context.Context) {
	a.StartCron()
	a.SetupServer()
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))

	<-ctx.Done()
	a.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)
	a.StopCron()
	a.Stop()
}

// Stop releases clients.
func (a *App) Stop() {
	if a.RedisClient != nil {
		_ = a.RedisClient.Close()
	}
	a.Logger.Info("さようなら!")
	_ = a.Logger.Sync()
}

// Scheduled reports whether the app runs on a cron schedule.
func (a *App) Scheduled() bool { return a.Cron != nil }

// cronLogger is a cron logger adapter for Zap.
type cronLogger struct{ *zap.SugaredLogger }

// Info carries cron's per-tick chatter, so it goes to debug.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) { l.Debugw(msg, keysAndValues...) }
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(keysAndValues, "error", err)...)
}
