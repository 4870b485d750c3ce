package nodecontrol

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/collatorx/pkg/logging"
	"github.com/canopy-network/collatorx/pkg/secret"
	"go.uber.org/zap"
)

// App serves the control surface of one collator host.
type App struct {
	Config     *Config
	Controller *Controller
	Server     *http.Server
	Logger     *zap.Logger
}

// Initialize loads the configuration and wires the systemd-backed controller.
func Initialize() *App {
	logger, err := logging.New("nodecontrol")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	switcher := NewSystemdSwitcher(cfg.ValidatorUnit, cfg.BackupUnit, cfg.JobTimeout, logger.Named("systemd"))
	app, err := Build(cfg, switcher, logger)
	if err != nil {
		logger.Fatal("Unable to initialize node control", zap.Error(err))
	}
	return app
}

// Build wires an App around switcher.
func Build(cfg *Config, switcher RoleSwitcher, logger *zap.Logger) (*App, error) {
	codec, err := secret.NewJWECodec(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	challenges, err := NewChallengeStore(cfg.ChallengeSecret, cfg.ChallengeTTL, nil)
	if err != nil {
		return nil, err
	}

	ctl := &Controller{
		NetworkName: cfg.NetworkName,
		Codec:       codec,
		Challenges:  challenges,
		Switcher:    switcher,
		JobTimeout:  cfg.JobTimeout,
		Logger:      logger,
	}

	return &App{
		Config:     cfg,
		Controller: ctl,
		Server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           ctl.NewRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		Logger: logger,
	}, nil
}

// Start serves until ctx is canceled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("Server stopped", zap.Error(err))
		}
	}()
	a.Logger.Info("Starting server",
		zap.String("addr", a.Config.Addr),
		zap.String("network", a.Config.NetworkName),
		zap.String("validator_unit", a.Config.ValidatorUnit),
		zap.String("backup_unit", a.Config.BackupUnit))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)
	a.Logger.Info("さようなら!")
	_ = a.Logger.Sync()
}
