package setup

import (
	"log"

	"go.uber.org/zap"

	"github.com/cohortly/memberd/internal/setup/config"
	"github.com/cohortly/memberd/internal/setup/logging"
)

// App contains the common setup components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
}

// InitializeApp loads configuration and initializes logging.
func InitializeApp(configPath string) (*App, error) {
	cfg, usedPath, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.SetupLogging(cfg.Debug.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded configuration", zap.String("path", usedPath))

	return &App{
		Config: cfg,
		Logger: logger,
	}, nil
}

// CleanupApp performs cleanup tasks.
func (a *App) CleanupApp() {
	if err := a.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}
}
