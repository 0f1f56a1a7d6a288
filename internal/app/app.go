package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/loopgrid/internal/config"
	"github.com/specialistvlad/loopgrid/internal/ctxlog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	model  *config.Model
}

// NewApp is the constructor for the main application. It configures an
// isolated logger and loads the manifest through loader.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.PipelinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	logger.Debug("Manifest loaded and translated into unified model.", "stages", len(model.Stages))

	return &App{
		outW:   outW,
		logger: logger,
		config: appConfig,
		model:  model,
	}, nil
}

// Model returns the loaded manifest. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
