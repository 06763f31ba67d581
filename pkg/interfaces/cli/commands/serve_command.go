package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/infrastructure/config"
	api "github.com/vsinha/packflow/pkg/interfaces/http"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand runs the HTTP API and the scheduled retry sweep
type ServeCommand struct {
	config *config.Config
	logger *zap.Logger
}

// NewServeCommand creates a serve command for the loaded configuration
func NewServeCommand(cfg *config.Config, logger *zap.Logger) *ServeCommand {
	return &ServeCommand{config: cfg, logger: logger}
}

// Execute serves until ctx is cancelled, then drains in-flight requests
func (c *ServeCommand) Execute(ctx context.Context) error {
	app, err := Build(ctx, c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer app.Close()

	scheduler, err := c.scheduleSweep(app)
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := api.NewServer(app.Services, c.logger.Named("http"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(fmt.Sprintf(":%d", c.config.HTTP.Port))
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	c.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// scheduleSweep registers the pending-operation retry on the configured cron schedule.
// An empty schedule disables the sweep.
func (c *ServeCommand) scheduleSweep(app *Application) (*cron.Cron, error) {
	schedule := c.config.Sweep.Schedule
	if schedule == "" {
		c.logger.Info("sweep disabled")
		return nil, nil
	}

	scheduler := cron.New()
	err := scheduler.AddFunc(schedule, func() {
		result, err := app.Orchestrator.Sweep(context.Background())
		if err != nil {
			c.logger.Error("sweep failed", zap.Error(err))
			return
		}
		if result.Failed > 0 {
			c.logger.Warn("sweep left operations pending", zap.Int("failed", result.Failed))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep.schedule %q: %w", schedule, err)
	}
	c.logger.Info("sweep scheduled", zap.String("schedule", schedule))
	return scheduler, nil
}
