package commands

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/infrastructure/config"
)

// SweepCommand retries every Pending operation once and reports the outcome
type SweepCommand struct {
	config *config.Config
	logger *zap.Logger
	out    io.Writer
}

// NewSweepCommand creates a one-shot sweep command writing its summary to out
func NewSweepCommand(cfg *config.Config, logger *zap.Logger, out io.Writer) *SweepCommand {
	return &SweepCommand{config: cfg, logger: logger, out: out}
}

// Execute runs a single sweep. Operations that fail again are counted, not returned as an error.
func (c *SweepCommand) Execute(ctx context.Context) error {
	app, err := Build(ctx, c.config, c.logger)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer app.Close()

	result, err := app.Orchestrator.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Fprintf(c.out, "processed: %d\nfailed: %d\n", result.Processed, result.Failed)
	return nil
}
