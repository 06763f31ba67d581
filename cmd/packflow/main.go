package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/infrastructure/config"
	"github.com/vsinha/packflow/pkg/infrastructure/logging"
	"github.com/vsinha/packflow/pkg/interfaces/cli/commands"
)

const usage = `Usage: packflow <command> [flags]

Commands:
  serve   Run the HTTP API and the scheduled retry sweep
  sweep   Retry every pending operation once and exit

Flags:
  -config string   Path to a YAML/JSON/TOML config file (PACKFLOW_* env vars override it)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	switch name {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	}
	flags := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config file")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flags.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, _, err := logging.New(cfg.Log.Environment, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cmd interface{ Execute(context.Context) error }
	switch name {
	case "serve":
		cmd = commands.NewServeCommand(cfg, logger)
	case "sweep":
		cmd = commands.NewSweepCommand(cfg, logger, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	if err := cmd.Execute(ctx); err != nil {
		logger.Error("command failed", zap.String("command", name), zap.Error(err))
		os.Exit(1)
	}
}
