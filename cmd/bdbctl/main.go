package main

import (
	"context"
	"fmt"
	"os"

	"dailybudget/internal/cli"
	"dailybudget/internal/config"
	applog "dailybudget/internal/log"
	"dailybudget/internal/services"
)

func main() {
	cli.LoadEnvFile()

	open := func(ctx context.Context) (*cli.App, func() error, error) {
		cfg, err := cli.LoadConfig((*config.Config).Validate)
		if err != nil {
			return nil, nil, err
		}
		// Commands print to stdout; keep logs out of the way.
		logger := cli.SetupLogger(cfg, os.Stderr, applog.ComponentCLI)
		if cfg.DataBackend == config.BackendMemory {
			logger.Warn("memory backend does not persist between runs; set DATA_BACKEND=sqlite or postgres")
		}
		be, err := cli.OpenBackend(ctx, logger, cfg)
		if err != nil {
			return nil, nil, err
		}
		budget := services.NewBudgetService(be.Store, cli.ServiceOptions(cfg, logger)...)
		return &cli.App{Budget: budget, Pointer: be.Pointer}, be.Cleanup, nil
	}

	if err := cli.NewRootCommand(open).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
