package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hibi/common/version"
	"github.com/bdobrica/Hibi/internal/hibi/app"
	"github.com/bdobrica/Hibi/internal/hibi/config"
	"github.com/bdobrica/Hibi/internal/hibi/observability"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Matrix and start answering messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			observability.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Secrets()...)
			slog.Info("starting hibi", "version", version.Version, "commit", version.GitCommit)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hibi, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize hibi: %w", err)
			}
			defer hibi.Stop()

			if err := hibi.Run(ctx); err != nil {
				return fmt.Errorf("error running hibi: %w", err)
			}
			return nil
		},
	}
}

// loadConfig reads the file named by --config (or the default search path).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openRepository opens the configured store with logging set up from cfg.
func openRepository(ctx context.Context, cfg *config.Config) (app.Repository, error) {
	observability.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Secrets()...)
	return app.OpenRepository(ctx, cfg.Database)
}
