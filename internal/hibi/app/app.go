// Package app wires the Hibi components together and runs the bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Hibi/internal/hibi/commands"
	"github.com/bdobrica/Hibi/internal/hibi/config"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/llm"
	"github.com/bdobrica/Hibi/internal/hibi/matrix"
	"github.com/bdobrica/Hibi/internal/hibi/metrics"
	"github.com/bdobrica/Hibi/internal/hibi/pipeline"
	"github.com/bdobrica/Hibi/internal/hibi/ratelimit"
)

// App is a running Hibi instance.
type App struct {
	config       *config.Config
	repo         Repository
	metrics      *metrics.Metrics
	bot          *commands.Bot
	matrix       *matrix.Client
	healthServer *HealthServer
}

// New opens the store, builds every component and connects the Matrix
// client.  It does not start syncing.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.RequireMatrix(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	repo, err := OpenRepository(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	bot := NewBot(cfg, repo, llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}), m, loc)

	slog.Info("connecting to Matrix", "homeserver", cfg.Matrix.Homeserver, "user", cfg.Matrix.UserID)
	matrixClient, err := matrix.New(&matrix.Config{
		Homeserver:  cfg.Matrix.Homeserver,
		UserID:      cfg.Matrix.UserID,
		AccessToken: cfg.Matrix.AccessToken,
		Rooms:       cfg.Matrix.Rooms,
		AutoJoin:    cfg.Matrix.AutoJoin,
		SyncState:   repo,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	var hs *HealthServer
	if cfg.HTTP.Addr != "" {
		hs = NewHealthServer(cfg.HTTP.Addr, repo, m.Handler())
	}

	return &App{
		config:       cfg,
		repo:         repo,
		metrics:      m,
		bot:          bot,
		matrix:       matrixClient,
		healthServer: hs,
	}, nil
}

// NewBot builds the command bot and generate pipeline on top of repo.
func NewBot(cfg *config.Config, repo journal.Repository, provider llm.Provider, m *metrics.Metrics, loc *time.Location) *commands.Bot {
	selector := journal.NewSelector(repo, loc)
	gen := pipeline.New(pipeline.Deps{
		Selector: selector,
		Provider: provider,
		Usage:    journal.NewAccountant(repo),
		Audit:    repo,
		Metrics:  m,
		Model:    cfg.LLM.Model,
	})

	var limiter *ratelimit.Limiter
	if cfg.Generate.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Generate.RateLimit, time.Minute)
	}

	return commands.NewBot(commands.NewHandlers(commands.HandlersConfig{
		Ledger:         repo,
		Events:         repo,
		Selector:       selector,
		Generator:      gen,
		Limiter:        limiter,
		EventsLogged:   m.EventsLogged,
		SupportContact: cfg.SupportContact,
		Prefix:         cfg.Matrix.CommandPrefix,
	}))
}

// Run starts the health server and Matrix sync, then blocks until ctx is
// done.
func (a *App) Run(ctx context.Context) error {
	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.bot.Handle); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	slog.Info("hibi is running; press Ctrl+C to stop")
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// Stop stops the Hibi application
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	if err := a.repo.Close(); err != nil {
		slog.Warn("close database", "err", err)
	}
}
