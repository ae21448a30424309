package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsearb/pulsearb/internal/application"
	"github.com/pulsearb/pulsearb/internal/application/constraint"
	"github.com/pulsearb/pulsearb/internal/application/optimizer"
	"github.com/pulsearb/pulsearb/internal/application/pipeline"
	"github.com/pulsearb/pulsearb/internal/domain/decision"
	"github.com/pulsearb/pulsearb/internal/domain/diffusion"
	"github.com/pulsearb/pulsearb/internal/domain/scoring"
	"github.com/pulsearb/pulsearb/internal/infrastructure/cache"
	"github.com/pulsearb/pulsearb/internal/infrastructure/collab"
	"github.com/pulsearb/pulsearb/internal/infrastructure/metrics"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence/postgres"
	httpserver "github.com/pulsearb/pulsearb/internal/interfaces/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline server",
		Long:  "Starts the HTTP API, the dedup cache and the source optimizer cadences against PostgreSQL.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	config, err := application.LoadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := postgres.Connect(postgres.Config{
		DSN:             config.Database.DSN,
		MaxOpenConns:    config.Database.MaxOpenConns,
		MaxIdleConns:    config.Database.MaxIdleConns,
		ConnMaxLifetime: config.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	repo := postgres.NewRepository(db, 5*time.Second)

	var recent cache.RecentCache
	switch config.Cache.Backend {
	case "redis":
		recent = cache.NewRedisCache(cache.RedisConfig{
			Addr:     config.Cache.Redis.Addr,
			Password: config.Cache.Redis.Password,
			DB:       config.Cache.Redis.DB,
			TTL:      pipeline.Window,
		})
	default:
		recent = cache.NewInProcCache(pipeline.Window, config.Cache.MaxEntries)
	}
	defer recent.Close()

	p, opt, registry, err := buildPipeline(config, repo, recent)
	if err != nil {
		return err
	}

	runner := cron.New()
	if err := opt.Schedule(runner); err != nil {
		return fmt.Errorf("schedule optimizer: %w", err)
	}
	runner.Start()
	defer runner.Stop()

	server := httpserver.NewServer(config.Server, p, registry)
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

// buildPipeline assembles the evaluation core from loaded configuration.
func buildPipeline(config *application.Config, repo *persistence.Repository, recent cache.RecentCache) (*pipeline.Pipeline, *optimizer.Optimizer, *metrics.Registry, error) {
	bands, err := application.LoadBandsConfig(config.Tables.Bands)
	if err != nil {
		return nil, nil, nil, err
	}
	matrix, err := decision.NewMatrix(bands)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decision bands: %w", err)
	}

	limits, err := application.LoadLimitsConfig(config.Tables.Limits)
	if err != nil {
		return nil, nil, nil, err
	}
	tiers, err := application.LoadTiersConfig(config.Tables.Tiers)
	if err != nil {
		return nil, nil, nil, err
	}
	narratives, err := application.LoadNarrativesConfig(config.Tables.Narratives)
	if err != nil {
		return nil, nil, nil, err
	}
	optimizerConfig, err := application.LoadOptimizerConfig(config.Tables.Optimizer)
	if err != nil {
		return nil, nil, nil, err
	}

	if config.Collaborators.Security.BaseURL == "" {
		return nil, nil, nil, fmt.Errorf("security collaborator base_url is required")
	}
	if config.Collaborators.Execution.BaseURL == "" {
		return nil, nil, nil, fmt.Errorf("execution collaborator base_url is required")
	}
	if config.Collaborators.Mentions.BaseURL == "" {
		return nil, nil, nil, fmt.Errorf("mentions collaborator base_url is required")
	}

	var secondary collab.NarrativeClassifier
	if config.Collaborators.Narrative.BaseURL != "" {
		secondary = collab.NewHTTPNarrativeClient(config.Collaborators.Narrative)
	}

	registry := metrics.NewRegistry()
	opt := optimizer.New(repo.Sources, repo.Outcomes, optimizerConfig).WithMetrics(registry)

	p := pipeline.New(pipeline.Deps{
		Repo:        repo,
		Sources:     opt,
		Diffusion:   diffusion.NewScorer(tiers),
		Composite:   scoring.NewScorer(),
		Matrix:      matrix,
		Constraints: constraint.NewEngine(repo.Positions, limits),
		Security:    collab.NewHTTPSecurityClient(config.Collaborators.Security),
		Mentions:    collab.NewHTTPMentionSource(config.Collaborators.Mentions),
		Narrative:   collab.NewTwoStageClassifier(collab.NewRuleClassifier(narratives), secondary),
		Execution:   collab.NewHTTPExecutionClient(config.Collaborators.Execution),
		Recent:      recent,
		Metrics:     registry,
	})
	return p, opt, registry, nil
}
