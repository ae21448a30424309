package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsearb/pulsearb/internal/application"
	"github.com/pulsearb/pulsearb/internal/application/optimizer"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence/postgres"
)

func newSourcesCmd() *cobra.Command {
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect the source-trust ledger",
	}

	topCmd := &cobra.Command{
		Use:   "top",
		Short: "Print the best sources by quality score",
		RunE:  runSourcesTop,
	}
	topCmd.Flags().Int("n", 10, "Number of sources to print")
	sourcesCmd.AddCommand(topCmd)
	return sourcesCmd
}

func runSourcesTop(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	n, _ := cmd.Flags().GetInt("n")

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

	optimizerConfig, err := application.LoadOptimizerConfig(config.Tables.Optimizer)
	if err != nil {
		return err
	}
	opt := optimizer.New(repo.Sources, repo.Outcomes, optimizerConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := opt.TopSources(ctx, n)
	if err != nil {
		return err
	}

	fmt.Printf("%-30s %-10s %8s %6s %6s %8s\n", "SOURCE", "STATUS", "QUALITY", "WINS", "LOSSES", "AVG PNL")
	for _, rec := range records {
		fmt.Printf("%-30s %-10s %8.1f %6d %6d %7.1f%%\n",
			rec.Key(), rec.Status, rec.QualityScore, rec.Wins, rec.Losses, rec.AvgPnl)
	}
	return nil
}
