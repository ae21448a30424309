package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "pulsearb"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Signal-arbitrage decision pipeline",
		Version: version,
		Long: `pulsearb turns raw mention signals into rate-limited trade decisions:
diffusion and composite scoring, safety gates, sizing constraints, and an
adaptive source-trust ledger that learns from realized outcomes.`,
	}

	rootCmd.PersistentFlags().String("config", "config/pulsearb.yaml", "Path to the main configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newSourcesCmd())

	cobra.OnInitialize(func() {
		raw, _ := rootCmd.PersistentFlags().GetString("log-level")
		level, err := zerolog.ParseLevel(raw)
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
	})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
