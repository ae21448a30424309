package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsearb/pulsearb/internal/application"
	"github.com/pulsearb/pulsearb/internal/application/constraint"
	"github.com/pulsearb/pulsearb/internal/application/optimizer"
	"github.com/pulsearb/pulsearb/internal/application/pipeline"
	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/decision"
	"github.com/pulsearb/pulsearb/internal/domain/diffusion"
	"github.com/pulsearb/pulsearb/internal/domain/scoring"
	"github.com/pulsearb/pulsearb/internal/infrastructure/cache"
	"github.com/pulsearb/pulsearb/internal/infrastructure/collab"
	"github.com/pulsearb/pulsearb/internal/infrastructure/metrics"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence/memory"
)

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one signal offline",
		Long: `Runs one signal through scoring, gates and constraints without touching
PostgreSQL, Redis or the execution venue. The security snapshot and the
mention fan-out come from flags and an optional mentions file; orders are
dry-run.`,
		RunE: runEvaluate,
	}

	cmd.Flags().String("signal", "", "Path to a JSON file with the full signal (overrides the signal flags)")
	cmd.Flags().String("asset", "", "Asset identifier (required unless --signal is given)")
	cmd.Flags().String("chain", "solana", "Chain name")
	cmd.Flags().String("source-type", "telegram", "Originating source type")
	cmd.Flags().String("source-id", "manual", "Originating source identifier")
	cmd.Flags().String("tier", "B", "Originating channel tier (A|B|C)")
	cmd.Flags().String("mentions", "", "Path to a JSON file with the mention fan-out")
	cmd.Flags().String("gate", "PASS", "Security gate status (PASS|GREYLIST|REJECT)")
	cmd.Flags().Float64("liquidity", 50000, "Snapshot liquidity in USD")
	cmd.Flags().Int("holders", 200, "Snapshot holder count")
	cmd.Flags().Float64("top10", 40, "Snapshot top-10 concentration percent")
	cmd.Flags().String("category", "memecoin", "Snapshot category")
	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	signalPath, _ := cmd.Flags().GetString("signal")
	asset, _ := cmd.Flags().GetString("asset")
	if asset == "" && signalPath == "" {
		return fmt.Errorf("--asset or --signal is required")
	}
	chain, _ := cmd.Flags().GetString("chain")
	sourceType, _ := cmd.Flags().GetString("source-type")
	sourceID, _ := cmd.Flags().GetString("source-id")
	tier, _ := cmd.Flags().GetString("tier")
	mentionsPath, _ := cmd.Flags().GetString("mentions")
	gate, _ := cmd.Flags().GetString("gate")
	liquidity, _ := cmd.Flags().GetFloat64("liquidity")
	holders, _ := cmd.Flags().GetInt("holders")
	top10, _ := cmd.Flags().GetFloat64("top10")
	category, _ := cmd.Flags().GetString("category")

	var mentions []domain.Mention
	if mentionsPath != "" {
		b, err := os.ReadFile(mentionsPath)
		if err != nil {
			return fmt.Errorf("read mentions file: %w", err)
		}
		if err := json.Unmarshal(b, &mentions); err != nil {
			return fmt.Errorf("parse mentions file: %w", err)
		}
	}

	configPath, _ := cmd.Flags().GetString("config")
	config, err := application.LoadConfig(configPath)
	if err != nil {
		// Offline evaluation works without a config file.
		config = application.DefaultConfig()
	}
	tiers, err := application.LoadTiersConfig(config.Tables.Tiers)
	if err != nil {
		tiers = diffusion.DefaultConfig()
	}
	narratives, err := application.LoadNarrativesConfig(config.Tables.Narratives)
	if err != nil {
		narratives = collab.DefaultNarrativeConfig()
	}
	matrix, err := decision.NewMatrix(nil)
	if err != nil {
		return err
	}

	store := memory.NewStore()
	registry := metrics.NewRegistry()
	p := pipeline.New(pipeline.Deps{
		Repo:        store.Repository(),
		Sources:     optimizer.New(store, store, nil),
		Diffusion:   diffusion.NewScorer(tiers),
		Composite:   scoring.NewScorer(),
		Matrix:      matrix,
		Constraints: constraint.NewEngine(store, constraint.DefaultLimits()),
		Security: staticSecurity{snapshot: domain.SecuritySnapshot{
			GateStatus:            domain.GateStatus(gate),
			LiquidityUSD:          liquidity,
			HolderCount:           holders,
			Top10ConcentrationPct: top10,
			Category:              category,
		}},
		Mentions:  staticMentions{mentions: mentions},
		Narrative: collab.NewTwoStageClassifier(collab.NewRuleClassifier(narratives), nil),
		Execution: dryRunVenue{},
		Recent:    cache.NewInProcCache(pipeline.Window, 128),
		Metrics:   registry,
	})

	signal := domain.Signal{
		AssetID:     asset,
		Chain:       chain,
		SourceType:  sourceType,
		SourceID:    sourceID,
		ChannelTier: domain.ChannelTier(tier),
		ObservedAt:  time.Now().UTC(),
	}
	if signalPath != "" {
		b, err := os.ReadFile(signalPath)
		if err != nil {
			return fmt.Errorf("read signal file: %w", err)
		}
		if err := json.Unmarshal(b, &signal); err != nil {
			return fmt.Errorf("parse signal file: %w", err)
		}
		if signal.ObservedAt.IsZero() {
			signal.ObservedAt = time.Now().UTC()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := p.Decide(ctx, signal)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// staticSecurity serves the flag-built snapshot.
type staticSecurity struct {
	snapshot domain.SecuritySnapshot
}

func (s staticSecurity) Snapshot(_ context.Context, _, _ string) (*domain.SecuritySnapshot, error) {
	snap := s.snapshot
	return &snap, nil
}

// staticMentions serves the file-loaded fan-out.
type staticMentions struct {
	mentions []domain.Mention
}

func (s staticMentions) Mentions(_ context.Context, _ string, _ time.Duration) ([]domain.Mention, error) {
	return s.mentions, nil
}

// dryRunVenue accepts every order without touching a venue.
type dryRunVenue struct{}

func (dryRunVenue) PlaceOrder(_ context.Context, _ collab.Order) (*collab.OrderResult, error) {
	return &collab.OrderResult{Success: true, TxRef: "dry-run"}, nil
}
