package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/diffusion"
)

var evalTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func testSignal() domain.Signal {
	return domain.Signal{ID: "sig-1", AssetID: "asset-1", Chain: "solana"}
}

func TestScore_BoundsAtExtremes(t *testing.T) {
	scorer := NewScorer()

	// Everything maxed out.
	high := scorer.Score(testSignal(), Inputs{
		Narrative: ptr(25),
		Influence: ptr(25),
		Diffusion: diffusion.Result{BaseScore: 10, IndependenceScore: 15},
		Snapshot: &domain.SecuritySnapshot{
			LiquidityUSD:          500_000,
			HolderCount:           1_000,
			Top10ConcentrationPct: 10,
		},
		FirstMentionAt: evalTime.Add(-1 * time.Minute),
		EvaluatedAt:    evalTime,
		Validators:     3,
	})
	assert.LessOrEqual(t, high.FinalScore, 100)
	assert.GreaterOrEqual(t, high.FinalScore, 0)

	// Everything at the floor, with the penalty dragging diffusion negative.
	low := scorer.Score(testSignal(), Inputs{
		Narrative:   ptr(0),
		Influence:   ptr(0),
		Diffusion:   diffusion.Result{BaseScore: 2, ManipulationPenalty: -20},
		Snapshot:    &domain.SecuritySnapshot{},
		EvaluatedAt: evalTime,
		TierCShare:  1.0,
	})
	assert.GreaterOrEqual(t, low.FinalScore, 0)
	assert.LessOrEqual(t, low.FinalScore, 100)
}

func TestScore_MissingInputsUseNeutralDefaults(t *testing.T) {
	scorer := NewScorer()

	rec := scorer.Score(testSignal(), Inputs{
		EvaluatedAt: evalTime,
		Validators:  2,
	})
	assert.Equal(t, NeutralNarrative, rec.Subscores.Narrative,
		"new assets must not be punished for lacking indexed text")
	assert.Equal(t, NeutralInfluence, rec.Subscores.Influence)
	assert.Equal(t, MaxGraph/2, rec.Subscores.Graph)
	assert.Equal(t, 1.0, rec.Adjustments.LowConfidenceMultiplier)
}

func TestScore_LowConfidenceMultiplier(t *testing.T) {
	scorer := NewScorer()

	in := Inputs{
		Narrative:      ptr(20),
		Influence:      ptr(20),
		Diffusion:      diffusion.Result{BaseScore: 10, IndependenceScore: 10},
		FirstMentionAt: evalTime.Add(-2 * time.Minute),
		EvaluatedAt:    evalTime,
		Validators:     1,
		TierCShare:     0.8,
	}
	discounted := scorer.Score(testSignal(), in)
	assert.Equal(t, LowConfidenceMultiplier, discounted.Adjustments.LowConfidenceMultiplier)

	// Either enough validators or a healthier channel mix lifts the discount.
	in.Validators = 2
	full := scorer.Score(testSignal(), in)
	assert.Equal(t, 1.0, full.Adjustments.LowConfidenceMultiplier)
	assert.Greater(t, full.FinalScore, discounted.FinalScore)
}

func TestScore_AdjustmentsRetainedForAudit(t *testing.T) {
	scorer := NewScorer()

	rec := scorer.Score(testSignal(), Inputs{
		Diffusion:   diffusion.Result{BaseScore: 10, IndependenceScore: 5, ManipulationPenalty: -10},
		EvaluatedAt: evalTime,
		Validators:  2,
	})
	assert.Equal(t, -10.0, rec.Adjustments.ManipulationPenalty)
	assert.Equal(t, 5.0, rec.Subscores.Diffusion, "penalty folded into the diffusion component")
}

func TestTimingScore_StepDecay(t *testing.T) {
	cases := []struct {
		elapsed  time.Duration
		expected float64
	}{
		{1 * time.Minute, 10},
		{7 * time.Minute, 8},
		{12 * time.Minute, 6},
		{18 * time.Minute, 4},
		{25 * time.Minute, 2},
		{45 * time.Minute, 0},
	}
	for _, tc := range cases {
		got := TimingScore(evalTime.Add(-tc.elapsed), evalTime)
		assert.Equal(t, tc.expected, got, "elapsed=%s", tc.elapsed)
	}
	assert.Zero(t, TimingScore(time.Time{}, evalTime), "unknown first mention scores zero")
}

func TestInfluenceScore_Bands(t *testing.T) {
	mentionSet := func(n, kols, engagementEach int) []domain.Mention {
		out := make([]domain.Mention, n)
		for i := range out {
			out[i] = domain.Mention{
				ChannelID:  "chan-" + string(rune('a'+i)),
				IsKOL:      i < kols,
				Engagement: engagementEach,
			}
		}
		return out
	}

	// 6 mentions (15) + 2 KOLs (20) + 1200 engagement (20) = 55 → 13.75.
	assert.InDelta(t, 13.75, InfluenceScore(mentionSet(6, 2, 200)), 1e-9)

	// 20 mentions (40) + 3 KOLs (30) + 2000 engagement (20) = 90 → 22.5.
	assert.InDelta(t, 22.5, InfluenceScore(mentionSet(20, 3, 100)), 1e-9)

	// A single quiet mention carries no reach.
	assert.Zero(t, InfluenceScore(mentionSet(1, 0, 0)))
	assert.Zero(t, InfluenceScore(nil))

	// Duplicate KOL channel ids count once.
	dup := []domain.Mention{
		{ChannelID: "kol-1", IsKOL: true},
		{ChannelID: "kol-1", IsKOL: true},
		{ChannelID: "kol-1", IsKOL: true},
	}
	assert.InDelta(t, influenceOneKOL/100*MaxInfluence, InfluenceScore(dup), 1e-9)
}

func TestGraphScore_Bands(t *testing.T) {
	assert.Equal(t, 10.0, GraphScore(&domain.SecuritySnapshot{
		LiquidityUSD: 200_000, HolderCount: 900, Top10ConcentrationPct: 20,
	}))
	assert.Equal(t, 0.0, GraphScore(&domain.SecuritySnapshot{
		LiquidityUSD: 100, HolderCount: 3, Top10ConcentrationPct: 95,
	}))
	assert.Equal(t, MaxGraph/2, GraphScore(nil))
}
