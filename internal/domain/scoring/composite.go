// Package scoring combines diffusion output with narrative, influence,
// graph and timing sub-scores into one bounded composite score.
package scoring

import (
	"math"
	"time"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/diffusion"
)

// Component ranges. The diffusion contribution is clamped into [0,30]
// before summation; its internal penalty already lowered it.
const (
	MaxNarrative = 25.0
	MaxInfluence = 25.0
	MaxDiffusion = 30.0
	MaxGraph     = 10.0
	MaxTiming    = 10.0
)

// Neutral defaults substituted when a collaborator input is missing.
// New assets without indexed text get the narrative midpoint, never zero.
const (
	NeutralNarrative = 12.5
	NeutralInfluence = 10.0
)

// LowConfidenceMultiplier applies when independent corroboration is weak
// (<2 external validators) and more than 70% of the channel mix is the
// lowest-trust tier.
const (
	LowConfidenceMultiplier = 0.8
	MinValidators           = 2
	TierCShareThreshold     = 0.7
)

// Inputs carries every sub-score feeding one composite evaluation. Nil
// pointers mean "collaborator unavailable" and select the documented
// neutral default.
type Inputs struct {
	Narrative *float64
	Influence *float64
	Diffusion diffusion.Result

	Snapshot       *domain.SecuritySnapshot
	FirstMentionAt time.Time
	EvaluatedAt    time.Time

	Validators int     // independent external corroborations
	TierCShare float64 // share of mentions from the lowest-trust tier
}

// Scorer produces append-only ScoreRecords. Pure computation.
type Scorer struct{}

// NewScorer creates a composite scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score computes the bounded composite score. Every sub-score and the
// applied multiplier are retained on the record for audit. Missing inputs
// substitute neutral defaults; Score never fails.
func (s *Scorer) Score(signal domain.Signal, in Inputs) domain.ScoreRecord {
	sub := domain.Subscores{
		Narrative: clamp(orDefault(in.Narrative, NeutralNarrative), 0, MaxNarrative),
		Influence: clamp(orDefault(in.Influence, NeutralInfluence), 0, MaxInfluence),
		Diffusion: clamp(in.Diffusion.Total(), 0, MaxDiffusion),
		Graph:     GraphScore(in.Snapshot),
		Timing:    TimingScore(in.FirstMentionAt, in.EvaluatedAt),
	}

	multiplier := 1.0
	if in.Validators < MinValidators && in.TierCShare > TierCShareThreshold {
		multiplier = LowConfidenceMultiplier
	}

	raw := sub.Narrative + sub.Influence + sub.Diffusion + sub.Graph + sub.Timing
	final := int(math.Round(clamp(raw, 0, 100) * multiplier))

	return domain.ScoreRecord{
		SignalID:  signal.ID,
		AssetID:   signal.AssetID,
		Subscores: sub,
		Adjustments: domain.Adjustments{
			ManipulationPenalty:     in.Diffusion.ManipulationPenalty,
			LowConfidenceMultiplier: multiplier,
		},
		FinalScore: final,
		ScoredAt:   in.EvaluatedAt,
	}
}

// GraphScore maps liquidity depth, holder count and holder concentration
// from the security snapshot into 0-10. A missing snapshot yields the
// neutral midpoint.
func GraphScore(snap *domain.SecuritySnapshot) float64 {
	if snap == nil {
		return MaxGraph / 2
	}

	score := 0.0
	switch {
	case snap.LiquidityUSD >= 100_000:
		score += 4
	case snap.LiquidityUSD >= 25_000:
		score += 3
	case snap.LiquidityUSD >= 10_000:
		score += 2
	case snap.LiquidityUSD >= 2_500:
		score += 1
	}
	switch {
	case snap.HolderCount >= 500:
		score += 3
	case snap.HolderCount >= 100:
		score += 2
	case snap.HolderCount >= 25:
		score += 1
	}
	switch {
	case snap.Top10ConcentrationPct <= 30:
		score += 3
	case snap.Top10ConcentrationPct <= 50:
		score += 2
	case snap.Top10ConcentrationPct <= 70:
		score += 1
	}
	return score
}

// Influence credibility points, accumulated on a 100-point scale and then
// mapped onto [0,MaxInfluence]. Activity rewards raw mention reach, KOL
// counts distinct recognized channels, engagement sums across the fan-out.
const (
	influenceHighActivity     = 40.0 // >=20 mentions
	influenceModerateActivity = 25.0 // >=10 mentions
	influenceSomeActivity     = 15.0 // >=5 mentions
	influenceManyKOLs         = 30.0 // >=3 distinct KOL channels
	influenceOneKOL           = 20.0 // >=1
	influenceHighEngagement   = 20.0 // >=1000 summed
	influenceGoodEngagement   = 15.0 // >=500
)

// InfluenceScore maps mention reach, KOL amplification and engagement onto
// 0-25. A thin fan-out scores near zero; the neutral default applies only
// when the mention feed itself was unavailable, not when it returned little.
func InfluenceScore(mentions []domain.Mention) float64 {
	points := 0.0

	switch n := len(mentions); {
	case n >= 20:
		points += influenceHighActivity
	case n >= 10:
		points += influenceModerateActivity
	case n >= 5:
		points += influenceSomeActivity
	}

	kols := make(map[string]struct{})
	engagement := 0
	for _, m := range mentions {
		if m.IsKOL {
			kols[m.ChannelID] = struct{}{}
		}
		engagement += m.Engagement
	}
	switch {
	case len(kols) >= 3:
		points += influenceManyKOLs
	case len(kols) >= 1:
		points += influenceOneKOL
	}
	switch {
	case engagement >= 1000:
		points += influenceHighEngagement
	case engagement >= 500:
		points += influenceGoodEngagement
	}

	return clamp(points, 0, 100) / 100 * MaxInfluence
}

// TimingScore decays in steps with elapsed time since the first mention.
// An unknown first-mention time yields zero: staleness cannot be ruled out.
func TimingScore(firstMention, evaluated time.Time) float64 {
	if firstMention.IsZero() || evaluated.Before(firstMention) {
		return 0
	}
	elapsed := evaluated.Sub(firstMention)
	switch {
	case elapsed < 5*time.Minute:
		return 10
	case elapsed < 10*time.Minute:
		return 8
	case elapsed < 15*time.Minute:
		return 6
	case elapsed < 20*time.Minute:
		return 4
	case elapsed <= 30*time.Minute:
		return 2
	default:
		return 0
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
