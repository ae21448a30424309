package diffusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsearb/pulsearb/internal/domain"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func mention(channel, cluster string, tier domain.ChannelTier, offset time.Duration) domain.Mention {
	return domain.Mention{
		ChannelID: channel,
		ClusterID: cluster,
		Tier:      tier,
		Timestamp: t0.Add(offset),
	}
}

func TestBaseScore_StepFunction(t *testing.T) {
	scorer := NewScorer(nil)

	cases := []struct {
		count    int
		expected float64
	}{
		{0, 2}, {1, 2}, {2, 5}, {3, 7}, {4, 7}, {5, 10}, {9, 10},
	}
	for _, tc := range cases {
		mentions := make([]domain.Mention, tc.count)
		for i := range mentions {
			mentions[i] = mention("ch", "cl", domain.TierB, time.Duration(i)*5*time.Minute)
		}
		result := scorer.Score(mentions)
		assert.Equal(t, tc.expected, result.BaseScore, "count=%d", tc.count)
	}
}

func TestIndependence_BlacklistZeroesComponent(t *testing.T) {
	scorer := NewScorer(nil)

	mentions := []domain.Mention{
		mention("ch1", "c1", domain.TierB, 0),
		mention("ch2", "c2", domain.TierB, 3*time.Minute),
		mention("ch3", "c3", domain.TierBlacklist, 6*time.Minute),
	}
	result := scorer.Score(mentions)
	assert.Zero(t, result.IndependenceScore)
	assert.Contains(t, result.Flags, "blacklist_channel_present")
}

func TestIndependence_ClusterDiversityBonus(t *testing.T) {
	scorer := NewScorer(nil)

	// Two clusters → +2 bonus on top of the weighted average.
	two := scorer.Score([]domain.Mention{
		mention("ch1", "c1", domain.TierB, 0),
		mention("ch2", "c2", domain.TierB, 4*time.Minute),
	})
	// Three clusters → +5.
	three := scorer.Score([]domain.Mention{
		mention("ch1", "c1", domain.TierB, 0),
		mention("ch2", "c2", domain.TierB, 4*time.Minute),
		mention("ch3", "c3", domain.TierB, 8*time.Minute),
	})
	assert.InDelta(t, 0.6*10+2, two.IndependenceScore, 1e-9)
	assert.InDelta(t, 0.6*10+5, three.IndependenceScore, 1e-9)
}

func TestManipulation_TierAExemptionIsUnconditional(t *testing.T) {
	scorer := NewScorer(nil)

	// Six mentions inside 90 seconds, one tier-A: every penalty rule would
	// fire, the exemption still forces zero.
	mentions := make([]domain.Mention, 0, 6)
	for i := 0; i < 5; i++ {
		mentions = append(mentions, mention("ch", "c1", domain.TierC, time.Duration(i*15)*time.Second))
	}
	mentions = append(mentions, mention("kol", "c1", domain.TierA, 80*time.Second))

	result := scorer.Score(mentions)
	assert.Zero(t, result.ManipulationPenalty)
	assert.Contains(t, result.Flags, "tier_a_exemption")
}

func TestManipulation_CoordinatedTierCBurstClampsAtFloor(t *testing.T) {
	scorer := NewScorer(nil)

	// Six distinct tier-C mentions within 90 seconds: burst-sync HIGH (-20)
	// and uniform-low-tier (-10) both trigger, clamped at -20.
	mentions := make([]domain.Mention, 6)
	for i := range mentions {
		mentions[i] = mention("ch"+string(rune('a'+i)), "cl"+string(rune('a'+i)), domain.TierC, time.Duration(i*15)*time.Second)
	}
	result := scorer.Score(mentions)
	assert.Equal(t, -20.0, result.ManipulationPenalty)
	assert.Contains(t, result.Flags, "burst_sync_high")
	assert.Contains(t, result.Flags, "uniform_low_tier")
}

func TestManipulation_BurstMedium(t *testing.T) {
	scorer := NewScorer(nil)

	// 4 mentions, 2 inside one 2-minute window out of 4 → ratio 0.5 → -10.
	mentions := []domain.Mention{
		mention("ch1", "c1", domain.TierB, 0),
		mention("ch2", "c2", domain.TierB, 90*time.Second),
		mention("ch3", "c3", domain.TierB, 6*time.Minute),
		mention("ch4", "c4", domain.TierB, 12*time.Minute),
	}
	result := scorer.Score(mentions)
	assert.Equal(t, -10.0, result.ManipulationPenalty)
	assert.Contains(t, result.Flags, "burst_sync_medium")
}

func TestManipulation_FewTimestampsNeverBurst(t *testing.T) {
	scorer := NewScorer(nil)

	// Three mentions in the same second: below the burst minimum.
	mentions := []domain.Mention{
		mention("ch1", "c1", domain.TierB, 0),
		mention("ch2", "c2", domain.TierB, 0),
		mention("ch3", "c3", domain.TierB, 0),
	}
	result := scorer.Score(mentions)
	assert.Zero(t, result.ManipulationPenalty)
}

func TestManipulation_LowClusterDiversity(t *testing.T) {
	scorer := NewScorer(nil)

	// Eight mentions spread over an hour through two clusters: rule (a)
	// fires alone.
	mentions := make([]domain.Mention, 8)
	for i := range mentions {
		cluster := "c1"
		if i%2 == 0 {
			cluster = "c2"
		}
		mentions[i] = mention("ch", cluster, domain.TierB, time.Duration(i*8)*time.Minute)
	}
	result := scorer.Score(mentions)
	assert.Equal(t, -20.0, result.ManipulationPenalty)
	assert.Contains(t, result.Flags, "low_cluster_diversity")
}

func TestScore_MissingTierDefaultsToC(t *testing.T) {
	scorer := NewScorer(nil)

	mentions := []domain.Mention{
		{ChannelID: "ch1", ClusterID: "c1", Timestamp: t0},
		{ChannelID: "ch2", ClusterID: "c2", Timestamp: t0.Add(5 * time.Minute)},
	}
	result := scorer.Score(mentions)
	// Two tier-C mentions: weighted avg 0.3*10 + two-cluster bonus 2.
	assert.InDelta(t, 5.0, result.IndependenceScore, 1e-9)
}

func TestScore_EmptyMentionSet(t *testing.T) {
	scorer := NewScorer(nil)

	result := scorer.Score(nil)
	require.Equal(t, 2.0, result.BaseScore)
	assert.Zero(t, result.IndependenceScore)
	assert.Zero(t, result.ManipulationPenalty)
}
