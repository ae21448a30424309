// Package diffusion scores how broadly and independently a signal spread
// across broadcast channels, and penalizes coordinated amplification.
package diffusion

import (
	"sort"
	"time"

	"github.com/pulsearb/pulsearb/internal/domain"
)

// Scorer evaluates one mention fan-out inside the diffusion window.
// Pure computation: no clock reads, no external calls.
type Scorer struct {
	config *Config
}

// Config contains tier weights and manipulation thresholds. Tier weights
// are loaded from versioned configuration, not inline literals, so trust
// rankings update without redeploying scoring logic.
type Config struct {
	TierWeights map[domain.ChannelTier]float64 `yaml:"tier_weights"`

	// Burst-sync detection
	BurstWindow      time.Duration `yaml:"burst_window"`       // sliding window, 2m
	BurstHighRatio   float64       `yaml:"burst_high_ratio"`   // ≥0.7 with ≥5 mentions
	BurstMediumRatio float64       `yaml:"burst_medium_ratio"` // ≥0.5 with ≥4 mentions

	// Low-diversity detection
	LowDiversityCount    int `yaml:"low_diversity_count"`    // ≥8 mentions
	LowDiversityClusters int `yaml:"low_diversity_clusters"` // ≤2 clusters

	// Penalty floor
	MaxPenalty float64 `yaml:"max_penalty"` // -20
}

// DefaultConfig returns the production diffusion configuration.
func DefaultConfig() *Config {
	return &Config{
		TierWeights: map[domain.ChannelTier]float64{
			domain.TierA:         1.0,
			domain.TierB:         0.6,
			domain.TierC:         0.3,
			domain.TierBlacklist: 0.0,
		},
		BurstWindow:          2 * time.Minute,
		BurstHighRatio:       0.7,
		BurstMediumRatio:     0.5,
		LowDiversityCount:    8,
		LowDiversityClusters: 2,
		MaxPenalty:           -20.0,
	}
}

// NewScorer creates a diffusion scorer. A nil config selects defaults.
func NewScorer(config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{config: config}
}

// Result is the scored breakdown of one mention set. Total may be negative
// when the manipulation penalty dominates; CompositeScorer clamps it into
// its documented input range.
type Result struct {
	BaseScore           float64  `json:"base_score"`           // 0-10
	IndependenceScore   float64  `json:"independence_score"`   // 0-15
	ManipulationPenalty float64  `json:"manipulation_penalty"` // 0..-20
	MentionCount        int      `json:"mention_count"`
	DistinctClusters    int      `json:"distinct_clusters"`
	Flags               []string `json:"flags,omitempty"`
}

// Total is the diffusion contribution before composite clamping.
func (r Result) Total() float64 {
	return r.BaseScore + r.IndependenceScore + r.ManipulationPenalty
}

// Score evaluates one mention fan-out. Mentions with a missing tier are
// treated as tier C. The caller is responsible for restricting mentions to
// the diffusion window.
func (s *Scorer) Score(mentions []domain.Mention) Result {
	normalized := make([]domain.Mention, len(mentions))
	copy(normalized, mentions)
	for i := range normalized {
		if normalized[i].Tier == "" {
			normalized[i].Tier = domain.TierC
		}
	}

	result := Result{
		BaseScore:        baseScore(len(normalized)),
		MentionCount:     len(normalized),
		DistinctClusters: distinctClusters(normalized),
	}
	result.IndependenceScore = s.independenceScore(normalized, result.DistinctClusters, &result)
	result.ManipulationPenalty = s.manipulationPenalty(normalized, result.DistinctClusters, &result)
	return result
}

// baseScore is a step function of raw mention count.
func baseScore(count int) float64 {
	switch {
	case count >= 5:
		return 10
	case count >= 3:
		return 7
	case count >= 2:
		return 5
	default:
		return 2
	}
}

func distinctClusters(mentions []domain.Mention) int {
	seen := make(map[string]struct{}, len(mentions))
	for _, m := range mentions {
		cluster := m.ClusterID
		if cluster == "" {
			// Unclustered channels count as their own cluster.
			cluster = "channel:" + m.ChannelID
		}
		seen[cluster] = struct{}{}
	}
	return len(seen)
}

// independenceScore is a tier-weighted average scaled to 0-10 plus a
// cluster-diversity bonus of 0-5. Any BLACKLIST mention zeroes the whole
// component.
func (s *Scorer) independenceScore(mentions []domain.Mention, clusters int, result *Result) float64 {
	if len(mentions) == 0 {
		return 0
	}
	weightSum := 0.0
	for _, m := range mentions {
		if m.Tier == domain.TierBlacklist {
			result.Flags = append(result.Flags, "blacklist_channel_present")
			return 0
		}
		weightSum += s.config.TierWeights[m.Tier]
	}

	weighted := weightSum / float64(len(mentions)) * 10
	if weighted > 10 {
		weighted = 10
	}

	bonus := 0.0
	switch {
	case clusters >= 3:
		bonus = 5
	case clusters >= 2:
		bonus = 2
	}
	return weighted + bonus
}

// manipulationPenalty sums the coordinated-amplification rules and clamps
// at the configured floor. A single tier-A mention is treated as organic
// corroboration: burst and tier-composition rules are skipped and the
// penalty is forced to zero.
func (s *Scorer) manipulationPenalty(mentions []domain.Mention, clusters int, result *Result) float64 {
	for _, m := range mentions {
		if m.Tier == domain.TierA {
			result.Flags = append(result.Flags, "tier_a_exemption")
			return 0
		}
	}

	penalty := 0.0
	count := len(mentions)

	// Rule (a): high volume through too few clusters.
	if count >= s.config.LowDiversityCount && clusters <= s.config.LowDiversityClusters {
		penalty -= 20
		result.Flags = append(result.Flags, "low_cluster_diversity")
	}

	// Rule (b): burst synchronization.
	ratio := s.burstRatio(mentions)
	switch {
	case ratio >= s.config.BurstHighRatio && count >= 5:
		penalty -= 20
		result.Flags = append(result.Flags, "burst_sync_high")
	case ratio >= s.config.BurstMediumRatio && count >= 4:
		penalty -= 10
		result.Flags = append(result.Flags, "burst_sync_medium")
	}

	// Rule (c): near-uniform lowest-tier composition.
	tierC := 0
	for _, m := range mentions {
		if m.Tier == domain.TierC {
			tierC++
		}
	}
	if tierC >= 5 && count >= 6 && float64(tierC)/float64(count) >= 0.9 {
		penalty -= 10
		result.Flags = append(result.Flags, "uniform_low_tier")
	}

	if penalty < s.config.MaxPenalty {
		penalty = s.config.MaxPenalty
	}
	return penalty
}

// burstRatio is the highest share of mentions landing inside any sliding
// window of BurstWindow length. Fewer than 4 timestamps never trigger
// burst detection.
func (s *Scorer) burstRatio(mentions []domain.Mention) float64 {
	if len(mentions) < 4 {
		return 0
	}
	times := make([]time.Time, 0, len(mentions))
	for _, m := range mentions {
		if !m.Timestamp.IsZero() {
			times = append(times, m.Timestamp)
		}
	}
	if len(times) < 4 {
		return 0
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	best := 0
	for i := range times {
		end := times[i].Add(s.config.BurstWindow)
		count := 0
		for j := i; j < len(times) && !times[j].After(end); j++ {
			count++
		}
		if count > best {
			best = count
		}
	}
	return float64(best) / float64(len(times))
}
