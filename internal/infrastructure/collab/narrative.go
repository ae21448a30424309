package collab

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pulsearb/pulsearb/internal/domain"
)

// NarrativeRule maps keywords to a narrative label with a score weight.
// Rules live in versioned configuration so keyword lists update without
// redeploying scoring logic.
type NarrativeRule struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
	Weight   float64  `yaml:"weight"` // 0-1, maps onto the 0-25 narrative range
}

// NarrativeConfig is the loadable rule table plus the override threshold.
type NarrativeConfig struct {
	Rules []NarrativeRule `yaml:"rules"`

	// SecondaryOverrideConfidence is the single precedence rule between
	// the deterministic classifier and the external one: the secondary
	// label wins only at or above this confidence.
	SecondaryOverrideConfidence float64 `yaml:"secondary_override_confidence"`
}

// DefaultNarrativeConfig returns the production rule table.
func DefaultNarrativeConfig() *NarrativeConfig {
	return &NarrativeConfig{
		SecondaryOverrideConfidence: 0.7,
		Rules: []NarrativeRule{
			{Label: "ai", Keywords: []string{"ai", "agent", "gpt", "llm"}, Weight: 0.9},
			{Label: "political", Keywords: []string{"election", "president", "senate"}, Weight: 0.8},
			{Label: "animal", Keywords: []string{"dog", "cat", "frog", "inu"}, Weight: 0.6},
			{Label: "celebrity", Keywords: []string{"elon", "kanye", "drake"}, Weight: 0.5},
		},
	}
}

// RuleClassifier is the fast deterministic first stage: keyword rules over
// mention text, confidence proportional to keyword hits.
type RuleClassifier struct {
	config *NarrativeConfig
}

// NewRuleClassifier creates the deterministic classifier. A nil config
// selects defaults.
func NewRuleClassifier(config *NarrativeConfig) *RuleClassifier {
	if config == nil {
		config = DefaultNarrativeConfig()
	}
	return &RuleClassifier{config: config}
}

// Classify scans mention text for rule keywords. The best-matching rule
// wins; confidence grows with hit count and saturates at 1.0. No matches
// yields nil: the caller substitutes the neutral narrative default.
func (c *RuleClassifier) Classify(_ context.Context, _ string, mentions []domain.Mention) (*domain.NarrativeResult, error) {
	var corpus strings.Builder
	for _, m := range mentions {
		corpus.WriteString(strings.ToLower(m.Text))
		corpus.WriteString(" ")
	}
	text := corpus.String()

	var best *NarrativeRule
	bestHits := 0
	for i, rule := range c.config.Rules {
		hits := 0
		for _, kw := range rule.Keywords {
			hits += strings.Count(text, strings.ToLower(kw))
		}
		if hits > bestHits {
			best = &c.config.Rules[i]
			bestHits = hits
		}
	}
	if best == nil {
		return nil, nil
	}

	confidence := 0.4 + 0.15*float64(bestHits)
	if confidence > 1.0 {
		confidence = 1.0
	}
	return &domain.NarrativeResult{Label: best.Label, Confidence: confidence}, nil
}

// ScoreFor maps a narrative label onto the 0-25 narrative sub-score. The
// label's configured weight is the whole rule: confidence gates override
// precedence but never scales the score.
func (c *RuleClassifier) ScoreFor(result *domain.NarrativeResult) *float64 {
	if result == nil {
		return nil
	}
	for _, rule := range c.config.Rules {
		if rule.Label == result.Label {
			score := rule.Weight * 25
			return &score
		}
	}
	// Label from the secondary classifier with no local rule: midpoint.
	score := 12.5
	return &score
}

// TwoStageClassifier merges the deterministic first stage with an optional
// external classifier. One explicit precedence rule: the secondary result
// replaces the primary only when its confidence clears the configured
// threshold. Secondary failure is absorbed; the primary answer stands.
type TwoStageClassifier struct {
	primary   *RuleClassifier
	secondary NarrativeClassifier // nil when not configured
	threshold float64
}

// NewTwoStageClassifier wires the two stages.
func NewTwoStageClassifier(primary *RuleClassifier, secondary NarrativeClassifier) *TwoStageClassifier {
	return &TwoStageClassifier{
		primary:   primary,
		secondary: secondary,
		threshold: primary.config.SecondaryOverrideConfidence,
	}
}

// Classify runs both stages and applies the precedence rule.
func (c *TwoStageClassifier) Classify(ctx context.Context, assetID string, mentions []domain.Mention) (*domain.NarrativeResult, error) {
	primary, _ := c.primary.Classify(ctx, assetID, mentions)

	if c.secondary == nil {
		return primary, nil
	}
	secondary, err := c.secondary.Classify(ctx, assetID, mentions)
	if err != nil {
		log.Warn().Err(err).Str("asset", assetID).Msg("secondary narrative classifier unavailable")
		return primary, nil
	}
	if secondary != nil && secondary.Confidence >= c.threshold {
		return secondary, nil
	}
	return primary, nil
}

// ScoreFor exposes the primary rule table's label-to-score mapping.
func (c *TwoStageClassifier) ScoreFor(result *domain.NarrativeResult) *float64 {
	return c.primary.ScoreFor(result)
}

// HTTPNarrativeClient calls the external classifier service.
type HTTPNarrativeClient struct {
	guardedClient
}

// NewHTTPNarrativeClient creates a guarded classifier client.
func NewHTTPNarrativeClient(config ClientConfig) *HTTPNarrativeClient {
	return &HTTPNarrativeClient{guardedClient: newGuardedClient(config)}
}

// Classify sends the mention set to the external classifier.
func (c *HTTPNarrativeClient) Classify(ctx context.Context, assetID string, mentions []domain.Mention) (*domain.NarrativeResult, error) {
	var result domain.NarrativeResult
	body := map[string]interface{}{"asset_id": assetID, "mentions": mentions}
	if err := c.postJSON(ctx, "/v1/classify", body, &result); err != nil {
		return nil, err
	}
	if result.Label == "" {
		return nil, nil
	}
	return &result, nil
}
