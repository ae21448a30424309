package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsearb/pulsearb/internal/domain"
)

func mentionsWithText(texts ...string) []domain.Mention {
	out := make([]domain.Mention, len(texts))
	for i, text := range texts {
		out[i] = domain.Mention{ChannelID: "c", Text: text}
	}
	return out
}

func TestRuleClassifier_BestRuleWins(t *testing.T) {
	c := NewRuleClassifier(nil)

	result, err := c.Classify(context.Background(), "pepe",
		mentionsWithText("new AI agent launch", "the agent token", "dog coin maybe"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "ai", result.Label)
	assert.GreaterOrEqual(t, result.Confidence, 0.4)
}

func TestRuleClassifier_NoMatchReturnsNil(t *testing.T) {
	c := NewRuleClassifier(nil)

	result, err := c.Classify(context.Background(), "pepe",
		mentionsWithText("just vibes", "moon soon"))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRuleClassifier_ConfidenceSaturates(t *testing.T) {
	c := NewRuleClassifier(nil)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "ai agent gpt llm"
	}
	result, err := c.Classify(context.Background(), "pepe", mentionsWithText(texts...))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestScoreFor_WeightMapsOntoNarrativeRange(t *testing.T) {
	c := NewRuleClassifier(nil)

	score := c.ScoreFor(&domain.NarrativeResult{Label: "ai", Confidence: 0.9})
	require.NotNil(t, score)
	assert.InDelta(t, 22.5, *score, 0.001)

	// Confidence never scales the score.
	low := c.ScoreFor(&domain.NarrativeResult{Label: "ai", Confidence: 0.4})
	require.NotNil(t, low)
	assert.Equal(t, *score, *low)

	// Unknown labels land at the midpoint.
	unknown := c.ScoreFor(&domain.NarrativeResult{Label: "quantum", Confidence: 0.95})
	require.NotNil(t, unknown)
	assert.InDelta(t, 12.5, *unknown, 0.001)

	assert.Nil(t, c.ScoreFor(nil))
}

type stubClassifier struct {
	result *domain.NarrativeResult
	err    error
}

func (s stubClassifier) Classify(_ context.Context, _ string, _ []domain.Mention) (*domain.NarrativeResult, error) {
	return s.result, s.err
}

func TestTwoStage_SecondaryOverridesAboveThreshold(t *testing.T) {
	primary := NewRuleClassifier(nil)
	secondary := stubClassifier{result: &domain.NarrativeResult{Label: "political", Confidence: 0.85}}
	c := NewTwoStageClassifier(primary, secondary)

	result, err := c.Classify(context.Background(), "pepe", mentionsWithText("ai agent"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "political", result.Label)
}

func TestTwoStage_LowConfidenceSecondaryIgnored(t *testing.T) {
	primary := NewRuleClassifier(nil)
	secondary := stubClassifier{result: &domain.NarrativeResult{Label: "political", Confidence: 0.5}}
	c := NewTwoStageClassifier(primary, secondary)

	result, err := c.Classify(context.Background(), "pepe", mentionsWithText("ai agent"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "ai", result.Label)
}

func TestTwoStage_SecondaryFailureAbsorbed(t *testing.T) {
	primary := NewRuleClassifier(nil)
	secondary := stubClassifier{err: errors.New("upstream 503")}
	c := NewTwoStageClassifier(primary, secondary)

	result, err := c.Classify(context.Background(), "pepe", mentionsWithText("ai agent"))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "ai", result.Label)
}
