package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/pipesight/pkg/contract"
)

type identityTransformer struct{}

func (identityTransformer) Transform(vector []float64) ([]float64, error) {
	return vector, nil
}

type constantScorer struct {
	score float64
}

func (c constantScorer) Score(_ []float64) (float64, error) {
	return c.score, nil
}

func twoFeatureModel() *ClusterModel {
	return &ClusterModel{
		Schema: FeatureSchema{Version: 1, Features: []string{"feature_a", "feature_b"}},
		Profiles: map[int]ClusterProfile{
			0: {
				Stats: map[string]FeatureStats{
					"feature_a": {Mean: 10, Std: 2, P50: 9},
					"feature_b": {Mean: 5, Std: 1, P50: 5},
				},
				Members: 4,
			},
		},
		Assignments: map[string]int{"acme/widget:build": 0},
	}
}

func TestExplainRanksByZScore(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{score: -0.3},
	}

	// feature_a: (14-10)/2 = 2.0, feature_b: (5-5)/1 = 0.
	explanation, cErr := explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":14,"feature_b":5}`,
	)
	require.Nil(t, cErr)
	require.True(t, explanation.Scorable)

	assert.Equal(t, "feature_a", explanation.MainFeature)
	assert.InDelta(t, 2.0, explanation.ZScore, 1e-9)

	// gain = value - cluster p50; gain_pct relative to the value.
	assert.InDelta(t, 5.0, explanation.Gain, 1e-9)
	assert.InDelta(t, 5.0/14.0*100, explanation.GainPct, 1e-4)

	assert.InDelta(t, -0.3, explanation.AnomalyScore, 1e-9)
	assert.Equal(t, ConfidenceLow, explanation.Confidence)
	assert.Nil(t, explanation.CombinedScore)
}

func TestExplainConfidenceBands(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	// z = (14.2-10)/2 = 2.1 -> medium.
	explanation, cErr := explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":14.2,"feature_b":5}`,
	)
	require.Nil(t, cErr)
	assert.Equal(t, ConfidenceMedium, explanation.Confidence)

	// z = (16-10)/2 = 3.0 -> high.
	explanation, cErr = explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":16,"feature_b":5}`,
	)
	require.Nil(t, cErr)
	assert.Equal(t, ConfidenceHigh, explanation.Confidence)
}

func TestExplainZeroVarianceFeature(t *testing.T) {
	clusters := twoFeatureModel()
	profile := clusters.Profiles[0]
	profile.Stats["feature_a"] = FeatureStats{Mean: 10, Std: 0, P50: 10}
	clusters.Profiles[0] = profile

	explainer := &Explainer{
		Clusters:    clusters,
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	// A zero-spread feature contributes z = 0 no matter how far the
	// observation sits; feature_b carries the explanation.
	explanation, cErr := explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":1000,"feature_b":7}`,
	)
	require.Nil(t, cErr)
	assert.Equal(t, "feature_b", explanation.MainFeature)
	assert.InDelta(t, 2.0, explanation.ZScore, 1e-9)
}

func TestExplainTieBreaksBySchemaOrder(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	// Both features land on |z| = 1.0; the first schema feature wins.
	explanation, cErr := explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":12,"feature_b":6}`,
	)
	require.Nil(t, cErr)
	assert.Equal(t, "feature_a", explanation.MainFeature)
}

func TestExplainNegativeGainClampsToZero(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	// feature_a z = (4-10)/2 = -3: below the median, nothing to gain.
	explanation, cErr := explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":4,"feature_b":5}`,
	)
	require.Nil(t, cErr)
	assert.InDelta(t, -3.0, explanation.ZScore, 1e-9)
	assert.Equal(t, 0.0, explanation.Gain)
	assert.Equal(t, 0.0, explanation.GainPct)
}

func TestExplainSchemaVersionMismatch(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	_, cErr := explainer.Explain("acme/widget:build", 2, `{"feature_a":1,"feature_b":1}`)
	require.NotNil(t, cErr)
	assert.Equal(t, contract.ErrorCodeSchemaMismatch, cErr.Code)
}

func TestExplainUnassignedEntityIsNotScorable(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	explanation, cErr := explainer.Explain("unknown:job", 1, `{"feature_a":1,"feature_b":1}`)
	require.Nil(t, cErr)
	assert.False(t, explanation.Scorable)
	assert.NotEmpty(t, explanation.Reason)
}

func TestExplainMissingFeatureIsNotScorable(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{},
	}

	explanation, cErr := explainer.Explain("acme/widget:build", 1, `{"feature_a":1}`)
	require.Nil(t, cErr)
	assert.False(t, explanation.Scorable)
	assert.Contains(t, explanation.Reason, "feature_b")
}

func TestExplainBlendedScore(t *testing.T) {
	explainer := &Explainer{
		Clusters:    twoFeatureModel(),
		Transformer: identityTransformer{},
		Scorer:      constantScorer{score: -0.5},
		BlendWeight: 0.6,
	}

	explanation, cErr := explainer.Explain(
		"acme/widget:build", 1, `{"feature_a":14,"feature_b":5}`,
	)
	require.Nil(t, cErr)
	require.NotNil(t, explanation.CombinedScore)

	// 0.6*(-(-0.5)) + 0.4*|2.0| = 0.3 + 0.8.
	assert.InDelta(t, 1.1, *explanation.CombinedScore, 1e-9)
}
