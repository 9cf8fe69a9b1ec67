package ml

import (
	"fmt"
	"math"

	"github.com/pipesight/pipesight/pkg/contract"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Explanation is the cluster-relative scoring result for one entity.
// When Scorable is false, Reason says why and every numeric field is
// zero; the engine never guesses.
type Explanation struct {
	EntityKey     string   `json:"entity_key"`
	Scorable      bool     `json:"scorable"`
	Reason        string   `json:"reason,omitempty"`
	ClusterID     int      `json:"cluster_id"`
	MainFeature   string   `json:"main_feature"`
	ZScore        float64  `json:"z_score"`
	Gain          float64  `json:"gain"`
	GainPct       float64  `json:"gain_pct"`
	AnomalyScore  float64  `json:"anomaly_score"`
	Confidence    string   `json:"confidence"`
	CombinedScore *float64 `json:"combined_score,omitempty"`
}

// Explainer scores an entity's current feature vector against its
// cluster's learned thresholds.
type Explainer struct {
	Clusters    *ClusterModel
	Transformer Transformer
	Scorer      AnomalyScorer

	// BlendWeight optionally reports a weighted combination of the
	// estimator score and the z-score. Feature ranking is always driven
	// by |z| alone; the blend is an opt-in extra output, off by default.
	BlendWeight float64
}

//nolint:funlen
func (e *Explainer) Explain(entityKey string, featureVersion int32, payload string) (*Explanation, *contract.Error) {
	schema := e.Clusters.Schema

	if featureVersion != schema.Version {
		return nil, contract.NewError(
			contract.ErrorCodeSchemaMismatch,
			fmt.Sprintf(
				"feature payload has version %d but the model was trained against schema version %d",
				featureVersion, schema.Version,
			),
		)
	}

	cluster, ok := e.Clusters.Assignments[entityKey]
	if !ok {
		return &Explanation{
			EntityKey: entityKey,
			Scorable:  false,
			Reason:    "entity has no cluster assignment",
		}, nil
	}

	vector, cErr := schema.Vector(payload)
	if cErr != nil {
		if cErr.Code == contract.ErrorCodeMissingUpstreamData {
			return &Explanation{
				EntityKey: entityKey,
				Scorable:  false,
				Reason:    cErr.Message,
			}, nil
		}

		return nil, cErr
	}

	profile, ok := e.Clusters.Profiles[cluster]
	if !ok {
		return &Explanation{
			EntityKey: entityKey,
			Scorable:  false,
			Reason:    fmt.Sprintf("no learned profile for cluster %d", cluster),
		}, nil
	}

	// The main feature is the largest |z|. Ties resolve to the first
	// feature in schema order, never to map iteration order.
	mainIndex := 0
	mainZ := 0.0
	bestAbs := math.Inf(-1)

	for i, feature := range schema.Features {
		stats := profile.Stats[feature]

		z := 0.0
		if stats.Std > 0 {
			z = (vector[i] - stats.Mean) / stats.Std
		}

		if math.Abs(z) > bestAbs {
			bestAbs = math.Abs(z)
			mainIndex = i
			mainZ = z
		}
	}

	mainFeature := schema.Features[mainIndex]
	mainValue := vector[mainIndex]
	p50 := profile.Stats[mainFeature].P50

	// Only a reduction toward the cluster median counts as achievable.
	gain := math.Max(0, mainValue-p50)

	gainPct := 0.0
	if mainValue > 0 {
		gainPct = gain / mainValue * 100
	}

	normalized, err := e.Transformer.Transform(vector)
	if err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("failed to normalize vector for entity %q", entityKey),
			err,
		)
	}

	score, err := e.Scorer.Score(normalized)
	if err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("failed to score entity %q", entityKey),
			err,
		)
	}

	explanation := &Explanation{
		EntityKey:    entityKey,
		Scorable:     true,
		ClusterID:    cluster,
		MainFeature:  mainFeature,
		ZScore:       mainZ,
		Gain:         gain,
		GainPct:      gainPct,
		AnomalyScore: score,
		Confidence:   confidence(mainZ),
	}

	if e.BlendWeight > 0 {
		combined := e.BlendWeight*(-score) + (1-e.BlendWeight)*math.Abs(mainZ)
		explanation.CombinedScore = &combined
	}

	return explanation, nil
}

func confidence(z float64) string {
	switch abs := math.Abs(z); {
	case abs > 2.5:
		return ConfidenceHigh
	case abs > 2.0:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
