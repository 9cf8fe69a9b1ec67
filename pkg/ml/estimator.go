package ml

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// The estimator surface is a capability boundary: any implementation of
// these interfaces is interchangeable, so the concrete choice of
// clustering or anomaly-scoring algorithm is a pluggable variant, not a
// dependency of this package.

// Transformer normalizes a raw feature vector into model space.
type Transformer interface {
	Transform(vector []float64) ([]float64, error)
}

// AnomalyScorer produces an overall anomaly score for a normalized
// vector. Lower means more anomalous.
type AnomalyScorer interface {
	Score(vector []float64) (float64, error)
}

// Clusterer assigns a normalized vector to a cluster.
type Clusterer interface {
	Assign(vector []float64) (int, error)
}

type TransformerFitter interface {
	Fit(matrix [][]float64) (Transformer, error)
}

type ScorerFitter interface {
	Fit(matrix [][]float64) (AnomalyScorer, error)
}

type ClusterFitter interface {
	Fit(matrix [][]float64) (Clusterer, error)
}

// BundleLoader materializes the estimator artifacts a registered model
// version references. Artifact storage is an external collaborator.
type BundleLoader interface {
	Load(ctx context.Context, mv *model.ModelVersion) (Transformer, AnomalyScorer, error)
}

// FeatureSchema fixes the set and order of features a model consumes.
// The order doubles as the deterministic tie-break for explanations.
type FeatureSchema struct {
	Version  int32    `json:"version"`
	Features []string `json:"features"`
}

func DefaultFeatureSchema(version int32) FeatureSchema {
	return FeatureSchema{
		Version: version,
		Features: []string{
			"dur_total",
			"stage_build",
			"stage_test",
			"stage_deploy",
			"fail_rate",
			"max_retries",
		},
	}
}

// Vector extracts the schema's features from a payload in schema order.
// A missing field makes the entity unscorable; it is never defaulted.
func (s FeatureSchema) Vector(payload string) ([]float64, *contract.Error) {
	vector := make([]float64, len(s.Features))

	for i, feature := range s.Features {
		value := gjson.Get(payload, feature)
		if !value.Exists() {
			return nil, contract.NewError(
				contract.ErrorCodeMissingUpstreamData,
				fmt.Sprintf("feature payload is missing required field %q", feature),
			)
		}

		vector[i] = value.Float()
	}

	return vector, nil
}
