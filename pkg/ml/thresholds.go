package ml

import (
	"fmt"
	"sort"

	"github.com/pipesight/pipesight/pkg/numeric"
)

// FeatureStats are the learned thresholds for one feature within one
// cluster. Future observations of cluster members are judged against
// these, so an entity is anomalous relative to its peers, not the
// global population.
type FeatureStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	P50  float64 `json:"p50"`
}

type ClusterProfile struct {
	Centroid []float64               `json:"centroid"`
	Stats    map[string]FeatureStats `json:"stats"`
	Members  int                     `json:"members"`
}

// ClusterModel is everything the explainer needs at serving time. It is
// recomputed wholesale at each retraining and stored as model metadata;
// there is no incremental cluster update.
type ClusterModel struct {
	Schema      FeatureSchema          `json:"schema"`
	Profiles    map[int]ClusterProfile `json:"profiles"`
	Assignments map[string]int         `json:"assignments"`
}

// LearnThresholds partitions entities into clusters and computes
// per-cluster per-feature mean, sample std and p50. Assignment runs on
// transformer-normalized vectors; the statistics are learned over raw
// values, since they are compared against raw observations later.
func LearnThresholds(
	schema FeatureSchema,
	vectors map[string][]float64,
	transformer Transformer,
	clusterer Clusterer,
) (*ClusterModel, error) {
	entityKeys := make([]string, 0, len(vectors))
	for entityKey := range vectors {
		entityKeys = append(entityKeys, entityKey)
	}
	sort.Strings(entityKeys)

	assignments := make(map[string]int, len(entityKeys))
	members := make(map[int][][]float64)

	for _, entityKey := range entityKeys {
		vector := vectors[entityKey]
		if len(vector) != len(schema.Features) {
			return nil, fmt.Errorf(
				"entity %q has %d features, schema v%d expects %d",
				entityKey, len(vector), schema.Version, len(schema.Features),
			)
		}

		normalized, err := transformer.Transform(vector)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize vector for entity %q: %w", entityKey, err)
		}

		cluster, err := clusterer.Assign(normalized)
		if err != nil {
			return nil, fmt.Errorf("failed to assign cluster for entity %q: %w", entityKey, err)
		}

		assignments[entityKey] = cluster
		members[cluster] = append(members[cluster], vector)
	}

	profiles := make(map[int]ClusterProfile, len(members))

	for cluster, vectors := range members {
		profile := ClusterProfile{
			Centroid: make([]float64, len(schema.Features)),
			Stats:    make(map[string]FeatureStats, len(schema.Features)),
			Members:  len(vectors),
		}

		for i, feature := range schema.Features {
			values := make([]float64, len(vectors))
			for j, vector := range vectors {
				values[j] = vector[i]
			}

			mean := numeric.Mean(values)
			profile.Centroid[i] = mean
			profile.Stats[feature] = FeatureStats{
				Mean: mean,
				Std:  numeric.Std(values),
				P50:  numeric.Percentile(values, 0.5),
			}
		}

		profiles[cluster] = profile
	}

	return &ClusterModel{
		Schema:      schema,
		Profiles:    profiles,
		Assignments: assignments,
	}, nil
}
