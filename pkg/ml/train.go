package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/numeric"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

const (
	defaultContamination = 0.1
	minTrainingEntities  = 2

	dateFormat = "2006-01-02"
)

type TrainParams struct {
	Schema        FeatureSchema
	WindowStart   time.Time
	WindowEnd     time.Time
	ModelType     string
	TrainedBy     string
	Contamination float64
	Promote       bool
}

type TrainMetrics struct {
	NSamples      int     `json:"n_samples"`
	NFeatures     int     `json:"n_features"`
	Contamination float64 `json:"contamination"`
	AnomalyRate   float64 `json:"anomaly_rate"`
	ScoreMean     float64 `json:"score_mean"`
	ScoreStd      float64 `json:"score_std"`
	ScoreMin      float64 `json:"score_min"`
	ScoreMax      float64 `json:"score_max"`
	Threshold     float64 `json:"threshold"`
}

type TrainResult struct {
	Version  int32
	Metrics  TrainMetrics
	Clusters *ClusterModel
}

// Trainer fits a fresh transformer, anomaly estimator and clustering
// over a window of offline features, learns the cluster thresholds and
// registers the result as a new model version.
type Trainer struct {
	store        store.Store
	transformers TransformerFitter
	scorers      ScorerFitter
	clusters     ClusterFitter
	bundles      BundleSaver
	logger       *logrus.Logger
}

func NewTrainer(
	s store.Store,
	transformers TransformerFitter,
	scorers ScorerFitter,
	clusters ClusterFitter,
	bundles BundleSaver,
	logger *logrus.Logger,
) *Trainer {
	return &Trainer{
		store:        s,
		transformers: transformers,
		scorers:      scorers,
		clusters:     clusters,
		bundles:      bundles,
		logger:       logger,
	}
}

//nolint:funlen,cyclop
func (t *Trainer) Train(ctx context.Context, params TrainParams) (*TrainResult, *contract.Error) {
	if params.Contamination <= 0 {
		params.Contamination = defaultContamination
	}

	rows, cErr := t.store.OfflineFeaturesForWindow(ctx, params.WindowStart, params.WindowEnd)
	if cErr != nil {
		return nil, cErr
	}

	// Rows are ordered by event_time, so the last payload per entity is
	// the newest one inside the window.
	payloads := make(map[string]string)
	for _, row := range rows {
		if row.FeatureVersion != params.Schema.Version {
			continue
		}
		payloads[row.EntityKey] = row.Payload
	}

	vectors := make(map[string][]float64, len(payloads))
	for entityKey, payload := range payloads {
		vector, cErr := params.Schema.Vector(payload)
		if cErr != nil {
			t.logger.WithField("entity_key", entityKey).
				Warnf("skipping entity for training: %s", cErr.Message)

			continue
		}
		vectors[entityKey] = vector
	}

	if len(vectors) < minTrainingEntities {
		return nil, contract.NewError(
			contract.ErrorCodeMissingUpstreamData,
			fmt.Sprintf("not enough training data: %d entities in window", len(vectors)),
		)
	}

	entityKeys := make([]string, 0, len(vectors))
	for entityKey := range vectors {
		entityKeys = append(entityKeys, entityKey)
	}
	sort.Strings(entityKeys)

	matrix := make([][]float64, len(entityKeys))
	for i, entityKey := range entityKeys {
		matrix[i] = vectors[entityKey]
	}

	transformer, err := t.transformers.Fit(matrix)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to fit transformer", err)
	}

	normalized := make([][]float64, len(matrix))
	for i, vector := range matrix {
		normalized[i], err = transformer.Transform(vector)
		if err != nil {
			return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to normalize training matrix", err)
		}
	}

	scorer, err := t.scorers.Fit(normalized)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to fit anomaly estimator", err)
	}

	clusterer, err := t.clusters.Fit(normalized)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to fit clustering estimator", err)
	}

	clusterModel, err := LearnThresholds(params.Schema, vectors, transformer, clusterer)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to learn cluster thresholds", err)
	}

	scores := make([]float64, len(normalized))
	for i, vector := range normalized {
		scores[i], err = scorer.Score(vector)
		if err != nil {
			return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to score training matrix", err)
		}
	}

	metrics := trainMetrics(params, scores, len(params.Schema.Features))

	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to encode training metrics", err)
	}

	clustersJSON, err := json.Marshal(clusterModel)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to encode cluster profiles", err)
	}

	artifactID := uuid.NewString()
	artifactRef := fmt.Sprintf("models/%s.json", artifactID)

	if err := t.bundles.Save(ctx, artifactRef, transformer, scorer); err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeInternalError, "failed to persist estimator bundle", err)
	}

	version, cErr := t.store.RegisterModel(ctx, model.ModelVersion{
		FeatureVersion:      params.Schema.Version,
		ModelType:           params.ModelType,
		ArtifactRef:         artifactRef,
		TransformerRef:      artifactRef,
		SchemaRef:           fmt.Sprintf("schemas/%s.json", artifactID),
		TrainingWindowStart: params.WindowStart.UTC().Format(dateFormat),
		TrainingWindowEnd:   params.WindowEnd.UTC().Format(dateFormat),
		Metrics:             string(metricsJSON),
		ClusterProfiles:     string(clustersJSON),
		TrainedBy:           params.TrainedBy,
	})
	if cErr != nil {
		return nil, cErr
	}

	if params.Promote {
		if cErr := t.store.PromoteModel(ctx, version); cErr != nil {
			return nil, cErr
		}
	}

	t.logger.WithFields(logrus.Fields{
		"version":   version,
		"n_samples": metrics.NSamples,
		"promoted":  params.Promote,
	}).Info("model version registered")

	return &TrainResult{Version: version, Metrics: metrics, Clusters: clusterModel}, nil
}

// trainMetrics derives summary statistics and the anomaly threshold:
// the contamination-quantile of training scores, below which a score is
// labeled anomalous.
func trainMetrics(params TrainParams, scores []float64, nFeatures int) TrainMetrics {
	threshold := numeric.Percentile(scores, params.Contamination)

	anomalies := 0
	min, max := scores[0], scores[0]
	for _, score := range scores {
		if score < threshold {
			anomalies++
		}
		if score < min {
			min = score
		}
		if score > max {
			max = score
		}
	}

	return TrainMetrics{
		NSamples:      len(scores),
		NFeatures:     nFeatures,
		Contamination: params.Contamination,
		AnomalyRate:   float64(anomalies) / float64(len(scores)),
		ScoreMean:     numeric.Mean(scores),
		ScoreStd:      numeric.Std(scores),
		ScoreMin:      min,
		ScoreMax:      max,
		Threshold:     threshold,
	}
}
