package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

const (
	LabelAnomaly = "anomaly"
	LabelNormal  = "normal"
)

type BackfillParams struct {
	// ModelVersion pins the version to score with; zero means the
	// current promoted version.
	ModelVersion int32
	WindowStart  time.Time
	WindowEnd    time.Time
}

type BackfillStats struct {
	ModelVersion int32
	Entities     int
	Scored       int
	Skipped      int
	Written      int64
}

// Backfiller re-scores historical feature snapshots with a registered
// model version. Results land in the backfill namespace; live
// predictions are never touched.
type Backfiller struct {
	store  store.Store
	loader BundleLoader
	logger *logrus.Logger
}

func NewBackfiller(s store.Store, loader BundleLoader, logger *logrus.Logger) *Backfiller {
	return &Backfiller{store: s, loader: loader, logger: logger}
}

//nolint:funlen,cyclop
func (b *Backfiller) Run(ctx context.Context, params BackfillParams) (*BackfillStats, *contract.Error) {
	mv, cErr := b.resolveModel(ctx, params.ModelVersion)
	if cErr != nil {
		return nil, cErr
	}

	var clusters ClusterModel
	if err := json.Unmarshal([]byte(mv.ClusterProfiles), &clusters); err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("model version %d has unreadable cluster profiles", mv.Version),
			err,
		)
	}

	threshold := gjson.Get(mv.Metrics, "threshold")
	if !threshold.Exists() {
		return nil, contract.NewError(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("model version %d has no threshold in its metrics", mv.Version),
		)
	}

	transformer, scorer, err := b.loader.Load(ctx, mv)
	if err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("failed to load artifacts for model version %d", mv.Version),
			err,
		)
	}

	explainer := &Explainer{
		Clusters:    &clusters,
		Transformer: transformer,
		Scorer:      scorer,
	}

	rows, cErr := b.store.OfflineFeaturesForWindow(ctx, params.WindowStart, params.WindowEnd)
	if cErr != nil {
		return nil, cErr
	}

	// Ordered by event_time, so the last row per entity is the newest
	// snapshot inside the window.
	type snapshot struct {
		payload   string
		eventTime time.Time
	}
	snapshots := make(map[string]snapshot)
	for _, row := range rows {
		if row.FeatureVersion != mv.FeatureVersion {
			continue
		}
		snapshots[row.EntityKey] = snapshot{payload: row.Payload, eventTime: row.EventTime}
	}

	entityKeys := make([]string, 0, len(snapshots))
	for entityKey := range snapshots {
		entityKeys = append(entityKeys, entityKey)
	}
	sort.Strings(entityKeys)

	stats := &BackfillStats{ModelVersion: mv.Version, Entities: len(entityKeys)}
	predictions := make([]model.PredictionBackfill, 0, len(entityKeys))

	for _, entityKey := range entityKeys {
		explanation, cErr := explainer.Explain(entityKey, mv.FeatureVersion, snapshots[entityKey].payload)
		if cErr != nil {
			return nil, cErr
		}

		if !explanation.Scorable {
			b.logger.WithFields(logrus.Fields{
				"entity_key": entityKey,
				"reason":     explanation.Reason,
			}).Debug("entity not scorable, skipped")
			stats.Skipped++

			continue
		}

		explanationJSON, err := json.Marshal(explanation)
		if err != nil {
			return nil, contract.NewErrorWith(
				contract.ErrorCodeInternalError,
				fmt.Sprintf("failed to encode explanation for entity %q", entityKey),
				err,
			)
		}

		label := LabelNormal
		if explanation.AnomalyScore < threshold.Float() {
			label = LabelAnomaly
		}

		predictions = append(predictions, model.PredictionBackfill{
			RunID:          entityKey,
			ModelVersion:   mv.Version,
			FeatureVersion: mv.FeatureVersion,
			Score:          explanation.AnomalyScore,
			Label:          label,
			Explanation:    string(explanationJSON),
			CreatedAt:      snapshots[entityKey].eventTime,
		})
		stats.Scored++
	}

	written, cErr := b.store.InsertBackfillPredictions(ctx, predictions)
	if cErr != nil {
		return nil, cErr
	}
	stats.Written = written

	b.logger.WithFields(logrus.Fields{
		"model_version": stats.ModelVersion,
		"entities":      stats.Entities,
		"scored":        stats.Scored,
		"skipped":       stats.Skipped,
		"written":       stats.Written,
	}).Info("backfill finished")

	return stats, nil
}

func (b *Backfiller) resolveModel(ctx context.Context, version int32) (*model.ModelVersion, *contract.Error) {
	if version > 0 {
		return b.store.GetModel(ctx, version)
	}

	mv, cErr := b.store.CurrentModel(ctx)
	if cErr != nil {
		return nil, cErr
	}
	if mv == nil {
		return nil, contract.NewError(
			contract.ErrorCodeResourceDoesNotExist,
			"no model version is currently promoted",
		)
	}

	return mv, nil
}
