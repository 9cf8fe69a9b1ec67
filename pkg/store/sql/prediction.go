package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// InsertPrediction stores one immutable scoring result. Re-scoring the
// same run under the same model version is a no-op, which keeps retried
// batches idempotent.
func (s *Store) InsertPrediction(ctx context.Context, prediction model.Prediction) *contract.Error {
	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&prediction).Error
	if err != nil {
		return classifyError(err, fmt.Sprintf("failed to insert prediction for run %q", prediction.RunID))
	}

	return nil
}

func (s *Store) InsertBackfillPredictions(
	ctx context.Context, predictions []model.PredictionBackfill,
) (int64, *contract.Error) {
	if len(predictions) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for i := range predictions {
		if predictions[i].CreatedAt.IsZero() {
			predictions[i].CreatedAt = now
		}
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(predictions, batchSize)
	if tx.Error != nil {
		return 0, classifyError(tx.Error, "failed to insert backfill predictions")
	}

	return tx.RowsAffected, nil
}

func (s *Store) PredictionsForRange(
	ctx context.Context, from, to time.Time, version *int32, backfill bool,
) ([]model.Prediction, *contract.Error) {
	query := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at").
		Order("run_id")

	if version != nil {
		query = query.Where("model_version = ?", *version)
	}

	if backfill {
		var rows []model.PredictionBackfill
		if err := query.Find(&rows).Error; err != nil {
			return nil, classifyError(err, "failed to load backfill predictions")
		}

		predictions := make([]model.Prediction, 0, len(rows))
		for _, row := range rows {
			predictions = append(predictions, model.Prediction(row))
		}

		return predictions, nil
	}

	var predictions []model.Prediction
	if err := query.Find(&predictions).Error; err != nil {
		return nil, classifyError(err, "failed to load predictions")
	}

	return predictions, nil
}
