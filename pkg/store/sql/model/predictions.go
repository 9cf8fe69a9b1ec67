package model

import "time"

// Prediction mapped from table <predictions>. Immutable; a run may
// accumulate one row per model version as models evolve.
type Prediction struct {
	RunID          string    `db:"run_id"          gorm:"column:run_id;primaryKey"`
	ModelVersion   int32     `db:"model_version"   gorm:"column:model_version;primaryKey"`
	FeatureVersion int32     `db:"feature_version" gorm:"column:feature_version;not null"`
	Score          float64   `db:"score"           gorm:"column:score;not null"`
	Label          string    `db:"label"           gorm:"column:label"`
	Explanation    string    `db:"explanation"     gorm:"column:explanation"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;index"`
}

func (Prediction) TableName() string {
	return "predictions"
}

// PredictionBackfill shares the Prediction shape but lives in its own
// table so re-scored history never collides with live rows.
type PredictionBackfill Prediction

func (PredictionBackfill) TableName() string {
	return "predictions_backfill"
}
