package model

import "time"

// ModelVersion mapped from table <model_registry>. Versions are
// monotonic, assigned at registration and never deleted; at most one
// row has is_current = true.
type ModelVersion struct {
	Version             int32     `db:"version"               gorm:"column:version;primaryKey"`
	FeatureVersion      int32     `db:"feature_version"       gorm:"column:feature_version;not null"`
	ModelType           string    `db:"model_type"            gorm:"column:model_type"`
	ArtifactRef         string    `db:"artifact_ref"          gorm:"column:artifact_ref"`
	TransformerRef      string    `db:"transformer_ref"       gorm:"column:transformer_ref"`
	SchemaRef           string    `db:"schema_ref"            gorm:"column:schema_ref"`
	TrainingWindowStart string    `db:"training_window_start" gorm:"column:training_window_start"`
	TrainingWindowEnd   string    `db:"training_window_end"   gorm:"column:training_window_end"`
	Metrics             string    `db:"metrics"               gorm:"column:metrics"`
	ClusterProfiles     string    `db:"cluster_profiles"      gorm:"column:cluster_profiles"`
	IsCurrent           bool      `db:"is_current"            gorm:"column:is_current;not null"`
	TrainedBy           string    `db:"trained_by"            gorm:"column:trained_by"`
	CreatedAt           time.Time `db:"created_at"            gorm:"column:created_at"`
}

func (ModelVersion) TableName() string {
	return "model_registry"
}
