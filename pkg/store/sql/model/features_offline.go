package model

import "time"

// OfflineFeature mapped from table <features_offline>. Append-only and
// versioned: a (entity_key, feature_version) row, once written, is
// immutable. History grows across feature versions.
type OfflineFeature struct {
	EntityKey      string    `db:"entity_key"      gorm:"column:entity_key;primaryKey"`
	FeatureVersion int32     `db:"feature_version" gorm:"column:feature_version;primaryKey"`
	Payload        string    `db:"payload"         gorm:"column:payload;not null"`
	EventTime      time.Time `db:"event_time"      gorm:"column:event_time;index"`
}

func (OfflineFeature) TableName() string {
	return "features_offline"
}
