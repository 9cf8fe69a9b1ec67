package model

import "time"

// OnlineFeature mapped from table <features_online>. Exactly one row
// per entity, always carrying the newest offline payload. Writes with
// a feature_version lower than the stored one are dropped.
type OnlineFeature struct {
	EntityKey      string    `db:"entity_key"      gorm:"column:entity_key;primaryKey"`
	FeatureVersion int32     `db:"feature_version" gorm:"column:feature_version;not null"`
	Payload        string    `db:"payload"         gorm:"column:payload;not null"`
	UpdatedAt      time.Time `db:"updated_at"      gorm:"column:updated_at"`
}

func (OnlineFeature) TableName() string {
	return "features_online"
}
