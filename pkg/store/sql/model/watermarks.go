package model

import "time"

// Watermark mapped from table <processing_watermarks>.
// One row per source; last_ts never moves backwards and is only
// advanced after a batch fully commits.
type Watermark struct {
	Source    string    `db:"source"     gorm:"column:source;primaryKey"`
	LastTS    time.Time `db:"last_ts"    gorm:"column:last_ts;not null"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at"`
}

func (Watermark) TableName() string {
	return "processing_watermarks"
}
