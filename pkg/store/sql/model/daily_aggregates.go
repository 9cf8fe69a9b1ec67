package model

import "time"

// DailyAggregate mapped from table <daily_aggregates>. Keyed by
// (project, job name, day). Always recomputed in full from the raw
// events of that key, so reprocessing an unchanged window yields a
// byte-identical row.
type DailyAggregate struct {
	ProjectID     string    `db:"project_id"     gorm:"column:project_id;primaryKey"`
	JobName       string    `db:"job_name"       gorm:"column:job_name;primaryKey"`
	Day           string    `db:"day"            gorm:"column:day;primaryKey"`
	Builds        int64     `db:"builds"         gorm:"column:builds;not null"`
	Fails         int64     `db:"fails"          gorm:"column:fails;not null"`
	P95Duration   *float64  `db:"p95_duration"   gorm:"column:p95_duration"`
	P99Duration   *float64  `db:"p99_duration"   gorm:"column:p99_duration"`
	AvgDuration   *float64  `db:"avg_duration"   gorm:"column:avg_duration"`
	TotalDuration *float64  `db:"total_duration" gorm:"column:total_duration"`
	MaxRetries    int32     `db:"max_retries"    gorm:"column:max_retries;not null"`
	ErrorTypes    string    `db:"error_types"    gorm:"column:error_types"`
	UpdatedAt     time.Time `db:"updated_at"     gorm:"column:updated_at"`
}

func (DailyAggregate) TableName() string {
	return "daily_aggregates"
}
