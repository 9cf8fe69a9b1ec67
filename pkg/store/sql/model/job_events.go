package model

import "time"

// JobEvent mapped from table <jobs_raw>. Many jobs reference one parent
// pipeline. Append-only; duplicate source ids are dropped on insert.
type JobEvent struct {
	ID             int64      `db:"id"              gorm:"column:id;primaryKey"`
	PipelineID     int64      `db:"pipeline_id"     gorm:"column:pipeline_id;index"`
	ProjectID      string     `db:"project_id"      gorm:"column:project_id;index"`
	Name           string     `db:"name"            gorm:"column:name"`
	Stage          string     `db:"stage"           gorm:"column:stage"`
	Status         string     `db:"status"          gorm:"column:status"`
	Duration       *float64   `db:"duration"        gorm:"column:duration"`
	QueuedDuration *float64   `db:"queued_duration" gorm:"column:queued_duration"`
	FailureReason  *string    `db:"failure_reason"  gorm:"column:failure_reason"`
	RetryCount     int32      `db:"retry_count"     gorm:"column:retry_count"`
	WebURL         string     `db:"web_url"         gorm:"column:web_url"`
	CreatedAt      time.Time  `db:"created_at"      gorm:"column:created_at;index"`
	StartedAt      *time.Time `db:"started_at"      gorm:"column:started_at"`
	FinishedAt     *time.Time `db:"finished_at"     gorm:"column:finished_at"`
	SourceData     string     `db:"source_data"     gorm:"column:source_data"`
}

func (JobEvent) TableName() string {
	return "jobs_raw"
}
