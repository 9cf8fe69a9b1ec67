package model

import "time"

// PipelineEvent mapped from table <pipelines_raw>. Immutable once
// ingested; corrections arrive as new events with later timestamps.
type PipelineEvent struct {
	ID         int64      `db:"id"          gorm:"column:id;primaryKey"`
	ProjectID  string     `db:"project_id"  gorm:"column:project_id;index"`
	Status     string     `db:"status"      gorm:"column:status"`
	Ref        string     `db:"ref"         gorm:"column:ref"`
	SHA        string     `db:"sha"         gorm:"column:sha"`
	WebURL     string     `db:"web_url"     gorm:"column:web_url"`
	CreatedAt  *time.Time `db:"created_at"  gorm:"column:created_at"`
	UpdatedAt  *time.Time `db:"updated_at"  gorm:"column:updated_at;index"`
	FinishedAt *time.Time `db:"finished_at" gorm:"column:finished_at"`
	SourceData string     `db:"source_data" gorm:"column:source_data"`
}

func (PipelineEvent) TableName() string {
	return "pipelines_raw"
}
