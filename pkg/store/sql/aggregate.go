package sql

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// UpsertDailyAggregates replaces each (project, job, day) row in full.
// Rows are recomputed from raw events, so overwriting is idempotent.
func (s *Store) UpsertDailyAggregates(ctx context.Context, aggregates []model.DailyAggregate) *contract.Error {
	if len(aggregates) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"}, {Name: "job_name"}, {Name: "day"},
			},
			UpdateAll: true,
		}).
		CreateInBatches(aggregates, batchSize).Error
	if err != nil {
		return classifyError(err, "failed to upsert daily aggregates")
	}

	return nil
}

func (s *Store) DailyAggregatesForRange(
	ctx context.Context, projectID, fromDay, toDay string,
) ([]model.DailyAggregate, *contract.Error) {
	var aggregates []model.DailyAggregate

	err := s.db.WithContext(ctx).
		Where("project_id = ? AND day >= ? AND day <= ?", projectID, fromDay, toDay).
		Order("day").
		Order("job_name").
		Find(&aggregates).Error
	if err != nil {
		return nil, classifyError(err, fmt.Sprintf("failed to load daily aggregates for project %q", projectID))
	}

	return aggregates, nil
}
