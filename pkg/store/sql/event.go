package sql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// Raw events are append-only. Events carrying an id we already hold are
// dropped on insert; corrections arrive as new events, never updates.

func (s *Store) AppendPipelineEvents(ctx context.Context, events []model.PipelineEvent) (int64, *contract.Error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(events, batchSize)
	if tx.Error != nil {
		return 0, classifyError(tx.Error, "failed to append pipeline events")
	}

	return tx.RowsAffected, nil
}

func (s *Store) AppendJobEvents(ctx context.Context, events []model.JobEvent) (int64, *contract.Error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(events, batchSize)
	if tx.Error != nil {
		return 0, classifyError(tx.Error, "failed to append job events")
	}

	return tx.RowsAffected, nil
}

func (s *Store) JobEventsForWindow(
	ctx context.Context, projectID string, from, to time.Time,
) ([]model.JobEvent, *contract.Error) {
	var events []model.JobEvent

	err := s.db.WithContext(ctx).
		Where("project_id = ? AND created_at > ? AND created_at <= ?", projectID, from.UTC(), to.UTC()).
		Order("created_at").
		Order("id").
		Find(&events).Error
	if err != nil {
		return nil, classifyError(err, fmt.Sprintf("failed to load job events for project %q", projectID))
	}

	return events, nil
}
