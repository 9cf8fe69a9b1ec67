package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

func (s *Store) GetWatermark(ctx context.Context, source string) (*time.Time, *contract.Error) {
	var watermark model.Watermark

	err := s.db.WithContext(ctx).
		Where("source = ?", source).
		First(&watermark).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, classifyError(err, fmt.Sprintf("failed to get watermark for source %q", source))
	}

	ts := watermark.LastTS.UTC()

	return &ts, nil
}

// AdvanceWatermark is a conditional update: it only succeeds when the
// stored timestamp is not newer than the incoming one, so concurrent
// runs cannot push each other backwards.
func (s *Store) AdvanceWatermark(ctx context.Context, source string, ts time.Time) *contract.Error {
	now := time.Now().UTC()

	update := s.db.WithContext(ctx).
		Model(&model.Watermark{}).
		Where("source = ? AND last_ts <= ?", source, ts.UTC()).
		Updates(map[string]interface{}{"last_ts": ts.UTC(), "updated_at": now})
	if update.Error != nil {
		return classifyError(update.Error, fmt.Sprintf("failed to advance watermark for source %q", source))
	}

	if update.RowsAffected == 1 {
		return nil
	}

	// Either the row does not exist yet or the stored value is newer.
	insert := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Watermark{Source: source, LastTS: ts.UTC(), UpdatedAt: now})
	if insert.Error != nil {
		return classifyError(insert.Error, fmt.Sprintf("failed to initialize watermark for source %q", source))
	}

	if insert.RowsAffected == 1 {
		return nil
	}

	return contract.NewError(
		contract.ErrorCodeInvalidParameterValue,
		fmt.Sprintf("cannot move watermark for source %q backwards to %s", source, ts.UTC().Format(time.RFC3339Nano)),
	)
}
