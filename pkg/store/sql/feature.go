package sql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
	"github.com/pipesight/pipesight/pkg/utils"
)

// WriteOfflineFeature inserts with DO NOTHING, then verifies any ignored
// conflict carried the identical payload. Changing a written feature
// version is not allowed.
func (s *Store) WriteOfflineFeature(ctx context.Context, feature model.OfflineFeature) *contract.Error {
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&feature)
	if tx.Error != nil {
		return classifyError(tx.Error, fmt.Sprintf("failed to write offline feature for %q", feature.EntityKey))
	}

	if tx.RowsAffected == 1 {
		return nil
	}

	var existing model.OfflineFeature

	err := s.db.WithContext(ctx).
		Where("entity_key = ? AND feature_version = ?", feature.EntityKey, feature.FeatureVersion).
		First(&existing).Error
	if err != nil {
		return classifyError(err, fmt.Sprintf("failed to verify offline feature for %q", feature.EntityKey))
	}

	if existing.Payload != feature.Payload {
		return contract.NewError(
			contract.ErrorCodeIntegrityViolation,
			fmt.Sprintf(
				"changing offline feature payloads is not allowed. "+
					"Feature version %d for entity %q was already written with a different payload",
				feature.FeatureVersion,
				feature.EntityKey,
			),
		)
	}

	return nil
}

// WriteOnlineFeature is last-writer-wins under version ordering: the DO
// UPDATE only fires when the stored feature_version is not newer, so an
// out-of-order write is dropped rather than rejected.
func (s *Store) WriteOnlineFeature(ctx context.Context, feature model.OnlineFeature) *contract.Error {
	feature.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"feature_version": feature.FeatureVersion,
				"payload":         feature.Payload,
				"updated_at":      feature.UpdatedAt,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Lte{
					Column: clause.Column{Table: "features_online", Name: "feature_version"},
					Value:  feature.FeatureVersion,
				},
			}},
		}).
		Create(&feature).Error
	if err != nil {
		return classifyError(err, fmt.Sprintf("failed to write online feature for %q", feature.EntityKey))
	}

	return nil
}

func (s *Store) ReadOnlineFeature(ctx context.Context, entityKey string) (*model.OnlineFeature, *contract.Error) {
	var feature model.OnlineFeature

	err := s.db.WithContext(ctx).
		Where("entity_key = ?", entityKey).
		First(&feature).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, classifyError(err, fmt.Sprintf("failed to read online feature for %q", entityKey))
	}

	return &feature, nil
}

func (s *Store) ReadOfflineRange(
	ctx context.Context, entityKey string, from, to time.Time, maxResults int, pageToken string,
) (*store.PagedList[model.OfflineFeature], *contract.Error) {
	offset := 0

	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil || parsed < 0 {
			return nil, contract.NewError(
				contract.ErrorCodeInvalidParameterValue,
				fmt.Sprintf("invalid page token %q", pageToken),
			)
		}
		offset = parsed
	}

	if maxResults <= 0 {
		maxResults = batchSize
	}

	var features []model.OfflineFeature

	err := s.db.WithContext(ctx).
		Where("entity_key = ? AND event_time >= ? AND event_time < ?", entityKey, from.UTC(), to.UTC()).
		Order("event_time").
		Order("feature_version").
		Offset(offset).
		Limit(maxResults + 1).
		Find(&features).Error
	if err != nil {
		return nil, classifyError(err, fmt.Sprintf("failed to read offline features for %q", entityKey))
	}

	paged := &store.PagedList[model.OfflineFeature]{Items: features}
	if len(features) > maxResults {
		paged.Items = features[:maxResults]
		paged.NextPageToken = utils.PtrTo(strconv.Itoa(offset + maxResults))
	}

	return paged, nil
}

func (s *Store) OfflineFeaturesForWindow(
	ctx context.Context, from, to time.Time,
) ([]model.OfflineFeature, *contract.Error) {
	var features []model.OfflineFeature

	err := s.db.WithContext(ctx).
		Where("event_time >= ? AND event_time < ?", from.UTC(), to.UTC()).
		Order("event_time").
		Order("entity_key").
		Find(&features).Error
	if err != nil {
		return nil, classifyError(err, "failed to load offline features for window")
	}

	return features, nil
}
