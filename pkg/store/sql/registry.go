package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

const registerAttempts = 3

// RegisterModel claims the next version number. The version column is
// the primary key, so two concurrent registrations cannot both win; the
// loser re-reads the maximum and tries again.
func (s *Store) RegisterModel(ctx context.Context, mv model.ModelVersion) (int32, *contract.Error) {
	mv.IsCurrent = false
	mv.CreatedAt = time.Now().UTC()

	for attempt := 0; attempt < registerAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			var maxVersion int32

			err := transaction.
				Model(&model.ModelVersion{}).
				Select("COALESCE(MAX(version), 0)").
				Scan(&maxVersion).Error
			if err != nil {
				return fmt.Errorf("failed to read max model version: %w", err)
			}

			mv.Version = maxVersion + 1

			return transaction.Create(&mv).Error
		})
		if err == nil {
			return mv.Version, nil
		}

		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}

		return 0, classifyError(err, "failed to register model version")
	}

	return 0, contract.NewError(
		contract.ErrorCodeIntegrityViolation,
		"failed to register model version: version number contention",
	)
}

// PromoteModel swaps the current pointer in one transaction. The demote
// and promote commit together, so readers never observe zero or two
// current rows.
func (s *Store) PromoteModel(ctx context.Context, version int32) *contract.Error {
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var mv model.ModelVersion

		if err := transaction.Where("version = ?", version).First(&mv).Error; err != nil {
			return err
		}

		if err := transaction.
			Model(&model.ModelVersion{}).
			Where("is_current = ?", true).
			Update("is_current", false).Error; err != nil {
			return fmt.Errorf("failed to demote current model: %w", err)
		}

		return transaction.
			Model(&model.ModelVersion{}).
			Where("version = ?", version).
			Update("is_current", true).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return contract.NewError(
				contract.ErrorCodeResourceDoesNotExist,
				fmt.Sprintf("no model version %d exists", version),
			)
		}

		return classifyError(err, fmt.Sprintf("failed to promote model version %d", version))
	}

	return nil
}

func (s *Store) CurrentModel(ctx context.Context) (*model.ModelVersion, *contract.Error) {
	var mv model.ModelVersion

	err := s.db.WithContext(ctx).
		Where("is_current = ?", true).
		First(&mv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, classifyError(err, "failed to read current model version")
	}

	return &mv, nil
}

func (s *Store) GetModel(ctx context.Context, version int32) (*model.ModelVersion, *contract.Error) {
	var mv model.ModelVersion

	err := s.db.WithContext(ctx).
		Where("version = ?", version).
		First(&mv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contract.NewError(
				contract.ErrorCodeResourceDoesNotExist,
				fmt.Sprintf("no model version %d exists", version),
			)
		}

		return nil, classifyError(err, fmt.Sprintf("failed to read model version %d", version))
	}

	return &mv, nil
}
