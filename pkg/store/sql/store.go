package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3/gormlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pipesight/pipesight/pkg/config"
	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

const batchSize = 100

type Store struct {
	config *config.Config
	db     *gorm.DB
}

func NewStore(cfg *config.Config, logger *logrus.Logger) (*Store, error) {
	dialector, err := dialectorFor(cfg.StoreURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewLoggerAdaptor(logger, LoggerAdaptorConfig{
			SlowThreshold:             500 * time.Millisecond,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store %q: %w", cfg.StoreURL, err)
	}

	if err := db.AutoMigrate(
		&model.Watermark{},
		&model.PipelineEvent{},
		&model.JobEvent{},
		&model.DailyAggregate{},
		&model.OfflineFeature{},
		&model.OnlineFeature{},
		&model.ModelVersion{},
		&model.Prediction{},
		&model.PredictionBackfill{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{config: cfg, db: db}, nil
}

func dialectorFor(storeURL string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(storeURL, "postgres://"), strings.HasPrefix(storeURL, "postgresql://"):
		return postgres.Open(storeURL), nil
	case strings.HasPrefix(storeURL, "sqlite://"):
		return gormlite.Open(strings.TrimPrefix(storeURL, "sqlite://")), nil
	case strings.HasPrefix(storeURL, "file:"):
		return gormlite.Open(storeURL), nil
	default:
		return nil, fmt.Errorf("unsupported store url %q", storeURL)
	}
}

// classifyError maps driver errors onto the contract taxonomy so callers
// can decide between retrying (transient) and rejecting (integrity).
func classifyError(err error, message string) *contract.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return contract.NewErrorWith(contract.ErrorCodeTransientStore, message, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return contract.NewErrorWith(contract.ErrorCodeIntegrityViolation, message, err)
	default:
		return contract.NewErrorWith(contract.ErrorCodeInternalError, message, err)
	}
}
