package store

import (
	"context"
	"time"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// Store is everything the pipeline needs from persistence. All calls are
// synchronous; callers bound them with a context deadline.
type Store interface {
	WatermarkStore
	EventStore
	AggregateStore
	FeatureStore
	RegistryStore
	PredictionStore
}

type WatermarkStore interface {
	// GetWatermark returns the last fully processed timestamp for a
	// source, or nil if the source was never processed.
	GetWatermark(ctx context.Context, source string) (*time.Time, *contract.Error)

	// AdvanceWatermark moves the watermark forward. Moving it backwards
	// fails; two concurrent runs cannot both advance past each other.
	AdvanceWatermark(ctx context.Context, source string, ts time.Time) *contract.Error
}

type EventStore interface {
	// Append* insert raw events, silently dropping duplicates by id.
	// They return the number of rows actually inserted.
	AppendPipelineEvents(ctx context.Context, events []model.PipelineEvent) (int64, *contract.Error)
	AppendJobEvents(ctx context.Context, events []model.JobEvent) (int64, *contract.Error)

	// JobEventsForWindow returns every stored job event for the project
	// with created_at in (from, to], ordered deterministically.
	JobEventsForWindow(ctx context.Context, projectID string, from, to time.Time) ([]model.JobEvent, *contract.Error)
}

type AggregateStore interface {
	UpsertDailyAggregates(ctx context.Context, aggregates []model.DailyAggregate) *contract.Error
	DailyAggregatesForRange(ctx context.Context, projectID, fromDay, toDay string) ([]model.DailyAggregate, *contract.Error)
}

type FeatureStore interface {
	// WriteOfflineFeature appends an immutable row. Rewriting an existing
	// (entity_key, feature_version) with a different payload is an
	// integrity violation; an identical rewrite is a no-op.
	WriteOfflineFeature(ctx context.Context, feature model.OfflineFeature) *contract.Error

	// WriteOnlineFeature replaces the entity's snapshot, but only when the
	// incoming feature_version is >= the stored one. Stale writes are
	// dropped without error.
	WriteOnlineFeature(ctx context.Context, feature model.OnlineFeature) *contract.Error

	// ReadOnlineFeature returns the current snapshot or nil if absent.
	ReadOnlineFeature(ctx context.Context, entityKey string) (*model.OnlineFeature, *contract.Error)

	// ReadOfflineRange pages through an entity's history, ordered by
	// event_time then feature_version.
	ReadOfflineRange(ctx context.Context, entityKey string, from, to time.Time, maxResults int, pageToken string) (*PagedList[model.OfflineFeature], *contract.Error)

	// OfflineFeaturesForWindow returns all entities' offline rows with
	// event_time in [from, to), for training and backfill.
	OfflineFeaturesForWindow(ctx context.Context, from, to time.Time) ([]model.OfflineFeature, *contract.Error)
}

type RegistryStore interface {
	// RegisterModel assigns the next version number (current max plus
	// one) and inserts the row. The new version is not current until
	// promoted.
	RegisterModel(ctx context.Context, mv model.ModelVersion) (int32, *contract.Error)

	// PromoteModel atomically demotes the prior current version and
	// promotes the given one. Readers never observe zero or two current
	// rows. Rollback is promoting an older version.
	PromoteModel(ctx context.Context, version int32) *contract.Error

	// CurrentModel returns the current version or nil if none promoted.
	CurrentModel(ctx context.Context) (*model.ModelVersion, *contract.Error)

	GetModel(ctx context.Context, version int32) (*model.ModelVersion, *contract.Error)
}

type PredictionStore interface {
	// InsertPrediction stores a scoring result. Rows are immutable;
	// re-inserting the same (run_id, model_version) is a no-op.
	InsertPrediction(ctx context.Context, prediction model.Prediction) *contract.Error

	InsertBackfillPredictions(ctx context.Context, predictions []model.PredictionBackfill) (int64, *contract.Error)

	// PredictionsForRange queries by created_at range. A nil version
	// means any version; backfill selects the backfill namespace.
	PredictionsForRange(ctx context.Context, from, to time.Time, version *int32, backfill bool) ([]model.Prediction, *contract.Error)
}

type PagedList[T any] struct {
	Items         []T
	NextPageToken *string
}
