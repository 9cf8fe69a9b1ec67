package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pipesight/pipesight/pkg/config"
	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

const (
	SourcePipelines = "pipelines"
	SourceJobs      = "jobs"
)

// IngestClient pulls raw execution records from the CI source. Records
// arrive well formed, with stable identifiers and timestamps.
type IngestClient interface {
	FetchPipelineEvents(ctx context.Context, since *time.Time) ([]model.PipelineEvent, error)
	FetchJobEvents(ctx context.Context, since *time.Time) ([]model.JobEvent, error)
}

// BreakerClient wraps an IngestClient with a circuit breaker so a
// flapping CI source fails fast instead of stalling every run.
type BreakerClient struct {
	inner   IngestClient
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerClient(inner IngestClient) *BreakerClient {
	return &BreakerClient{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "ingest",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (b *BreakerClient) FetchPipelineEvents(ctx context.Context, since *time.Time) ([]model.PipelineEvent, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.FetchPipelineEvents(ctx, since)
	})
	if err != nil {
		return nil, err
	}

	return result.([]model.PipelineEvent), nil
}

func (b *BreakerClient) FetchJobEvents(ctx context.Context, since *time.Time) ([]model.JobEvent, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.FetchJobEvents(ctx, since)
	})
	if err != nil {
		return nil, err
	}

	return result.([]model.JobEvent), nil
}

// RunStats summarizes one incremental run.
type RunStats struct {
	RowsRead          int
	RowsWritten       int64
	KeysAggregated    int
	KeysFailed        int
	FeaturesWritten   int
	WindowReprocessed bool
	LastTS            *time.Time
	Duration          time.Duration
}

// Runner orchestrates one incremental batch: ingest new raw events,
// recompute the trailing aggregate window, rebuild features and, as the
// very last action of a fully successful run, advance the watermarks.
type Runner struct {
	config     *config.Config
	store      store.Store
	client     IngestClient
	aggregator *Aggregator
	features   *FeatureBuilder
	logger     *logrus.Logger
}

func NewRunner(cfg *config.Config, s store.Store, client IngestClient, logger *logrus.Logger) *Runner {
	return &Runner{
		config:     cfg,
		store:      s,
		client:     client,
		aggregator: NewAggregator(s, cfg.ProjectID, cfg.AggregationWorkers, logger),
		features:   NewFeatureBuilder(s, cfg.ProjectID, cfg.FeatureWindowDays, cfg.FeatureVersion, logger),
		logger:     logger,
	}
}

//nolint:funlen
func (r *Runner) Run(ctx context.Context) (*RunStats, *contract.Error) {
	started := time.Now()
	stats := &RunStats{}

	pipelineMark, cErr := r.store.GetWatermark(ctx, SourcePipelines)
	if cErr != nil {
		return nil, cErr
	}

	jobMark, cErr := r.store.GetWatermark(ctx, SourceJobs)
	if cErr != nil {
		return nil, cErr
	}

	pipelines, err := r.client.FetchPipelineEvents(ctx, pipelineMark)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeTransientStore, "failed to fetch pipeline events", err)
	}

	jobs, err := r.client.FetchJobEvents(ctx, jobMark)
	if err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeTransientStore, "failed to fetch job events", err)
	}

	stats.RowsRead = len(pipelines) + len(jobs)

	written, cErr := r.store.AppendPipelineEvents(ctx, pipelines)
	if cErr != nil {
		return nil, cErr
	}
	stats.RowsWritten += written

	written, cErr = r.store.AppendJobEvents(ctx, jobs)
	if cErr != nil {
		return nil, cErr
	}
	stats.RowsWritten += written

	now := time.Now().UTC()

	// The recompute window is the trailing reprocess window plus
	// anything beyond the watermark, whichever reaches further back.
	// Late events older than the window stay in the raw log but are not
	// re-aggregated until the window widens or a backfill runs.
	from := now.AddDate(0, 0, -r.config.ReprocessWindowDays)
	if jobMark == nil {
		from = time.Time{}
	} else if jobMark.Before(from) {
		from = *jobMark
	}

	report, cErr := r.aggregator.RecomputeWindow(ctx, from, now)
	if cErr != nil {
		return nil, cErr
	}

	stats.KeysAggregated = report.KeysSucceeded
	stats.KeysFailed = len(report.Failed)
	stats.WindowReprocessed = report.KeysTotal > 0

	featuresWritten, cErr := r.features.BuildFeatures(ctx, now)
	if cErr != nil {
		return nil, cErr
	}
	stats.FeaturesWritten = featuresWritten

	// Watermark advancement is the single commit point. Everything
	// before it is idempotent, so an error above leaves the next run to
	// reprocess the same window.
	if ts := maxPipelineTimestamp(pipelines); ts != nil {
		if cErr := r.advance(ctx, SourcePipelines, pipelineMark, *ts); cErr != nil {
			return nil, cErr
		}
	}

	if ts := maxJobTimestamp(jobs); ts != nil {
		advanceTo := *ts

		// Never advance past an event whose aggregate failed; the next
		// run picks the key up again.
		if earliest := report.EarliestFailure(); earliest != nil {
			capped := earliest.Add(-time.Nanosecond)
			if capped.Before(advanceTo) {
				advanceTo = capped
			}
		}

		if cErr := r.advance(ctx, SourceJobs, jobMark, advanceTo); cErr != nil {
			return nil, cErr
		}
		stats.LastTS = &advanceTo
	}

	stats.Duration = time.Since(started)

	r.logger.WithFields(logrus.Fields{
		"rows_read":          stats.RowsRead,
		"rows_written":       stats.RowsWritten,
		"keys_aggregated":    stats.KeysAggregated,
		"keys_failed":        stats.KeysFailed,
		"features_written":   stats.FeaturesWritten,
		"window_reprocessed": stats.WindowReprocessed,
		"duration":           stats.Duration,
	}).Info("incremental run finished")

	return stats, nil
}

func (r *Runner) advance(ctx context.Context, source string, current *time.Time, ts time.Time) *contract.Error {
	if current != nil && !ts.After(*current) {
		return nil
	}

	return r.store.AdvanceWatermark(ctx, source, ts)
}

func maxPipelineTimestamp(events []model.PipelineEvent) *time.Time {
	var max *time.Time

	for _, event := range events {
		if event.UpdatedAt == nil {
			continue
		}
		if max == nil || event.UpdatedAt.After(*max) {
			ts := event.UpdatedAt.UTC()
			max = &ts
		}
	}

	return max
}

func maxJobTimestamp(events []model.JobEvent) *time.Time {
	var max *time.Time

	for _, event := range events {
		if max == nil || event.CreatedAt.After(*max) {
			ts := event.CreatedAt.UTC()
			max = &ts
		}
	}

	return max
}
