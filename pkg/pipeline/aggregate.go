package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/numeric"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
	"github.com/pipesight/pipesight/pkg/utils"
)

const (
	dayFormat      = "2006-01-02"
	errorTypesKept = 5

	statusSuccess = "success"
	statusFailed  = "failed"
)

// Aggregator folds raw job events into daily aggregates. Each
// (job, day) key is recomputed in full from the raw events currently
// stored, never incrementally, so reprocessing is idempotent.
type Aggregator struct {
	store     store.Store
	projectID string
	workers   int
	logger    *logrus.Logger
}

func NewAggregator(s store.Store, projectID string, workers int, logger *logrus.Logger) *Aggregator {
	if workers < 1 {
		workers = 1
	}

	return &Aggregator{store: s, projectID: projectID, workers: workers, logger: logger}
}

type aggregateKey struct {
	JobName string
	Day     string
}

// FailedKey records a (job, day) whose recomputation failed. The
// watermark must not advance past its earliest event, so the next run
// retries it.
type FailedKey struct {
	JobName       string
	Day           string
	EarliestEvent time.Time
	Err           error
}

type AggregateReport struct {
	KeysTotal     int
	KeysSucceeded int
	Failed        []FailedKey
}

// EarliestFailure returns the earliest event timestamp among failed
// keys, or nil when everything succeeded.
func (r *AggregateReport) EarliestFailure() *time.Time {
	var earliest *time.Time

	for _, failed := range r.Failed {
		ts := failed.EarliestEvent
		if earliest == nil || ts.Before(*earliest) {
			earliest = &ts
		}
	}

	return earliest
}

// RecomputeWindow rebuilds the aggregate of every (job, day) touched by
// events in (from, to]. Keys are independent, so they compute on a
// bounded worker pool; one key's failure is recorded and the rest of
// the batch proceeds.
func (a *Aggregator) RecomputeWindow(ctx context.Context, from, to time.Time) (*AggregateReport, *contract.Error) {
	events, cErr := a.store.JobEventsForWindow(ctx, a.projectID, from, to)
	if cErr != nil {
		return nil, cErr
	}

	grouped := make(map[aggregateKey][]model.JobEvent)
	for _, event := range events {
		key := aggregateKey{JobName: event.Name, Day: event.CreatedAt.UTC().Format(dayFormat)}
		grouped[key] = append(grouped[key], event)
	}

	keys := make([]aggregateKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Day != keys[j].Day {
			return keys[i].Day < keys[j].Day
		}
		return keys[i].JobName < keys[j].JobName
	})

	report := &AggregateReport{KeysTotal: len(keys)}

	var (
		mu         sync.Mutex
		aggregates []model.DailyAggregate
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.workers)

	for _, key := range keys {
		key := key
		keyEvents := grouped[key]

		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			aggregate, err := computeDailyAggregate(a.projectID, key.JobName, key.Day, keyEvents)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				report.Failed = append(report.Failed, FailedKey{
					JobName:       key.JobName,
					Day:           key.Day,
					EarliestEvent: earliestEventTime(keyEvents),
					Err:           err,
				})
				a.logger.WithError(err).Warnf("aggregate recompute failed for job %q day %s", key.JobName, key.Day)

				return nil
			}

			aggregates = append(aggregates, aggregate)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, contract.NewErrorWith(contract.ErrorCodeTransientStore, "aggregation interrupted", err)
	}

	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].EarliestEvent.Before(report.Failed[j].EarliestEvent)
	})

	if cErr := a.store.UpsertDailyAggregates(ctx, aggregates); cErr != nil {
		return nil, cErr
	}

	report.KeysSucceeded = len(aggregates)

	return report, nil
}

func earliestEventTime(events []model.JobEvent) time.Time {
	earliest := events[0].CreatedAt
	for _, event := range events[1:] {
		if event.CreatedAt.Before(earliest) {
			earliest = event.CreatedAt
		}
	}

	return earliest.UTC()
}

func computeDailyAggregate(
	projectID, jobName, day string, events []model.JobEvent,
) (model.DailyAggregate, error) {
	var builds, fails int64
	var maxRetries int32
	durations := make([]float64, 0, len(events))
	errorCounts := make(map[string]int)

	for _, event := range events {
		switch event.Status {
		case statusSuccess:
			builds++
		case statusFailed:
			builds++
			fails++
		}

		if event.Duration != nil {
			d := *event.Duration
			if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
				return model.DailyAggregate{}, fmt.Errorf("invalid duration %v for job event %d", d, event.ID)
			}
			durations = append(durations, d)
		}

		if event.RetryCount > maxRetries {
			maxRetries = event.RetryCount
		}

		if reason := failureReason(event); reason != "" {
			errorCounts[reason]++
		}
	}

	aggregate := model.DailyAggregate{
		ProjectID:  projectID,
		JobName:    jobName,
		Day:        day,
		Builds:     builds,
		Fails:      fails,
		MaxRetries: maxRetries,
		ErrorTypes: topErrorTypes(errorCounts),
		UpdatedAt:  time.Now().UTC(),
	}

	if len(durations) > 0 {
		aggregate.P95Duration = utils.PtrTo(numeric.Percentile(durations, 0.95))
		aggregate.P99Duration = utils.PtrTo(numeric.Percentile(durations, 0.99))
		aggregate.AvgDuration = utils.PtrTo(numeric.Mean(durations))
		aggregate.TotalDuration = utils.PtrTo(numeric.Sum(durations))
	}

	return aggregate, nil
}

// failureReason prefers the normalized column and falls back to probing
// the raw source payload.
func failureReason(event model.JobEvent) string {
	if utils.IsNotNilOrEmptyString(event.FailureReason) {
		return *event.FailureReason
	}

	if event.SourceData != "" {
		if reason := gjson.Get(event.SourceData, "failure_reason"); reason.Exists() {
			return reason.String()
		}
	}

	return ""
}

// topErrorTypes keeps the five most frequent failure reasons. Selection
// and serialization are both deterministic: count descending, reason
// ascending, JSON keys sorted.
func topErrorTypes(counts map[string]int) string {
	if len(counts) == 0 {
		return "{}"
	}

	type reasonCount struct {
		reason string
		count  int
	}

	ranked := make([]reasonCount, 0, len(counts))
	for reason, count := range counts {
		ranked = append(ranked, reasonCount{reason, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].reason < ranked[j].reason
	})

	if len(ranked) > errorTypesKept {
		ranked = ranked[:errorTypesKept]
	}

	kept := make(map[string]int, len(ranked))
	for _, entry := range ranked {
		kept[entry.reason] = entry.count
	}

	encoded, err := json.Marshal(kept)
	if err != nil {
		return "{}"
	}

	return string(encoded)
}
