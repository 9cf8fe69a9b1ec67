package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/pipesight/pkg/store/sql/model"
	"github.com/pipesight/pipesight/pkg/utils"
)

func TestComputeDailyAggregate(t *testing.T) {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	events := []model.JobEvent{
		{ID: 1, Status: "success", Duration: utils.PtrTo(100.0), CreatedAt: created},
		{ID: 2, Status: "success", Duration: utils.PtrTo(200.0), CreatedAt: created},
		{ID: 3, Status: "failed", Duration: utils.PtrTo(300.0), RetryCount: 2,
			FailureReason: utils.PtrTo("script_failure"), CreatedAt: created},
		{ID: 4, Status: "canceled", CreatedAt: created},
	}

	aggregate, err := computeDailyAggregate("acme/widget", "build", "2026-03-01", events)
	require.NoError(t, err)

	// Canceled runs count toward neither builds nor fails.
	assert.Equal(t, int64(3), aggregate.Builds)
	assert.Equal(t, int64(1), aggregate.Fails)
	assert.Equal(t, int32(2), aggregate.MaxRetries)

	require.NotNil(t, aggregate.AvgDuration)
	assert.InDelta(t, 200.0, *aggregate.AvgDuration, 1e-9)

	require.NotNil(t, aggregate.TotalDuration)
	assert.InDelta(t, 600.0, *aggregate.TotalDuration, 1e-9)

	// p95 of [100, 200, 300] by linear interpolation: 290.
	require.NotNil(t, aggregate.P95Duration)
	assert.InDelta(t, 290.0, *aggregate.P95Duration, 1e-9)

	assert.JSONEq(t, `{"script_failure":1}`, aggregate.ErrorTypes)
}

func TestComputeDailyAggregateRejectsInvalidDuration(t *testing.T) {
	events := []model.JobEvent{
		{ID: 1, Status: "success", Duration: utils.PtrTo(-5.0), CreatedAt: time.Now()},
	}

	_, err := computeDailyAggregate("acme/widget", "build", "2026-03-01", events)
	assert.Error(t, err)
}

func TestFailureReasonFallsBackToSourceData(t *testing.T) {
	event := model.JobEvent{
		SourceData: `{"failure_reason":"runner_system_failure"}`,
	}

	assert.Equal(t, "runner_system_failure", failureReason(event))

	event.FailureReason = utils.PtrTo("script_failure")
	assert.Equal(t, "script_failure", failureReason(event))
}

func TestTopErrorTypesKeepsFiveMostFrequent(t *testing.T) {
	counts := map[string]int{
		"a": 1, "b": 7, "c": 3, "d": 5, "e": 2, "f": 2, "g": 9,
	}

	// Top five by count descending, reason ascending on ties: g, b, d, c,
	// then e wins the 2-count tie against f.
	assert.JSONEq(t, `{"g":9,"b":7,"d":5,"c":3,"e":2}`, topErrorTypes(counts))
}

func TestTopErrorTypesEmpty(t *testing.T) {
	assert.Equal(t, "{}", topErrorTypes(nil))
}

func TestRecomputeWindowIsIdempotent(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events := []model.JobEvent{
		{ID: 1, ProjectID: cfg.ProjectID, Name: "build", Status: "success",
			Duration: utils.PtrTo(100.0), CreatedAt: base},
		{ID: 2, ProjectID: cfg.ProjectID, Name: "build", Status: "failed",
			Duration: utils.PtrTo(150.0), CreatedAt: base.Add(time.Hour)},
		{ID: 3, ProjectID: cfg.ProjectID, Name: "test", Status: "success",
			Duration: utils.PtrTo(50.0), CreatedAt: base.AddDate(0, 0, 1)},
	}

	_, cErr := s.AppendJobEvents(ctx, events)
	require.Nil(t, cErr)

	aggregator := NewAggregator(s, cfg.ProjectID, 2, quietLogger())

	from := base.Add(-time.Hour)
	to := base.AddDate(0, 0, 2)

	report, cErr := aggregator.RecomputeWindow(ctx, from, to)
	require.Nil(t, cErr)
	assert.Equal(t, 2, report.KeysSucceeded)
	assert.Empty(t, report.Failed)

	first, cErr := s.DailyAggregatesForRange(ctx, cfg.ProjectID, "2026-03-01", "2026-03-02")
	require.Nil(t, cErr)
	require.Len(t, first, 2)

	// Reprocessing the unchanged window reproduces the same aggregates.
	report, cErr = aggregator.RecomputeWindow(ctx, from, to)
	require.Nil(t, cErr)
	assert.Equal(t, 2, report.KeysSucceeded)

	second, cErr := s.DailyAggregatesForRange(ctx, cfg.ProjectID, "2026-03-01", "2026-03-02")
	require.Nil(t, cErr)
	require.Len(t, second, 2)

	for i := range first {
		assert.Equal(t, first[i].Builds, second[i].Builds)
		assert.Equal(t, first[i].Fails, second[i].Fails)
		assert.Equal(t, first[i].P95Duration, second[i].P95Duration)
		assert.Equal(t, first[i].ErrorTypes, second[i].ErrorTypes)
	}
}

func TestRecomputeWindowRecordsFailedKeys(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	events := []model.JobEvent{
		{ID: 1, ProjectID: cfg.ProjectID, Name: "build", Status: "success",
			Duration: utils.PtrTo(-1.0), CreatedAt: base},
		{ID: 2, ProjectID: cfg.ProjectID, Name: "test", Status: "success",
			Duration: utils.PtrTo(50.0), CreatedAt: base.Add(time.Hour)},
	}

	_, cErr := s.AppendJobEvents(ctx, events)
	require.Nil(t, cErr)

	aggregator := NewAggregator(s, cfg.ProjectID, 2, quietLogger())

	report, cErr := aggregator.RecomputeWindow(ctx, base.Add(-time.Hour), base.AddDate(0, 0, 1))
	require.Nil(t, cErr)

	// The bad key is recorded, the good key still lands.
	assert.Equal(t, 1, report.KeysSucceeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "build", report.Failed[0].JobName)

	earliest := report.EarliestFailure()
	require.NotNil(t, earliest)
	assert.True(t, earliest.Equal(base))

	rows, cErr := s.DailyAggregatesForRange(ctx, cfg.ProjectID, "2026-03-01", "2026-03-01")
	require.Nil(t, cErr)
	require.Len(t, rows, 1)
	assert.Equal(t, "test", rows[0].JobName)
}
