package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/pipesight/pkg/store/sql/model"
	"github.com/pipesight/pipesight/pkg/utils"
)

type fakeClient struct {
	pipelines []model.PipelineEvent
	jobs      []model.JobEvent
	err       error

	jobSince *time.Time
}

func (f *fakeClient) FetchPipelineEvents(_ context.Context, _ *time.Time) ([]model.PipelineEvent, error) {
	return f.pipelines, f.err
}

func (f *fakeClient) FetchJobEvents(_ context.Context, since *time.Time) ([]model.JobEvent, error) {
	f.jobSince = since

	return f.jobs, f.err
}

func TestRunnerFullBatch(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	jobTS := now.Add(-time.Hour).Truncate(time.Second)
	pipelineTS := now.Add(-30 * time.Minute).Truncate(time.Second)

	client := &fakeClient{
		pipelines: []model.PipelineEvent{
			{ID: 10, ProjectID: cfg.ProjectID, Status: "success", UpdatedAt: &pipelineTS},
		},
		jobs: []model.JobEvent{
			{ID: 1, PipelineID: 10, ProjectID: cfg.ProjectID, Name: "build", Status: "success",
				Duration: utils.PtrTo(100.0), CreatedAt: jobTS},
			{ID: 2, PipelineID: 10, ProjectID: cfg.ProjectID, Name: "build", Status: "failed",
				Duration: utils.PtrTo(140.0), CreatedAt: jobTS.Add(time.Minute)},
		},
	}

	runner := NewRunner(cfg, s, client, quietLogger())

	stats, cErr := runner.Run(ctx)
	require.Nil(t, cErr)

	assert.Equal(t, 3, stats.RowsRead)
	assert.Equal(t, int64(3), stats.RowsWritten)
	assert.Equal(t, 1, stats.KeysAggregated)
	assert.Equal(t, 0, stats.KeysFailed)
	assert.Equal(t, 1, stats.FeaturesWritten)

	// Both watermarks sit at the newest processed event.
	jobMark, cErr := s.GetWatermark(ctx, SourceJobs)
	require.Nil(t, cErr)
	require.NotNil(t, jobMark)
	assert.True(t, jobMark.Equal(jobTS.Add(time.Minute)))

	pipelineMark, cErr := s.GetWatermark(ctx, SourcePipelines)
	require.Nil(t, cErr)
	require.NotNil(t, pipelineMark)
	assert.True(t, pipelineMark.Equal(pipelineTS))

	online, cErr := s.ReadOnlineFeature(ctx, "acme/widget:build")
	require.Nil(t, cErr)
	require.NotNil(t, online)

	// A second run with no new events is a no-op on every store.
	client.pipelines = nil
	client.jobs = nil

	stats, cErr = runner.Run(ctx)
	require.Nil(t, cErr)
	assert.Equal(t, 0, stats.RowsRead)
	assert.Equal(t, int64(0), stats.RowsWritten)

	jobMark, cErr = s.GetWatermark(ctx, SourceJobs)
	require.Nil(t, cErr)
	assert.True(t, jobMark.Equal(jobTS.Add(time.Minute)))

	// The run passed the stored watermark down to the source.
	require.NotNil(t, client.jobSince)
	assert.True(t, client.jobSince.Equal(jobTS.Add(time.Minute)))
}

func TestRunnerHoldsWatermarkOnFailedKey(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t, cfg)
	ctx := context.Background()

	badTS := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	goodTS := badTS.Add(time.Hour)

	client := &fakeClient{
		jobs: []model.JobEvent{
			{ID: 1, ProjectID: cfg.ProjectID, Name: "broken", Status: "success",
				Duration: utils.PtrTo(-1.0), CreatedAt: badTS},
			{ID: 2, ProjectID: cfg.ProjectID, Name: "fine", Status: "success",
				Duration: utils.PtrTo(10.0), CreatedAt: goodTS},
		},
	}

	runner := NewRunner(cfg, s, client, quietLogger())

	stats, cErr := runner.Run(ctx)
	require.Nil(t, cErr)
	assert.Equal(t, 1, stats.KeysFailed)

	// The watermark is capped just before the failed key's earliest
	// event, so the next run retries it.
	mark, cErr := s.GetWatermark(ctx, SourceJobs)
	require.Nil(t, cErr)
	require.NotNil(t, mark)
	assert.True(t, mark.Before(badTS))
	assert.True(t, mark.After(badTS.Add(-time.Second)))
}

func TestRunnerSurfacesSourceErrors(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t, cfg)

	client := &fakeClient{err: errors.New("gateway timeout")}
	runner := NewRunner(cfg, s, client, quietLogger())

	_, cErr := runner.Run(context.Background())
	require.NotNil(t, cErr)
	assert.Equal(t, "TRANSIENT_STORE_ERROR", string(cErr.Code))
}

func TestBreakerClientOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeClient{err: errors.New("boom")}
	breaker := NewBreakerClient(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := breaker.FetchJobEvents(ctx, nil)
		require.Error(t, err)
	}

	// The breaker is now open; the inner client is no longer called.
	inner.err = nil
	_, err := breaker.FetchJobEvents(ctx, nil)
	assert.Error(t, err)
}
