package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipesight/pipesight/pkg/config"
	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/ml"
	"github.com/pipesight/pipesight/pkg/store/sql"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

func newTestService(t *testing.T) (*PipesightService, *ml.FileBundleStore) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		StoreURL:  fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		ProjectID: "acme/widget",
	}

	s, err := sql.NewStore(cfg, logger)
	require.NoError(t, err)

	bundles := &ml.FileBundleStore{Root: t.TempDir()}

	return &PipesightService{
		config: cfg,
		store:  s,
		loader: bundles,
		logger: logger,
	}, bundles
}

// seedModel registers and promotes a model whose cluster holds the
// entity at the origin of normalized space.
func seedModel(t *testing.T, service *PipesightService, bundles *ml.FileBundleStore, entityKey string) int32 {
	t.Helper()
	ctx := context.Background()

	schema := ml.DefaultFeatureSchema(1)

	stats := make(map[string]ml.FeatureStats, len(schema.Features))
	for _, feature := range schema.Features {
		stats[feature] = ml.FeatureStats{Mean: 10, Std: 2, P50: 9}
	}

	clusters := ml.ClusterModel{
		Schema: schema,
		Profiles: map[int]ml.ClusterProfile{
			0: {Stats: stats, Members: 3},
		},
		Assignments: map[string]int{entityKey: 0},
	}

	clustersJSON, err := json.Marshal(clusters)
	require.NoError(t, err)

	artifactRef := "models/test-bundle.json"
	nFeatures := len(schema.Features)

	scaler := &ml.StandardScaler{
		Mean: make([]float64, nFeatures),
		Std:  ones(nFeatures),
	}
	scorer := &ml.NearestCentroidScorer{Centroids: [][]float64{make([]float64, nFeatures)}}
	require.NoError(t, bundles.Save(ctx, artifactRef, scaler, scorer))

	version, cErr := service.store.RegisterModel(ctx, model.ModelVersion{
		FeatureVersion:  1,
		ModelType:       "kmeans-centroid",
		ArtifactRef:     artifactRef,
		Metrics:         `{"threshold":-5.0}`,
		ClusterProfiles: string(clustersJSON),
		TrainedBy:       "test",
	})
	require.Nil(t, cErr)
	require.Nil(t, service.store.PromoteModel(ctx, version))

	return version
}

func ones(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = 1
	}

	return values
}

func TestDayRange(t *testing.T) {
	from, to, cErr := dayRange("2026-03-01", "2026-03-03")
	require.Nil(t, cErr)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), from)
	// The upper bound is exclusive and covers all of the last day.
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), to)

	_, _, cErr = dayRange("03/01/2026", "2026-03-03")
	require.NotNil(t, cErr)
	assert.Equal(t, contract.ErrorCodeInvalidParameterValue, cErr.Code)
}

func TestDailyMetrics(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	require.Nil(t, service.store.UpsertDailyAggregates(ctx, []model.DailyAggregate{
		{ProjectID: "acme/widget", JobName: "build", Day: "2026-03-01", Builds: 5, Fails: 1},
		{ProjectID: "acme/widget", JobName: "build", Day: "2026-03-05", Builds: 7, Fails: 0},
	}))

	rows, cErr := service.DailyMetrics(ctx, &DailyMetricsQuery{FromDay: "2026-03-01", ToDay: "2026-03-03"})
	require.Nil(t, cErr)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].Builds)
}

func TestCurrentModelWithoutPromotion(t *testing.T) {
	service, _ := newTestService(t)

	_, cErr := service.CurrentModel(context.Background())
	require.NotNil(t, cErr)
	assert.Equal(t, contract.ErrorCodeResourceDoesNotExist, cErr.Code)
}

func TestOnlineFeatureMissing(t *testing.T) {
	service, _ := newTestService(t)

	_, cErr := service.OnlineFeature(context.Background(), "nope")
	require.NotNil(t, cErr)
	assert.Equal(t, contract.ErrorCodeResourceDoesNotExist, cErr.Code)
}

func TestScoreWritesPrediction(t *testing.T) {
	service, bundles := newTestService(t)
	ctx := context.Background()

	entityKey := "acme/widget:build"
	version := seedModel(t, service, bundles, entityKey)

	payload := `{"dur_total":14,"stage_build":10,"stage_test":10,"stage_deploy":10,` +
		`"fail_rate":10,"max_retries":10}`
	require.Nil(t, service.store.WriteOnlineFeature(ctx, model.OnlineFeature{
		EntityKey:      entityKey,
		FeatureVersion: 1,
		Payload:        payload,
	}))

	response, cErr := service.Score(ctx, &ScoreRequest{EntityKey: entityKey, RunID: "run-42"})
	require.Nil(t, cErr)

	assert.Equal(t, "run-42", response.RunID)
	assert.Equal(t, version, response.ModelVersion)
	require.NotNil(t, response.Explanation)
	assert.True(t, response.Explanation.Scorable)

	// dur_total deviates most: z = (14-10)/2 = 2.
	assert.Equal(t, "dur_total", response.Explanation.MainFeature)
	assert.InDelta(t, 2.0, response.Explanation.ZScore, 1e-9)

	// Score is far above the seeded threshold of -5.
	assert.Equal(t, ml.LabelNormal, response.Label)

	rows, cErr := service.store.PredictionsForRange(
		ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour), nil, false,
	)
	require.Nil(t, cErr)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-42", rows[0].RunID)
	assert.Equal(t, version, rows[0].ModelVersion)
}

func TestScoreGeneratesRunID(t *testing.T) {
	service, bundles := newTestService(t)
	ctx := context.Background()

	entityKey := "acme/widget:build"
	seedModel(t, service, bundles, entityKey)

	require.Nil(t, service.store.WriteOnlineFeature(ctx, model.OnlineFeature{
		EntityKey:      entityKey,
		FeatureVersion: 1,
		Payload: `{"dur_total":10,"stage_build":10,"stage_test":10,"stage_deploy":10,` +
			`"fail_rate":10,"max_retries":10}`,
	}))

	response, cErr := service.Score(ctx, &ScoreRequest{EntityKey: entityKey})
	require.Nil(t, cErr)
	assert.NotEmpty(t, response.RunID)
}

func TestScoreUnassignedEntity(t *testing.T) {
	service, bundles := newTestService(t)
	ctx := context.Background()

	seedModel(t, service, bundles, "acme/widget:build")

	require.Nil(t, service.store.WriteOnlineFeature(ctx, model.OnlineFeature{
		EntityKey:      "acme/widget:unclustered",
		FeatureVersion: 1,
		Payload: `{"dur_total":1,"stage_build":1,"stage_test":1,"stage_deploy":1,` +
			`"fail_rate":1,"max_retries":1}`,
	}))

	_, cErr := service.Score(ctx, &ScoreRequest{EntityKey: "acme/widget:unclustered"})
	require.NotNil(t, cErr)
	assert.Equal(t, contract.ErrorCodeMissingUpstreamData, cErr.Code)
}

func TestScoreSchemaMismatch(t *testing.T) {
	service, bundles := newTestService(t)
	ctx := context.Background()

	entityKey := "acme/widget:build"
	seedModel(t, service, bundles, entityKey)

	// The snapshot was built with a newer feature version than the
	// promoted model understands.
	require.Nil(t, service.store.WriteOnlineFeature(ctx, model.OnlineFeature{
		EntityKey:      entityKey,
		FeatureVersion: 2,
		Payload:        `{"dur_total":1}`,
	}))

	_, cErr := service.Score(ctx, &ScoreRequest{EntityKey: entityKey})
	require.NotNil(t, cErr)
	assert.Equal(t, contract.ErrorCodeSchemaMismatch, cErr.Code)
}

func TestValidatorDateFormat(t *testing.T) {
	validate := NewValidator()

	type query struct {
		Day string `validate:"dateFormat"`
	}

	assert.NoError(t, validate.Struct(query{Day: "2026-03-01"}))
	assert.Error(t, validate.Struct(query{Day: "01-03-2026"}))
	assert.Error(t, validate.Struct(query{Day: "yesterday"}))
}
