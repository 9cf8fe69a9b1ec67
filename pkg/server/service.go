package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/pipesight/pipesight/pkg/config"
	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/ml"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// PipesightService is the read-and-score surface over the feature
// pipeline's stores. Aggregation and training run out of band; the
// service never mutates aggregates, features or the registry.
type PipesightService struct {
	config *config.Config
	store  store.Store
	loader ml.BundleLoader
	logger *logrus.Logger
}

func NewPipesightService(
	cfg *config.Config, loader ml.BundleLoader, logger *logrus.Logger,
) (*PipesightService, error) {
	s, err := sql.NewStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &PipesightService{config: cfg, store: s, loader: loader, logger: logger}, nil
}

type DailyMetricsQuery struct {
	FromDay string `query:"from_day" validate:"required,dateFormat"`
	ToDay   string `query:"to_day"   validate:"required,dateFormat"`
}

func (s *PipesightService) DailyMetrics(
	ctx context.Context, query *DailyMetricsQuery,
) ([]model.DailyAggregate, *contract.Error) {
	return s.store.DailyAggregatesForRange(ctx, s.config.ProjectID, query.FromDay, query.ToDay)
}

type PredictionsQuery struct {
	FromDay      string `query:"from_day"      validate:"required,dateFormat"`
	ToDay        string `query:"to_day"        validate:"required,dateFormat"`
	ModelVersion int32  `query:"model_version" validate:"gte=0"`
	Backfill     bool   `query:"backfill"`
}

func (s *PipesightService) Predictions(
	ctx context.Context, query *PredictionsQuery,
) ([]model.Prediction, *contract.Error) {
	from, to, cErr := dayRange(query.FromDay, query.ToDay)
	if cErr != nil {
		return nil, cErr
	}

	var version *int32
	if query.ModelVersion > 0 {
		version = &query.ModelVersion
	}

	return s.store.PredictionsForRange(ctx, from, to, version, query.Backfill)
}

func (s *PipesightService) CurrentModel(ctx context.Context) (*model.ModelVersion, *contract.Error) {
	mv, cErr := s.store.CurrentModel(ctx)
	if cErr != nil {
		return nil, cErr
	}
	if mv == nil {
		return nil, contract.NewError(
			contract.ErrorCodeResourceDoesNotExist,
			"no model version is currently promoted",
		)
	}

	return mv, nil
}

func (s *PipesightService) GetModel(ctx context.Context, version int32) (*model.ModelVersion, *contract.Error) {
	return s.store.GetModel(ctx, version)
}

func (s *PipesightService) PromoteModel(ctx context.Context, version int32) *contract.Error {
	return s.store.PromoteModel(ctx, version)
}

type OnlineFeatureQuery struct {
	EntityKey string `query:"entity_key" validate:"required"`
}

func (s *PipesightService) OnlineFeature(
	ctx context.Context, entityKey string,
) (*model.OnlineFeature, *contract.Error) {
	feature, cErr := s.store.ReadOnlineFeature(ctx, entityKey)
	if cErr != nil {
		return nil, cErr
	}
	if feature == nil {
		return nil, contract.NewError(
			contract.ErrorCodeResourceDoesNotExist,
			fmt.Sprintf("no online feature snapshot for entity %q", entityKey),
		)
	}

	return feature, nil
}

type OfflineFeaturesQuery struct {
	EntityKey  string `query:"entity_key"  validate:"required"`
	FromDay    string `query:"from_day"    validate:"required,dateFormat"`
	ToDay      string `query:"to_day"      validate:"required,dateFormat"`
	MaxResults int    `query:"max_results" validate:"gte=0,lte=1000"`
	PageToken  string `query:"page_token"`
}

type OfflineFeaturesResponse struct {
	Features      []model.OfflineFeature `json:"features"`
	NextPageToken *string                `json:"next_page_token,omitempty"`
}

func (s *PipesightService) OfflineFeatures(
	ctx context.Context, query *OfflineFeaturesQuery,
) (*OfflineFeaturesResponse, *contract.Error) {
	from, to, cErr := dayRange(query.FromDay, query.ToDay)
	if cErr != nil {
		return nil, cErr
	}

	maxResults := query.MaxResults
	if maxResults == 0 {
		maxResults = 100
	}

	page, cErr := s.store.ReadOfflineRange(ctx, query.EntityKey, from, to, maxResults, query.PageToken)
	if cErr != nil {
		return nil, cErr
	}

	return &OfflineFeaturesResponse{
		Features:      page.Items,
		NextPageToken: page.NextPageToken,
	}, nil
}

type ScoreRequest struct {
	EntityKey string `json:"entity_key" validate:"required"`
	RunID     string `json:"run_id"`
}

type ScoreResponse struct {
	RunID        string          `json:"run_id"`
	ModelVersion int32           `json:"model_version"`
	Score        float64         `json:"score"`
	Label        string          `json:"label"`
	Explanation  *ml.Explanation `json:"explanation"`
}

// Score explains the entity's current online snapshot with the promoted
// model and records the result as an immutable prediction.
//
//nolint:funlen
func (s *PipesightService) Score(ctx context.Context, req *ScoreRequest) (*ScoreResponse, *contract.Error) {
	mv, cErr := s.CurrentModel(ctx)
	if cErr != nil {
		return nil, cErr
	}

	feature, cErr := s.OnlineFeature(ctx, req.EntityKey)
	if cErr != nil {
		return nil, cErr
	}

	var clusters ml.ClusterModel
	if err := json.Unmarshal([]byte(mv.ClusterProfiles), &clusters); err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("model version %d has unreadable cluster profiles", mv.Version),
			err,
		)
	}

	transformer, scorer, err := s.loader.Load(ctx, mv)
	if err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("failed to load artifacts for model version %d", mv.Version),
			err,
		)
	}

	explainer := &ml.Explainer{
		Clusters:    &clusters,
		Transformer: transformer,
		Scorer:      scorer,
	}

	explanation, cErr := explainer.Explain(req.EntityKey, feature.FeatureVersion, feature.Payload)
	if cErr != nil {
		return nil, cErr
	}

	if !explanation.Scorable {
		return nil, contract.NewError(contract.ErrorCodeMissingUpstreamData, explanation.Reason)
	}

	label := ml.LabelNormal
	if threshold := gjson.Get(mv.Metrics, "threshold"); threshold.Exists() &&
		explanation.AnomalyScore < threshold.Float() {
		label = ml.LabelAnomaly
	}

	explanationJSON, err := json.Marshal(explanation)
	if err != nil {
		return nil, contract.NewErrorWith(
			contract.ErrorCodeInternalError,
			fmt.Sprintf("failed to encode explanation for entity %q", req.EntityKey),
			err,
		)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if cErr := s.store.InsertPrediction(ctx, model.Prediction{
		RunID:          runID,
		ModelVersion:   mv.Version,
		FeatureVersion: feature.FeatureVersion,
		Score:          explanation.AnomalyScore,
		Label:          label,
		Explanation:    string(explanationJSON),
	}); cErr != nil {
		return nil, cErr
	}

	s.logger.WithFields(logrus.Fields{
		"entity_key":    req.EntityKey,
		"run_id":        runID,
		"model_version": mv.Version,
		"label":         label,
	}).Debug("scored entity")

	return &ScoreResponse{
		RunID:        runID,
		ModelVersion: mv.Version,
		Score:        explanation.AnomalyScore,
		Label:        label,
		Explanation:  explanation,
	}, nil
}

const dayFormat = "2006-01-02"

// dayRange parses inclusive day bounds into the half-open timestamp
// range [from 00:00, to+1d 00:00).
func dayRange(fromDay, toDay string) (time.Time, time.Time, *contract.Error) {
	from, err := time.Parse(dayFormat, fromDay)
	if err != nil {
		return time.Time{}, time.Time{}, contract.NewError(
			contract.ErrorCodeInvalidParameterValue,
			fmt.Sprintf("invalid value %q for parameter 'from_day'", fromDay),
		)
	}

	to, err := time.Parse(dayFormat, toDay)
	if err != nil {
		return time.Time{}, time.Time{}, contract.NewError(
			contract.ErrorCodeInvalidParameterValue,
			fmt.Sprintf("invalid value %q for parameter 'to_day'", toDay),
		)
	}

	return from, to.AddDate(0, 0, 1), nil
}
