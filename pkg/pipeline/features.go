package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipesight/pipesight/pkg/contract"
	"github.com/pipesight/pipesight/pkg/numeric"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql/model"
)

// Stage splits approximate how a job's average duration distributes
// across build, test and deploy stages.
const (
	stageBuildShare  = 0.4
	stageTestShare   = 0.5
	stageDeployShare = 0.1
)

// FeaturePayload is the versioned feature vector for one entity. Field
// order matches the feature schema; serialization is deterministic.
type FeaturePayload struct {
	DurTotal    float64 `json:"dur_total"`
	StageBuild  float64 `json:"stage_build"`
	StageTest   float64 `json:"stage_test"`
	StageDeploy float64 `json:"stage_deploy"`
	FailRate    float64 `json:"fail_rate"`
	MaxRetries  int32   `json:"max_retries"`
}

// EntityKey is the string identity of a tracked entity.
func EntityKey(projectID, jobName string) string {
	return fmt.Sprintf("%s:%s", projectID, jobName)
}

// FeatureBuilder derives per-entity feature vectors from a trailing
// window of daily aggregates and writes them to the offline and online
// feature stores.
type FeatureBuilder struct {
	store          store.Store
	projectID      string
	windowDays     int
	featureVersion int32
	logger         *logrus.Logger
}

func NewFeatureBuilder(
	s store.Store, projectID string, windowDays int, featureVersion int32, logger *logrus.Logger,
) *FeatureBuilder {
	return &FeatureBuilder{
		store:          s,
		projectID:      projectID,
		windowDays:     windowDays,
		featureVersion: featureVersion,
		logger:         logger,
	}
}

// BuildFeatures aggregates the trailing window per job and writes one
// feature vector per entity. The offline write happens first; the
// online cache is only refreshed when the offline row was accepted (or
// already held the identical payload), which keeps the online view
// equal to the newest offline payload.
func (b *FeatureBuilder) BuildFeatures(ctx context.Context, asOf time.Time) (int, *contract.Error) {
	toDay := asOf.UTC().Format(dayFormat)
	fromDay := asOf.UTC().AddDate(0, 0, -b.windowDays).Format(dayFormat)

	aggregates, cErr := b.store.DailyAggregatesForRange(ctx, b.projectID, fromDay, toDay)
	if cErr != nil {
		return 0, cErr
	}

	type jobWindow struct {
		builds, fails int64
		maxRetries    int32
		p95s, avgs    []float64
	}

	windows := make(map[string]*jobWindow)
	for _, aggregate := range aggregates {
		window, ok := windows[aggregate.JobName]
		if !ok {
			window = &jobWindow{}
			windows[aggregate.JobName] = window
		}

		window.builds += aggregate.Builds
		window.fails += aggregate.Fails
		if aggregate.MaxRetries > window.maxRetries {
			window.maxRetries = aggregate.MaxRetries
		}
		if aggregate.P95Duration != nil {
			window.p95s = append(window.p95s, *aggregate.P95Duration)
		}
		if aggregate.AvgDuration != nil {
			window.avgs = append(window.avgs, *aggregate.AvgDuration)
		}
	}

	jobNames := make([]string, 0, len(windows))
	for jobName := range windows {
		jobNames = append(jobNames, jobName)
	}
	sort.Strings(jobNames)

	eventTime := midnightUTC(asOf)
	written := 0

	for _, jobName := range jobNames {
		window := windows[jobName]

		payload := FeaturePayload{
			DurTotal:   numeric.Mean(window.p95s),
			FailRate:   FailRate(window.builds, window.fails),
			MaxRetries: window.maxRetries,
		}

		avgMean := numeric.Mean(window.avgs)
		payload.StageBuild = avgMean * stageBuildShare
		payload.StageTest = avgMean * stageTestShare
		payload.StageDeploy = avgMean * stageDeployShare

		encoded, err := json.Marshal(payload)
		if err != nil {
			return written, contract.NewErrorWith(
				contract.ErrorCodeInternalError,
				fmt.Sprintf("failed to encode feature payload for job %q", jobName),
				err,
			)
		}

		entityKey := EntityKey(b.projectID, jobName)

		offline := model.OfflineFeature{
			EntityKey:      entityKey,
			FeatureVersion: b.featureVersion,
			Payload:        string(encoded),
			EventTime:      eventTime,
		}

		if cErr := b.store.WriteOfflineFeature(ctx, offline); cErr != nil {
			if cErr.Code == contract.ErrorCodeIntegrityViolation {
				// The version is already taken with different values.
				// Skip the online refresh too, so the cache keeps
				// matching the stored offline row.
				b.logger.WithField("entity_key", entityKey).
					Warn("offline feature already written for this version, skipping")

				continue
			}

			return written, cErr
		}

		online := model.OnlineFeature{
			EntityKey:      entityKey,
			FeatureVersion: b.featureVersion,
			Payload:        string(encoded),
		}

		if cErr := b.store.WriteOnlineFeature(ctx, online); cErr != nil {
			return written, cErr
		}

		written++
	}

	return written, nil
}

// FailRate applies the project's +1 smoothing: fails / (builds + 1).
// Every fail-rate derivation goes through here.
func FailRate(builds, fails int64) float64 {
	return float64(fails) / float64(builds+1)
}

func midnightUTC(t time.Time) time.Time {
	utc := t.UTC()

	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
