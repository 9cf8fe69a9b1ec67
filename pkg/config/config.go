package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// EnvDecode lets envconfig overlay durations from the environment.
func (d *Duration) EnvDecode(val string) error {
	var err error
	d.Duration, err = time.ParseDuration(val)

	return err
}

type Config struct {
	Address             string   `json:"address"               env:"PIPESIGHT_ADDRESS"`
	StoreURL            string   `json:"store_url"             env:"PIPESIGHT_STORE_URL"              validate:"required"`
	ArtifactRoot        string   `json:"artifact_root"         env:"PIPESIGHT_ARTIFACT_ROOT"          validate:"required"`
	LogLevel            string   `json:"log_level"             env:"PIPESIGHT_LOG_LEVEL"`
	ProjectID           string   `json:"project_id"            env:"PIPESIGHT_PROJECT_ID"             validate:"required"`
	ReprocessWindowDays int      `json:"reprocess_window_days" env:"PIPESIGHT_REPROCESS_WINDOW_DAYS"  validate:"gte=0"`
	FeatureWindowDays   int      `json:"feature_window_days"   env:"PIPESIGHT_FEATURE_WINDOW_DAYS"    validate:"gte=0"`
	FeatureVersion      int32    `json:"feature_version"       env:"PIPESIGHT_FEATURE_VERSION"        validate:"gte=1"`
	AggregationWorkers  int      `json:"aggregation_workers"   env:"PIPESIGHT_AGGREGATION_WORKERS"    validate:"gte=1"`
	StoreTimeout        Duration `json:"store_timeout"         env:"PIPESIGHT_STORE_TIMEOUT"`
	ShutdownTimeout     Duration `json:"shutdown_timeout"      env:"PIPESIGHT_SHUTDOWN_TIMEOUT"`
	Version             string   `json:"version"               env:"PIPESIGHT_VERSION"`
}

func defaults() Config {
	return Config{
		Address:             "localhost:5800",
		ArtifactRoot:        "artifacts",
		LogLevel:            "info",
		ReprocessWindowDays: 3,
		FeatureWindowDays:   30,
		FeatureVersion:      1,
		AggregationWorkers:  4,
		StoreTimeout:        Duration{30 * time.Second},
		ShutdownTimeout:     Duration{time.Minute},
		Version:             "dev",
	}
}

// Load reads the optional JSON config file, overlays environment
// variables and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
