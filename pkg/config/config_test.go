package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PIPESIGHT_STORE_URL", "file:test?mode=memory")
	t.Setenv("PIPESIGHT_PROJECT_ID", "acme/widget")

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "localhost:5800", cfg.Address)
	assert.Equal(t, 3, cfg.ReprocessWindowDays)
	assert.Equal(t, int32(1), cfg.FeatureVersion)
	assert.Equal(t, 30*time.Second, cfg.StoreTimeout.Duration)
}

func TestLoadRequiresStoreURL(t *testing.T) {
	_, err := Load(context.Background(), "")
	assert.Error(t, err)
}

func TestLoadFileThenEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"store_url": "file:from-file?mode=memory",
		"project_id": "acme/widget",
		"feature_version": 2,
		"store_timeout": "45s"
	}`), 0o644))

	t.Setenv("PIPESIGHT_FEATURE_VERSION", "3")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	// Environment wins over the file; the file wins over defaults.
	assert.Equal(t, int32(3), cfg.FeatureVersion)
	assert.Equal(t, "file:from-file?mode=memory", cfg.StoreURL)
	assert.Equal(t, 45*time.Second, cfg.StoreTimeout.Duration)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("PIPESIGHT_STORE_URL", "file:test?mode=memory")
	t.Setenv("PIPESIGHT_PROJECT_ID", "acme/widget")
	t.Setenv("PIPESIGHT_AGGREGATION_WORKERS", "0")

	_, err := Load(context.Background(), "")
	assert.Error(t, err)
}

func TestDurationUnmarshalJSON(t *testing.T) {
	var d Duration

	require.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Duration)

	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
