package pipeline

import (
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pipesight/pipesight/pkg/config"
	"github.com/pipesight/pipesight/pkg/store"
	"github.com/pipesight/pipesight/pkg/store/sql"
)

func TestMain(m *testing.M) {
	// The database/sql pool keeps its opener goroutine alive for the
	// lifetime of the process.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

func testConfig() *config.Config {
	return &config.Config{
		StoreURL:            fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		ProjectID:           "acme/widget",
		ReprocessWindowDays: 3,
		FeatureWindowDays:   30,
		FeatureVersion:      1,
		AggregationWorkers:  2,
	}
}

func newTestStore(t *testing.T, cfg *config.Config) store.Store {
	t.Helper()

	s, err := sql.NewStore(cfg, quietLogger())
	require.NoError(t, err)

	return s
}
