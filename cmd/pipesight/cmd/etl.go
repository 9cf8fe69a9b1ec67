package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pipesight/pipesight/pkg/pipeline"
	"github.com/pipesight/pipesight/pkg/store/sql"
)

var etlEventsPath string

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Run one incremental ingest-aggregate-featurize batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		logger := logrus.StandardLogger()

		s, err := sql.NewStore(cfg, logger)
		if err != nil {
			return err
		}

		client := pipeline.NewBreakerClient(&pipeline.FileIngestClient{Path: etlEventsPath})
		runner := pipeline.NewRunner(cfg, s, client, logger)

		stats, cErr := runner.Run(ctx)
		if cErr != nil {
			return cErr
		}

		logger.WithFields(logrus.Fields{
			"rows_read":    stats.RowsRead,
			"rows_written": stats.RowsWritten,
			"duration":     stats.Duration,
		}).Info("etl batch complete")

		return nil
	},
}

func init() {
	etlCmd.Flags().StringVar(&etlEventsPath, "events", "", "path to the raw event JSON export")
	_ = etlCmd.MarkFlagRequired("events")
	rootCmd.AddCommand(etlCmd)
}
