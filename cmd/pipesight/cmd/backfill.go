package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pipesight/pipesight/pkg/ml"
	"github.com/pipesight/pipesight/pkg/store/sql"
)

var (
	backfillFrom    string
	backfillTo      string
	backfillVersion int32
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-score historical feature snapshots with a model version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		from, to, err := parseDayRange(backfillFrom, backfillTo)
		if err != nil {
			return err
		}

		logger := logrus.StandardLogger()

		s, err := sql.NewStore(cfg, logger)
		if err != nil {
			return err
		}

		backfiller := ml.NewBackfiller(s, &ml.FileBundleStore{Root: cfg.ArtifactRoot}, logger)

		stats, cErr := backfiller.Run(ctx, ml.BackfillParams{
			ModelVersion: backfillVersion,
			WindowStart:  from,
			WindowEnd:    to,
		})
		if cErr != nil {
			return cErr
		}

		logger.WithFields(logrus.Fields{
			"model_version": stats.ModelVersion,
			"scored":        stats.Scored,
			"skipped":       stats.Skipped,
			"written":       stats.Written,
		}).Info("backfill complete")

		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "window start day (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "window end day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().Int32Var(&backfillVersion, "model-version", 0, "model version to score with (0 = current)")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(backfillCmd)
}
