package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pipesight/pipesight/pkg/ml"
	"github.com/pipesight/pipesight/pkg/store/sql"
)

var (
	trainFrom          string
	trainTo            string
	trainContamination float64
	trainClusters      int
	trainPromote       bool
	trainedBy          string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and register a new model version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		from, to, err := parseDayRange(trainFrom, trainTo)
		if err != nil {
			return err
		}

		logger := logrus.StandardLogger()

		s, err := sql.NewStore(cfg, logger)
		if err != nil {
			return err
		}

		trainer := ml.NewTrainer(
			s,
			ml.StandardScalerFitter{},
			ml.NearestCentroidScorerFitter{Clusters: trainClusters},
			ml.KMeansFitter{Clusters: trainClusters},
			&ml.FileBundleStore{Root: cfg.ArtifactRoot},
			logger,
		)

		result, cErr := trainer.Train(ctx, ml.TrainParams{
			Schema:        ml.DefaultFeatureSchema(cfg.FeatureVersion),
			WindowStart:   from,
			WindowEnd:     to,
			ModelType:     "kmeans-centroid",
			TrainedBy:     trainedBy,
			Contamination: trainContamination,
			Promote:       trainPromote,
		})
		if cErr != nil {
			return cErr
		}

		logger.WithFields(logrus.Fields{
			"version":      result.Version,
			"n_samples":    result.Metrics.NSamples,
			"anomaly_rate": result.Metrics.AnomalyRate,
			"threshold":    result.Metrics.Threshold,
		}).Info("training complete")

		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainFrom, "from", "", "training window start day (YYYY-MM-DD)")
	trainCmd.Flags().StringVar(&trainTo, "to", "", "training window end day (YYYY-MM-DD, inclusive)")
	trainCmd.Flags().Float64Var(&trainContamination, "contamination", 0.1, "expected anomaly fraction")
	trainCmd.Flags().IntVar(&trainClusters, "clusters", 3, "number of peer clusters")
	trainCmd.Flags().BoolVar(&trainPromote, "promote", false, "promote the new version after registering")
	trainCmd.Flags().StringVar(&trainedBy, "trained-by", "cli", "who or what initiated the training")
	_ = trainCmd.MarkFlagRequired("from")
	_ = trainCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(trainCmd)
}

func parseDayRange(fromDay, toDay string) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	from, err := time.Parse(layout, fromDay)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from day %q: %w", fromDay, err)
	}

	to, err := time.Parse(layout, toDay)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to day %q: %w", toDay, err)
	}

	return from, to.AddDate(0, 0, 1), nil
}
