package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pipesight/pipesight/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pipesight",
	Short: "Incremental CI feature pipeline and anomaly explanation engine",
	Long: `pipesight ingests CI pipeline and job history, maintains daily
aggregates and a versioned feature store, trains cluster-based anomaly
models and explains which feature makes a job anomalous relative to its
peer cluster.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to JSON config file")
}

// loadConfig builds the effective configuration and points the global
// logger at the configured level.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
