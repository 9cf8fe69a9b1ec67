package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pipesight/pipesight/pkg/ml"
	"github.com/pipesight/pipesight/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		loader := &ml.FileBundleStore{Root: cfg.ArtifactRoot}

		return server.Launch(ctx, cfg, loader)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
