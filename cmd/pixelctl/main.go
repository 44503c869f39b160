package main

import (
	"os"

	"github.com/dunamismax/pixelfilter/internal/config"
	"github.com/dunamismax/pixelfilter/internal/logger"
	"github.com/dunamismax/pixelfilter/internal/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log logrus.FieldLogger = logrus.StandardLogger()

var rootCmd = &cobra.Command{
	Use:           "pixelctl",
	Short:         "Apply pixelfilter operations to local image files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.Log.Level = "debug"
		}
		l := logger.NewWithOutput(cfg.Log, cmd.ErrOrStderr())
		log = l.WithField("component", "pixelctl")
		return pipeline.Startup()
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		pipeline.Shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(exitCode(err))
	}
}
