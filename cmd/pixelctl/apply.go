package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dunamismax/pixelfilter/internal/config"
	"github.com/dunamismax/pixelfilter/internal/filter"
	"github.com/dunamismax/pixelfilter/internal/pipeline"
	"github.com/dunamismax/pixelfilter/internal/pixbuf"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply FILE...",
	Short: "Run one operation over image files and write {op}_{name} artifacts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().StringP("op", "o", "", "Operation id (see 'pixelctl ops')")
	applyCmd.Flags().StringP("out-dir", "d", "", "Artifact directory (default: next to each source)")
	applyCmd.Flags().IntP("quality", "q", 0, "JPEG quality 1-100 (default: PIXELFILTER_JPEG_QUALITY)")
	_ = applyCmd.MarkFlagRequired("op")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	op, _ := cmd.Flags().GetString("op")
	outDir, _ := cmd.Flags().GetString("out-dir")
	quality, _ := cmd.Flags().GetInt("quality")
	if quality == 0 {
		quality = config.Load().Pipeline.JPEGQuality
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		OutputDir:   outDir,
		JPEGQuality: quality,
	})

	var failed []error
	for _, src := range args {
		start := time.Now()
		artifact, err := runner.Run(cmd.Context(), src, op)
		if err != nil {
			log.WithError(err).WithField("source", src).Warn("operation failed")
			failed = append(failed, fmt.Errorf("%s: %w", src, err))
			continue
		}

		dir := outDir
		if dir == "" {
			dir = filepath.Dir(src)
		}
		log.WithFields(logrus.Fields{
			"source":      src,
			"operation":   op,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("operation applied")
		fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(dir, artifact))
	}
	return errors.Join(failed...)
}

// exitCode separates caller mistakes from bad inputs and write failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, filter.ErrUnknownOperation), errors.Is(err, filter.ErrInvalidParameter):
		return 2
	case errors.Is(err, pipeline.ErrDecode), errors.Is(err, pixbuf.ErrUnsupportedChannelCount):
		return 3
	case errors.Is(err, pipeline.ErrEncode):
		return 4
	default:
		return 1
	}
}
