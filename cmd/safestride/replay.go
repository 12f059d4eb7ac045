package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/safestride/internal/replay"
	"github.com/hed1ad/safestride/pkg/io/csv"
	"github.com/hed1ad/safestride/pkg/io/jsonl"
)

func newReplayCmd(root *rootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "replay <samples.csv>",
		Short: "Score recorded samples and print JSON-lines results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.build()
			if err != nil {
				return err
			}
			defer a.logger.Sync() //nolint:errcheck

			src, err := csv.NewReader(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			dst := jsonl.NewWriter(out)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, runErr := replay.Run(ctx, a.engine, src, dst, a.logger)
			if err := dst.Close(); err != nil && runErr == nil {
				runErr = err
			}

			a.logger.Info("replay finished",
				zap.Int("records", stats.Records),
				zap.Int("failed", stats.Failed),
				zap.Int("skipped_rows", src.Skipped()),
				zap.Any("recommendations", stats.Recommendations))
			return runErr
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write results to this file instead of stdout")
	return cmd
}
