package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hed1ad/safestride/internal/synth"
	"github.com/hed1ad/safestride/pkg/io/csv"
)

func newGenerateCmd() *cobra.Command {
	opts := synth.DefaultOptions()
	var outPath string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write synthetic behavior samples as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return csv.NewWriter(out).WriteAll(synth.New(opts).Generate())
		},
	}

	cmd.Flags().IntVar(&opts.Users, "users", opts.Users, "number of users")
	cmd.Flags().IntVar(&opts.SessionsPerUser, "sessions", opts.SessionsPerUser, "sessions per user")
	cmd.Flags().Float64Var(&opts.AnomalyRate, "anomaly-rate", opts.AnomalyRate, "fraction of sessions that break a user's habits")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
