package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/capbothers/pim-cli/internal/extractor"
	"github.com/capbothers/pim-cli/internal/pipeline"
	"github.com/capbothers/pim-cli/pkg/anthropic"
)

var (
	extractCollection string
	extractLimit      int
	extractOffline    bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract product specifications for pending records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var ex extractor.Extractor
		var runnerOpts []pipeline.RunnerOption
		if extractOffline {
			// Offline mode exercises the pipeline without API calls; every
			// record fails extraction and parks in error for inspection.
			ex = &extractor.StubExtractor{}
		} else {
			if err := cfg.Validate("extract"); err != nil {
				return err
			}
			ex = extractor.New(
				anthropic.NewClient(cfg.Anthropic.Key),
				extractor.WithModel(cfg.Anthropic.Model),
				extractor.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)),
			)
			if !cfg.Anthropic.NoBatch {
				runnerOpts = append(runnerOpts, pipeline.WithBatchSize(cfg.Anthropic.MaxBatchSize))
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		runner := pipeline.NewRunner(st, reg, ex, cfg.Pipeline.Concurrency, runnerOpts...)
		summary, err := runner.Run(ctx, extractCollection, extractLimit)
		if err != nil {
			return eris.Wrap(err, "extract")
		}
		return printJSON(summary)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractCollection, "collection", "", "collection to extract (required)")
	extractCmd.Flags().IntVar(&extractLimit, "limit", 0, "max records to process (0 = all pending)")
	extractCmd.Flags().BoolVar(&extractOffline, "offline", false, "run without calling the Anthropic API")
	_ = extractCmd.MarkFlagRequired("collection")
	rootCmd.AddCommand(extractCmd)
}
