package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/capbothers/pim-cli/internal/extractor"
	"github.com/capbothers/pim-cli/internal/pipeline"
)

var (
	scoreSKU        string
	scoreCollection string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute confidence for a record's extracted data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		runner := pipeline.NewRunner(st, reg, &extractor.StubExtractor{}, 1)
		summary, err := runner.Rescore(ctx, scoreSKU, scoreCollection)
		if err != nil {
			return eris.Wrapf(err, "score %s", scoreSKU)
		}
		return printJSON(summary)
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreSKU, "sku", "", "record SKU (required)")
	scoreCmd.Flags().StringVar(&scoreCollection, "collection", "", "record collection (required)")
	_ = scoreCmd.MarkFlagRequired("sku")
	_ = scoreCmd.MarkFlagRequired("collection")
	rootCmd.AddCommand(scoreCmd)
}
