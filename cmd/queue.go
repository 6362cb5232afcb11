package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/capbothers/pim-cli/internal/queue"
)

var retrySKU, retryCollection string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the staging queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue occupancy by status and collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := queue.New(st).Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "queue status")
		}
		return printJSON(stats)
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset an errored record to pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.GetBySKU(ctx, retrySKU, retryCollection)
		if err != nil {
			return err
		}
		updated, err := queue.New(st).Retry(ctx, rec.ID)
		if err != nil {
			return eris.Wrapf(err, "retry %s", retrySKU)
		}
		return printJSON(updated)
	},
}

func init() {
	queueRetryCmd.Flags().StringVar(&retrySKU, "sku", "", "record SKU (required)")
	queueRetryCmd.Flags().StringVar(&retryCollection, "collection", "", "record collection (required)")
	_ = queueRetryCmd.MarkFlagRequired("sku")
	_ = queueRetryCmd.MarkFlagRequired("collection")

	queueCmd.AddCommand(queueStatusCmd, queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}
