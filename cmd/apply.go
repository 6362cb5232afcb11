package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/capbothers/pim-cli/internal/apply"
	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/store"
)

var (
	applySKU        string
	applyCollection string
	applyThreshold  float64
	applyLimit      int
	applyDryRun     bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Push approved records to Shopify",
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

		thresholdFor := reg.ThresholdFor
		if cmd.Flags().Changed("threshold") {
			thresholdFor = func(string) float64 { return applyThreshold }
		}

		if applyDryRun {
			return applyDryRunReport(cmd, st, thresholdFor)
		}

		client, err := initShopify()
		if err != nil {
			return err
		}
		pusher := apply.NewPusher(st, client, thresholdFor, cfg.Pipeline.Concurrency)

		if applySKU != "" {
			if applyCollection == "" {
				return eris.New("--collection is required with --sku")
			}
			applied, err := pusher.RunSKU(ctx, applySKU, applyCollection)
			if err != nil {
				return eris.Wrapf(err, "apply %s", applySKU)
			}
			if applied == nil {
				return printJSON(map[string]any{"sku": applySKU, "applied": false})
			}
			return printJSON(applied)
		}

		summary, err := pusher.Run(ctx, applyCollection, applyLimit)
		if err != nil {
			return eris.Wrap(err, "apply")
		}
		return printJSON(summary)
	},
}

// applyDryRunReport prints what the confidence gate would push, without
// touching Shopify or record status.
func applyDryRunReport(cmd *cobra.Command, st store.Store, thresholdFor func(string) float64) error {
	ctx := cmd.Context()

	var records []model.StagedRecord
	if applySKU != "" {
		if applyCollection == "" {
			return eris.New("--collection is required with --sku")
		}
		rec, err := st.GetBySKU(ctx, applySKU, applyCollection)
		if err != nil {
			return err
		}
		records = []model.StagedRecord{*rec}
	} else {
		var err error
		records, err = st.List(ctx, store.ListFilter{
			Status:     model.StatusApproved,
			Collection: applyCollection,
			Limit:      applyLimit,
		})
		if err != nil {
			return err
		}
	}

	type preview struct {
		SKU    string           `json:"sku"`
		Gate   apply.GateResult `json:"gate"`
		Linked bool             `json:"linked"`
	}
	previews := make([]preview, 0, len(records))
	for i := range records {
		rec := &records[i]
		gate := apply.MergeFieldsForShopify(rec, thresholdFor(rec.TargetCollection))
		previews = append(previews, preview{
			SKU:    rec.SKU,
			Gate:   gate,
			Linked: rec.ShopifyProductID != "",
		})
	}
	return printJSON(map[string]any{"dry_run": true, "records": previews})
}

func init() {
	applyCmd.Flags().StringVar(&applySKU, "sku", "", "apply a single record by SKU")
	applyCmd.Flags().StringVar(&applyCollection, "collection", "", "limit to one collection")
	applyCmd.Flags().Float64Var(&applyThreshold, "threshold", 0.6, "confidence threshold override")
	applyCmd.Flags().IntVar(&applyLimit, "limit", 0, "max records to apply (0 = all approved)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "report the gate outcome without pushing")
	rootCmd.AddCommand(applyCmd)
}
