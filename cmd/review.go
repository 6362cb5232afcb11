package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/review"
)

var (
	reviewThreshold  float64
	reviewOut        string
	reviewCollection string
	reviewSupplier   string
	reviewRunID      string
	reviewDryRun     bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Export and import review sheets",
}

var reviewExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export low-confidence fields to a review sheet",
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

		records, err := st.ListNeedingReview(ctx, reviewCollection)
		if err != nil {
			return eris.Wrap(err, "review export")
		}
		records = filterRecords(records, reviewSupplier, reviewRunID)

		thresholdFor := reg.ThresholdFor
		if cmd.Flags().Changed("threshold") {
			thresholdFor = func(string) float64 { return reviewThreshold }
		}

		rows := review.BuildRows(records, thresholdFor)
		if err := review.Export(reviewOut, rows); err != nil {
			return eris.Wrap(err, "review export")
		}

		zap.L().Info("review sheet exported",
			zap.String("path", reviewOut),
			zap.Int("rows", len(rows)),
			zap.Int("records", len(records)),
		)
		return nil
	},
}

var reviewImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import an annotated review sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		if reviewDryRun {
			approvals, skipped, err := review.Read(path)
			if err != nil {
				return eris.Wrap(err, "review import")
			}
			return printJSON(map[string]any{
				"dry_run":      true,
				"approvals":    len(approvals),
				"rows_skipped": skipped,
			})
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		summary, err := review.Import(ctx, st, path)
		if err != nil {
			return eris.Wrap(err, "review import")
		}
		return printJSON(summary)
	},
}

// filterRecords narrows exported records by supplier and import run.
func filterRecords(records []model.StagedRecord, supplier, runID string) []model.StagedRecord {
	if supplier == "" && runID == "" {
		return records
	}
	filtered := records[:0]
	for _, rec := range records {
		if supplier != "" && rec.SupplierName != supplier {
			continue
		}
		if runID != "" && rec.RunID != runID {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered
}

func init() {
	reviewExportCmd.Flags().Float64Var(&reviewThreshold, "threshold", 0.6, "confidence threshold override")
	reviewExportCmd.Flags().StringVar(&reviewOut, "out", "review.csv", "output file (.csv or .xlsx)")
	reviewExportCmd.Flags().StringVar(&reviewCollection, "collection", "", "limit to one collection")
	reviewExportCmd.Flags().StringVar(&reviewSupplier, "supplier", "", "limit to one supplier")
	reviewExportCmd.Flags().StringVar(&reviewRunID, "run-id", "", "limit to one import run")

	reviewImportCmd.Flags().BoolVar(&reviewDryRun, "dry-run", false, "parse the sheet without writing")

	reviewCmd.AddCommand(reviewExportCmd, reviewImportCmd)
	rootCmd.AddCommand(reviewCmd)
}
