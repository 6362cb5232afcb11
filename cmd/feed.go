package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/feed"
)

var (
	feedCSV        string
	feedURL        string
	feedFTP        string
	feedName       string
	feedCollection string
	feedFormat     string
	feedDelimiter  string
	feedSheetName  string
	feedSkipRows   int
	feedXMLElement string
	feedZipEntry   string
	feedETag       string
	feedMapping    map[string]string
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Manage supplier product feeds",
}

var feedImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a supplier feed into the staging queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		url := feedCSV
		if feedURL != "" {
			url = feedURL
		}
		if feedFTP != "" {
			url = feedFTP
		}
		if url == "" {
			return eris.New("one of --csv, --url, or --ftp is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		summary, err := feed.NewImporter(st).Import(ctx, feed.Source{
			Name:         feedName,
			Collection:   feedCollection,
			URL:          url,
			Format:       feedFormat,
			Delimiter:    feedDelimiter,
			SheetName:    feedSheetName,
			SkipRows:     feedSkipRows,
			XMLElement:   feedXMLElement,
			ArchiveEntry: feedZipEntry,
			ETag:         feedETag,
			Mapping:      feedMapping,
		})
		if err != nil {
			return eris.Wrap(err, "feed import")
		}

		zap.L().Info("feed import finished",
			zap.String("run_id", summary.RunID),
			zap.Int("created", summary.Created),
			zap.Int("skipped", summary.Skipped),
			zap.Int("malformed", summary.Malformed),
			zap.Bool("unchanged", summary.Unchanged),
		)
		return printJSON(summary)
	},
}

func init() {
	feedImportCmd.Flags().StringVar(&feedCSV, "csv", "", "local feed file path")
	feedImportCmd.Flags().StringVar(&feedURL, "url", "", "http(s) feed URL")
	feedImportCmd.Flags().StringVar(&feedFTP, "ftp", "", "ftp feed URL")
	feedImportCmd.Flags().StringVar(&feedName, "name", "", "feed name, used as the supplier fallback")
	feedImportCmd.Flags().StringVar(&feedCollection, "collection", "", "target collection (required)")
	feedImportCmd.Flags().StringVar(&feedFormat, "format", "", "feed format: csv, xlsx, xml, json (default: from extension)")
	feedImportCmd.Flags().StringVar(&feedDelimiter, "delimiter", "", "CSV delimiter (default comma)")
	feedImportCmd.Flags().StringVar(&feedSheetName, "sheet", "", "XLSX sheet name (default first sheet)")
	feedImportCmd.Flags().IntVar(&feedSkipRows, "skip-rows", 0, "XLSX rows to skip before the header")
	feedImportCmd.Flags().StringVar(&feedXMLElement, "xml-element", "", "per-product XML element (default product)")
	feedImportCmd.Flags().StringVar(&feedZipEntry, "zip-entry", "", "file to import from a multi-file ZIP feed")
	feedImportCmd.Flags().StringVar(&feedETag, "etag", "", "ETag from the previous import; skips the feed if unchanged")
	feedImportCmd.Flags().StringToStringVar(&feedMapping, "map", nil, "attribute to column mapping, e.g. sku=item_code")
	_ = feedImportCmd.MarkFlagRequired("collection")

	feedCmd.AddCommand(feedImportCmd)
	rootCmd.AddCommand(feedCmd)
}
