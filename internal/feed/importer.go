package feed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/fetcher"
	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/store"
)

// ImportSummary reports what one feed import changed.
type ImportSummary struct {
	RunID     string `json:"run_id,omitempty"`
	Created   int    `json:"created"`
	Skipped   int    `json:"skipped"`
	Malformed int    `json:"malformed"`
	// Unchanged is true when a conditional fetch found the feed identical
	// to the previous import; nothing was staged.
	Unchanged bool `json:"unchanged,omitempty"`
	// ETag to pass on the next import of this feed. Empty when the server
	// sends none.
	ETag string `json:"etag,omitempty"`
}

// Importer stages feed rows as pending records.
type Importer struct {
	store store.Store
	http  *fetcher.HTTPFetcher
	ftp   *fetcher.FTPFetcher
}

// NewImporter creates a feed importer over the given store.
func NewImporter(st store.Store) *Importer {
	return &Importer{
		store: st,
		http:  fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		ftp:   fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	}
}

// Import downloads and stages one feed. Rows without a SKU are counted
// malformed; rows whose SKU is already staged for the collection are
// counted skipped. Neither aborts the import.
func (im *Importer) Import(ctx context.Context, src Source) (*ImportSummary, error) {
	if src.Collection == "" {
		return nil, eris.Errorf("feed: source %q has no collection", src.Name)
	}

	path, etag, unchanged, cleanup, err := im.localize(ctx, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if unchanged {
		zap.L().Info("feed: unchanged since last import, skipping",
			zap.String("feed", src.Name),
			zap.String("etag", etag),
		)
		return &ImportSummary{Unchanged: true, ETag: etag}, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "feed-zip-*")
		if err != nil {
			return nil, eris.Wrap(err, "feed: temp dir")
		}
		defer os.RemoveAll(dir)
		if src.ArchiveEntry != "" {
			path, err = fetcher.ExtractZIPFile(path, src.ArchiveEntry, dir)
		} else {
			path, err = fetcher.ExtractZIPSingle(path, dir)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "feed: unzip %s", src.Name)
		}
	}

	rows, err := im.readRows(ctx, src, path)
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{RunID: uuid.New().String(), ETag: etag}
	for _, row := range rows {
		sku := strings.TrimSpace(row[src.column("sku")])
		if sku == "" {
			summary.Malformed++
			continue
		}

		if _, err := im.store.GetBySKU(ctx, sku, src.Collection); err == nil {
			summary.Skipped++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		rec := &model.StagedRecord{
			SKU:              sku,
			TargetCollection: src.Collection,
			RunID:            summary.RunID,
			Title:            row[src.column("title")],
			Vendor:           row[src.column("vendor")],
			SupplierName:     row[src.column("supplier_name")],
			ProductURL:       row[src.column("product_url")],
			SpecSheetURL:     row[src.column("spec_sheet_url")],
			ShopifyProductID: row[src.column("shopify_product_id")],
		}
		if rec.SupplierName == "" {
			rec.SupplierName = src.Name
		}
		if _, err := im.store.Create(ctx, rec); err != nil {
			return nil, eris.Wrapf(err, "feed: stage %s", sku)
		}
		summary.Created++
	}

	zap.L().Info("feed: import complete",
		zap.String("feed", src.Name),
		zap.String("run_id", summary.RunID),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("malformed", summary.Malformed),
	)
	return summary, nil
}

// localize makes the feed available as a local file. Remote feeds land
// in a temp file the returned cleanup removes. HTTP sources with a
// prior ETag are fetched conditionally; unchanged reports a 304.
func (im *Importer) localize(ctx context.Context, src Source) (path, etag string, unchanged bool, cleanup func(), err error) {
	noop := func() {}
	rawURL := src.URL
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		tmp, err := tempFeedFile(rawURL)
		if err != nil {
			return "", "", false, noop, err
		}
		etag, unchanged, err := im.downloadHTTP(ctx, src, tmp)
		if err != nil {
			os.Remove(tmp)
			return "", "", false, noop, eris.Wrapf(err, "feed: download %s", rawURL)
		}
		if unchanged {
			os.Remove(tmp)
			return "", etag, true, noop, nil
		}
		return tmp, etag, false, func() { os.Remove(tmp) }, nil
	case strings.HasPrefix(rawURL, "ftp://"):
		tmp, err := tempFeedFile(rawURL)
		if err != nil {
			return "", "", false, noop, err
		}
		if _, err := im.ftp.DownloadToFile(ctx, rawURL, tmp); err != nil {
			os.Remove(tmp)
			return "", "", false, noop, eris.Wrapf(err, "feed: download %s", rawURL)
		}
		return tmp, "", false, func() { os.Remove(tmp) }, nil
	default:
		return rawURL, "", false, noop, nil
	}
}

// downloadHTTP fetches the feed into tmp, conditionally when the source
// carries an ETag from the previous run.
func (im *Importer) downloadHTTP(ctx context.Context, src Source, tmp string) (string, bool, error) {
	if src.ETag == "" {
		if _, err := im.http.DownloadToFile(ctx, src.URL, tmp); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	body, etag, changed, err := im.http.DownloadIfChanged(ctx, src.URL, src.ETag)
	if err != nil {
		return "", false, err
	}
	if !changed {
		return etag, true, nil
	}
	defer body.Close()

	f, err := os.Create(tmp)
	if err != nil {
		return "", false, eris.Wrap(err, "feed: temp file")
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return "", false, eris.Wrap(err, "feed: write temp file")
	}
	return etag, false, nil
}

func tempFeedFile(rawURL string) (string, error) {
	f, err := os.CreateTemp("", "feed-*"+filepath.Ext(rawURL))
	if err != nil {
		return "", eris.Wrap(err, "feed: temp file")
	}
	f.Close()
	return f.Name(), nil
}

// readRows parses the feed into per-row column maps.
func (im *Importer) readRows(ctx context.Context, src Source, path string) ([]map[string]string, error) {
	switch format := src.format(path); format {
	case "csv", "tsv", "txt":
		return readCSVRows(ctx, src, path)
	case "xlsx":
		return readXLSXRows(src, path)
	case "xml":
		return readXMLRows(ctx, src, path)
	case "json":
		return readJSONRows(ctx, path)
	default:
		return nil, eris.Errorf("feed: unsupported format %q for %s", format, src.Name)
	}
}

func readCSVRows(ctx context.Context, src Source, path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: open %s", path)
	}
	defer f.Close()

	delimiter := ','
	if src.Delimiter != "" {
		delimiter = rune(src.Delimiter[0])
	}

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		Delimiter: delimiter,
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	// The header arrives on headerCh before the first data row, but an
	// empty or unreadable feed never sends one; receive it lazily so the
	// row channel closing ends the loop either way.
	var header []string
	var rows []map[string]string
	for row := range rowCh {
		if header == nil {
			header = <-headerCh
		}
		rows = append(rows, zipRow(header, row))
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "feed: read csv %s", src.Name)
	}
	return rows, nil
}

func readXLSXRows(src Source, path string) ([]map[string]string, error) {
	raw, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{
		SheetName: src.SheetName,
		SkipRows:  src.SkipRows,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "feed: read xlsx %s", src.Name)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	header := raw[0]
	var rows []map[string]string
	for _, row := range raw[1:] {
		rows = append(rows, zipRow(header, row))
	}
	return rows, nil
}

// xmlProduct matches the per-product element of XML feeds.
type xmlProduct struct {
	SKU              string `xml:"sku"`
	Title            string `xml:"title"`
	Vendor           string `xml:"vendor"`
	SupplierName     string `xml:"supplier_name"`
	ProductURL       string `xml:"product_url"`
	SpecSheetURL     string `xml:"spec_sheet_url"`
	ShopifyProductID string `xml:"shopify_product_id"`
}

func readXMLRows(ctx context.Context, src Source, path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: open %s", path)
	}
	defer f.Close()

	element := src.XMLElement
	if element == "" {
		element = "product"
	}

	itemCh, errCh := fetcher.StreamXML[xmlProduct](ctx, f, element)
	var rows []map[string]string
	for item := range itemCh {
		rows = append(rows, map[string]string{
			"sku":                item.SKU,
			"title":              item.Title,
			"vendor":             item.Vendor,
			"supplier_name":      item.SupplierName,
			"product_url":        item.ProductURL,
			"spec_sheet_url":     item.SpecSheetURL,
			"shopify_product_id": item.ShopifyProductID,
		})
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "feed: read xml %s", src.Name)
	}
	return rows, nil
}

// readJSONRows accepts either a bare array of row objects or the
// {"products": [...]} envelope some suppliers wrap their exports in.
func readJSONRows(ctx context.Context, path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feed: open %s", path)
	}
	defer f.Close()

	if enveloped, err := jsonFeedIsEnveloped(f); err != nil {
		return nil, eris.Wrapf(err, "feed: read json %s", path)
	} else if enveloped {
		type envelope struct {
			Products []map[string]string `json:"products"`
		}
		env, err := fetcher.DecodeJSONObject[envelope](f)
		if err != nil {
			return nil, eris.Wrapf(err, "feed: read json %s", path)
		}
		return env.Products, nil
	}

	itemCh, errCh := fetcher.DecodeJSONArray[map[string]string](ctx, f)
	var rows []map[string]string
	for item := range itemCh {
		rows = append(rows, item)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "feed: read json %s", path)
	}
	return rows, nil
}

// jsonFeedIsEnveloped peeks at the first non-space byte and rewinds.
func jsonFeedIsEnveloped(f *os.File) (bool, error) {
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(string(buf[:n]))
	return strings.HasPrefix(trimmed, "{"), nil
}

func zipRow(header, row []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(row) {
			m[strings.TrimSpace(strings.ToLower(col))] = row[i]
		}
	}
	return m
}
