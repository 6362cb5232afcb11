package feed

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/store"
)

func newFeedFixture(t *testing.T) (*store.SQLiteStore, *Importer) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st, NewImporter(st)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sinksCSV = `sku,title,vendor,product_url,spec_sheet_url
SINK-001,Undermount Sink,Oliveri,https://example.com/p/1,https://example.com/s/1.pdf
SINK-002,Topmount Sink,Oliveri,https://example.com/p/2,
,Missing SKU Row,Oliveri,,
`

func TestImport_CSV(t *testing.T) {
	st, im := newFeedFixture(t)
	path := writeFile(t, "sinks.csv", sinksCSV)

	summary, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Malformed)
	assert.Zero(t, summary.Skipped)
	assert.NotEmpty(t, summary.RunID)

	rec, err := st.GetBySKU(context.Background(), "SINK-001", "sinks")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, "Undermount Sink", rec.Title)
	assert.Equal(t, "Oliveri", rec.Vendor)
	assert.Equal(t, "oliveri", rec.SupplierName) // falls back to the feed name
	assert.Equal(t, summary.RunID, rec.RunID)
	assert.Equal(t, "https://example.com/s/1.pdf", rec.SpecSheetURL)
}

func TestImport_EmptyCSVFeed(t *testing.T) {
	_, im := newFeedFixture(t)
	path := writeFile(t, "empty.csv", "")

	summary, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.Zero(t, summary.Malformed)
}

func TestImport_HeaderOnlyCSVFeed(t *testing.T) {
	_, im := newFeedFixture(t)
	path := writeFile(t, "header-only.csv", "sku,title,vendor\n")

	summary, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
}

func TestImport_MalformedCSVHeader(t *testing.T) {
	_, im := newFeedFixture(t)
	path := writeFile(t, "broken.csv", "sku,\"title\nSINK-001,Undermount Sink\n")

	_, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read csv")
}

func TestImport_ReimportSkipsExisting(t *testing.T) {
	_, im := newFeedFixture(t)
	path := writeFile(t, "sinks.csv", sinksCSV)
	src := Source{Name: "oliveri", Collection: "sinks", URL: path}

	_, err := im.Import(context.Background(), src)
	require.NoError(t, err)

	summary, err := im.Import(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.Equal(t, 2, summary.Skipped)
}

func TestImport_ColumnMapping(t *testing.T) {
	st, im := newFeedFixture(t)
	path := writeFile(t, "taps.csv", "item_code,name\nTAP-001,Basin Mixer\n")

	_, err := im.Import(context.Background(), Source{
		Name:       "phoenix",
		Collection: "taps",
		URL:        path,
		Mapping:    map[string]string{"sku": "item_code", "title": "name"},
	})
	require.NoError(t, err)

	rec, err := st.GetBySKU(context.Background(), "TAP-001", "taps")
	require.NoError(t, err)
	assert.Equal(t, "Basin Mixer", rec.Title)
}

func TestImport_JSON(t *testing.T) {
	st, im := newFeedFixture(t)
	path := writeFile(t, "feed.json",
		`[{"sku": "SINK-010", "title": "Farmhouse Sink", "vendor": "Abey"}]`)

	summary, err := im.Import(context.Background(), Source{
		Name:       "abey",
		Collection: "sinks",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	rec, err := st.GetBySKU(context.Background(), "SINK-010", "sinks")
	require.NoError(t, err)
	assert.Equal(t, "Farmhouse Sink", rec.Title)
}

func TestImport_XML(t *testing.T) {
	st, im := newFeedFixture(t)
	path := writeFile(t, "feed.xml", `<?xml version="1.0"?>
<catalog>
  <product><sku>TAP-020</sku><title>Wall Mixer</title><vendor>Phoenix</vendor></product>
  <product><sku>TAP-021</sku><title>Sink Mixer</title><vendor>Phoenix</vendor></product>
</catalog>`)

	summary, err := im.Import(context.Background(), Source{
		Name:       "phoenix",
		Collection: "taps",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)

	rec, err := st.GetBySKU(context.Background(), "TAP-021", "taps")
	require.NoError(t, err)
	assert.Equal(t, "Sink Mixer", rec.Title)
}

func TestImport_XLSX(t *testing.T) {
	_, im := newFeedFixture(t)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Products")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"sku", "title"},
		{"SINK-030", "Laundry Tub"},
	} {
		xr := sheet.AddRow()
		for _, cell := range row {
			xr.AddCell().SetString(cell)
		}
	}
	path := filepath.Join(t.TempDir(), "feed.xlsx")
	require.NoError(t, f.Save(path))

	summary, err := im.Import(context.Background(), Source{
		Name:       "clark",
		Collection: "sinks",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
}

func TestImport_ZippedCSVOverHTTP(t *testing.T) {
	_, im := newFeedFixture(t)

	zipPath := filepath.Join(t.TempDir(), "feed.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	entry, err := zw.Create("sinks.csv")
	require.NoError(t, err)
	_, err = entry.Write([]byte(sinksCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, zipPath)
	}))
	t.Cleanup(srv.Close)

	summary, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        srv.URL + "/feed.zip",
		Format:     "", // inferred from the zip entry
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
}

func TestImport_JSONEnvelope(t *testing.T) {
	st, im := newFeedFixture(t)
	path := writeFile(t, "feed.json",
		`{"products": [{"sku": "SINK-011", "title": "Butler Sink", "vendor": "Turner Hastings"}]}`)

	summary, err := im.Import(context.Background(), Source{
		Name:       "turner-hastings",
		Collection: "sinks",
		URL:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	rec, err := st.GetBySKU(context.Background(), "SINK-011", "sinks")
	require.NoError(t, err)
	assert.Equal(t, "Butler Sink", rec.Title)
}

func TestImport_ZipArchiveEntry(t *testing.T) {
	_, im := newFeedFixture(t)

	zipPath := filepath.Join(t.TempDir(), "feed.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for name, content := range map[string]string{
		"sinks.csv": sinksCSV,
		"taps.csv":  "sku,title\nTAP-900,Mixer\n",
	} {
		entry, err := zw.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	summary, err := im.Import(context.Background(), Source{
		Name:         "oliveri",
		Collection:   "sinks",
		URL:          zipPath,
		ArchiveEntry: "sinks.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
}

func TestImport_UnchangedETag(t *testing.T) {
	_, im := newFeedFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(sinksCSV))
	}))
	t.Cleanup(srv.Close)

	summary, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        srv.URL + "/feed.csv",
		ETag:       `"v1"`,
	})
	require.NoError(t, err)
	assert.True(t, summary.Unchanged)
	assert.Zero(t, summary.Created)
	assert.Equal(t, `"v1"`, summary.ETag)
}

func TestImport_ChangedETagImportsAndReturnsNewETag(t *testing.T) {
	st, im := newFeedFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Write([]byte(sinksCSV))
	}))
	t.Cleanup(srv.Close)

	summary, err := im.Import(context.Background(), Source{
		Name:       "oliveri",
		Collection: "sinks",
		URL:        srv.URL + "/feed.csv",
		ETag:       `"v1"`,
	})
	require.NoError(t, err)
	assert.False(t, summary.Unchanged)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, `"v2"`, summary.ETag)

	_, err = st.GetBySKU(context.Background(), "SINK-001", "sinks")
	assert.NoError(t, err)
}

func TestImport_UnsupportedFormat(t *testing.T) {
	_, im := newFeedFixture(t)
	path := writeFile(t, "feed.parquet", "binary")

	_, err := im.Import(context.Background(), Source{
		Name:       "x",
		Collection: "sinks",
		URL:        path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestImport_NoCollection(t *testing.T) {
	_, im := newFeedFixture(t)
	_, err := im.Import(context.Background(), Source{Name: "x", URL: "feed.csv"})
	require.Error(t, err)
}
