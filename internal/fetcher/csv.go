// Package fetcher downloads supplier feeds over HTTP and FTP and parses
// the formats suppliers actually ship: CSV, XLSX, XML, JSON, and zipped
// variants of each.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	// HasHeader skips the first row; when HeaderCh is set the row is
	// delivered there instead of being dropped.
	HasHeader bool
	HeaderCh  chan<- []string
	Comment   rune // comment character, 0 disables
	// LazyQuotes tolerates the unescaped quotes common in hand-edited
	// supplier exports.
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV parses CSV rows into a channel so large feeds never load
// fully into memory. Rows may have varying field counts. Both channels
// close when parsing ends; the error channel carries at most one error.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		header := opts.HasHeader
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i := range row {
					row[i] = strings.TrimSpace(row[i])
				}
			}

			if header {
				header = false
				if opts.HeaderCh != nil {
					select {
					case opts.HeaderCh <- row:
					case <-ctx.Done():
						errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
						return
					}
				}
				continue
			}

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
