// Package export renders session ledgers for download.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNoFiles is returned for a ledger without records.
var ErrNoFiles = errors.New("no files recorded for session")

// Columns are the CSV headers in output order.
var Columns = []string{
	"CALFCOUNT",
	"CREATEDAT",
	"DUGONGCOUNT",
	"FILENAME",
	"IMAGECLASS",
	"PATH",
	"TOTALCOUNT",
	"UPDATEDAT",
}

// Filename is the suggested attachment name for a session export.
func Filename(sessionID string) string {
	return fmt.Sprintf("session_%s_metadata.csv", sessionID)
}

// WriteCSV writes one row per record in filename order.
func WriteCSV(w io.Writer, l *ledger.Ledger) error {
	if l == nil || len(l.Files) == 0 {
		return ErrNoFiles
	}

	title := cases.Title(language.English)
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range l.SortedFiles() {
		updated := ""
		if rec.UpdatedAt != nil {
			updated = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		row := []string{
			strconv.Itoa(rec.CalfCount),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(rec.DugongCount),
			rec.Filename,
			title.String(rec.ImageClass),
			rec.Path,
			strconv.Itoa(detection.TotalCount(rec.DugongCount, rec.CalfCount)),
			updated,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.Filename, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
