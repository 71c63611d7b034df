// Package export serializes record sets for the CLI, the HTTP download and
// the optional ClickHouse sink.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// CSVFileName returns the download name for an export taken at t
func CSVFileName(t time.Time) string {
	return "rmf_report_" + t.Format("20060102_150405") + ".csv"
}

// WriteCSV writes a header row followed by one row per record
func WriteCSV(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(domain.ExportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Fields()); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
