package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// WriteTable renders records as a terminal table with a record count footer
func WriteTable(w io.Writer, records []domain.Record) error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)

	header := make(table.Row, len(domain.ExportHeader))
	for i, h := range domain.ExportHeader {
		header[i] = h
	}
	tbl.AppendHeader(header)

	for _, r := range records {
		tbl.AppendRow(table.Row{
			r.TimestampDisplay,
			r.ServiceClass,
			r.Workload,
			r.Period,
			strconv.FormatFloat(r.Utilization, 'f', 2, 64),
			r.SourceFile,
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d records", len(records))})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	_, err := fmt.Fprintln(w, tbl.Render())
	return err
}
