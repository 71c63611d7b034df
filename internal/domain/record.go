package domain

import (
	"strconv"
	"strings"
)

// TimestampLayout is the fixed report layout of Record.TimestampDisplay
// ("MM/DD/YYYY HH.MM.SS").
const TimestampLayout = "01/02/2006 15.04.05"

// ISOLayout is the normalized, lexicographically sortable form of Record.TimestampISO.
const ISOLayout = "2006-01-02T15:04:05"

// Record is one APPL% CP total extracted for a service class period within
// a reporting interval. Records are values and are never modified after
// the parser emits them.
type Record struct {
	TimestampDisplay string  `json:"timestamp"`
	TimestampISO     string  `json:"datetime_iso"`
	Workload         string  `json:"workload"`
	ServiceClass     string  `json:"service_class"`
	Period           int     `json:"period"`
	Utilization      float64 `json:"appl_cp_total"`
	SourceFile       string  `json:"file_source"`
}

// ExportHeader names the columns of Fields, in order.
var ExportHeader = []string{
	"DATE-TIME", "SERVICE CLASS", "WORKLOAD",
	"PERIOD", "APPL % CP", "SOURCE FILE",
}

// Fields returns the record as a plain tuple for export:
// timestamp-display, service class, workload, period, utilization, source file.
func (r Record) Fields() []string {
	return []string{
		r.TimestampDisplay,
		r.ServiceClass,
		r.Workload,
		strconv.Itoa(r.Period),
		formatUtilization(r.Utilization),
		r.SourceFile,
	}
}

// formatUtilization writes the shortest exact form, keeping one decimal
// place on integral values (12 is written as 12.0).
func formatUtilization(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.ContainsAny(s, ".IN") {
		return s
	}
	return s + ".0"
}
