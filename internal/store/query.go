package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// MaxLimit bounds a single page
const MaxLimit = 10000

// Params selects a view of the record set. Zero-valued fields do not filter.
// Start and End compare against Record.TimestampISO, inclusive; the ISO form
// is fixed width so string order is time order.
type Params struct {
	Workload     string
	ServiceClass string
	SourceFile   string
	Start        string
	End          string

	// Limit 0 means no limit
	Limit  int
	Offset int
}

// Result is a filtered page plus the counts clients need for paging
type Result struct {
	Records []domain.Record `json:"data"`
	Count   int             `json:"count"`
	Total   int             `json:"total"`
}

// paramAliases maps accepted query keys onto Params fields. The first name
// of each field is canonical; the others are accepted for older clients.
var paramAliases = map[string][]string{
	"workload":      {"workload"},
	"service_class": {"service_class"},
	"source_file":   {"source_file", "file_source"},
	"start":         {"start", "start_date"},
	"end":           {"end", "end_date"},
	"limit":         {"limit"},
	"offset":        {"offset"},
}

// ParseParams reads filter and pagination parameters from a key/value map
func ParseParams(values map[string]string) (Params, error) {
	get := func(field string) string {
		for _, key := range paramAliases[field] {
			if v := strings.TrimSpace(values[key]); v != "" {
				return v
			}
		}
		return ""
	}

	p := Params{
		Workload:     get("workload"),
		ServiceClass: get("service_class"),
		SourceFile:   get("source_file"),
		Start:        get("start"),
		End:          get("end"),
	}

	if v := get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > MaxLimit {
			return Params{}, fmt.Errorf("limit must be an integer between 1 and %d", MaxLimit)
		}
		p.Limit = limit
	}
	if v := get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return Params{}, fmt.Errorf("offset must be a non-negative integer")
		}
		p.Offset = offset
	}

	return p, nil
}

// hasFilters reports whether any field-equality or date criterion is set
func (p Params) hasFilters() bool {
	return p.Workload != "" || p.ServiceClass != "" || p.SourceFile != "" ||
		p.Start != "" || p.End != ""
}

// Filter returns the records matching every criterion in p. With no
// criteria the input slice itself is returned.
func Filter(records []domain.Record, p Params) []domain.Record {
	if !p.hasFilters() {
		return records
	}

	filtered := make([]domain.Record, 0, len(records)/4)
	for _, r := range records {
		if p.Workload != "" && r.Workload != p.Workload {
			continue
		}
		if p.ServiceClass != "" && r.ServiceClass != p.ServiceClass {
			continue
		}
		if p.SourceFile != "" && r.SourceFile != p.SourceFile {
			continue
		}
		if p.Start != "" && r.TimestampISO < p.Start {
			continue
		}
		if p.End != "" && r.TimestampISO > p.End {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// Paginate returns the [offset, offset+limit) window of records. limit 0
// means everything from offset on.
func Paginate(records []domain.Record, offset, limit int) []domain.Record {
	if offset <= 0 && limit <= 0 {
		return records
	}
	if offset >= len(records) {
		return []domain.Record{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}

// Query applies Filter then Paginate. Count is the filtered size before
// pagination; Total is the size of the unfiltered input.
func Query(records []domain.Record, p Params) Result {
	filtered := Filter(records, p)
	page := Paginate(filtered, p.Offset, p.Limit)
	if page == nil {
		page = []domain.Record{}
	}
	return Result{
		Records: page,
		Count:   len(filtered),
		Total:   len(records),
	}
}
