// Package store holds the latest ingested record set and serves read-only
// views over it.
package store

import (
	"sort"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// DefaultMetadataTTL bounds how long a computed metadata view is reused
const DefaultMetadataTTL = 30 * time.Second

// Store owns the current BatchResult. Replace publishes a new batch with a
// single pointer swap; readers never block and never see a partial batch.
// Returned slices are shared and must be treated as read-only.
type Store struct {
	current atomic.Pointer[domain.BatchResult]
	meta    *gocache.Cache
}

// New creates a store holding an empty batch
func New(metadataTTL time.Duration) *Store {
	if metadataTTL <= 0 {
		metadataTTL = DefaultMetadataTTL
	}
	s := &Store{meta: gocache.New(metadataTTL, 2*metadataTTL)}
	s.current.Store(&domain.BatchResult{})
	return s
}

// Replace publishes batch as the current record set
func (s *Store) Replace(batch *domain.BatchResult) {
	if batch == nil {
		batch = &domain.BatchResult{}
	}
	s.current.Store(batch)
	s.meta.Flush()
}

// Batch returns the currently published batch
func (s *Store) Batch() *domain.BatchResult {
	return s.current.Load()
}

// Records returns the current record set
func (s *Store) Records() []domain.Record {
	return s.current.Load().Records
}

// Query filters and paginates the current record set
func (s *Store) Query(p Params) Result {
	return Query(s.Records(), p)
}

// DateRange is the span of normalized timestamps in the record set
type DateRange struct {
	Min *string `json:"min"`
	Max *string `json:"max"`
}

// ParseStats summarizes the batch the record set came from
type ParseStats struct {
	BatchID          string             `json:"batch_id"`
	FilesParsed      int                `json:"files_parsed"`
	FilesSucceeded   int                `json:"files_succeeded"`
	FilesFailed      int                `json:"files_failed"`
	FileNames        []string           `json:"file_names"`
	Errors           []domain.FileError `json:"errors"`
	TotalRecords     int                `json:"total_records"`
	ParseTimeSeconds float64            `json:"parse_time_seconds"`
}

// Metadata lists the distinct filter values of the record set
type Metadata struct {
	Workloads      []string   `json:"workloads"`
	ServiceClasses []string   `json:"service_classes"`
	FileSources    []string   `json:"file_sources"`
	DateRange      DateRange  `json:"date_range"`
	TotalRecords   int        `json:"total_records"`
	ParseStats     ParseStats `json:"parse_stats"`
}

// Metadata returns the metadata view of the current batch, computing it at
// most once per batch within the metadata TTL.
func (s *Store) Metadata() Metadata {
	batch := s.current.Load()
	// Keyed by batch so a view computed from a replaced batch is never served.
	key := "batch:" + batch.ID

	if cached, found := s.meta.Get(key); found {
		if md, ok := cached.(Metadata); ok {
			return md
		}
	}

	md := BuildMetadata(batch)
	s.meta.Set(key, md, gocache.DefaultExpiration)
	return md
}

// BuildMetadata computes the metadata view of batch
func BuildMetadata(batch *domain.BatchResult) Metadata {
	workloads := make(map[string]struct{})
	classes := make(map[string]struct{})
	sources := make(map[string]struct{})
	var minTS, maxTS string

	for i, r := range batch.Records {
		workloads[r.Workload] = struct{}{}
		classes[r.ServiceClass] = struct{}{}
		sources[r.SourceFile] = struct{}{}
		if i == 0 || r.TimestampISO < minTS {
			minTS = r.TimestampISO
		}
		if i == 0 || r.TimestampISO > maxTS {
			maxTS = r.TimestampISO
		}
	}

	md := Metadata{
		Workloads:      sortedKeys(workloads),
		ServiceClasses: sortedKeys(classes),
		FileSources:    sortedKeys(sources),
		TotalRecords:   len(batch.Records),
		ParseStats: ParseStats{
			BatchID:          batch.ID,
			FilesParsed:      batch.FilesParsed,
			FilesSucceeded:   batch.Succeeded,
			FilesFailed:      batch.Failed,
			FileNames:        nonNil(batch.FileNames),
			Errors:           batch.Errors,
			TotalRecords:     len(batch.Records),
			ParseTimeSeconds: batch.ElapsedSeconds(),
		},
	}
	if md.ParseStats.Errors == nil {
		md.ParseStats.Errors = []domain.FileError{}
	}
	if len(batch.Records) > 0 {
		md.DateRange = DateRange{Min: &minTS, Max: &maxTS}
	}
	return md
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
