package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/JacksonYang0315/rmf-analyzer/internal/cache"
	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
	"github.com/JacksonYang0315/rmf-analyzer/internal/observability"
	"github.com/JacksonYang0315/rmf-analyzer/internal/report"
	"github.com/JacksonYang0315/rmf-analyzer/internal/store"
)

// DefaultMaxWorkers is the parse pool size when none is configured
const DefaultMaxWorkers = 4

// maxWorkersLimit caps the pool regardless of configuration
const maxWorkersLimit = 8

// Exporter receives every published batch. Export failures are logged and
// never affect the record store.
type Exporter interface {
	Export(ctx context.Context, batch *domain.BatchResult) error
}

// Options configures a Service
type Options struct {
	DataDir    string
	Patterns   []string
	MaxWorkers int
}

// Service is the batch orchestrator. It owns the fingerprint cache and the
// record store; both start empty and change only through Ingest and Clear.
type Service struct {
	parser  *report.Parser
	cache   *cache.FingerprintCache
	store   *store.Store
	metrics *observability.Metrics

	dataDir    string
	patterns   []string
	maxWorkers int

	exporter Exporter

	// ingestMu serializes batches so publication order matches start order
	ingestMu sync.Mutex

	// clears counts Clear calls; watchers re-ingest when it moves
	clears atomic.Uint64
}

// New creates a service. metrics may be nil.
func New(parser *report.Parser, fc *cache.FingerprintCache, st *store.Store, metrics *observability.Metrics, opts Options) *Service {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if maxWorkers > maxWorkersLimit {
		maxWorkers = maxWorkersLimit
	}

	return &Service{
		parser:     parser,
		cache:      fc,
		store:      st,
		metrics:    metrics,
		dataDir:    opts.DataDir,
		patterns:   opts.Patterns,
		maxWorkers: maxWorkers,
	}
}

// SetExporter sets the sink notified after each published batch
func (s *Service) SetExporter(exporter Exporter) {
	s.exporter = exporter
}

// Store returns the record store the service publishes to
func (s *Service) Store() *store.Store {
	return s.store
}

// Reload ingests the configured data directory
func (s *Service) Reload(ctx context.Context) (*domain.BatchResult, error) {
	return s.IngestDir(ctx, s.dataDir, s.patterns)
}

// IngestDir ingests every file in dir matching one of patterns. Failing to
// list the directory fails the whole ingestion and leaves the store as is.
func (s *Service) IngestDir(ctx context.Context, dir string, patterns []string) (*domain.BatchResult, error) {
	files, err := ListFiles(dir, patterns)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, files)
}

// Clear drops every cached parse result and publishes an empty batch. A
// running Watcher re-ingests the directory on its next poll.
func (s *Service) Clear(ctx context.Context) (*domain.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.cache.Clear()
	s.clears.Add(1)
	log.Info().Msg("Fingerprint cache cleared")
	return s.Ingest(ctx, nil)
}

func (s *Service) clearGeneration() uint64 {
	return s.clears.Load()
}

// Ingest parses paths on a bounded worker pool, consulting the fingerprint
// cache first, and publishes the aggregate to the store once every file is
// done. Per-file failures are reported in the result, not returned.
// The exporter runs after publication without blocking other batches.
func (s *Service) Ingest(ctx context.Context, paths []string) (*domain.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := s.publish(ctx, paths)

	if s.exporter != nil && batch.TotalRecords() > 0 {
		if err := s.exporter.Export(ctx, batch); err != nil {
			log.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to export batch")
		}
	}

	return batch, nil
}

// publish parses paths and swaps the aggregate into the store
func (s *Service) publish(ctx context.Context, paths []string) *domain.BatchResult {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	start := time.Now()
	batchID := uuid.NewString()

	ctx, span := observability.StartSpan(ctx, "ingest.batch",
		attribute.String("batch.id", batchID),
		attribute.Int("batch.files", len(paths)),
	)

	outcomes := s.processFiles(ctx, paths)

	batch := aggregate(outcomes)
	batch.ID = batchID
	batch.StartedAt = start
	batch.Elapsed = time.Since(start)

	s.store.Replace(batch)
	s.observe(batch)

	span.SetAttributes(
		attribute.Int("batch.records", batch.TotalRecords()),
		attribute.Int("batch.failed", batch.Failed),
		attribute.Int("batch.cache_hits", batch.CacheHits),
	)
	observability.EndSpan(span, nil)

	log.Info().
		Str("batch_id", batch.ID).
		Int("files", batch.FilesParsed).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Int("cache_hits", batch.CacheHits).
		Int("records", batch.TotalRecords()).
		Dur("elapsed", batch.Elapsed).
		Msg("Batch ingested")

	return batch
}

// processFiles returns one outcome per path. Outcomes are written by index so
// workers never share a slot.
func (s *Service) processFiles(ctx context.Context, paths []string) []domain.FileOutcome {
	outcomes := make([]domain.FileOutcome, len(paths))
	if len(paths) == 0 {
		return outcomes
	}

	workers := min(s.maxWorkers, len(paths))
	if workers == 1 {
		for i, path := range paths {
			outcomes[i] = s.processFile(ctx, path)
		}
		return outcomes
	}

	log.Debug().
		Int("files_count", len(paths)).
		Int("workers", workers).
		Msg("Starting parse workers")

	jobs := make(chan int, len(paths))
	for i := range paths {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				log.Debug().
					Str("file", paths[i]).
					Int("worker", workerID).
					Msg("Worker processing file")
				outcomes[i] = s.processFile(ctx, paths[i])
			}
		}(w)
	}
	wg.Wait()

	return outcomes
}

// processFile serves one file from the cache or parses it
func (s *Service) processFile(ctx context.Context, path string) (out domain.FileOutcome) {
	start := time.Now()
	out = domain.FileOutcome{Path: path, File: filepath.Base(path)}

	_, span := observability.StartSpan(ctx, "ingest.file", attribute.String("file", out.File))
	defer func() {
		out.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Bool("cached", out.Cached),
			attribute.Int("records", len(out.Records)),
		)
		observability.EndSpan(span, out.Err)
	}()

	fingerprint, err := cache.Fingerprint(path)
	if err != nil {
		// No fingerprint: parse without the cache and let the parser report the file
		s.cache.CountMiss()
		log.Debug().Err(err).Str("file", path).Msg("Fingerprint unavailable, forcing cache miss")
	} else {
		out.Fingerprint = fingerprint
		if records, ok := s.cache.Get(fingerprint); ok {
			out.Records = records
			out.Cached = true
			s.countCache(true)
			log.Debug().
				Str("file", out.File).
				Int("records", len(records)).
				Msg("Served from cache")
			return out
		}
	}
	s.countCache(false)

	records, err := s.parser.ParseFile(path)
	if err != nil {
		out.Err = err
		log.Warn().Err(err).Str("file", out.File).Msg("Failed to parse file")
		return out
	}
	out.Records = records

	// Cache only if the file did not change while it was being read
	if fingerprint != "" {
		if after, err := cache.Fingerprint(path); err == nil && after == fingerprint {
			s.cache.Put(fingerprint, records)
		}
	}

	log.Debug().
		Str("file", out.File).
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("File parsed")

	return out
}

// aggregate combines outcomes in file name order. Completion order of the
// workers never leaks into the result.
func aggregate(outcomes []domain.FileOutcome) *domain.BatchResult {
	sorted := make([]domain.FileOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}
		return sorted[i].Path < sorted[j].Path
	})

	total := 0
	for _, out := range sorted {
		if out.Err == nil {
			total += len(out.Records)
		}
	}

	batch := &domain.BatchResult{
		FileNames:   make([]string, 0, len(sorted)),
		Records:     make([]domain.Record, 0, total),
		Errors:      []domain.FileError{},
		FilesParsed: len(sorted),
	}

	for _, out := range sorted {
		batch.FileNames = append(batch.FileNames, out.File)
		if out.Err != nil {
			batch.Failed++
			batch.Errors = append(batch.Errors, domain.FileError{
				File:    out.File,
				Message: out.Err.Error(),
			})
			continue
		}
		batch.Succeeded++
		if out.Cached {
			batch.CacheHits++
		}
		batch.Records = append(batch.Records, out.Records...)
	}

	return batch
}

func (s *Service) countCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.Inc()
	} else {
		s.metrics.CacheMisses.Inc()
	}
}

func (s *Service) observe(batch *domain.BatchResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.Batches.Inc()
	s.metrics.FileErrors.Add(float64(batch.Failed))
	s.metrics.RecordsLoaded.Set(float64(batch.TotalRecords()))
	s.metrics.FilesLoaded.Set(float64(batch.Succeeded))
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
	s.metrics.BatchDuration.Observe(batch.Elapsed.Seconds())
}

// Stats is the health view of the service
type Stats struct {
	BatchID          string  `json:"batch_id"`
	RecordsLoaded    int     `json:"records_loaded"`
	FilesLoaded      int     `json:"files_loaded"`
	FilesFailed      int     `json:"files_failed"`
	CacheEntries     int     `json:"cache_entries"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	LastBatchSeconds float64 `json:"last_batch_seconds"`
}

// Stats reports the current record set and cache usage
func (s *Service) Stats() Stats {
	batch := s.store.Batch()
	cs := s.cache.Stats()
	return Stats{
		BatchID:          batch.ID,
		RecordsLoaded:    batch.TotalRecords(),
		FilesLoaded:      batch.Succeeded,
		FilesFailed:      batch.Failed,
		CacheEntries:     cs.Entries,
		CacheHits:        cs.Hits,
		CacheMisses:      cs.Misses,
		LastBatchSeconds: batch.ElapsedSeconds(),
	}
}

// ListFiles returns the regular files in dir whose names match any of
// patterns (all files when patterns is empty), sorted by name.
// Subdirectories are not descended into.
func ListFiles(dir string, patterns []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := matchAny(entry.Name(), patterns)
		if err != nil {
			return nil, err
		}
		if matched {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	// ReadDir sorts by name already; entries are unique, so no dedup pass.
	return files, nil
}

func matchAny(name string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, pattern := range patterns {
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
