package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacksonYang0315/rmf-analyzer/internal/cache"
	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
	"github.com/JacksonYang0315/rmf-analyzer/internal/observability"
	"github.com/JacksonYang0315/rmf-analyzer/internal/report"
	"github.com/JacksonYang0315/rmf-analyzer/internal/store"
)

var testPatterns = []string{"RMFW*.txt", "*.gz"}

func newTestService(t *testing.T, dir string, workers int) *Service {
	t.Helper()
	return New(
		report.NewParser(0, nil),
		cache.NewFingerprintCache(0),
		store.New(0),
		observability.NewMetrics(),
		Options{DataDir: dir, Patterns: testPatterns, MaxWorkers: workers},
	)
}

func reportText(workload, class string, totals ...string) string {
	var b strings.Builder
	b.WriteString("1  z/OS V2R5  SYSPLEX PLEX1  START 05/15/2025-00.00.00  INTERVAL 000.15.00\n")
	for i, total := range totals {
		fmt.Fprintf(&b, " REPORT BY: POLICY=STANDARD  WORKLOAD=%s  SERVICE CLASS=%s  RESOURCE GROUP=*NONE  PERIOD=%d\n", workload, class, i+1)
		b.WriteString("  -TRANSACTIONS-  TRANS-TIME HHH.MM.SS.TTT  ---APPL %---\n")
		fmt.Fprintf(&b, " AVG  1.00  ACTUAL  0.123  CP  10.00  TOTAL  %s\n", total)
	}
	return b.String()
}

func writeReport(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngest_AllFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 5; i >= 0; i-- {
		paths = append(paths, writeReport(t, dir, fmt.Sprintf("RMFW%02d.txt", i),
			reportText(fmt.Sprintf("WL%d", i), "CLASS", "1.0", "2.0")))
	}

	svc := newTestService(t, dir, 4)
	batch, err := svc.Ingest(context.Background(), paths)
	require.NoError(t, err)

	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, 6, batch.FilesParsed)
	assert.Equal(t, 6, batch.Succeeded)
	assert.Equal(t, 0, batch.Failed)
	assert.Empty(t, batch.Errors)
	require.Len(t, batch.Records, 12)

	// Aggregated in file name order regardless of submission order
	assert.Equal(t, []string{"RMFW00.txt", "RMFW01.txt", "RMFW02.txt", "RMFW03.txt", "RMFW04.txt", "RMFW05.txt"}, batch.FileNames)
	assert.Equal(t, "RMFW00.txt", batch.Records[0].SourceFile)
	assert.Equal(t, "WL0", batch.Records[0].Workload)
	assert.Equal(t, "RMFW05.txt", batch.Records[11].SourceFile)

	assert.Same(t, batch, svc.Store().Batch())
}

func TestIngest_DeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, writeReport(t, dir, fmt.Sprintf("RMFW%d.txt", i),
			reportText("WL", fmt.Sprintf("C%d", i), "1.0", "2.0", "3.0")))
	}

	first, err := newTestService(t, dir, 8).Ingest(context.Background(), paths)
	require.NoError(t, err)

	for run := 0; run < 5; run++ {
		again, err := newTestService(t, dir, 8).Ingest(context.Background(), paths)
		require.NoError(t, err)
		assert.Equal(t, first.Records, again.Records)
	}
}

func TestIngest_CacheHitDoesNotReread(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "RMFW01.txt", reportText("PRODBATCH", "BATCHHI", "12.34"))

	svc := newTestService(t, dir, 4)
	first, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, first.Records, 1)
	assert.Equal(t, 0, first.CacheHits)

	// Same size, same mtime, different bytes: only a re-read would notice
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(reportText("PRODBATCH", "BATCHHI", "56.78")), 0o644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	second, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, second.CacheHits)
	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, 12.34, second.Records[0].Utilization)
}

func TestIngest_ChangedFileReparsed(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "RMFW01.txt", reportText("PRODBATCH", "BATCHHI", "1.0"))

	svc := newTestService(t, dir, 4)
	_, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err)

	writeReport(t, dir, "RMFW01.txt", reportText("PRODBATCH", "BATCHHI", "1.0", "2.0"))

	batch, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.CacheHits)
	assert.Len(t, batch.Records, 2)
}

func TestIngest_EmptySet(t *testing.T) {
	svc := newTestService(t, t.TempDir(), 4)

	batch, err := svc.Ingest(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, batch.TotalRecords())
	assert.Empty(t, batch.Errors)
	assert.Equal(t, 0, batch.FilesParsed)
}

func truncatedGzip(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()[:buf.Len()/2]
}

func TestIngest_CorruptedFileIsolated(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0")),
		writeReport(t, dir, "RMFW02.txt", reportText("B", "X", "2.0")),
		writeReport(t, dir, "RMFW03.txt", reportText("C", "X", "3.0")),
	}
	corrupt := filepath.Join(dir, "RMFW04.txt.gz")
	require.NoError(t, os.WriteFile(corrupt, truncatedGzip(t, strings.Repeat(reportText("D", "X", "4.0"), 200)), 0o644))
	paths = append(paths, corrupt)

	svc := newTestService(t, dir, 4)
	batch, err := svc.Ingest(context.Background(), paths)
	require.NoError(t, err)

	assert.Len(t, batch.Records, 3)
	assert.Equal(t, 3, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "RMFW04.txt.gz", batch.Errors[0].File)
	assert.Contains(t, batch.Errors[0].Message, report.ErrDecode.Error())
	for _, r := range batch.Records {
		assert.NotEqual(t, "D", r.Workload)
	}

	// The failure is not cached: it is attempted and reported again
	again, err := svc.Ingest(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 3, again.CacheHits)
	assert.Len(t, again.Errors, 1)
	assert.Equal(t, 3, svc.Stats().CacheEntries)
}

func TestIngest_MissingFileIsFileError(t *testing.T) {
	dir := t.TempDir()
	good := writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0"))

	svc := newTestService(t, dir, 1)
	batch, err := svc.Ingest(context.Background(), []string{good, filepath.Join(dir, "RMFW99.txt")})
	require.NoError(t, err)

	assert.Len(t, batch.Records, 1)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "RMFW99.txt", batch.Errors[0].File)
}

func TestIngest_CancelledContext(t *testing.T) {
	svc := newTestService(t, t.TempDir(), 4)
	before := svc.Store().Batch()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Ingest(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, before, svc.Store().Batch())
}

func TestIngestDir(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "RMFW02.txt", reportText("B", "X", "2.0"))
	writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0"))
	writeReport(t, dir, "notes.md", "not a report")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "RMFW03.txt"), 0o755))

	svc := newTestService(t, dir, 4)
	batch, err := svc.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"RMFW01.txt", "RMFW02.txt"}, batch.FileNames)
	assert.Len(t, batch.Records, 2)
}

func TestIngestDir_ListingFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	svc := newTestService(t, missing, 4)
	before := svc.Store().Batch()

	_, err := svc.Reload(context.Background())
	assert.Error(t, err)
	assert.Same(t, before, svc.Store().Batch(), "store must be left untouched")
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "b.txt", "x")
	writeReport(t, dir, "a.txt", "x")
	writeReport(t, dir, "c.gz", "x")
	writeReport(t, dir, "d.csv", "x")

	files, err := ListFiles(dir, []string{"*.txt", "*.gz", "a*"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.gz"),
	}, files)

	all, err := ListFiles(dir, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = ListFiles(dir, []string{"[a-"})
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0"))

	svc := newTestService(t, dir, 4)
	_, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err)
	require.Equal(t, 1, svc.Stats().CacheEntries)

	batch, err := svc.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, batch.TotalRecords())
	assert.Equal(t, 0, svc.Stats().CacheEntries)
	assert.Empty(t, svc.Store().Records())
}

func TestStatsAndMetrics(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0", "2.0"))

	svc := newTestService(t, dir, 4)
	_, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err)
	batch, err := svc.Ingest(context.Background(), []string{path, filepath.Join(dir, "RMFW99.txt")})
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, batch.ID, stats.BatchID)
	assert.Equal(t, 2, stats.RecordsLoaded)
	assert.Equal(t, 1, stats.FilesLoaded)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 1, stats.CacheEntries)
	assert.Equal(t, int64(1), stats.CacheHits)
	// The missing file counts as a miss in both views
	assert.Equal(t, int64(2), stats.CacheMisses)

	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.CacheHits))
	assert.Equal(t, float64(stats.CacheMisses), testutil.ToFloat64(svc.metrics.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.FileErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.RecordsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.CacheEntries))
}

type recordingExporter struct {
	mu      sync.Mutex
	batches []*domain.BatchResult
	err     error
}

func (e *recordingExporter) Export(_ context.Context, batch *domain.BatchResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, batch)
	return e.err
}

func TestIngest_Exporter(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0"))

	svc := newTestService(t, dir, 4)
	exp := &recordingExporter{err: fmt.Errorf("sink down")}
	svc.SetExporter(exp)

	batch, err := svc.Ingest(context.Background(), []string{path})
	require.NoError(t, err, "export failures do not fail ingestion")
	assert.Same(t, batch, svc.Store().Batch())

	_, err = svc.Ingest(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, exp.batches, 1, "empty batches are not exported")
	assert.Same(t, batch, exp.batches[0])
}

type blockingExporter struct {
	entered chan struct{}
	release chan struct{}
}

func (e *blockingExporter) Export(context.Context, *domain.BatchResult) error {
	e.entered <- struct{}{}
	<-e.release
	return nil
}

func TestIngest_SlowExporterDoesNotBlockIngestion(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir, "RMFW01.txt", reportText("A", "X", "1.0"))

	svc := newTestService(t, dir, 4)
	exp := &blockingExporter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc.SetExporter(exp)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Ingest(context.Background(), []string{path})
		first <- err
	}()

	select {
	case <-exp.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("exporter was not called")
	}
	assert.Len(t, svc.Store().Records(), 1, "batch is published before export")

	cleared := make(chan error, 1)
	go func() {
		_, err := svc.Clear(context.Background())
		cleared <- err
	}()

	select {
	case err := <-cleared:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("clear waited behind a pending export")
	}
	assert.Empty(t, svc.Store().Records())

	close(exp.release)
	require.NoError(t, <-first)
}
