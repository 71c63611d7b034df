package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JacksonYang0315/rmf-analyzer/internal/cache"
)

// Watcher re-ingests the data directory whenever its file set changes. It
// polls a signature built from every matching file's fingerprint.
type Watcher struct {
	svc      *Service
	interval time.Duration

	signature  string
	fileCount  int
	generation uint64
	primed     bool
}

// NewWatcher creates a watcher over the service's data directory
func NewWatcher(svc *Service, interval time.Duration) *Watcher {
	return &Watcher{svc: svc, interval: interval}
}

// Run performs an initial ingestion and then polls until ctx is done.
// A non-positive interval runs the initial ingestion only.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info().
		Str("dir", w.svc.dataDir).
		Dur("interval", w.interval).
		Msg("Starting directory watcher")

	if _, err := w.Poll(ctx); err != nil {
		log.Warn().Err(err).Str("dir", w.svc.dataDir).Msg("Initial ingestion failed")
	}

	if w.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				// Keep polling; the directory may come back
				log.Warn().Err(err).Str("dir", w.svc.dataDir).Msg("Failed to scan data directory")
			}
		}
	}
}

// Poll ingests the directory if its signature changed, or the service was
// cleared, since the last poll and reports whether it did. When the file set
// becomes empty the cache is cleared as well.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	files, err := ListFiles(w.svc.dataDir, w.svc.patterns)
	if err != nil {
		return false, err
	}

	signature := signatureOf(files)
	generation := w.svc.clearGeneration()
	if w.primed && signature == w.signature && generation == w.generation {
		return false, nil
	}

	if len(files) == 0 && w.fileCount > 0 {
		_, err = w.svc.Clear(ctx)
		generation = w.svc.clearGeneration()
	} else {
		_, err = w.svc.Ingest(ctx, files)
	}
	if err != nil {
		return false, err
	}

	w.signature = signature
	w.fileCount = len(files)
	w.generation = generation
	w.primed = true
	return true, nil
}

// signatureOf joins the fingerprints of files. A file that cannot be
// stat'ed contributes its path only, so it is retried once it appears.
func signatureOf(files []string) string {
	var b strings.Builder
	for _, file := range files {
		fp, err := cache.Fingerprint(file)
		if err != nil {
			fp = "?" + file
		}
		b.WriteString(fp)
		b.WriteByte(';')
	}
	return b.String()
}
