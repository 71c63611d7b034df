package report

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// File-level failures. A file failing with any of these yields no records.
var (
	ErrUnreadable   = errors.New("file unreadable")
	ErrEmptyFile    = errors.New("file is empty")
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	ErrDecode       = errors.New("decoding fault")
)

// DefaultMaxFileSize applies when the caller does not configure a limit
const DefaultMaxFileSize int64 = 64 * 1024 * 1024

// Open opens a report file for reading, transparently decompressing .gz and
// .lz4 files. The size limit applies to the bytes on disk here and to the
// decompressed stream while it is read.
func Open(path string, maxSize int64) (io.ReadCloser, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if !stat.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file", ErrUnreadable)
	}
	if stat.Size() == 0 {
		return nil, ErrEmptyFile
	}
	if stat.Size() > maxSize {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrFileTooLarge, stat.Size(), maxSize)
	}

	file, err := os.Open(path) // #nosec G304 -- paths come from the ingestion file set
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var reader io.Reader = file
	closers := []io.Closer{file}

	switch {
	case strings.HasSuffix(strings.ToLower(path), ".gz"):
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: gzip header: %v", ErrDecode, err)
		}
		reader = gzReader
		closers = append([]io.Closer{gzReader}, closers...)
	case strings.HasSuffix(strings.ToLower(path), ".lz4"):
		reader = lz4.NewReader(file)
	}

	return &reportReader{
		guard:   &sizeGuard{r: reader, max: maxSize},
		closers: closers,
	}, nil
}

type reportReader struct {
	guard   *sizeGuard
	closers []io.Closer
}

func (r *reportReader) Read(p []byte) (int, error) {
	return r.guard.Read(p)
}

func (r *reportReader) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sizeGuard fails the read once more than max bytes have been produced
type sizeGuard struct {
	r   io.Reader
	n   int64
	max int64
}

func (g *sizeGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.n += int64(n)
	if g.n > g.max {
		return n, fmt.Errorf("%w: decompressed size > %d", ErrFileTooLarge, g.max)
	}
	return n, err
}
