// Package cache remembers parse results by file fingerprint so unchanged
// report files are not read again on re-ingestion.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Fingerprint identifies a file's content by (absolute path, modification
// time, size). Equal fingerprints are treated as equal content.
func Fingerprint(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return fingerprintOf(abs, info), nil
}

func fingerprintOf(abs string, info os.FileInfo) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|", abs)
	fmt.Fprintf(h, "%d|", info.ModTime().UnixNano())
	fmt.Fprintf(h, "%d|", info.Size())
	return hex.EncodeToString(h.Sum(nil))
}
