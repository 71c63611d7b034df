package domain

import "time"

// FileError associates a file-level parse failure with the file it happened in
type FileError struct {
	File    string `json:"file"`
	Message string `json:"error"`
}

// FileOutcome is the result of parsing (or serving from cache) one file.
// Exactly one of Records or Err is meaningful: a failed file contributes no records.
type FileOutcome struct {
	Path        string
	File        string // base name
	Fingerprint string
	Records     []Record
	Err         error
	Cached      bool
	Duration    time.Duration
}

// BatchResult is the aggregate of one ingestion cycle. It is built once,
// after every worker has finished, and never modified afterwards.
type BatchResult struct {
	ID          string        `json:"batch_id"`
	StartedAt   time.Time     `json:"started_at"`
	FileNames   []string      `json:"file_names"`
	Records     []Record      `json:"-"`
	Errors      []FileError   `json:"errors"`
	FilesParsed int           `json:"files_parsed"`
	Succeeded   int           `json:"files_succeeded"`
	Failed      int           `json:"files_failed"`
	CacheHits   int           `json:"cache_hits"`
	Elapsed     time.Duration `json:"-"`
}

// TotalRecords returns the number of records in the batch
func (b *BatchResult) TotalRecords() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// ElapsedSeconds returns the batch wall time rounded to milliseconds
func (b *BatchResult) ElapsedSeconds() float64 {
	if b == nil {
		return 0
	}
	return float64(b.Elapsed.Milliseconds()) / 1000
}
