package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// ClickHouse DateTime range the sink clamps event times into
var (
	minClickHouseDateTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2106, 2, 7, 6, 28, 15, 0, time.UTC)
)

// Inserter is the part of the ClickHouse client the sink needs
type Inserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	InsertBatch(ctx context.Context, query string, rows [][]interface{}) error
}

// ClickHouseSink appends every exported batch to a MergeTree table
type ClickHouseSink struct {
	conn          Inserter
	database      string
	table         string
	retentionDays int
	now           func() time.Time
}

// NewClickHouseSink creates a sink writing to database.table
func NewClickHouseSink(conn Inserter, database, table string, retentionDays int) *ClickHouseSink {
	if retentionDays < 1 {
		retentionDays = 30
	}
	return &ClickHouseSink{
		conn:          conn,
		database:      database,
		table:         table,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (s *ClickHouseSink) qualifiedTable() string {
	return fmt.Sprintf("`%s`.`%s`", s.database, s.table)
}

// EnsureSchema creates the database and table if missing
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", s.database)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", s.database, err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_time        DateTime,
	timestamp_display String,
	workload          LowCardinality(String),
	service_class     LowCardinality(String),
	period            UInt16,
	appl_cp_total     Float64,
	source_file       String,
	batch_id          String,
	ingested_at       DateTime,
	record_hash       String
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(event_time)
ORDER BY (workload, service_class, event_time, record_hash)
TTL event_time + INTERVAL %d DAY`, s.qualifiedTable(), s.retentionDays)

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.qualifiedTable(), err)
	}
	return nil
}

// Export inserts the batch's records
func (s *ClickHouseSink) Export(ctx context.Context, batch *domain.BatchResult) error {
	if batch.TotalRecords() == 0 {
		return nil
	}

	ingestedAt := s.now().UTC().Truncate(time.Second)
	rows := make([][]interface{}, 0, len(batch.Records))
	for _, r := range batch.Records {
		rows = append(rows, rowFor(batch.ID, ingestedAt, r))
	}

	start := time.Now()
	query := fmt.Sprintf("INSERT INTO %s", s.qualifiedTable())
	if err := s.conn.InsertBatch(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", batch.ID, err)
	}

	log.Debug().
		Str("batch_id", batch.ID).
		Int("rows", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Batch exported to ClickHouse")
	return nil
}

// rowFor maps a record to the table's column order
func rowFor(batchID string, ingestedAt time.Time, r domain.Record) []interface{} {
	return []interface{}{
		eventTime(r.TimestampISO),
		r.TimestampDisplay,
		r.Workload,
		r.ServiceClass,
		clampPeriod(r.Period),
		r.Utilization,
		r.SourceFile,
		batchID,
		ingestedAt,
		recordHash(r),
	}
}

// eventTime parses the normalized timestamp. Degraded timestamps map to the
// start of the DateTime range.
func eventTime(iso string) time.Time {
	t, err := time.ParseInLocation(domain.ISOLayout, iso, time.UTC)
	if err != nil || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return minClickHouseDateTime
	}
	return t
}

func clampPeriod(p int) uint16 {
	switch {
	case p < 0:
		return 0
	case p > 65535:
		return 65535
	}
	return uint16(p)
}
