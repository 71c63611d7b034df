package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/JacksonYang0315/rmf-analyzer/internal/cache"
	"github.com/JacksonYang0315/rmf-analyzer/internal/clickhouse"
	"github.com/JacksonYang0315/rmf-analyzer/internal/config"
	"github.com/JacksonYang0315/rmf-analyzer/internal/export"
	"github.com/JacksonYang0315/rmf-analyzer/internal/intern"
	"github.com/JacksonYang0315/rmf-analyzer/internal/observability"
	"github.com/JacksonYang0315/rmf-analyzer/internal/report"
	"github.com/JacksonYang0315/rmf-analyzer/internal/service"
	"github.com/JacksonYang0315/rmf-analyzer/internal/store"
)

// app is the assembled ingestion stack
type app struct {
	svc     *service.Service
	metrics *observability.Metrics
	closers []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}
}

// buildApp wires parser, cache, store and service from cfg. The ClickHouse
// sink is attached only when enabled.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	interner, err := intern.New(intern.DefaultSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create interner: %w", err)
	}

	metrics := observability.NewMetrics()
	svc := service.New(
		report.NewParser(cfg.MaxFileSize, interner),
		cache.NewFingerprintCache(cfg.CacheTTL),
		store.New(cfg.MetadataTTL),
		metrics,
		service.Options{
			DataDir:    cfg.DataDir,
			Patterns:   cfg.FilePatterns,
			MaxWorkers: cfg.MaxWorkers,
		},
	)

	a := &app{svc: svc, metrics: metrics}

	if cfg.ClickHouseEnabled {
		client, err := clickhouse.NewClient(ctx, clickhouse.Options{
			Host: cfg.ClickHouseHost,
			Port: cfg.ClickHousePort,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)

		sink := export.NewClickHouseSink(client, cfg.ClickHouseDB, cfg.ClickHouseTable, cfg.LogRetentionDays)
		if err := sink.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		svc.SetExporter(sink)

		log.Info().
			Str("database", cfg.ClickHouseDB).
			Str("table", cfg.ClickHouseTable).
			Int("retention_days", cfg.LogRetentionDays).
			Msg("ClickHouse export enabled")
	}

	return a, nil
}

// initObservability sets up logging and tracing and returns the tracer shutdown
func initObservability(cfg *config.Config) func() {
	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "rmf-analyzer",
		ServiceVersion: Version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
		return func() {}
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}
}
