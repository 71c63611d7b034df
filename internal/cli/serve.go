package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JacksonYang0315/rmf-analyzer/internal/api"
	"github.com/JacksonYang0315/rmf-analyzer/internal/config"
	"github.com/JacksonYang0315/rmf-analyzer/internal/service"
)

// ServeOptions holds command-line overrides for the serve command.
type ServeOptions struct {
	Addr    string
	DataDir string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the data directory and serve the records over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "Report directory (overrides DATA_DIR)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.Addr != "" {
		cfg.HTTPAddr = opts.Addr
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	shutdownTracer := initObservability(cfg)
	defer shutdownTracer()

	log.Info().
		Str("version", Version).
		Str("data_dir", cfg.DataDir).
		Strs("patterns", cfg.FilePatterns).
		Int("max_workers", cfg.MaxWorkers).
		Msg("Starting rmf-analyzer")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.NewWatcher(a.svc, cfg.RescanInterval).Run(gctx)
	})
	g.Go(func() error {
		return api.NewServer(cfg.HTTPAddr, a.svc, a.metrics).Start(gctx)
	})

	err = g.Wait()
	log.Info().Msg("rmf-analyzer stopped")
	return err
}
