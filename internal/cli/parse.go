package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JacksonYang0315/rmf-analyzer/internal/config"
	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
	"github.com/JacksonYang0315/rmf-analyzer/internal/export"
	"github.com/JacksonYang0315/rmf-analyzer/internal/service"
	"github.com/JacksonYang0315/rmf-analyzer/internal/store"
)

// ParseOptions holds command-line options for the parse command.
type ParseOptions struct {
	Output       string
	Workers      int
	MaxSize      string
	Workload     string
	ServiceClass string
	Start        string
	End          string
	Quiet        bool
}

// NewParseCommand creates the parse command.
func NewParseCommand() *cobra.Command {
	opts := &ParseOptions{}

	cmd := &cobra.Command{
		Use:   "parse [paths...]",
		Short: "Parse report files and print the extracted records",
		Long: `Parse RMF Workload Activity reports once and print the records.

Paths may be files or directories; directories are filtered by FILE_PATTERNS.
With no paths the configured DATA_DIR is parsed. Files that fail to parse are
reported on stderr and do not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "Output format (table|csv|json)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "Parse workers (overrides MAX_WORKERS)")
	cmd.Flags().StringVar(&opts.MaxSize, "max-size", "", "Maximum file size, e.g. 64MB (overrides MAX_FILE_SIZE)")
	cmd.Flags().StringVar(&opts.Workload, "workload", "", "Only records of this workload")
	cmd.Flags().StringVar(&opts.ServiceClass, "service-class", "", "Only records of this service class")
	cmd.Flags().StringVar(&opts.Start, "start", "", "Earliest timestamp, YYYY-MM-DDTHH:MM:SS")
	cmd.Flags().StringVar(&opts.End, "end", "", "Latest timestamp, YYYY-MM-DDTHH:MM:SS")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "No summary line")

	return cmd
}

type parseOutput struct {
	Batch   *domain.BatchResult `json:"batch"`
	Records []domain.Record     `json:"records"`
}

func runParse(cmd *cobra.Command, args []string, opts *ParseOptions) error {
	switch opts.Output {
	case "table", "csv", "json":
	default:
		return fmt.Errorf("unsupported output format %q (use table, csv or json)", opts.Output)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.Workers > 0 {
		cfg.MaxWorkers = opts.Workers
	}
	if opts.MaxSize != "" {
		size, err := humanize.ParseBytes(opts.MaxSize)
		if err != nil {
			return fmt.Errorf("invalid max-size %q: %w", opts.MaxSize, err)
		}
		cfg.MaxFileSize = int64(size)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracer := initObservability(cfg)
	defer shutdownTracer()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	files, err := resolvePaths(args, cfg)
	if err != nil {
		return err
	}

	// The one-shot parse never exports
	cfg.ClickHouseEnabled = false
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	batch, err := a.svc.Ingest(ctx, files)
	if err != nil {
		return err
	}

	records := store.Filter(batch.Records, store.Params{
		Workload:     opts.Workload,
		ServiceClass: opts.ServiceClass,
		Start:        opts.Start,
		End:          opts.End,
	})

	out := cmd.OutOrStdout()
	switch opts.Output {
	case "csv":
		err = export.WriteCSV(out, records)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(parseOutput{Batch: batch, Records: records})
	default:
		err = export.WriteTable(out, records)
	}
	if err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	printFileErrors(cmd.ErrOrStderr(), batch)
	if !opts.Quiet {
		printSummary(cmd.ErrOrStderr(), batch, len(records), totalSize(files))
	}
	return nil
}

// resolvePaths expands directories into their matching files. With no
// arguments the configured data directory is used.
func resolvePaths(args []string, cfg *config.Config) ([]string, error) {
	if len(args) == 0 {
		args = []string{cfg.DataDir}
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			listed, err := service.ListFiles(arg, cfg.FilePatterns)
			if err != nil {
				return nil, err
			}
			files = append(files, listed...)
			continue
		}
		// Missing files are passed through and reported per file
		files = append(files, arg)
	}
	return files, nil
}

func printFileErrors(w io.Writer, batch *domain.BatchResult) {
	red := color.New(color.FgRed)
	for _, fe := range batch.Errors {
		red.Fprintf(w, "✗ %s: %s\n", fe.File, fe.Message)
	}
}

func printSummary(w io.Writer, batch *domain.BatchResult, shown int, bytes uint64) {
	status := color.New(color.FgGreen)
	if batch.Failed > 0 {
		status = color.New(color.FgYellow)
	}
	status.Fprintf(w, "%s records (%s shown) from %d/%d files, %s read in %.3fs\n",
		humanize.Comma(int64(batch.TotalRecords())),
		humanize.Comma(int64(shown)),
		batch.Succeeded,
		batch.FilesParsed,
		humanize.Bytes(bytes),
		batch.ElapsedSeconds(),
	)
}

func totalSize(files []string) uint64 {
	var total uint64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += uint64(info.Size())
		}
	}
	return total
}
