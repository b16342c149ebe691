// voterscan is the operator CLI for the electoral-roll extraction pipeline:
// submit batches, run the queue, inspect status, reset stuck batches, and
// re-export finished ones.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tnroll/voterscan/constants"
	"github.com/tnroll/voterscan/internal/batch"
	"github.com/tnroll/voterscan/internal/common"
	"github.com/tnroll/voterscan/internal/enhance"
	"github.com/tnroll/voterscan/internal/export"
	"github.com/tnroll/voterscan/internal/ingest"
	"github.com/tnroll/voterscan/internal/notify"
	"github.com/tnroll/voterscan/internal/ocr"
	"github.com/tnroll/voterscan/internal/queue"
	"github.com/tnroll/voterscan/internal/raster"
	"github.com/tnroll/voterscan/internal/segment"
	"github.com/tnroll/voterscan/internal/store"
)

var (
	flagDB      string
	flagWorkDir string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "voterscan",
		Short:         "Batch OCR extraction of voter records from electoral roll PDFs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite database path (default $VOTERSCAN_DB)")
	root.PersistentFlags().StringVar(&flagWorkDir, "workdir", "", "working directory for card images and checkpoints (default $VOTERSCAN_WORKDIR)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newSubmitCmd(), newRunCmd(), newStatusCmd(), newResetCmd(), newExportCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig() (*common.Config, error) {
	cfg := common.LoadConfig()
	if flagDB != "" {
		cfg.Store.DBPath = flagDB
	}
	if flagWorkDir != "" {
		cfg.Store.WorkDir = flagWorkDir
	}
	return cfg, cfg.Validate()
}

// app wires the full pipeline once per invocation.
type app struct {
	cfg    *common.Config
	store  *store.Store
	queue  *queue.Manager
	logger *slog.Logger
}

func newApp() (*app, error) {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Store.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}

	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, err
	}

	engine := ocr.NewTesseract(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
		PSM:         cfg.OCR.PSM,
		OEM:         cfg.OCR.OEM,
	}, logger)
	rasterizer := raster.NewPoppler(raster.Config{
		Pdftoppm: cfg.OCR.Pdftoppm,
		Pdfinfo:  cfg.OCR.Pdfinfo,
	}, logger)
	segmenter := segment.New(segment.Config{
		Rows:           cfg.Segment.Rows,
		Cols:           cfg.Segment.Cols,
		HeaderTrim:     cfg.Segment.HeaderTrim,
		FooterTrim:     cfg.Segment.FooterTrim,
		BlankThreshold: cfg.Segment.BlankThreshold,
	}, logger)
	merger := enhance.NewMerger(engine, enhance.DefaultVariants(cfg.Segment.BinarizeCutoff), logger)
	exporter := export.NewService(logger)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.NtfyTopic != "" {
		notifier = notify.NewNtfy(cfg.Notify.NtfyTopic, cfg.Notify.Timeout, logger)
	}

	orch := batch.NewOrchestrator(cfg, st, rasterizer, engine, segmenter, merger, exporter, notifier, logger)
	return &app{
		cfg:    cfg,
		store:  st,
		queue:  queue.NewManager(st, orch, logger),
		logger: logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func newSubmitCmd() *cobra.Command {
	var manifest string
	cmd := &cobra.Command{
		Use:   "submit [folder]",
		Short: "Queue a constituency folder (or --manifest file) for processing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var sub ingest.Submission
			switch {
			case manifest != "":
				sub, err = ingest.FromManifest(manifest)
			case len(args) == 1:
				sub, err = ingest.FromDir(args[0])
			default:
				return fmt.Errorf("either a folder argument or --manifest is required")
			}
			if err != nil {
				return err
			}

			job, err := a.queue.Submit(cmd.Context(), sub)
			if err != nil {
				return err
			}
			fmt.Printf("queued %s (%d documents)\n", job.Name, len(job.Documents))
			return nil
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "JSON manifest describing the submission")
	return cmd
}

func newRunCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process queued batches oldest-first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.queue.Run(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling for new submissions after the queue drains")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active batch and the waiting queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			active, queued, err := a.queue.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			switch {
			case active != nil && active.StartedAt != nil:
				fmt.Printf("processing: %s (since %s)\n", active.Name, active.StartedAt.Format("2006-01-02 15:04:05"))
			case active != nil:
				fmt.Printf("processing: %s\n", active.Name)
			default:
				fmt.Println("processing: none")
			}
			if len(queued) == 0 {
				fmt.Println("queued: none")
			} else {
				fmt.Printf("queued (%d):\n", len(queued))
				for i, b := range queued {
					fmt.Printf("  %d. %s (submitted %s)\n", i+1, b.Name, b.SubmittedAt.Format("2006-01-02 15:04:05"))
				}
			}

			all, err := a.store.ListBatches(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range all {
				if b.State != constants.BatchCompleted && b.State != constants.BatchFailed {
					continue
				}
				total, missingAge, missingGender, err := a.store.MissingCounts(cmd.Context(), b.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s, %d records (missing age %d, missing gender %d)\n",
					b.Name, b.State, total, missingAge, missingGender)
			}
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <batch>",
		Short: "Re-queue a Processing or Failed batch; its checkpoint makes the next run resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.queue.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("reset %s to queued\n", args[0])
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <batch>",
		Short: "Re-export a batch's records to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.store.GetBatchByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			records, err := a.store.Records(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			data, err := export.NewService(a.logger).WriteXLSX(records, job.Name)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.cfg.Store.WorkDir, job.Name+"_voters.xlsx")
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %d records to %s\n", len(records), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default <workdir>/<batch>_voters.xlsx)")
	return cmd
}
