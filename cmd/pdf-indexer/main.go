package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"github.com/Lllllllleong/pagesearchflow/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	os.Exit(run())
}

// run executes one indexing pass and returns the process exit code.
func run() int {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Verifying Poppler setup.")
	if err := services.VerifyPoppler(ctx, services.ExecRunner{}); err != nil {
		slog.Error("Poppler setup verification failed. Please check configuration.", "error", err)
		return 1
	}

	config, err := services.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}
	descriptors, err := services.LoadDescriptors(config.ManifestPath)
	if err != nil {
		slog.Error("Failed to load PDF manifest", "error", err, "manifest", config.ManifestPath)
		return 1
	}

	slog.Info("Initializing handlers.", "pdfCount", len(descriptors))
	rt, err := services.NewRuntime(ctx, config, slog.Default())
	if err != nil {
		slog.Error("Critical error during initialization", "error", err)
		return 1
	}
	defer func() {
		slog.Info("Cleaning up resources.")
		if err := rt.Close(); err != nil {
			slog.Warn("Failed to close clients cleanly", "error", err)
		}
	}()

	return runPipeline(ctx, rt.Pipeline(slog.Default()), descriptors)
}

type pipelineRunner interface {
	Run(ctx context.Context, descriptors []models.PDFDescriptor) (*services.RunReport, error)
}

// runPipeline runs one pass over descriptors and maps the outcome to an exit code.
func runPipeline(ctx context.Context, pipeline pipelineRunner, descriptors []models.PDFDescriptor) int {
	report, err := pipeline.Run(ctx, descriptors)
	if err != nil {
		runID := ""
		if report != nil {
			runID = report.RunID
		}
		slog.Error("Critical error occurred", "error", err, "runId", runID)
		return 1
	}

	hits := 0
	if report.Search != nil {
		hits = len(report.Search.Hits)
	}
	slog.Info("Pipeline run complete.",
		"runId", report.RunID,
		"processed", report.Processed,
		"skipped", len(report.Skipped),
		"indexed", report.Indexed,
		"hits", hits,
	)
	return 0
}
