package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/coordinator/exec"
	"github.com/nemanja-m/casbatch/internal/coordinator/manifest"
	"github.com/nemanja-m/casbatch/internal/coordinator/service"
	"github.com/nemanja-m/casbatch/internal/coordinator/staging"
	"github.com/nemanja-m/casbatch/internal/coordinator/storage"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

const (
	exitOK = iota
	exitError
	exitRefused
	exitJobsFailed
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	name := flag.String("name", "", "batch name")
	backend := flag.String("backend", "", "execution backend, overrides executor.backend")
	outcomesPath := flag.String("outcomes", "", "write the JSONL outcome stream to this file (- for stdout)")
	reportLocation := flag.String("report", "", "batch report location (gs://, s3:// or a local path), overrides staging.report_location")
	dryRun := flag.Bool("dry-run", false, "validate the manifests and print the planned jobs without running them")
	failOnJobFailure := flag.Bool("fail-on-job-failure", false, "exit non-zero when any job did not succeed")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] MANIFEST_GLOB...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return exitError
	}

	cfg, err := config.LoadBatch(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return exitError
	}
	if *backend != "" {
		cfg.Executor.Backend = *backend
	}
	if *reportLocation != "" {
		cfg.Staging.ReportLocation = *reportLocation
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		return exitError
	}

	requests, err := manifest.Load(flag.Args(), manifest.Defaults{
		InputBucket: cfg.Defaults.InputBucket,
		StageDir:    cfg.Defaults.StageDir,
	})
	if err != nil {
		logger.Error("Failed to load manifests", "error", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	template := &core.InvocationTemplate{Program: cfg.Executor.Program, Args: cfg.Executor.Args}
	svcCfg := service.BatchServiceConfig{
		Name:              *name,
		Template:          template,
		CheckIndexOverlap: cfg.Validation.CheckIndexOverlap,
		ReportLocation:    cfg.Staging.ReportLocation,
		PushgatewayURL:    cfg.Metrics.PushgatewayURL,
		MetricsJobName:    cfg.Metrics.JobName,
	}

	if *dryRun {
		return plan(service.NewBatchService(svcCfg, nil, nil, nil, nil, logger), requests, logger)
	}

	provider, err := exec.New(cfg.Executor.Backend, cfg.Executor, logger)
	if err != nil {
		logger.Error("Failed to create execution backend", "backend", cfg.Executor.Backend, "error", err)
		return exitError
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	remote, err := staging.NewS3Store(ctx, cfg.Staging)
	if err != nil {
		logger.Error("Failed to create staging store", "error", err)
		return exitError
	}
	store := staging.NewRouter(remote)

	var verifier core.OutputVerifier
	if cfg.Staging.VerifyOutputs {
		verifier = staging.NewVerifier(store, logger)
	}

	outcomes, closeOutcomes, err := openOutcomeLog(*outcomesPath)
	if err != nil {
		logger.Error("Failed to open outcome stream", "path", *outcomesPath, "error", err)
		return exitError
	}
	defer closeOutcomes()

	metrics := service.NewMetrics()
	coordinator := service.NewCoordinator(
		service.CoordinatorConfig{
			Shape: core.ResourceShape{
				CPU:        cfg.Resources.CPU,
				MemoryGB:   cfg.Resources.MemoryGB,
				BootDiskGB: cfg.Resources.BootDiskGB,
			},
			Retry: core.RetryPolicy{
				MaxFailureRetries:    cfg.Retry.MaxFailureRetries,
				MaxPreemptionRetries: cfg.Retry.MaxPreemptionRetries,
				Backoff:              cfg.Retry.Backoff,
				MaxBackoff:           cfg.Retry.MaxBackoff,
			},
			Parallelism: cfg.Dispatch.Parallelism,
			SubmitRate:  cfg.Dispatch.SubmitRate,
			SubmitBurst: cfg.Dispatch.SubmitBurst,
		},
		provider,
		verifier,
		outcomes,
		metrics,
		logger,
	)

	svc := service.NewBatchService(svcCfg, coordinator, outcomes, staging.NewReportWriter(store), metrics, logger)

	logger.Info("Starting batch",
		"backend", provider.Name(),
		"num_requests", len(requests),
		"parallelism", cfg.Dispatch.Parallelism,
	)

	batch, err := svc.Submit(ctx, requests)
	switch {
	case errors.Is(err, service.ErrBatchRefused):
		return exitRefused
	case err != nil:
		logger.Error("Batch finished with errors", "batch_id", batch.ID.String(), "error", err)
		return exitError
	}

	summary := batch.Summary()
	if *failOnJobFailure && summary.Succeeded < summary.Total {
		return exitJobsFailed
	}
	return exitOK
}

func plan(svc *service.BatchService, requests []core.ConversionRequest, logger logging.Logger) int {
	result, err := svc.Plan(uuid.New(), requests)
	if err != nil {
		logger.Error("Batch refused", "error", err)
		return exitRefused
	}
	for _, d := range result.Descriptors {
		logger.Info("Planned job",
			"request_index", d.Index,
			"job_id", d.ID.String(),
			"df_filename", d.FilePath,
			"cas_cell_index_start", d.CellIndexStart,
			"cas_feature_index_start", d.FeatureIndexStart,
			"command", d.Command(),
		)
	}
	for _, cerr := range result.Rejected {
		logger.Warn("Request rejected", "request_index", cerr.Index, "error", cerr)
	}
	logger.Info("Dry run complete", "planned", len(result.Descriptors), "rejected", len(result.Rejected))
	return exitOK
}

func openOutcomeLog(path string) (core.OutcomeLog, func(), error) {
	switch path {
	case "":
		return storage.NewInMemoryOutcomeLog(), func() {}, nil
	case "-":
		return storage.NewJSONLOutcomeLog(os.Stdout), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewJSONLOutcomeLog(f), func() { _ = f.Close() }, nil
}
