package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"lethe/internal/config"
	"lethe/internal/data"
	"lethe/internal/history"
	"lethe/internal/model"
	"lethe/internal/stats"
	"lethe/internal/synth"
	"lethe/internal/training"
	"lethe/pkg/lethe"
	"lethe/pkg/logger"
	"lethe/pkg/metrics"
)

const exportsDir = "exports"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.Init(); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}

	switch args[0] {
	case "fit":
		return runFit(ctx, cfg, args[1:])
	case "resume":
		return runResume(ctx, cfg, args[1:])
	case "predict":
		return runPredict(ctx, cfg, args[1:])
	case "evaluate":
		return runEvaluate(ctx, cfg, args[1:])
	case "synth":
		return runSynth(ctx, cfg, args[1:])
	case "runs":
		return runRuns(ctx, cfg, args[1:])
	case "export":
		return runExport(ctx, cfg, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(cfg *config.Config, storeKind, dbPath string) (*lethe.Client, error) {
	opts := lethe.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    cfg.RunsDir,
		ExportsDir: exportsDir,
		Log:        logger.Get(),
	}
	if cfg.MetricsEnabled {
		opts.Metrics = metrics.NewManager(metrics.WithNamespace("lethe"))
	}
	return lethe.New(opts)
}

func loadSpec(cfg *config.Config, specPath string) (model.Spec, error) {
	spec := cfg.Model
	if specPath != "" {
		payload, err := os.ReadFile(specPath)
		if err != nil {
			return model.Spec{}, err
		}
		spec = model.Spec{}
		if err := json.Unmarshal(payload, &spec); err != nil {
			return model.Spec{}, fmt.Errorf("decode spec %s: %w", specPath, err)
		}
	}
	if len(spec.Predictors) == 0 {
		return model.Spec{}, errors.New("no model spec: provide --spec or a model section in the config file")
	}
	return spec, nil
}

func loadTables(spec model.Spec, eventsPath, responsesPath string) ([]model.Event, []model.Response, error) {
	if eventsPath == "" || responsesPath == "" {
		return nil, nil, errors.New("both --events and --responses are required")
	}
	events, err := data.ReadEventsFile(eventsPath, spec)
	if err != nil {
		return nil, nil, err
	}
	responses, err := data.ReadResponsesFile(responsesPath, spec)
	if err != nil {
		return nil, nil, err
	}
	return events, responses, nil
}

func trainingFlags(fs *flag.FlagSet, cfg *config.Config) func() training.Config {
	batchSize := fs.Int("batch-size", cfg.Training.BatchSize, "minibatch size")
	maxSteps := fs.Int64("max-steps", cfg.Training.MaxSteps, "optimizer step budget")
	learningRate := fs.Float64("lr", cfg.Training.LearningRate, "adam learning rate")
	kernelLRScale := fs.Float64("kernel-lr-scale", cfg.Training.KernelLRScale, "learning rate multiplier for kernel parameters")
	patience := fs.Int("patience", cfg.Training.Patience, "validation checks without improvement before stopping")
	tolerance := fs.Float64("tolerance", cfg.Training.Tolerance, "minimum validation improvement that resets patience")
	validateEvery := fs.Int64("validate-every", cfg.Training.ValidateEvery, "steps between validation passes")
	checkpointEvery := fs.Int64("checkpoint-every", cfg.Training.CheckpointEvery, "steps between checkpoints")
	logEvery := fs.Int64("log-every", cfg.Training.LogEvery, "steps between progress log lines")
	seed := fs.Int64("seed", cfg.Training.Seed, "rng seed")
	variational := fs.Bool("variational", cfg.Training.Variational, "fit a variational posterior instead of a point estimate")
	lossGoal := fs.Float64("loss-goal", cfg.Training.LossGoal, "validation loss goal; missing it is reported as a warning (0 disables)")
	horizon := fs.Float64("horizon", cfg.History.Horizon, "history horizon in time units (0 unbounded)")
	maxEvents := fs.Int("max-events", cfg.History.MaxEvents, "maximum events per history window (0 unbounded)")
	cacheSize := fs.Int("cache-size", cfg.History.CacheSize, "history window cache size")

	return func() training.Config {
		return training.Config{
			BatchSize:       *batchSize,
			MaxSteps:        *maxSteps,
			LearningRate:    *learningRate,
			KernelLRScale:   *kernelLRScale,
			Patience:        *patience,
			Tolerance:       *tolerance,
			ValidateEvery:   *validateEvery,
			CheckpointEvery: *checkpointEvery,
			LogEvery:        *logEvery,
			Seed:            *seed,
			Variational:     *variational,
			LossGoal:        *lossGoal,
			Horizon:         *horizon,
			MaxEvents:       *maxEvents,
			CacheSize:       *cacheSize,
		}
	}
}

func runFit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	specPath := fs.String("spec", "", "model spec JSON path (defaults to the config file's model section)")
	eventsPath := fs.String("events", "", "event table CSV path")
	responsesPath := fs.String("responses", "", "response table CSV path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	valFraction := fs.Float64("val-fraction", cfg.Training.ValFraction, "fraction of responses held out for validation")
	storeKind := fs.String("store", cfg.Store, "store backend: memory|sqlite")
	dbPath := fs.String("db-path", cfg.DBPath, "sqlite database path")
	trainingCfg := trainingFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	spec, err := loadSpec(cfg, *specPath)
	if err != nil {
		return err
	}
	events, responses, err := loadTables(spec, *eventsPath, *responsesPath)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, *storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Fit(ctx, lethe.FitRequest{
		RunID:       *runID,
		Spec:        spec,
		Events:      events,
		Responses:   responses,
		ValFraction: *valFraction,
		Training:    trainingCfg(),
		StoreLabel:  *storeKind,
	})
	if err != nil {
		return err
	}
	printSummary(result)
	return nil
}

func runResume(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	specPath := fs.String("spec", "", "model spec JSON path (defaults to the config file's model section)")
	eventsPath := fs.String("events", "", "event table CSV path")
	responsesPath := fs.String("responses", "", "response table CSV path")
	runID := fs.String("run-id", "", "run id to resume")
	valFraction := fs.Float64("val-fraction", cfg.Training.ValFraction, "fraction of responses held out for validation")
	storeKind := fs.String("store", cfg.Store, "store backend: memory|sqlite")
	dbPath := fs.String("db-path", cfg.DBPath, "sqlite database path")
	trainingCfg := trainingFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("resume requires --run-id")
	}

	spec, err := loadSpec(cfg, *specPath)
	if err != nil {
		return err
	}
	events, responses, err := loadTables(spec, *eventsPath, *responsesPath)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, *storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Resume(ctx, lethe.ResumeRequest{
		RunID:       *runID,
		Spec:        spec,
		Events:      events,
		Responses:   responses,
		ValFraction: *valFraction,
		Training:    trainingCfg(),
	})
	if err != nil {
		return err
	}
	printSummary(result)
	return nil
}

func runPredict(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	specPath := fs.String("spec", "", "model spec JSON path (defaults to the config file's model section)")
	eventsPath := fs.String("events", "", "event table CSV path")
	responsesPath := fs.String("responses", "", "response table CSV path")
	runID := fs.String("run-id", "", "fitted run id")
	intervalLevel := fs.Float64("interval", 0, "credible interval level, e.g. 0.9 (0 disables; requires a variational fit)")
	intervalSamples := fs.Int("interval-samples", 0, "posterior draws per interval (0 uses the default)")
	seed := fs.Int64("seed", 1, "rng seed for posterior draws")
	writeArtifact := fs.Bool("write-artifact", false, "also write predictions.csv under the run directory")
	storeKind := fs.String("store", cfg.Store, "store backend: memory|sqlite")
	dbPath := fs.String("db-path", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("predict requires --run-id")
	}

	spec, err := loadSpec(cfg, *specPath)
	if err != nil {
		return err
	}
	events, responses, err := loadTables(spec, *eventsPath, *responsesPath)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, *storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	predictions, err := client.Predict(ctx, lethe.PredictRequest{
		RunID:     *runID,
		Spec:      spec,
		Events:    events,
		Responses: responses,
		History: history.Config{
			Horizon:   cfg.History.Horizon,
			MaxEvents: cfg.History.MaxEvents,
			CacheSize: cfg.History.CacheSize,
		},
		IntervalLevel:   *intervalLevel,
		IntervalSamples: *intervalSamples,
		Seed:            *seed,
		WriteArtifact:   *writeArtifact,
	})
	if err != nil {
		return err
	}

	for _, p := range predictions {
		if p.HasInterval {
			fmt.Printf("series=%s time=%g mean=%.6f lower=%.6f upper=%.6f\n", p.Series, p.Time, p.Mean, p.Lower, p.Upper)
			continue
		}
		fmt.Printf("series=%s time=%g mean=%.6f\n", p.Series, p.Time, p.Mean)
	}
	return nil
}

func runEvaluate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	specPath := fs.String("spec", "", "model spec JSON path (defaults to the config file's model section)")
	eventsPath := fs.String("events", "", "event table CSV path")
	responsesPath := fs.String("responses", "", "response table CSV path")
	runID := fs.String("run-id", "", "fitted run id")
	storeKind := fs.String("store", cfg.Store, "store backend: memory|sqlite")
	dbPath := fs.String("db-path", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("evaluate requires --run-id")
	}

	spec, err := loadSpec(cfg, *specPath)
	if err != nil {
		return err
	}
	events, responses, err := loadTables(spec, *eventsPath, *responsesPath)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, *storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	fit, err := client.Evaluate(ctx, lethe.EvaluateRequest{
		RunID:     *runID,
		Spec:      spec,
		Events:    events,
		Responses: responses,
		History: history.Config{
			Horizon:   cfg.History.Horizon,
			MaxEvents: cfg.History.MaxEvents,
			CacheSize: cfg.History.CacheSize,
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("run_id=%s n=%d log_lik=%.6f mse=%.6f explained_var=%.6f\n",
		*runID, fit.N, fit.LogLik, fit.MSE, fit.ExplainedVar)
	return nil
}

func runSynth(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	specPath := fs.String("spec", "", "model spec JSON path (defaults to the config file's model section)")
	series := fs.Int("series", 4, "event stream count")
	eventsPerSeries := fs.Int("events", 64, "events per series")
	responsesPerSeries := fs.Int("responses", 32, "responses per series")
	seed := fs.Int64("seed", 1, "rng seed")
	intercept := fs.Float64("intercept", 0, "true intercept")
	noiseSD := fs.Float64("noise", 0.1, "observation noise standard deviation")
	eventsOut := fs.String("events-out", "events.csv", "event table output path")
	responsesOut := fs.String("responses-out", "responses.csv", "response table output path")
	truthOut := fs.String("truth-out", "", "optional JSON path for the true parameter vector")
	if err := fs.Parse(args); err != nil {
		return err
	}

	spec, err := loadSpec(cfg, *specPath)
	if err != nil {
		return err
	}

	dataset, err := synth.Generate(spec, synth.Config{
		Series:    *series,
		Events:    *eventsPerSeries,
		Responses: *responsesPerSeries,
		Seed:      *seed,
		Intercept: *intercept,
		NoiseSD:   *noiseSD,
	})
	if err != nil {
		return err
	}

	if err := data.WriteEventsFile(*eventsOut, spec, dataset.Events); err != nil {
		return err
	}
	if err := data.WriteResponsesFile(*responsesOut, spec, dataset.Responses); err != nil {
		return err
	}
	if *truthOut != "" {
		payload, err := json.MarshalIndent(dataset.Truth, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*truthOut, append(payload, '\n'), 0o644); err != nil {
			return err
		}
	}

	fmt.Printf("synthesized series=%d events=%d responses=%d seed=%d\n",
		*series, len(dataset.Events), len(dataset.Responses), *seed)
	fmt.Printf("events=%s responses=%s\n", filepath.Clean(*eventsOut), filepath.Clean(*responsesOut))
	return nil
}

func runRuns(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := stats.ListRunIndex(cfg.RunsDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if len(entries) > *limit {
		entries = entries[:*limit]
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		fmt.Printf("run_id=%s status=%s steps=%d train_loss=%.6f val_loss=%.6f variational=%t seed=%d created=%s\n",
			e.RunID, e.Status, e.Steps, e.TrainLoss, e.ValLoss, e.Variational, e.Seed, e.CreatedAtUTC)
	}
	return nil
}

func runExport(_ context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	if *latest {
		entries, err := stats.ListRunIndex(cfg.RunsDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available to export")
		}
		*runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(cfg.RunsDir, *runID, *outDir)
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", *runID, filepath.Clean(exportedDir))
	return nil
}

func printSummary(result lethe.FitResult) {
	summary := result.Summary
	fmt.Printf("run completed run_id=%s status=%s steps=%d\n", result.RunID, summary.Status, summary.Steps)
	fmt.Printf("train_loss=%.6f val_loss=%.6f\n", summary.TrainLoss, summary.ValLoss)
	fmt.Printf("train n=%d log_lik=%.6f mse=%.6f explained_var=%.6f\n",
		summary.Train.N, summary.Train.LogLik, summary.Train.MSE, summary.Train.ExplainedVar)
	if summary.Validation.N > 0 {
		fmt.Printf("validation n=%d log_lik=%.6f mse=%.6f explained_var=%.6f\n",
			summary.Validation.N, summary.Validation.LogLik, summary.Validation.MSE, summary.Validation.ExplainedVar)
	}
	if summary.Warning != "" {
		fmt.Printf("warning=%s\n", summary.Warning)
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(result.ArtifactsDir))
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: lethectl <fit|resume|predict|evaluate|synth|runs|export> [flags]", msg)
}
