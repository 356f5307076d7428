package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/evaluator/wasm"
	"github.com/snow-ghost/feasopt/evidence"
	"github.com/snow-ghost/feasopt/ledger"
	"github.com/snow-ghost/feasopt/pkg/logging"
	"github.com/snow-ghost/feasopt/pkg/metrics"
	"github.com/snow-ghost/feasopt/pkg/tracing"
	"github.com/snow-ghost/feasopt/search"
	"github.com/snow-ghost/feasopt/testkit"
)

type runOptions struct {
	configPath     string
	evaluator      string
	runsRoot       string
	metricsAddr    string
	jaegerEndpoint string
	ledgerPath     string
	logLevel       string
	logFormat      string
	wasmTimeout    time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one search and write its evidence pack",
		Long: `Run loads a YAML run config, evaluates up to n points and writes an
evidence pack under the runs root.

The evaluator is either builtin:<name> (sum, reactor) or wasm:<path> for a
WebAssembly module exporting the JSON evaluate ABI.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			opts.applyEnv(cmd, env)
			return runSearch(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "run config YAML")
	f.StringVarP(&opts.evaluator, "evaluator", "e", "builtin:reactor", "evaluator: builtin:<name> or wasm:<path>")
	f.StringVar(&opts.runsRoot, "runs-root", "", "directory holding evidence packs (env FEASOPT_RUNS_ROOT)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (env FEASOPT_METRICS_ADDR)")
	f.StringVar(&opts.jaegerEndpoint, "jaeger-endpoint", "", "Jaeger collector endpoint (env FEASOPT_JAEGER_ENDPOINT)")
	f.StringVar(&opts.ledgerPath, "ledger", "", "SQLite run ledger path (env FEASOPT_LEDGER)")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (env FEASOPT_LOG_LEVEL)")
	f.StringVar(&opts.logFormat, "log-format", "", "console or json (env FEASOPT_LOG_FORMAT)")
	f.DurationVar(&opts.wasmTimeout, "wasm-timeout", 30*time.Second, "per-call timeout for wasm evaluators")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// applyEnv fills every flag the user did not set from the environment.
func (o *runOptions) applyEnv(cmd *cobra.Command, env config.Env) {
	set := func(name string, dst *string, v string) {
		if !cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("runs-root", &o.runsRoot, env.RunsRoot)
	set("metrics-addr", &o.metricsAddr, env.MetricsAddr)
	set("jaeger-endpoint", &o.jaegerEndpoint, env.JaegerEndpoint)
	set("ledger", &o.ledgerPath, env.LedgerPath)
	set("log-level", &o.logLevel, env.LogLevel)
	set("log-format", &o.logFormat, env.LogFormat)
}

func runSearch(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()

	logCfg := logging.DefaultConfig()
	logCfg.Level = opts.logLevel
	logCfg.Format = opts.logFormat
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	eval, closeEval, err := openEvaluator(ctx, opts.evaluator, opts.wasmTimeout)
	if err != nil {
		return err
	}
	defer closeEval()

	tracer := tracing.Noop()
	if opts.jaegerEndpoint != "" {
		tracer, err = tracing.NewTracer(tracing.Config{
			ServiceName:    "feasopt",
			ServiceVersion: version,
			JaegerEndpoint: opts.jaegerEndpoint,
			Environment:    "cli",
		})
		if err != nil {
			return err
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var m *metrics.PrometheusMetrics
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.NewPrometheusMetrics(reg)
		stopMetrics := serveMetrics(opts.metricsAddr, reg, logger)
		defer stopMetrics()
	}

	pack, err := evidence.Create(opts.runsRoot, cfg, time.Now())
	if err != nil {
		return err
	}
	defer pack.Close()
	runLogger := logger.Tee(pack.Log()).WithRunID(pack.ID).WithFields(map[string]interface{}{
		"strategy":  string(cfg.Strategy),
		"evaluator": opts.evaluator,
	})
	runLogger.Info("run started", "dir", pack.Dir, "n", cfg.N)

	adapterOpts := []evaluator.Option{
		evaluator.WithFixed(cfg.Fixed),
		evaluator.WithCaps(cfg.Caps),
		evaluator.WithTracer(tracer),
		evaluator.WithMetrics(m),
	}
	if cfg.CacheSize > 0 {
		cache, err := evaluator.NewCache(cfg.CacheSize)
		if err != nil {
			return err
		}
		adapterOpts = append(adapterOpts, evaluator.WithCache(cache))
	}
	if cfg.Guard != nil {
		adapterOpts = append(adapterOpts, evaluator.WithGuard(evaluator.NewGuard(*cfg.Guard, runLogger, m)))
	}
	adapter := evaluator.New(eval, cfg.Policy, cfg.Objective, adapterOpts...)

	engine := &search.Engine{
		Config:   cfg,
		Adapter:  adapter,
		Observer: pack,
		Logger:   runLogger,
		Metrics:  m,
		Tracer:   tracer,
		RunID:    pack.ID,
	}
	res, runErr := engine.Run(ctx)
	if res == nil {
		return runErr
	}
	if runErr != nil {
		runLogger.Warn("run interrupted, writing partial evidence", "error", runErr, "evaluations", len(res.Records))
	}

	_, span := tracer.StartSpan(ctx, "evidence.write")
	err = pack.WriteResult(res, evidence.Info{Evaluator: opts.evaluator, Cache: adapter.CacheStats()})
	if err != nil {
		tracing.RecordSpanError(span, err)
	}
	span.End()
	if err != nil {
		return err
	}
	if opts.ledgerPath != "" {
		if err := recordLedger(ctx, opts.ledgerPath, pack, cfg, res, opts.evaluator); err != nil {
			logger.Warn("ledger update failed", "error", err)
		}
	}

	printResult(cmd, pack, res)
	return runErr
}

func openEvaluator(ctx context.Context, spec string, timeout time.Duration) (core.Evaluator, func(), error) {
	kind, arg, ok := strings.Cut(spec, ":")
	if !ok || arg == "" {
		return nil, nil, fmt.Errorf("evaluator must be builtin:<name> or wasm:<path>, got %q", spec)
	}
	switch kind {
	case "builtin":
		eval, err := testkit.Lookup(arg)
		if err != nil {
			return nil, nil, err
		}
		return eval, func() {}, nil
	case "wasm":
		wcfg := wasm.DefaultConfig()
		wcfg.Timeout = timeout
		eval, err := wasm.Load(ctx, arg, wcfg)
		if err != nil {
			return nil, nil, err
		}
		return eval, func() { eval.Close(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown evaluator kind %q", kind)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// recordLedger runs after an interrupt too, so it ignores ctx cancellation.
func recordLedger(ctx context.Context, path string, pack *evidence.Pack, cfg *config.Run, res *search.Result, evalSpec string) error {
	ctx = context.WithoutCancel(ctx)
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	hash, err := cfg.Hash()
	if err != nil {
		return err
	}
	best := math.NaN()
	if res.Best != nil {
		best = res.Best.Objective
	}
	return l.Record(ctx, ledger.Entry{
		RunID:         pack.ID,
		CreatedAt:     pack.Created,
		Dir:           pack.Dir,
		Strategy:      string(cfg.Strategy),
		Objective:     cfg.Objective,
		Direction:     string(cfg.ObjectiveDirection),
		Evaluator:     evalSpec,
		Seed:          cfg.Seed,
		N:             len(res.Records),
		NFeasible:     res.Feasible,
		BestObjective: best,
		ElapsedS:      res.Elapsed.Seconds(),
		ConfigSHA256:  hash,
	})
}

func printResult(cmd *cobra.Command, pack *evidence.Pack, res *search.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:       %s\n", pack.ID)
	fmt.Fprintf(out, "dir:       %s\n", pack.Dir)
	fmt.Fprintf(out, "evaluated: %d (feasible %d, yield %.3f)\n", len(res.Records), res.Feasible, res.FeasibleYield())
	switch {
	case res.Best != nil:
		fmt.Fprintf(out, "best:      objective=%g worst_hard_margin=%g\n", res.Best.Objective, res.Best.WorstHardMargin)
	case len(res.Frontier) > 0:
		fmt.Fprintf(out, "frontier:  %d points\n", len(res.Frontier))
	default:
		fmt.Fprintln(out, "best:      none")
	}
}

// version is set at build time with -ldflags.
var version = "dev"

var _ search.Observer = (*evidence.Pack)(nil)
