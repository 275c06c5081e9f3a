package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"healthetl/internal/config"
	"healthetl/internal/metrics"
	"healthetl/internal/metrics/datadog"

	// register every storage backend; the pipeline config picks one.
	_ "healthetl/internal/storage/all"
)

// runner executes one pipeline run.
type runner interface {
	Run(ctx context.Context, p config.Pipeline, runID string) error
}

// appDeps are the side-effecting collaborators of runMain. Tests replace them.
type appDeps struct {
	readFile    func(string) ([]byte, error)
	getenv      func(string) string
	loadDotEnv  func(...string) error
	initMetrics func(ctx context.Context, p config.Pipeline, runID string) (func(), error)
	newRunner   func(stdout io.Writer, logger *log.Logger) runner
	newRunID    func() string
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		getenv:      os.Getenv,
		loadDotEnv:  config.LoadDotEnv,
		initMetrics: initMetrics,
		newRunner: func(stdout io.Writer, logger *log.Logger) runner {
			return newPipeline(stdout, logger)
		},
		newRunID: uuid.NewString,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// splitFlags collects repeated -split source=type values.
type splitFlags []config.SplitKey

func (s *splitFlags) String() string {
	parts := make([]string, len(*s))
	for i, k := range *s {
		parts[i] = k.Source + "=" + k.Type
	}
	return strings.Join(parts, ",")
}

func (s *splitFlags) Set(v string) error {
	src, typ, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(src) == "" || strings.TrimSpace(typ) == "" {
		return fmt.Errorf("want source=type, got %q", v)
	}
	*s = append(*s, config.SplitKey{Source: strings.TrimSpace(src), Type: strings.TrimSpace(typ)})
	return nil
}

const usageLine = "usage: healthetl [-config pipeline.yaml] [-in export.xml | export.xml] [flags]"

// runMain parses args, builds the pipeline config and runs it. It returns the
// process exit code: 2 for usage errors, 1 for everything else that fails.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("healthetl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath     string
		input       string
		outDir      string
		combined    bool
		verbose     bool
		validate    bool
		backend     string
		storageKind string
		storageDSN  string
		dotenv      string
		splits      splitFlags
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config (JSON or YAML)")
	fs.StringVar(&input, "in", "", "health export XML file")
	fs.StringVar(&outDir, "out", "", "output directory for tables and report")
	fs.BoolVar(&combined, "combined", false, "write every record to one table")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&backend, "metrics-backend", "", "metrics backend (none|datadog)")
	fs.StringVar(&storageKind, "storage-kind", "", "database sink (sqlite|postgres|mssql)")
	fs.StringVar(&storageDSN, "storage-dsn", "", "database sink DSN")
	fs.StringVar(&dotenv, "dotenv", ".env", "dotenv file loaded before reading the environment")
	fs.Var(&splits, "split", "write the rows of one source=type pair (repeatable)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, usageLine)
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}
	if input == "" && fs.NArg() == 1 {
		input = fs.Arg(0)
	}
	cfgPath = strings.TrimSpace(cfgPath)
	input = strings.TrimSpace(input)

	if dotenv != "" {
		if err := deps.loadDotEnv(dotenv); err != nil {
			fmt.Fprintf(stderr, "dotenv: %v\n", err)
			return 1
		}
	}
	if cfgPath == "" && input == "" && strings.TrimSpace(deps.getenv("HEALTHETL_INPUT")) == "" {
		fmt.Fprintln(stderr, usageLine)
		return 2
	}

	var p config.Pipeline
	if cfgPath != "" {
		var err error
		if p, err = config.Read(cfgPath, deps.readFile); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	// Explicit flags win over the file; the environment only fills gaps.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			p.Output.Dir = outDir
		case "combined":
			p.Output.Combined = combined
		case "v":
			p.Verbose = &verbose
		case "metrics-backend":
			p.Metrics.Backend = backend
		case "storage-kind":
			p.Storage.Kind = storageKind
		case "storage-dsn":
			p.Storage.DSN = storageDSN
		case "split":
			p.Split = append(p.Split, splits...)
		}
	})
	if input != "" {
		p.Input.Path = input
	}
	config.ApplyEnv(&p, deps.getenv)
	config.ApplyDefaults(&p)

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}
	if validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	logger := log.New(io.Discard, "", 0)
	if p.IsVerbose() {
		logger = log.New(stderr, "", log.LstdFlags)
	}

	runID := deps.newRunID()
	cleanup, err := deps.initMetrics(ctx, p, runID)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	logger.Printf("run %s: job=%s input=%s out=%s", runID, p.Job, p.Input.Path, p.Output.Dir)
	if err := deps.newRunner(stdout, logger).Run(ctx, p, runID); err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))

	fmt.Fprintln(stdout, "ok")
	return 0
}

// metricsBackend is the part of a concrete backend initMetrics owns.
type metricsBackend interface {
	Close() error
}

var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics wires the configured metrics backend. The returned cleanup is
// never nil and flushes the backend when it has one.
func initMetrics(ctx context.Context, p config.Pipeline, runID string) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(p.Metrics.Backend)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    p.Job,
			RunID:      runID,
			Tags:       p.Metrics.Tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", p.Metrics.Backend)
	}
}
