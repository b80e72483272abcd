// Command import loads device-export files (CSV, XLSX, HTML) into the
// configured relational store. Each argument is one input file; the command
// classifies it against the known schemas, cleans it and inserts the
// surviving rows. The per-file report is printed as JSON on stdout.
//
// Usage:
//
//	import -config configs/run.json [-v] file.csv other.xlsx ...
//
// Exit status is 0 when every file loaded (empty files count as loaded) and
// 1 when any file failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"deviceetl/internal/config"
	"deviceetl/internal/metrics"
	"deviceetl/internal/metrics/datadog"
	"deviceetl/internal/pipeline"
	"deviceetl/internal/storage"

	// register all backends with the storage factory; config selects one.
	_ "deviceetl/internal/storage/all"
)

func main() {
	os.Exit(run())
}

// run holds the real entry point so deferred cleanup (store close, metrics
// flush) still happens before the process exits with a status code.
func run() int {
	var (
		cfgPath  string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "configs/run.json", "run config JSON path")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	cfg, err := config.LoadRun(cfgPath)
	if err != nil {
		return fatalf("config: %v", err)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		return 0
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "no input files")
		flag.Usage()
		return 2
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fatalf("timezone: %v", err)
		}
	}

	setupMetrics(cfg, *verbose)
	defer func() {
		if err := metrics.Close(); err != nil {
			log.Printf("metrics: close/flush error: %v", err)
		}
	}()

	ctx := context.Background()
	store, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return fatalf("storage: %v", err)
	}
	defer store.Close()

	var lg pipeline.Logger
	if *verbose {
		lg = log.New(os.Stderr, "", log.LstdFlags)
	}

	p := pipeline.New(store, pipeline.Options{
		Parser:   cfg.Parser,
		Location: loc,
		Logger:   lg,
	})

	start := time.Now()
	report, err := p.Run(ctx, flag.Args())
	if err != nil {
		return fatalf("run: %v", err)
	}
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fatalf("encode report: %v", err)
	}
	if report.FilesFailed > 0 {
		return 1
	}
	return 0
}

// setupMetrics wires the configured metrics backend: config → env → none.
func setupMetrics(run config.Run, verbose bool) {
	backend := run.Metrics.Backend
	if backend == "" {
		backend = os.Getenv("METRICS_BACKEND")
	}

	switch backend {
	case "datadog":
		job := run.Job
		if job == "" {
			job = "deviceetl"
		}
		tags := run.Metrics.Tags
		if len(tags) == 0 {
			tags = datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		}
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: job,
			Tags:    tags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backend)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
	}
}

func fatalf(format string, a ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	return 1
}
