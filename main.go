package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kyojunkeum/webtest/loader"
	"github.com/kyojunkeum/webtest/stats"
)

// ---------- main ----------

func main() {
	cfgPath := flag.String("config", "config.json", "path to config.json")
	logLevelFlag := flag.String("log-level", "", "log level override (debug, info, warn, error). If empty, config used.")
	logFileFlag := flag.String("log-file", "", "log file path (overrides config file setting if provided)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	closeLog, err := setupLogging(cfg, *logLevelFlag, *logFileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(2)
	}
	defer closeLog()

	rcfg, err := cfg.runnerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	rcfg.Logger = logrus.StandardLogger()

	agg := stats.NewAggregator()
	runner, err := loader.NewRunner(rcfg, agg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSig(cancel)

	// Metrics & pprof
	go serveMetrics(cfg.Server.MetricsAddr)

	if err := runner.Start(ctx); err != nil {
		logrus.Fatalf("start: %v", err)
	}

	// Metrics TUI printer
	if cfg.Output.LiveTable {
		go func() {
			var view liveView
			t := time.NewTicker(1 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-runner.Done():
					return
				case <-t.C:
					view.printMetrics(os.Stdout, agg, runner.WorkerStatus(), true)
				}
			}
		}()
	}

	runner.Wait()
	printSummary(os.Stdout, agg)

	if path := cfg.Output.SeriesParquet; path != "" {
		if err := stats.WriteSeriesParquet(path, agg.Series()); err != nil {
			logrus.Errorf("series export failed: %v", err)
		} else {
			logrus.Infof("per-second series written to %s", path)
		}
	}
	logrus.Info("Exited cleanly")
}

// setupLogging applies format, level and output. Flags override the config.
// The returned func closes the log file, if any.
func setupLogging(cfg *Config, levelFlag, fileFlag string) (func(), error) {
	if cfg.Server.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	levelStr := cfg.Server.Log.Level
	if levelFlag != "" {
		levelStr = levelFlag
	}
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, using info\n", levelStr)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	logFile := cfg.Server.Log.File
	if fileFlag != "" {
		logFile = fileFlag
	}
	if logFile == "" {
		logrus.SetOutput(os.Stdout)
		return func() {}, nil
	}
	f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if cfg.Server.Log.EnableStdout {
		logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		logrus.SetOutput(f)
	}
	return func() { f.Close() }, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	logrus.Infof("Metrics at %s/metrics, pprof at %s/debug/pprof/", addr, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.Errorf("Metrics server error: %v", err)
	}
}

func waitForSig(cancel func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	fmt.Println("Signal received: stopping workers after their current request…")
	cancel()
}
