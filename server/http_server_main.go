package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kyojunkeum/webtest/receiver"
)

// Options holds the receiver's command line settings.
type Options struct {
	Host            string
	Port            int
	SaveDir         string
	MaxTotal        uint64
	MinFree         uint64
	CleanupInterval time.Duration
	Metrics         bool
	ReportInterval  time.Duration
	LogLevel        string
	LogFormat       string
	LogFile         string
}

// parseOptions reads flags from args. Sizes accept humanized values such as 60GiB.
func parseOptions(args []string) (*Options, error) {
	fs := flag.NewFlagSet("receiver", flag.ContinueOnError)
	opts := &Options{}
	fs.StringVar(&opts.Host, "host", "0.0.0.0", "IP address to listen on")
	fs.IntVar(&opts.Port, "port", 5001, "Port to listen on for HTTP/1.1 and h2c")
	fs.StringVar(&opts.SaveDir, "save-dir", "/var/tmp/uploads", "Directory uploads are stored in")
	maxTotal := fs.String("max-total", "60GiB", "Clear the directory when it holds more than this")
	minFree := fs.String("min-free", "10GiB", "Reject uploads and clear the directory below this much free space")
	fs.DurationVar(&opts.CleanupInterval, "cleanup-interval", 10*time.Second, "Quota sweep interval")
	fs.BoolVar(&opts.Metrics, "metrics", true, "Serve Prometheus metrics on /metrics")
	fs.DurationVar(&opts.ReportInterval, "report-interval", 5*time.Second, "Console report interval (0 disables)")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.LogFormat, "log-format", "text", "Log format (text or json)")
	fs.StringVar(&opts.LogFile, "log-file", "", "Also write logs to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if opts.MaxTotal, err = humanize.ParseBytes(*maxTotal); err != nil {
		return nil, fmt.Errorf("-max-total: %w", err)
	}
	if opts.MinFree, err = humanize.ParseBytes(*minFree); err != nil {
		return nil, fmt.Errorf("-min-free: %w", err)
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("-port %d out of range", opts.Port)
	}
	if opts.CleanupInterval <= 0 {
		return nil, fmt.Errorf("-cleanup-interval must be positive, got %s", opts.CleanupInterval)
	}
	return opts, nil
}

// setupLogging configures the standard logger. The returned func closes the log file, if any.
func setupLogging(opts *Options) (func(), error) {
	if opts.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, using info\n", opts.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if opts.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return func() {}, nil
	}
	f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	return func() { f.Close() }, nil
}

// newHandler routes /metrics to Prometheus and everything else to the receiver,
// wrapped for cleartext HTTP/2.
func newHandler(rc *receiver.Receiver, metrics bool) http.Handler {
	mux := http.NewServeMux()
	if metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", rc)

	// Create an HTTP/2 server instance
	h2s := &http2.Server{}
	return h2c.NewHandler(mux, h2s)
}

func startServer(wg *sync.WaitGroup, addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed: %v", err)
		}
	}()

	logrus.Infof("Receiver listening on %s", addr)
	return server
}

// reportLoop logs the receiver counters every interval until ctx is done.
func reportLoop(ctx context.Context, rc *receiver.Receiver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last receiver.Counters
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := rc.Counters()
			logrus.Infof("[REPORT] stored=%d (+%d) rejected=%d failed=%d bytes=%s (+%s)",
				c.Stored, c.Stored-last.Stored, c.Rejected, c.Failed,
				humanize.IBytes(c.Bytes), humanize.IBytes(c.Bytes-last.Bytes))
			last = c
		}
	}
}

// gracefulShutdown blocks until a signal arrives, then stops the server.
func gracefulShutdown(server *http.Server, wg *sync.WaitGroup, cancel context.CancelFunc, shutdownTimeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("Shutting down receiver...")
	cancel()

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := server.Shutdown(ctx); err != nil {
		logrus.Warnf("Receiver on %s forced to shutdown: %v", server.Addr, err)
	}
	wg.Wait()
	logrus.Info("Receiver shutdown completed.")
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	closeLog, err := setupLogging(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	defer closeLog()

	rc, err := receiver.New(receiver.Config{Dir: opts.SaveDir, MinFree: opts.MinFree})
	if err != nil {
		logrus.Fatalf("Error preparing storage: %v", err)
	}
	logrus.Infof("Storing uploads in %s (max total %s, min free %s, sweep every %s)",
		opts.SaveDir, humanize.IBytes(opts.MaxTotal), humanize.IBytes(opts.MinFree), opts.CleanupInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := &receiver.Sweeper{
		Dir:      opts.SaveDir,
		MaxTotal: opts.MaxTotal,
		MinFree:  opts.MinFree,
		Interval: opts.CleanupInterval,
	}
	go sweeper.Run(ctx)
	if opts.ReportInterval > 0 {
		go reportLoop(ctx, rc, opts.ReportInterval)
	}

	var wg sync.WaitGroup
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	server := startServer(&wg, addr, newHandler(rc, opts.Metrics))

	gracefulShutdown(server, &wg, cancel, 5*time.Second)
}
