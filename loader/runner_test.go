package loader

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/kyojunkeum/webtest/stats"
	"github.com/kyojunkeum/webtest/wire"
)

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	host, p, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func targetSpec(t *testing.T, rawURL string) *wire.RequestSpec {
	host, port := hostPort(t, rawURL)
	return &wire.RequestSpec{
		Host:           host,
		Port:           port,
		Path:           "/upload",
		Method:         "POST",
		Version:        wire.DefaultVersion,
		Framing:        wire.FixedLength,
		Kind:           wire.BodyText,
		Text:           []byte("hello"),
		FilenameHint:   true,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		MinimalRead:    true,
	}
}

// statusServer answers every request with code after draining the body.
func statusServer(t *testing.T, code int, hits *atomic.Int64) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		hits.Add(1)
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitDone(t *testing.T, r *Runner, d time.Duration) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(d):
		t.Fatal("runner did not finish in time")
	}
}

func TestRunnerCountsEveryAttempt(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusOK, &hits)
	logger, hook := test.NewNullLogger()

	agg := stats.NewAggregator()
	r, err := NewRunner(Config{
		Template: targetSpec(t, srv.URL),
		Items:    []WorkItem{TextItem("one"), TextItem("two"), TextItem("three")},
		Workers:  4,
		Repeat:   3,
		Shuffle:  true,
		LogEvery: 1000,
		Logger:   logger,
	}, agg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, r, 10*time.Second)

	const want = 4 * 3 * 3
	tot := agg.Totals()
	if tot.Sent != want || tot.Success != want {
		t.Errorf("totals = %+v, want %d sent and successful", tot, want)
	}
	if hits.Load() != want {
		t.Errorf("server saw %d requests, want %d", hits.Load(), want)
	}
	if tot.Bytes != 4*3*(3+3+5) {
		t.Errorf("bytes = %d", tot.Bytes)
	}
	for i, s := range r.WorkerStatus() {
		if s != "-" {
			t.Errorf("worker %d status = %q after finishing", i, s)
		}
	}

	var successLines, done int
	for _, e := range hook.AllEntries() {
		switch {
		case strings.HasPrefix(e.Message, "[SUCCESS]"):
			successLines++
		case strings.HasPrefix(e.Message, "[DONE]"):
			done++
		}
	}
	if successLines != 0 {
		t.Errorf("%d success lines logged with LogEvery above the success count", successLines)
	}
	if done != 1 {
		t.Errorf("[DONE] logged %d times", done)
	}
}

func TestRunnerSamplesSuccessLogs(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusOK, &hits)
	logger, hook := test.NewNullLogger()

	r, err := NewRunner(Config{
		Template: targetSpec(t, srv.URL),
		Workers:  1,
		Repeat:   10,
		LogEvery: 5,
		Logger:   logger,
	}, stats.NewAggregator())
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	var n int
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "[SUCCESS]") {
			n++
		}
	}
	if n != 2 {
		t.Errorf("success lines = %d, want 2 (every 5th of 10)", n)
	}
}

func TestRunnerLogsEveryFailure(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusForbidden, &hits)
	logger, hook := test.NewNullLogger()

	agg := stats.NewAggregator()
	r, err := NewRunner(Config{
		Template: targetSpec(t, srv.URL),
		Workers:  2,
		Repeat:   3,
		LogEvery: 100,
		Logger:   logger,
	}, agg)
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	if tot := agg.Totals(); tot.ClientBlock != 6 {
		t.Errorf("client blocks = %d, want 6", tot.ClientBlock)
	}
	var n int
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "[BLOCK]") && e.Level == logrus.WarnLevel {
			n++
		}
	}
	if n != 6 {
		t.Errorf("block lines = %d, want 6", n)
	}
}

func TestRunnerStopsUnboundedRun(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusOK, &hits)
	logger, _ := test.NewNullLogger()

	tmpl := targetSpec(t, srv.URL)
	tmpl.Delay = 5 * time.Millisecond
	agg := stats.NewAggregator()
	r, err := NewRunner(Config{Template: tmpl, Workers: 3, Repeat: 0, Logger: logger}, agg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for agg.Totals().Sent < 10 {
		if time.Now().After(deadline) {
			t.Fatal("unbounded run made no progress")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	waitDone(t, r, 5*time.Second)

	if sent, seen := agg.Totals().Sent, uint64(hits.Load()); sent != seen {
		t.Errorf("aggregator sent = %d, server saw %d", sent, seen)
	}
}

func TestRunnerReportsConnectFailures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := "http://" + ln.Addr().String()
	ln.Close()
	logger, hook := test.NewNullLogger()

	agg := stats.NewAggregator()
	r, err := NewRunner(Config{Template: targetSpec(t, addr), Workers: 2, Repeat: 2, Logger: logger}, agg)
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	tot := agg.Totals()
	if tot.Sent != 4 || tot.Errors != 4 {
		t.Errorf("totals = %+v, want 4 sent and 4 errors", tot)
	}
	if pts := agg.Series(); len(pts) != 0 {
		t.Errorf("errors reached the buckets: %+v", pts)
	}
	var n int
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "[ERROR]") && e.Level == logrus.ErrorLevel {
			n++
		}
	}
	if n != 4 {
		t.Errorf("error lines = %d, want 4", n)
	}
}

func TestRunnerNoResponseWithoutMinimalRead(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusOK, &hits)
	logger, _ := test.NewNullLogger()

	tmpl := targetSpec(t, srv.URL)
	tmpl.MinimalRead = false
	agg := stats.NewAggregator()
	r, err := NewRunner(Config{Template: tmpl, Workers: 1, Repeat: 2, Logger: logger}, agg)
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	if tot := agg.Totals(); tot.NoResponse != 2 || tot.Blocked() != 2 {
		t.Errorf("totals = %+v, want 2 no-response", tot)
	}
}

func TestRunnerSendsItemsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, string(body))
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()

	r, err := NewRunner(Config{
		Template: targetSpec(t, srv.URL),
		Items:    []WorkItem{TextItem("a"), TextItem("b"), TextItem("c")},
		Workers:  1,
		Repeat:   2,
		Logger:   logger,
	}, stats.NewAggregator())
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(seen, " "); got != "a b c a b c" {
		t.Errorf("server saw %q, want \"a b c a b c\"", got)
	}
}

func TestRunnerHonoursRate(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusOK, &hits)
	logger, _ := test.NewNullLogger()

	agg := stats.NewAggregator()
	r, err := NewRunner(Config{
		Template: targetSpec(t, srv.URL),
		Workers:  2,
		Repeat:   4,
		Rate:     4,
		Logger:   logger,
	}, agg)
	if err != nil {
		t.Fatal(err)
	}
	begin := time.Now()
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	// A burst of 4, then 4 more at 250ms intervals.
	if elapsed := time.Since(begin); elapsed < 900*time.Millisecond {
		t.Errorf("8 attempts at 4/s took %s", elapsed)
	}
	if sent := agg.Totals().Sent; sent != 8 || hits.Load() != 8 {
		t.Errorf("sent = %d, server saw %d, want 8", sent, hits.Load())
	}
}

func TestRunnerReportsWorkerPanic(t *testing.T) {
	var hits atomic.Int64
	srv := statusServer(t, http.StatusOK, &hits)
	logger, hook := test.NewNullLogger()

	agg := stats.NewAggregator()
	r, err := NewRunner(Config{
		Template: targetSpec(t, srv.URL),
		Items:    []WorkItem{TextItem("a"), TextItem("b")},
		Workers:  2,
		Repeat:   1,
		Shuffle:  true,
		Logger:   logger,
	}, agg)
	if err != nil {
		t.Fatal(err)
	}
	r.shuffle = func([]WorkItem) { panic("shuffle failed") }
	r.Start(context.Background())
	waitDone(t, r, 10*time.Second)

	var fatal, done int
	for _, e := range hook.AllEntries() {
		switch {
		case strings.HasPrefix(e.Message, "[FATAL]") && e.Level == logrus.ErrorLevel:
			fatal++
		case strings.HasPrefix(e.Message, "[DONE]"):
			done++
		}
	}
	if fatal != 2 || done != 1 {
		t.Errorf("[FATAL] lines = %d, [DONE] lines = %d, want 2 and 1", fatal, done)
	}
	for i, s := range r.WorkerStatus() {
		if s != "-" {
			t.Errorf("worker %d status = %q after panic", i, s)
		}
	}
	if tot := agg.Totals(); tot.Sent != 0 || hits.Load() != 0 {
		t.Errorf("sent = %d, server saw %d, want nothing", tot.Sent, hits.Load())
	}
}

func TestNewRunnerRejectsBadConfig(t *testing.T) {
	good := &wire.RequestSpec{Host: "127.0.0.1", Port: 8080, Path: "/", Method: "POST", Kind: wire.BodyText}
	missing := filepath.Join(t.TempDir(), "missing.bin")
	dir := t.TempDir()
	okFile := filepath.Join(dir, "ok.bin")
	if err := os.WriteFile(okFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{Template: good, Workers: 1}, true},
		{"file item", Config{Template: good, Workers: 1, Items: []WorkItem{FileItem(okFile)}}, true},
		{"no template", Config{Workers: 1}, false},
		{"zero workers", Config{Template: good}, false},
		{"negative repeat", Config{Template: good, Workers: 1, Repeat: -1}, false},
		{"negative rate", Config{Template: good, Workers: 1, Rate: -1}, false},
		{"unreadable item", Config{Template: good, Workers: 1, Items: []WorkItem{FileItem(missing)}}, false},
		{"directory item", Config{Template: good, Workers: 1, Items: []WorkItem{FileItem(dir)}}, false},
		{"bad method", Config{Template: &wire.RequestSpec{Host: "h", Port: 1, Method: "GET"}, Workers: 1}, false},
	}
	for _, tt := range tests {
		_, err := NewRunner(tt.cfg, stats.NewAggregator())
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}
}
