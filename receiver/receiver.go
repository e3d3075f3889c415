// Package receiver accepts uploaded bodies, stores them on disk and keeps
// the storage directory under its quota.
package receiver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	readChunk    = 64 * 1024
	defaultName  = "upload.bin"
	maxHintRunes = 100
)

// Config configures a Receiver.
type Config struct {
	Dir string
	// MinFree is the free-space floor below which uploads get 507.
	MinFree uint64
	// Free probes free space; nil means DiskFree.
	Free   FreeFunc
	Logger logrus.FieldLogger
}

// Counters are cumulative since the receiver was created.
type Counters struct {
	Stored   uint64
	Rejected uint64
	Failed   uint64
	Bytes    uint64
}

// Receiver is an http.Handler that stores every POST or PUT body as a file.
type Receiver struct {
	dir     string
	minFree uint64
	free    FreeFunc
	log     logrus.FieldLogger
	pid     int
	now     func() time.Time

	seq      atomic.Uint64
	stored   atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
	bytes    atomic.Uint64
}

// New creates the storage directory if needed and returns a Receiver.
func New(cfg Config) (*Receiver, error) {
	if cfg.Dir == "" {
		return nil, errors.New("no storage directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	rc := &Receiver{
		dir:     cfg.Dir,
		minFree: cfg.MinFree,
		free:    cfg.Free,
		log:     cfg.Logger,
		pid:     os.Getpid(),
		now:     time.Now,
	}
	if rc.free == nil {
		rc.free = DiskFree
	}
	if rc.log == nil {
		rc.log = logrus.StandardLogger()
	}
	return rc, nil
}

// Counters returns a snapshot of the receiver's counters.
func (rc *Receiver) Counters() Counters {
	return Counters{
		Stored:   rc.stored.Load(),
		Rejected: rc.rejected.Load(),
		Failed:   rc.failed.Load(),
		Bytes:    rc.bytes.Load(),
	}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		uploadsTotal.WithLabelValues("method").Inc()
		w.Header().Set("Allow", "POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !rc.enoughSpace() {
		rc.rejected.Add(1)
		uploadsTotal.WithLabelValues("rejected").Inc()
		rc.log.Warnf("[SPACE] rejecting %s %s from %s: free space below %s",
			r.Method, r.URL.Path, r.RemoteAddr, humanize.IBytes(rc.minFree))
		w.Header().Set("Connection", "close")
		http.Error(w, "insufficient storage", http.StatusInsufficientStorage)
		return
	}

	name, f, err := rc.create(r.Header.Get("X-Filename"))
	if err != nil {
		rc.fail(w, "", fmt.Errorf("create upload file: %w", err))
		return
	}

	n, err := rc.copyBody(f, r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		rc.fail(w, name, err)
		return
	}

	rc.stored.Add(1)
	rc.bytes.Add(uint64(n))
	uploadsTotal.WithLabelValues("stored").Inc()
	uploadBytes.Add(float64(n))
	rc.log.Infof("[RECV] %s %s from %s -> %s (%s)",
		r.Method, r.URL.Path, r.RemoteAddr, filepath.Base(name), humanize.IBytes(uint64(n)))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK\n")
}

// copyBody reads the declared length, or until EOF when none was declared,
// in bounded increments. A read error ends the body and keeps what arrived;
// only write errors are returned.
func (rc *Receiver) copyBody(f *os.File, r *http.Request) (int64, error) {
	var body io.Reader = r.Body
	if r.ContentLength >= 0 {
		body = io.LimitReader(r.Body, r.ContentLength)
	}
	buf := make([]byte, readChunk)
	var total int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("write upload file: %w", werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			rc.log.Warnf("[RECV] body from %s ended early after %s: %v",
				r.RemoteAddr, humanize.IBytes(uint64(total)), rerr)
			return total, nil
		}
	}
}

func (rc *Receiver) fail(w http.ResponseWriter, name string, err error) {
	if name != "" {
		os.Remove(name)
	}
	rc.failed.Add(1)
	uploadsTotal.WithLabelValues("failed").Inc()
	rc.log.Errorf("[ERROR] storing upload: %v", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (rc *Receiver) enoughSpace() bool {
	if rc.minFree == 0 {
		return true
	}
	free, err := rc.free(rc.dir)
	if err != nil {
		rc.log.Warnf("[SPACE] free space probe failed, assuming enough: %v", err)
		return true
	}
	return free >= rc.minFree
}

// create opens a new, uniquely named file for one upload.
func (rc *Receiver) create(hint string) (string, *os.File, error) {
	now := rc.now()
	base := fmt.Sprintf("%s_%d_%06d", now.Format("20060102-150405"), rc.pid, now.Nanosecond()/1000)
	safe := SanitizeName(hint)
	for attempt := 0; ; attempt++ {
		name := base
		if attempt > 0 {
			name += fmt.Sprintf("+%d", rc.seq.Add(1))
		}
		path := filepath.Join(rc.dir, name+"_"+safe)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, os.ErrExist) || attempt >= 100 {
			return "", nil, err
		}
	}
}

// SanitizeName reduces a sender-supplied filename to a safe basename made
// of letters, digits, dot, dash and underscore.
func SanitizeName(hint string) string {
	hint = strings.ReplaceAll(hint, "\\", "/")
	hint = filepath.Base(strings.TrimSpace(hint))
	if hint == "." || hint == "/" {
		hint = ""
	}
	var b strings.Builder
	n := 0
	for _, c := range hint {
		if n >= maxHintRunes {
			break
		}
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
		n++
	}
	s := strings.TrimLeft(b.String(), ".")
	if s == "" {
		return defaultName
	}
	return s
}
