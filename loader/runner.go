// Package loader drives many concurrent worker units that send the
// configured request over raw sockets and report classified outcomes.
package loader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kyojunkeum/webtest/stats"
	"github.com/kyojunkeum/webtest/transport"
	"github.com/kyojunkeum/webtest/wire"
)

// Config describes one run.
type Config struct {
	Template *wire.RequestSpec
	// Items is the shared work list. Empty means the template body alone.
	Items   []WorkItem
	Workers int
	// Repeat is the number of passes over Items per worker; 0 runs until stopped.
	Repeat  int
	Shuffle bool
	// LogEvery logs every Nth success per worker. Failures are always logged.
	LogEvery int
	// Rate caps attempts per second across all workers; 0 disables the cap.
	Rate   float64
	Logger logrus.FieldLogger
}

type eventKind int

const (
	eventOutcome eventKind = iota
	eventError
	eventFatal
)

// event is what a worker hands to the consumer after each attempt.
type event struct {
	kind    eventKind
	worker  int
	item    string
	outcome stats.Outcome
	status  *transport.Status
	err     error
}

// Runner owns the worker units of one run.
type Runner struct {
	cfg     Config
	agg     *stats.Aggregator
	log     logrus.FieldLogger
	limiter *rate.Limiter
	shuffle func([]WorkItem)

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	stopCtx  context.Context
	cancel   context.CancelFunc

	events chan event
	wg     sync.WaitGroup
	done   chan struct{}

	statusMu sync.Mutex
	status   []string
}

// NewRunner validates cfg and prepares a run that reports into agg.
func NewRunner(cfg Config, agg *stats.Aggregator) (*Runner, error) {
	if cfg.Template == nil {
		return nil, errors.New("no request template")
	}
	if agg == nil {
		return nil, errors.New("no aggregator")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Repeat < 0 {
		return nil, fmt.Errorf("repeat must not be negative, got %d", cfg.Repeat)
	}
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("rate must not be negative, got %v", cfg.Rate)
	}
	if cfg.LogEvery < 1 {
		cfg.LogEvery = 1
	}
	if len(cfg.Items) == 0 {
		cfg.Items = []WorkItem{{Kind: ItemTemplate}}
	}
	cfg.Items = append([]WorkItem(nil), cfg.Items...)
	for _, it := range cfg.Items {
		if err := SpecFor(cfg.Template, it).Validate(); err != nil {
			return nil, fmt.Errorf("item %s: %w", it.Describe(), err)
		}
	}

	r := &Runner{
		cfg:     cfg,
		agg:     agg,
		log:     cfg.Logger,
		shuffle: shuffleItems,
		stop:    make(chan struct{}),
		events:  make(chan event, cfg.Workers*16),
		done:    make(chan struct{}),
		status:  make([]string, cfg.Workers),
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if cfg.Rate > 0 {
		burst := int(cfg.Rate)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	r.stopCtx, r.cancel = context.WithCancel(context.Background())
	for i := range r.status {
		r.status[i] = "idle"
	}
	return r, nil
}

// Start resets the aggregator and launches the worker units, the consumer
// and the supervisor. Cancelling ctx has the same effect as Stop.
func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runner already started")
	}
	r.agg.Reset(time.Now())

	tmpl := r.cfg.Template
	var est int64
	for _, it := range r.cfg.Items {
		est += it.EstimateBytes(tmpl)
	}
	r.log.Infof("[START] %s %s:%d%s workers=%d items=%d (%s per pass) repeat=%d shuffle=%v framing=%s gzip=%v rate=%v",
		tmpl.Method, tmpl.Host, tmpl.Port, tmpl.Path, r.cfg.Workers, len(r.cfg.Items),
		humanize.IBytes(uint64(est)), r.cfg.Repeat, r.cfg.Shuffle, tmpl.Framing, tmpl.Gzip, r.cfg.Rate)

	consumerDone := make(chan struct{})
	go r.consume(consumerDone)

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		metricActiveWorkers.Inc()
		go r.worker(i)
	}

	go func() {
		r.wg.Wait()
		close(r.events)
		<-consumerDone
		r.cancel()
		r.log.Info("[DONE] all workers finished")
		close(r.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
	return nil
}

// Stop asks every worker to finish after its current attempt.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.cancel()
	})
}

// Done is closed once every worker has stopped and every report is recorded.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Wait blocks until Done is closed.
func (r *Runner) Wait() { <-r.done }

func (r *Runner) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// WorkerStatus returns what each worker is currently sending; "-" once it has stopped.
func (r *Runner) WorkerStatus() []string {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return append([]string(nil), r.status...)
}

func (r *Runner) setStatus(id int, s string) {
	r.statusMu.Lock()
	r.status[id] = s
	r.statusMu.Unlock()
}

func shuffleItems(items []WorkItem) {
	rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	defer metricActiveWorkers.Dec()
	defer r.setStatus(id, "-")
	defer func() {
		if p := recover(); p != nil {
			r.events <- event{kind: eventFatal, worker: id, err: fmt.Errorf("worker panic: %v", p)}
		}
	}()

	items := append([]WorkItem(nil), r.cfg.Items...)
	for pass := 0; r.cfg.Repeat == 0 || pass < r.cfg.Repeat; pass++ {
		if r.stopped() {
			return
		}
		if r.cfg.Shuffle {
			r.shuffle(items)
		}
		for _, it := range items {
			if r.stopped() {
				return
			}
			if r.limiter != nil {
				if err := r.limiter.Wait(r.stopCtx); err != nil {
					return
				}
			}
			r.attempt(id, it)
			if d := r.cfg.Template.Delay; d > 0 {
				t := time.NewTimer(d)
				select {
				case <-t.C:
				case <-r.stop:
					t.Stop()
					return
				}
			}
		}
	}
}

// attempt runs one item through the transport and reports the result. It
// never lets a failure escape to the worker loop.
func (r *Runner) attempt(id int, it WorkItem) {
	desc := it.Describe()
	defer func() {
		if p := recover(); p != nil {
			r.events <- event{kind: eventError, worker: id, item: desc, err: fmt.Errorf("panic: %v", p)}
		}
	}()
	r.setStatus(id, desc)

	spec := SpecFor(r.cfg.Template, it)
	size := it.EstimateBytes(r.cfg.Template)

	metricAttempted.Inc()
	metricInFlight.Inc()
	res := transport.Do(context.WithoutCancel(r.stopCtx), spec)
	finished := time.Now()
	metricInFlight.Dec()

	var code int
	if res.Status != nil {
		code = res.Status.Code
	}
	if res.Status == nil && res.Failure == transport.FailureOther {
		r.events <- event{kind: eventError, worker: id, item: desc, err: res.Err}
		return
	}
	r.events <- event{
		kind:   eventOutcome,
		worker: id,
		item:   desc,
		status: res.Status,
		err:    res.Err,
		outcome: stats.Outcome{
			Tag:     Classify(code, res.Failure),
			Status:  code,
			Elapsed: res.Elapsed,
			Timed:   res.Err == nil,
			Bytes:   size,
			At:      finished,
		},
	}
}

// consume is the single owner of aggregator writes, metric updates and
// outcome logging.
func (r *Runner) consume(done chan<- struct{}) {
	defer close(done)
	successes := make([]int, r.cfg.Workers)
	for ev := range r.events {
		r.handle(ev, successes)
	}
}

func (r *Runner) handle(ev event, successes []int) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("[ERROR] reporting outcome of worker %d: %v", ev.worker, p)
		}
	}()
	log := r.log.WithField("worker", ev.worker)

	switch ev.kind {
	case eventFatal:
		log.Errorf("[FATAL] worker stopped: %v", ev.err)
		return
	case eventError:
		r.agg.RecordError()
		metricOutcomes.WithLabelValues(stats.TagError.String()).Inc()
		log.Errorf("[ERROR] %s: %v", ev.item, ev.err)
		return
	}

	o := ev.outcome
	r.agg.Record(o)
	metricOutcomes.WithLabelValues(o.Tag.String()).Inc()
	metricBytes.Add(float64(o.Bytes))
	if o.Timed {
		metricLatency.Observe(o.Elapsed.Seconds())
	}

	line := fmt.Sprintf("[%s] %s", o.Tag.Label(), ev.item)
	if ev.status != nil {
		line += fmt.Sprintf(" -> %s", ev.status)
	}
	if o.Timed {
		line += fmt.Sprintf(" in %.1fms", float64(o.Elapsed)/float64(time.Millisecond))
	}
	line += " (" + verdict(o.Tag) + ")"
	if ev.err != nil {
		line += fmt.Sprintf(": %v", ev.err)
	}

	switch o.Tag {
	case stats.TagSuccess:
		successes[ev.worker]++
		if successes[ev.worker]%r.cfg.LogEvery == 0 {
			log.Info(line)
		}
	case stats.TagOther:
		log.Info(line)
	default:
		log.Warn(line)
	}
}
