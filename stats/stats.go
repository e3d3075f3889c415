// Package stats aggregates attempt outcomes into cumulative counters and a
// per-second time series.
package stats

import (
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
)

// Totals holds the cumulative counters for a run.
type Totals struct {
	Sent        uint64
	Success     uint64
	ClientBlock uint64
	ServerError uint64
	Other       uint64
	Timeout     uint64
	Reset       uint64
	NoResponse  uint64
	Errors      uint64
	Bytes       int64
}

// Blocked counts attempts that look like the peer or a device in between
// refused the traffic: 4xx, no response, timeouts and resets.
func (t Totals) Blocked() uint64 {
	return t.ClientBlock + t.NoResponse + t.Timeout + t.Reset
}

// BlockRate is Blocked as a percentage of Sent.
func (t Totals) BlockRate() float64 {
	if t.Sent == 0 {
		return 0
	}
	return float64(t.Blocked()) * 100 / float64(t.Sent)
}

// Point is one second of the series.
type Point struct {
	Second       int
	Bytes        int64
	Mbps         float64
	Success      int64
	Failure      int64
	AvgLatencyMs float64
}

// Quantiles summarises the latency distribution in milliseconds.
type Quantiles struct {
	Count int64
	P50   float64
	P95   float64
	P99   float64
	Max   float64
}

const maxLatencyMicros = int64(time.Hour / time.Microsecond)

// Aggregator is safe for many concurrent writers and a separate reader. All
// state sits behind one mutex; a Record call is a single mutation batch.
type Aggregator struct {
	mu     sync.Mutex
	now    func() time.Time
	start  time.Time
	totals Totals

	bucketBytes   map[int]int64
	bucketSuccess map[int]int64
	bucketFailure map[int]int64
	bucketLatSum  map[int]float64
	bucketLatCnt  map[int]int64

	latency *hdrhistogram.Histogram
}

// NewAggregator creates an aggregator whose run starts now.
func NewAggregator() *Aggregator {
	a := &Aggregator{
		now:     time.Now,
		latency: hdrhistogram.New(1, maxLatencyMicros, 3),
	}
	a.Reset(a.now())
	return a
}

// Reset clears every counter and bucket and starts a new run at start.
func (a *Aggregator) Reset(start time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start = start
	a.totals = Totals{}
	a.bucketBytes = make(map[int]int64)
	a.bucketSuccess = make(map[int]int64)
	a.bucketFailure = make(map[int]int64)
	a.bucketLatSum = make(map[int]float64)
	a.bucketLatCnt = make(map[int]int64)
	a.latency.Reset()
}

// Start returns the start of the current run.
func (a *Aggregator) Start() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start
}

// Record adds one outcome to the bucket of the second it finished in. Buckets
// count 2xx and 3xx as success and everything else, including a missing
// status, as failure.
func (a *Aggregator) Record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totals.Sent++
	a.totals.Bytes += o.Bytes
	switch o.Tag {
	case TagSuccess:
		a.totals.Success++
	case TagClientBlock:
		a.totals.ClientBlock++
	case TagServerError:
		a.totals.ServerError++
	case TagTimeout:
		a.totals.Timeout++
	case TagReset:
		a.totals.Reset++
	case TagNoResponse:
		a.totals.NoResponse++
	case TagError:
		a.totals.Errors++
	default:
		a.totals.Other++
	}

	at := o.At
	if at.IsZero() {
		at = a.now()
	}
	sec := a.secondLocked(at)
	a.bucketBytes[sec] += o.Bytes
	if o.Status >= 200 && o.Status < 400 {
		a.bucketSuccess[sec]++
	} else {
		a.bucketFailure[sec]++
	}
	if o.Timed {
		ms := float64(o.Elapsed) / float64(time.Millisecond)
		a.bucketLatSum[sec] += ms
		a.bucketLatCnt[sec]++

		us := o.Elapsed.Microseconds()
		if us < 1 {
			us = 1
		} else if us > maxLatencyMicros {
			us = maxLatencyMicros
		}
		a.latency.RecordValue(us)
	}
}

// RecordError counts an attempt that failed for an unexpected reason. It is
// counted as sent but stays out of the buckets.
func (a *Aggregator) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals.Sent++
	a.totals.Errors++
}

func (a *Aggregator) secondLocked(at time.Time) int {
	sec := int(at.Sub(a.start) / time.Second)
	if sec < 0 {
		return 0
	}
	return sec
}

// Totals returns a copy of the cumulative counters.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Series returns one point per second from 0 to the highest second seen in
// any bucket. Seconds with no reports are zero-filled.
func (a *Aggregator) Series() []Point {
	a.mu.Lock()
	bytesB := copyMap(a.bucketBytes)
	succB := copyMap(a.bucketSuccess)
	failB := copyMap(a.bucketFailure)
	latSumB := copyMap(a.bucketLatSum)
	latCntB := copyMap(a.bucketLatCnt)
	a.mu.Unlock()

	maxSec := -1
	for _, keys := range [][]int{keysOf(bytesB), keysOf(succB), keysOf(failB), keysOf(latSumB), keysOf(latCntB)} {
		for _, k := range keys {
			if k > maxSec {
				maxSec = k
			}
		}
	}
	if maxSec < 0 {
		return nil
	}

	points := make([]Point, maxSec+1)
	for s := range points {
		p := Point{
			Second:  s,
			Bytes:   bytesB[s],
			Success: succB[s],
			Failure: failB[s],
		}
		p.Mbps = float64(p.Bytes) * 8 / 1e6
		if cnt := latCntB[s]; cnt > 0 {
			p.AvgLatencyMs = latSumB[s] / float64(cnt)
		}
		points[s] = p
	}
	return points
}

// Latency returns quantiles over every timed outcome of the run.
func (a *Aggregator) Latency() Quantiles {
	a.mu.Lock()
	defer a.mu.Unlock()
	toMs := func(us int64) float64 { return float64(us) / 1000 }
	return Quantiles{
		Count: a.latency.TotalCount(),
		P50:   toMs(a.latency.ValueAtQuantile(50)),
		P95:   toMs(a.latency.ValueAtQuantile(95)),
		P99:   toMs(a.latency.ValueAtQuantile(99)),
		Max:   toMs(a.latency.Max()),
	}
}

func copyMap[V int64 | float64](m map[int]V) map[int]V {
	out := make(map[int]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func keysOf[V int64 | float64](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
