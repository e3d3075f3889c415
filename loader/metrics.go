package loader

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webtest_in_flight_attempts",
		Help: "Attempts currently connecting, sending or reading",
	})
	metricActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webtest_active_workers",
		Help: "Worker units that have not reached the stopped state",
	})
	metricAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtest_attempts_total",
		Help: "Total request attempts handed to the transport",
	})
	metricOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webtest_outcomes_total",
		Help: "Attempt outcomes by classification",
	}, []string{"outcome"})
	metricBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtest_body_bytes_total",
		Help: "Estimated body bytes attempted",
	})
	metricLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webtest_attempt_duration_seconds",
		Help:    "Connect-to-status latency of attempts that reached the peer",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})
)

func init() {
	prometheus.MustRegister(metricInFlight, metricActiveWorkers, metricAttempted, metricOutcomes, metricBytes, metricLatency)
}
