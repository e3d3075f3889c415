package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receiver_uploads_total",
			Help: "Inbound uploads by result (stored, rejected, failed, method)",
		},
		[]string{"result"},
	)
	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receiver_stored_bytes_total",
			Help: "Bytes written to the storage directory",
		},
	)
	sweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receiver_sweeps_total",
			Help: "Quota sweeps that cleared the storage directory",
		},
	)
	sweepRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receiver_swept_files_total",
			Help: "Files deleted by quota sweeps",
		},
	)
	dirBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "receiver_directory_bytes",
			Help: "Total size of the storage directory at the last sweep",
		},
	)
	freeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "receiver_free_bytes",
			Help: "Free bytes on the storage volume at the last sweep",
		},
	)
)
