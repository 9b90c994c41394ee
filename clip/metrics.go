package clip

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ffclip_clip_outcome_total",
		Help: "Total number of clip sessions by terminal state",
	}, []string{"state", "reason"})

	runSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ffclip_clip_run_seconds",
		Help:    "Wall-clock time from Running to the terminal state",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"state"})

	running = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ffclip_clip_running",
		Help: "Number of clip sessions currently in the Running state",
	})
)
