package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ffclip_task_queue_depth",
	Help: "Number of submitted tasks waiting for a worker slot",
})
