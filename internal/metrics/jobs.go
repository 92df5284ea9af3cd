package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, jobsSweptTotal, queueDepth) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pagelift_jobs_processed_total",
		Help: "Total number of extraction jobs processed, labeled by terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobsSweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pagelift_jobs_swept_total",
		Help: "Total number of expired guest jobs removed by the retention sweeper.",
	},
)

var queueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "pagelift_queue_depth",
		Help: "Number of jobs waiting in the extraction queue.",
	},
)

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(status).Inc()
}

func AddJobsSwept(n int64) {
	jobsSweptTotal.Add(float64(n))
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
