package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(componentUploadsTotal) }

var componentUploadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pagelift_component_uploads_total",
		Help: "Total number of component image uploads, labeled by outcome.",
	},
	[]string{"outcome"}, // 'uploaded', 'failed'
)

func IncComponentUpload(outcome string) {
	componentUploadsTotal.WithLabelValues(outcome).Inc()
}
