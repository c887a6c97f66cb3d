package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// processedTotal counts ProcessBlob invocations.
	// Labels: outcome (success, failure), kind (failure kind, empty on success)
	processedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuflow",
			Subsystem: "processor",
			Name:      "documents_total",
			Help:      "Total number of processed documents by outcome",
		},
		[]string{"outcome", "kind"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docuflow",
			Subsystem: "processor",
			Name:      "duration_seconds",
			Help:      "Duration of document processing in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 180, 300},
		},
		[]string{"outcome"},
	)
)
