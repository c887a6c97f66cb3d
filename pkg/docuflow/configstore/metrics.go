package configstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// configBuilds counts configurations read from storage (cache misses).
	// Labels: source (consolidated, three_file)
	configBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuflow",
			Subsystem: "configstore",
			Name:      "builds_total",
			Help:      "Total number of folder configurations built from storage",
		},
		[]string{"source"},
	)

	consolidatedConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docuflow",
			Subsystem: "configstore",
			Name:      "consolidated_conflicts_total",
			Help:      "Total number of version conflicts while writing config.json",
		},
	)
)
