package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsHandled counts dispatched events.
	// Labels: result (ignored, skipped, config_rebuilt, config_deleted, success, failure, error)
	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuflow",
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Total number of storage events handled by result",
		},
		[]string{"result"},
	)

	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docuflow",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Total number of storage events received by source",
		},
		[]string{"source"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docuflow",
			Subsystem: "events",
			Name:      "pending",
			Help:      "Events accepted by the webhook and not yet handled",
		},
	)
)
