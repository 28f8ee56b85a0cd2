package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors
var (
	refreshOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "veridoc",
		Subsystem: "tracker",
		Name:      "outcomes_total",
		Help:      "Registration refresh outcomes by status",
	}, []string{"status"})

	registeredDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "veridoc",
		Subsystem: "tracker",
		Name:      "registered_documents",
		Help:      "Documents currently marked as registered",
	})
)
