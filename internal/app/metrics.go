package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

var activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "editorbridge_sessions",
	Help: "Document sessions currently open.",
})

func init() {
	prometheus.MustRegister(activeSessions)
}
