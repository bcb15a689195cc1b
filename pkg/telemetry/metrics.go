// Package telemetry exposes the server's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EnvelopesAccepted counts envelopes that passed the full pipeline,
	// labeled by envelope type.
	EnvelopesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esmp_envelopes_accepted_total",
		Help: "Accepted envelopes by type.",
	}, []string{"type"})

	// EnvelopesRejected counts protocol rejections by error kind.
	EnvelopesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esmp_envelopes_rejected_total",
		Help: "Rejected envelopes by protocol error kind.",
	}, []string{"kind"})

	// Connections tracks currently open TCP client connections.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "esmp_open_connections",
		Help: "Open client connections.",
	})

	// AuditDivergences counts groups whose replayed metadata did not
	// match the stored record.
	AuditDivergences = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "esmp_audit_divergences_total",
		Help: "Group metadata records diverging from their replayed logs.",
	})
)

func init() {
	prometheus.MustRegister(EnvelopesAccepted, EnvelopesRejected, Connections, AuditDivergences)
}

// Accepted records one accepted envelope.
func Accepted(envType string) { EnvelopesAccepted.WithLabelValues(envType).Inc() }

// Rejected records one protocol rejection.
func Rejected(kind string) { EnvelopesRejected.WithLabelValues(kind).Inc() }
