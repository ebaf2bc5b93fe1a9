package scuttle

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes cluster-state-level gauges and counters, namespaced
// separately from the transport metrics in pkg/gossip so the core package
// stays usable without a running gossip transport.
type Metrics struct {
	// Entries is the number of live (non-tombstoned) entries, labelled by
	// node_id.
	Entries *prometheus.GaugeVec

	// Tombstones is the number of tombstoned entries awaiting GC, labelled
	// by node_id.
	Tombstones *prometheus.GaugeVec

	// ResetsSent is the total number of node resets this node has signaled
	// to peers during delta construction.
	ResetsSent prometheus.Counter

	// DeltaBuildTruncated is the total number of deltas that were cut short
	// by the MTU budget before every stale entry could be included.
	DeltaBuildTruncated prometheus.Counter
}

// NewMetrics creates unregistered cluster-state metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scuttle",
				Subsystem: "cluster",
				Name:      "entries",
				Help:      "Number of live entries",
			},
			[]string{"node_id"},
		),
		Tombstones: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scuttle",
				Subsystem: "cluster",
				Name:      "tombstones",
				Help:      "Number of tombstoned entries awaiting GC",
			},
			[]string{"node_id"},
		),
		ResetsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scuttle",
				Subsystem: "cluster",
				Name:      "resets_sent_total",
				Help:      "Total number of node resets signaled to peers",
			},
		),
		DeltaBuildTruncated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scuttle",
				Subsystem: "cluster",
				Name:      "delta_build_truncated_total",
				Help:      "Total number of deltas cut short by the MTU budget",
			},
		),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.Entries,
		m.Tombstones,
		m.ResetsSent,
		m.DeltaBuildTruncated,
	)
}
