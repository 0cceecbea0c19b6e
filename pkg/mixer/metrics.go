package mixer

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the bridge's Prometheus instruments, registered once per
// Bridge instance (ambient stack: prometheus/client_golang, as used
// throughout the rest of this module for operational counters/gauges).
type Metrics struct {
	ticks         prometheus.Counter
	portsActive   prometheus.Gauge
	connections   prometheus.Gauge
	deliverErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecore",
			Subsystem: "mixer",
			Name:      "ticks_total",
			Help:      "Number of bridge mix cycles executed.",
		}),
		portsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecore",
			Subsystem: "mixer",
			Name:      "ports_active",
			Help:      "Number of ports currently registered on the bridge.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecore",
			Subsystem: "mixer",
			Name:      "connections_active",
			Help:      "Number of directed RX->TX edges currently connected.",
		}),
		deliverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecore",
			Subsystem: "mixer",
			Name:      "deliver_errors_total",
			Help:      "Number of PutFrame calls that returned an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.portsActive, m.connections, m.deliverErrors)
	}
	return m
}
