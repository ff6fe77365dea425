// Package metrics defines the Prometheus collectors exposed by every
// jrpchub role and the HTTP handler used to scrape them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered by a jrpchub process.
type Metrics struct {
	RPCCallsTotal       *prometheus.CounterVec
	RPCCallDuration     *prometheus.HistogramVec
	RegistryProviders   prometheus.Gauge
	RegistryDiscoverers prometheus.Gauge
	OnlineNoticesTotal  prometheus.Counter
	OutlineNoticesTotal prometheus.Counter
	TopicSubscribers    *prometheus.GaugeVec
	PublishFanOut       prometheus.Histogram
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		RPCCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jrpc_rpc_calls_total",
				Help: "Total RPC calls handled by the router, by method and retcode.",
			},
			[]string{"method", "retcode"},
		),
		RPCCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jrpc_rpc_call_duration_seconds",
				Help:    "RPC call latency in seconds, from request arrival to response send.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method"},
		),
		RegistryProviders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jrpc_registry_providers",
				Help: "Current number of distinct provider connections.",
			},
		),
		RegistryDiscoverers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "jrpc_registry_discoverers",
				Help: "Current number of distinct discoverer connections.",
			},
		),
		OnlineNoticesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jrpc_registry_online_notices_total",
				Help: "Total ONLINE push notifications sent to discoverers.",
			},
		),
		OutlineNoticesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "jrpc_registry_outline_notices_total",
				Help: "Total OUTLINE push notifications sent to discoverers.",
			},
		),
		TopicSubscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jrpc_topic_subscribers",
				Help: "Current number of subscribers, by topic.",
			},
			[]string{"topic"},
		),
		PublishFanOut: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jrpc_topic_publish_fanout",
				Help:    "Number of subscriber connections a single publish fanned out to.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
	}

	prometheus.MustRegister(
		m.RPCCallsTotal,
		m.RPCCallDuration,
		m.RegistryProviders,
		m.RegistryDiscoverers,
		m.OnlineNoticesTotal,
		m.OutlineNoticesTotal,
		m.TopicSubscribers,
		m.PublishFanOut,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
