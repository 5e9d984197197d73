// Package prometheus provides the Prometheus-backed implementation of
// internal/metrics's interfaces, grounded on pkg/metrics/prometheus's
// cache.go from the teacher (promauto.With(registry), CounterVec per
// labeled event, HistogramVec for sized operations).
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rdmnet-go/rdmnet/internal/metrics"
)

func init() {
	metrics.RegisterBrokerMetricsConstructor(newBrokerMetrics)
	metrics.RegisterLLRPMetricsConstructor(newLLRPMetrics)
}

type brokerMetrics struct {
	clientsConnected    *prometheus.GaugeVec
	connectTotal        *prometheus.CounterVec
	disconnectTotal     *prometheus.CounterVec
	messagesRouted      *prometheus.CounterVec
	dynamicUIDsAssigned prometheus.Counter
	clientListFragments prometheus.Counter
}

func newBrokerMetrics() metrics.BrokerMetrics {
	reg := metrics.GetRegistry()
	return &brokerMetrics{
		clientsConnected: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rdmnet_broker_clients_connected",
			Help: "Number of clients currently connected, by protocol (RPT or EPT).",
		}, []string{"protocol"}),
		connectTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rdmnet_broker_client_connect_total",
			Help: "Total client connect handshakes admitted, by protocol.",
		}, []string{"protocol"}),
		disconnectTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rdmnet_broker_client_disconnect_total",
			Help: "Total client disconnects, by protocol.",
		}, []string{"protocol"}),
		messagesRouted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rdmnet_broker_messages_routed_total",
			Help: "Total RPT/EPT messages routed, by vector and outcome.",
		}, []string{"vector", "status"}),
		dynamicUIDsAssigned: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rdmnet_broker_dynamic_uids_assigned_total",
			Help: "Total dynamic UIDs assigned.",
		}),
		clientListFragments: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rdmnet_broker_client_list_fragments_sent_total",
			Help: "Total connected_client_list fragments sent.",
		}),
	}
}

func (m *brokerMetrics) ClientConnected(protocol string) {
	m.clientsConnected.WithLabelValues(protocol).Inc()
	m.connectTotal.WithLabelValues(protocol).Inc()
}

func (m *brokerMetrics) ClientDisconnected(protocol string) {
	m.clientsConnected.WithLabelValues(protocol).Dec()
	m.disconnectTotal.WithLabelValues(protocol).Inc()
}

func (m *brokerMetrics) MessageRouted(vector, status string) {
	m.messagesRouted.WithLabelValues(vector, status).Inc()
}

func (m *brokerMetrics) DynamicUIDAssigned() {
	m.dynamicUIDsAssigned.Inc()
}

func (m *brokerMetrics) ClientListFragmentsSent(n int) {
	m.clientListFragments.Add(float64(n))
}

type llrpMetrics struct {
	discoveryRounds prometheus.Counter
	devicesFound    prometheus.Counter
	devicesMissed   prometheus.Counter
}

func newLLRPMetrics() metrics.LLRPMetrics {
	reg := metrics.GetRegistry()
	return &llrpMetrics{
		discoveryRounds: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rdmnet_llrp_discovery_rounds_total",
			Help: "Total LLRP discovery rounds initiated by a manager.",
		}),
		devicesFound: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rdmnet_llrp_devices_found_total",
			Help: "Total LLRP probe replies received.",
		}),
		devicesMissed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rdmnet_llrp_devices_missed_total",
			Help: "Total LLRP probe addresses that timed out unanswered.",
		}),
	}
}

func (m *llrpMetrics) DiscoveryRoundStarted() {
	m.discoveryRounds.Inc()
}

func (m *llrpMetrics) DeviceProbed(found bool) {
	if found {
		m.devicesFound.Inc()
		return
	}
	m.devicesMissed.Inc()
}
