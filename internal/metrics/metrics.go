// Package metrics defines the broker's counters and the registry they
// publish through, in the interface-plus-registered-constructor shape
// dittofs's own cache metrics used: callers ask for a BrokerMetrics and
// get either a live Prometheus-backed implementation or nil. A nil value
// has no methods to call, so call sites check for nil before recording
// (pkg/broker does so at each one).
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	registry = prometheus.NewRegistry()
)

// InitRegistry turns metrics collection on for the process. Until this is
// called, every constructor in this package returns nil.
func InitRegistry() {
	enabled.Store(true)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the process-wide registry every metric is
// registered against. internal/httpapi exposes it at /metrics.
func GetRegistry() *prometheus.Registry {
	return registry
}

// BrokerMetrics is the interface pkg/broker records through. Calling a
// method on a nil BrokerMetrics panics; callers check for nil first.
type BrokerMetrics interface {
	ClientConnected(protocol string)
	ClientDisconnected(protocol string)
	MessageRouted(vector string, status string)
	DynamicUIDAssigned()
	ClientListFragmentsSent(n int)
}

// newBrokerMetrics is filled in by internal/metrics/prometheus's init,
// the same indirection dittofs used to let the concrete implementation
// depend on this package without this package depending back on it.
var newBrokerMetrics func() BrokerMetrics

// RegisterBrokerMetricsConstructor is called by
// internal/metrics/prometheus's package init to install the concrete
// constructor.
func RegisterBrokerMetricsConstructor(ctor func() BrokerMetrics) {
	newBrokerMetrics = ctor
}

// NewBrokerMetrics returns a Prometheus-backed BrokerMetrics, or nil if
// metrics are not enabled or no implementation has registered itself.
func NewBrokerMetrics() BrokerMetrics {
	if !IsEnabled() || newBrokerMetrics == nil {
		return nil
	}
	return newBrokerMetrics()
}

// LLRPMetrics is the interface pkg/llrp/manager records through.
type LLRPMetrics interface {
	DiscoveryRoundStarted()
	DeviceProbed(found bool)
}

var newLLRPMetrics func() LLRPMetrics

// RegisterLLRPMetricsConstructor is called by
// internal/metrics/prometheus's package init.
func RegisterLLRPMetricsConstructor(ctor func() LLRPMetrics) {
	newLLRPMetrics = ctor
}

// NewLLRPMetrics returns a Prometheus-backed LLRPMetrics, or nil if
// metrics are not enabled or no implementation has registered itself.
func NewLLRPMetrics() LLRPMetrics {
	if !IsEnabled() || newLLRPMetrics == nil {
		return nil
	}
	return newLLRPMetrics()
}
