// Package discovery implements the broker-discovery contract: scope
// monitoring, broker self-registration, de-duplication across
// multi-interface responses, and the CID-based conflict election used
// when two brokers try to register the same scope. The underlying
// mDNS/DNS-SD mechanism is abstracted behind Responder; no platform
// Bonjour/Avahi bindings live here, mirroring how the original library
// keeps the mockable contract separate from its platform shims. Grounded
// on pkg/metadata/lock/grace.go's timer-plus-callback shape for the
// registration conflict-detection window.
package discovery

import (
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// ServiceType is the DNS-SD service type every broker registers under.
const ServiceType = "_rdmnet-broker._tcp"

// BrokerRegQueryTimeout is BROKER_REG_QUERY_TIMEOUT: how long a
// self-registering broker also monitors its own scope to detect a
// pre-existing conflicting broker before declaring itself registered.
const BrokerRegQueryTimeout = 3000 * time.Millisecond

// TXT keys carried on every broker's DNS-SD record.
const (
	TxtKeyTxtVers = "TxtVers"
	TxtKeyScope   = "E133Scope"
	TxtKeyVersion = "E133Vers"
	TxtKeyCID     = "CID"
	TxtKeyUID     = "UID"
	TxtKeyModel   = "Model"
	TxtKeyManuf   = "Manuf"
)

// DiscoveredBroker is a broker record surfaced by scope monitoring.
type DiscoveredBroker struct {
	ServiceInstanceName string
	CID                 cid.CID
	Scope               string
	Port                uint16
	ListenAddrs         []string
	Model               string
	Manufacturer        string
	AdditionalTxtItems  map[string]string
}

// key identifies a discovered broker uniquely within a scope, for
// deduplicating multi-interface responses describing the same broker.
func (b DiscoveredBroker) key() cid.CID { return b.CID }

// MonitorCallbacks is the event set a scope monitor invokes.
type MonitorCallbacks struct {
	OnBrokerFound   func(b DiscoveredBroker)
	OnBrokerUpdated func(b DiscoveredBroker)
	OnBrokerLost    func(serviceInstanceName string, c cid.CID)
}

// MonitorConfig configures a scope monitor.
type MonitorConfig struct {
	Scope     string
	Domain    string
	Callbacks MonitorCallbacks
}

// RegisterCallbacks is the event set a broker self-registration invokes.
type RegisterCallbacks struct {
	OnBrokerRegistered func(assignedServiceName string)
	OnOtherBrokerFound func(other DiscoveredBroker)
}

// RegisterConfig configures a broker's self-registration.
type RegisterConfig struct {
	CID                 cid.CID
	UID                 rdmuid.UID
	ServiceInstanceName string
	Port                uint16
	NetworkInterfaces   []string
	Scope               string
	Model               string
	Manufacturer        string
	AdditionalTxtItems  map[string]string
	Callbacks           RegisterCallbacks
}

// Responder is the underlying mDNS/DNS-SD mechanism the adapter drives.
// A real implementation wraps a platform responder (Bonjour, Avahi, a
// pure-Go mDNS client); this package ships none, since registering and
// browsing DNS-SD records over raw multicast is explicitly a
// platform-adapter concern, not the protocol logic in front of it.
type Responder interface {
	Browse(serviceType, domain string, onRecord func(instance string, txt map[string]string, addrs []string, port uint16)) (stop func(), err error)
	Publish(serviceType, instance string, txt map[string]string, port uint16) (unpublish func(), err error)
}

// monitorHandle tracks one active scope subscription for deduplication.
type monitorHandle struct {
	cfg  MonitorConfig
	seen map[cid.CID]DiscoveredBroker
	stop func()
}

// Adapter is the discovery core. There is no package-level instance:
// callers construct one with New, explicitly passing the Responder they
// want driven, the way internal/runtime.Runtime avoids a hidden global.
type Adapter struct {
	mu        sync.Mutex
	responder Responder
	monitors  map[string]*monitorHandle
}

// New constructs an Adapter bound to responder.
func New(responder Responder) *Adapter {
	return &Adapter{responder: responder, monitors: make(map[string]*monitorHandle)}
}

// ShouldDeregister implements the broker-election "byte-wise greater CID
// loses" rule: true means self must deregister in favor of other.
func ShouldDeregister(self, other cid.CID) bool {
	return cid.Compare(self, other) > 0
}

// parseBrokerRecord extracts a DiscoveredBroker from a raw TXT record,
// filtering on the E133Scope key so a monitor only surfaces brokers on
// its configured scope.
func parseBrokerRecord(instance string, txt map[string]string, addrs []string, port uint16, wantScope string) (DiscoveredBroker, bool) {
	scope := txt[TxtKeyScope]
	if scope != wantScope {
		return DiscoveredBroker{}, false
	}
	c, err := cid.Parse(txt[TxtKeyCID])
	if err != nil {
		return DiscoveredBroker{}, false
	}
	additional := make(map[string]string)
	for k, v := range txt {
		switch k {
		case TxtKeyTxtVers, TxtKeyScope, TxtKeyVersion, TxtKeyCID, TxtKeyUID, TxtKeyModel, TxtKeyManuf:
		default:
			additional[k] = v
		}
	}
	return DiscoveredBroker{
		ServiceInstanceName: instance,
		CID:                 c,
		Scope:               scope,
		Port:                port,
		ListenAddrs:         addrs,
		Model:               txt[TxtKeyModel],
		Manufacturer:        txt[TxtKeyManuf],
		AdditionalTxtItems:  additional,
	}, true
}

// Monitor subscribes to the given scope, deduplicating broker updates
// that arrive from more than one network interface.
func (a *Adapter) Monitor(cfg MonitorConfig) (stop func(), err error) {
	h := &monitorHandle{cfg: cfg, seen: make(map[cid.CID]DiscoveredBroker)}

	stopBrowse, err := a.responder.Browse(ServiceType, cfg.Domain, func(instance string, txt map[string]string, addrs []string, port uint16) {
		broker, ok := parseBrokerRecord(instance, txt, addrs, port, cfg.Scope)
		if !ok {
			return
		}
		a.mu.Lock()
		prev, existed := h.seen[broker.key()]
		h.seen[broker.key()] = broker
		a.mu.Unlock()

		switch {
		case !existed:
			if cfg.Callbacks.OnBrokerFound != nil {
				cfg.Callbacks.OnBrokerFound(broker)
			}
		case !sameBroker(prev, broker):
			if cfg.Callbacks.OnBrokerUpdated != nil {
				cfg.Callbacks.OnBrokerUpdated(broker)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	h.stop = stopBrowse

	a.mu.Lock()
	a.monitors[cfg.Scope] = h
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.monitors, cfg.Scope)
		a.mu.Unlock()
		stopBrowse()
	}, nil
}

func sameBroker(a, b DiscoveredBroker) bool {
	if a.Port != b.Port || len(a.ListenAddrs) != len(b.ListenAddrs) {
		return false
	}
	for i := range a.ListenAddrs {
		if a.ListenAddrs[i] != b.ListenAddrs[i] {
			return false
		}
	}
	return true
}

// buildTXT assembles the TXT record map a broker publishes.
func buildTXT(cfg RegisterConfig) map[string]string {
	txt := map[string]string{
		TxtKeyTxtVers: "1",
		TxtKeyScope:   cfg.Scope,
		TxtKeyVersion: "1",
		TxtKeyCID:     cfg.CID.String(),
		TxtKeyUID:     cfg.UID.String(),
		TxtKeyModel:   cfg.Model,
		TxtKeyManuf:   cfg.Manufacturer,
	}
	for k, v := range cfg.AdditionalTxtItems {
		txt[k] = v
	}
	return txt
}

// Register publishes cfg's broker service and, for BrokerRegQueryTimeout,
// concurrently monitors the same scope for a conflicting pre-existing
// broker. now is the registration start time; after is injected so
// tests can avoid a real wall-clock wait (production callers pass
// time.After).
func (a *Adapter) Register(cfg RegisterConfig, now time.Time, after func(d time.Duration) <-chan time.Time) (unregister func(), err error) {
	txt := buildTXT(cfg)
	unpublish, err := a.responder.Publish(ServiceType, cfg.ServiceInstanceName, txt, cfg.Port)
	if err != nil {
		return nil, err
	}

	conflict := make(chan DiscoveredBroker, 1)
	stopMonitor, err := a.Monitor(MonitorConfig{
		Scope: cfg.Scope,
		Callbacks: MonitorCallbacks{
			OnBrokerFound: func(b DiscoveredBroker) {
				if b.CID != cfg.CID {
					select {
					case conflict <- b:
					default:
					}
				}
			},
		},
	})
	if err != nil {
		unpublish()
		return nil, err
	}

	go func() {
		select {
		case other := <-conflict:
			if ShouldDeregister(cfg.CID, other.CID) {
				logger.Debug("discovery: conflicting broker found, deregistering",
					"self", cfg.CID.String(), "other", other.CID.String())
				stopMonitor()
				unpublish()
				if cfg.Callbacks.OnOtherBrokerFound != nil {
					cfg.Callbacks.OnOtherBrokerFound(other)
				}
				return
			}
		case <-after(BrokerRegQueryTimeout):
			stopMonitor()
			if cfg.Callbacks.OnBrokerRegistered != nil {
				cfg.Callbacks.OnBrokerRegistered(cfg.ServiceInstanceName)
			}
		}
	}()

	return unpublish, nil
}
