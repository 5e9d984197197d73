package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
)

type fakeResponder struct {
	onRecord func(instance string, txt map[string]string, addrs []string, port uint16)
	published []publishedService
}

type publishedService struct {
	instance string
	txt      map[string]string
	port     uint16
}

func (f *fakeResponder) Browse(serviceType, domain string, onRecord func(instance string, txt map[string]string, addrs []string, port uint16)) (func(), error) {
	f.onRecord = onRecord
	return func() {}, nil
}

func (f *fakeResponder) Publish(serviceType, instance string, txt map[string]string, port uint16) (func(), error) {
	f.published = append(f.published, publishedService{instance: instance, txt: txt, port: port})
	return func() {}, nil
}

func TestShouldDeregisterHigherCIDLoses(t *testing.T) {
	low := cid.Must("00000000-0000-0000-0000-000000000001")
	high := cid.Must("ffffffff-0000-0000-0000-000000000001")
	assert.True(t, ShouldDeregister(high, low))
	assert.False(t, ShouldDeregister(low, high))
}

func TestMonitorFiltersByScopeAndDedupes(t *testing.T) {
	responder := &fakeResponder{}
	a := New(responder)

	var found, updated int
	_, err := a.Monitor(MonitorConfig{
		Scope: "default",
		Callbacks: MonitorCallbacks{
			OnBrokerFound:   func(b DiscoveredBroker) { found++ },
			OnBrokerUpdated: func(b DiscoveredBroker) { updated++ },
		},
	})
	require.NoError(t, err)

	brokerCID := cid.New()
	txt := map[string]string{TxtKeyScope: "default", TxtKeyCID: brokerCID.String()}

	// Two interfaces reporting the identical record: one found, no update.
	responder.onRecord("broker-1", txt, []string{"10.0.0.1"}, 8888)
	responder.onRecord("broker-1", txt, []string{"10.0.0.1"}, 8888)
	assert.Equal(t, 1, found)
	assert.Equal(t, 0, updated)

	// Wrong scope is filtered entirely.
	otherScopeTxt := map[string]string{TxtKeyScope: "other", TxtKeyCID: cid.New().String()}
	responder.onRecord("broker-2", otherScopeTxt, []string{"10.0.0.2"}, 8888)
	assert.Equal(t, 1, found)

	// A genuinely changed address is an update.
	responder.onRecord("broker-1", txt, []string{"10.0.0.1", "10.0.0.99"}, 8888)
	assert.Equal(t, 1, updated)
}

func TestRegisterSucceedsWithoutConflictAfterTimeout(t *testing.T) {
	responder := &fakeResponder{}
	a := New(responder)

	registered := make(chan string, 1)
	fired := make(chan time.Time, 1)
	after := func(d time.Duration) <-chan time.Time {
		assert.Equal(t, BrokerRegQueryTimeout, d)
		fired <- time.Now()
		return fired
	}

	_, err := a.Register(RegisterConfig{
		CID:                 cid.New(),
		ServiceInstanceName: "My Broker",
		Port:                8888,
		Scope:               "default",
		Callbacks: RegisterCallbacks{
			OnBrokerRegistered: func(name string) { registered <- name },
		},
	}, time.Now(), after)
	require.NoError(t, err)
	require.Len(t, responder.published, 1)

	select {
	case name := <-registered:
		assert.Equal(t, "My Broker", name)
	case <-time.After(time.Second):
		t.Fatal("OnBrokerRegistered never fired")
	}
}

func TestRegisterDeregistersOnHigherCIDConflict(t *testing.T) {
	responder := &fakeResponder{}
	a := New(responder)

	selfCID := cid.Must("ffffffff-0000-0000-0000-000000000001")
	otherCID := cid.Must("00000000-0000-0000-0000-000000000001")

	otherFound := make(chan DiscoveredBroker, 1)
	never := make(chan time.Time)
	after := func(d time.Duration) <-chan time.Time { return never }

	_, err := a.Register(RegisterConfig{
		CID:                 selfCID,
		ServiceInstanceName: "My Broker",
		Scope:               "default",
		Callbacks: RegisterCallbacks{
			OnOtherBrokerFound: func(other DiscoveredBroker) { otherFound <- other },
		},
	}, time.Now(), after)
	require.NoError(t, err)

	responder.onRecord("other-broker", map[string]string{
		TxtKeyScope: "default",
		TxtKeyCID:   otherCID.String(),
	}, []string{"10.0.0.5"}, 8888)

	select {
	case other := <-otherFound:
		assert.Equal(t, otherCID, other.CID)
	case <-time.After(time.Second):
		t.Fatal("OnOtherBrokerFound never fired")
	}
}
