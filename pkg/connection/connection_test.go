package connection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/broker"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// newHarness builds a Connection already attached to one end of an
// in-memory pipe, with the other end (fakeBroker) available for the test
// to write replies into and read the client's outbound frames from.
func newHarness(t *testing.T, cbs Callbacks) (*Connection, net.Conn) {
	t.Helper()
	clientSide, brokerSide := net.Pipe()

	connectMsg := &broker.BrokerConnectMsg{
		Scope:       "default",
		E133Version: 1,
		Client: broker.ClientEntry{
			CID:           cid.New(),
			Protocol:      broker.ClientProtocolRPT,
			UID:           rdmuid.UID{Manufacturer: 0x1234, Device: 1},
			RPTClientType: broker.RPTClientTypeController,
		},
	}

	c := New(1, Config{
		LocalCID:   cid.New(),
		RemoteAddr: "broker.example:8888",
		ConnectMsg: connectMsg,
	}, cbs)

	// AttachSocket writes the connect request synchronously, and
	// net.Pipe's Write blocks until a matching Read drains it; drain it
	// on a background goroutine so AttachSocket itself doesn't hang.
	drained := make(chan int, 1)
	go func() {
		buf := make([]byte, 4096)
		brokerSide.SetReadDeadline(time.Now().Add(time.Second))
		n, _ := brokerSide.Read(buf)
		drained <- n
	}()

	now := time.Now()
	require.NoError(t, c.AttachSocket(now, clientSide))
	require.Equal(t, RDMnetConnPending, c.State())
	require.Greater(t, <-drained, 0)

	return c, brokerSide
}

// writeConnectReply writes from a background goroutine: net.Pipe's Write
// blocks until a matching Read drains it, and every caller here reads
// the other end sequentially afterward in the same goroutine.
func writeConnectReply(t *testing.T, conn net.Conn, localCID cid.CID, status uint16) {
	t.Helper()
	reply := &broker.BrokerConnectReplyMsg{
		Status:      status,
		E133Version: 1,
		BrokerCID:   cid.New(),
		ClientUID:   rdmuid.UID{Manufacturer: 0x4321, Device: 2},
	}
	payload, err := broker.Pack(reply)
	require.NoError(t, err)
	msg := acn.WriteMessage(acn.VectorRootBroker, localCID, payload)
	go func() { _, _ = conn.Write(msg) }()
}

func TestHandshakeSuccessEntersHeartbeat(t *testing.T) {
	var connected *broker.BrokerConnectReplyMsg
	done := make(chan struct{})
	cbs := Callbacks{
		OnConnected: func(h Handle, reply *broker.BrokerConnectReplyMsg) {
			connected = reply
			close(done)
		},
	}
	c, brokerSide := newHarness(t, cbs)
	defer brokerSide.Close()

	writeConnectReply(t, brokerSide, cid.New(), broker.ConnectStatusOK)

	now := time.Now()
	c.Feed(readAvailable(t, c.Socket()))
	c.Poll(now)
	require.Equal(t, Heartbeat, c.State())
	<-done
	require.NotNil(t, connected)
	assert.Equal(t, broker.ConnectStatusOK, connected.Status)
}

func TestHandshakeRejectionEntersBackoff(t *testing.T) {
	var gotKind DisconnectEventKind
	var gotStatus uint16
	done := make(chan struct{})
	cbs := Callbacks{
		OnDisconnected: func(h Handle, kind DisconnectEventKind, brokerReason *uint16) {
			gotKind = kind
			if brokerReason != nil {
				gotStatus = *brokerReason
			}
			close(done)
		},
	}
	c, brokerSide := newHarness(t, cbs)
	defer brokerSide.Close()

	writeConnectReply(t, brokerSide, cid.New(), broker.ConnectStatusCapacityExhausted)

	now := time.Now()
	c.Feed(readAvailable(t, c.Socket()))
	c.Poll(now)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnDisconnected")
	}
	assert.Equal(t, DisconnectRejected, gotKind)
	assert.Equal(t, broker.ConnectStatusCapacityExhausted, gotStatus)
	assert.Equal(t, Backoff, c.State())
}

func TestHeartbeatTimeoutLeavesHeartbeatAfterExactlyTwoIntervals(t *testing.T) {
	done := make(chan DisconnectEventKind, 1)
	cbs := Callbacks{
		OnDisconnected: func(h Handle, kind DisconnectEventKind, brokerReason *uint16) {
			done <- kind
		},
	}
	c, brokerSide := newHarness(t, cbs)
	defer brokerSide.Close()

	localCID := cid.New()
	writeConnectReply(t, brokerSide, localCID, broker.ConnectStatusOK)

	start := time.Now()
	c.Feed(readAvailable(t, c.Socket()))
	c.Poll(start)
	require.Equal(t, Heartbeat, c.State())

	// Drain broker-side reads in the background so the client's periodic
	// NULL heartbeat sends never block on a full pipe.
	stop := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			brokerSide.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			if _, err := brokerSide.Read(buf); err != nil {
				select {
				case <-stop:
					return
				default:
					continue
				}
			}
		}
	}()
	defer close(stop)

	// Before the heartbeat timeout (2x the interval), the connection must
	// still be alive.
	almostTimedOut := start.Add(DefaultHeartbeatTimeout - time.Millisecond)
	c.Tick(almostTimedOut)
	assert.Equal(t, Heartbeat, c.State())

	// At exactly the timeout, the connection must leave Heartbeat.
	timedOut := start.Add(DefaultHeartbeatTimeout)
	c.Tick(timedOut)

	select {
	case kind := <-done:
		assert.Equal(t, DisconnectHeartbeatTimeout, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnDisconnected")
	}
	assert.NotEqual(t, Heartbeat, c.State())
}

func TestBackoffDoublesAndCapsAtMax(t *testing.T) {
	c := New(1, Config{
		LocalCID:       cid.New(),
		RemoteAddr:     "broker.example:8888",
		ConnectMsg:     &broker.BrokerConnectMsg{},
		BackoffInitial: 1 * time.Second,
		BackoffMax:     4 * time.Second,
	}, Callbacks{})

	now := time.Now()
	require.NoError(t, c.Connect(now))
	assert.Equal(t, 1*time.Second, c.backoffCurrent)

	c.mu.Lock()
	c.enterBackoffLocked(now)
	assert.Equal(t, 2*time.Second, c.backoffCurrent)
	c.enterBackoffLocked(now)
	assert.Equal(t, 4*time.Second, c.backoffCurrent)
	c.enterBackoffLocked(now)
	assert.Equal(t, 4*time.Second, c.backoffCurrent)
	c.mu.Unlock()
}

// readAvailable does a single best-effort non-blocking-ish read: it sets a
// short deadline so tests don't hang if the peer wrote nothing yet.
func readAvailable(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	n, err := conn.Read(buf)
	if err != nil {
		return nil
	}
	return buf[:n]
}
