package broker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	brokerproto "github.com/rdmnet-go/rdmnet/pkg/proto/broker"
	"github.com/rdmnet-go/rdmnet/pkg/proto/ept"
	"github.com/rdmnet-go/rdmnet/pkg/proto/rpt"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

func testBroker() *Broker {
	return New(Config{
		CID:            cid.New(),
		Scope:          "default",
		E133Version:    1,
		ConnectTimeout: time.Second,
	})
}

// readAvailable does a single best-effort read with a short deadline, the
// same shortcut pkg/connection and pkg/client's own tests use.
func readAvailable(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 8192)
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err := conn.Read(buf)
	if err != nil {
		return nil
	}
	return buf[:n]
}

func writeMessage(t *testing.T, conn net.Conn, vector uint32, sender cid.CID, payload []byte) {
	t.Helper()
	msg := acn.WriteMessage(vector, sender, payload)
	go func() { _, _ = conn.Write(msg) }()
}

// connectEntry builds a connect request's ClientEntry for an RPT client.
func connectEntry(c cid.CID, uid rdmuid.UID, kind brokerproto.RPTClientType) brokerproto.ClientEntry {
	return brokerproto.ClientEntry{
		CID:           c,
		Protocol:      brokerproto.ClientProtocolRPT,
		UID:           uid,
		RPTClientType: kind,
	}
}

// dialAndConnect runs a full client_connect handshake against b over an
// in-memory pipe, driving ServeConn on a background goroutine (ServeConn
// blocks for the connection's whole lifetime), and returns the client's
// end of the pipe plus the broker's connect-reply.
func dialAndConnect(t *testing.T, b *Broker, entry brokerproto.ClientEntry, scope string) (net.Conn, *brokerproto.BrokerConnectReplyMsg) {
	t.Helper()
	clientSide, brokerSide := net.Pipe()
	go b.ServeConn(brokerSide)

	payload, err := brokerproto.Pack(&brokerproto.BrokerConnectMsg{
		Scope:       scope,
		E133Version: 1,
		Client:      entry,
	})
	require.NoError(t, err)

	replyCh := make(chan []byte, 1)
	go func() { replyCh <- readAvailable(t, clientSide) }()
	writeMessage(t, clientSide, acn.VectorRootBroker, entry.CID, payload)

	raw := <-replyCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, acn.VectorRootBroker, pdu.Vector)
	msg, _, err := brokerproto.Decode(pdu.Payload)
	require.NoError(t, err)
	reply, ok := msg.(*brokerproto.BrokerConnectReplyMsg)
	require.True(t, ok)
	return clientSide, reply
}

func TestConnectAssignsDynamicUIDAndAddsClient(t *testing.T) {
	b := testBroker()
	entry := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 0x4242, Device: 0}, brokerproto.RPTClientTypeDevice)

	conn, reply := dialAndConnect(t, b, entry, "default")
	defer conn.Close()

	assert.Equal(t, brokerproto.ConnectStatusOK, reply.Status)
	assert.False(t, reply.ClientUID.IsDynamicRequest())
	assert.Equal(t, uint16(0x4242), reply.ClientUID.Manufacturer)
	assert.Equal(t, 1, b.ClientCount("default"))
}

func TestConnectScopeMismatchRejected(t *testing.T) {
	b := testBroker()
	entry := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 1, Device: 1}, brokerproto.RPTClientTypeDevice)

	conn, reply := dialAndConnect(t, b, entry, "wrong-scope")
	defer conn.Close()

	assert.Equal(t, brokerproto.ConnectStatusScopeMismatch, reply.Status)
	assert.Equal(t, 0, b.ClientCount("default"))
}

func TestDuplicateCIDEvictsOlderConnection(t *testing.T) {
	b := testBroker()
	same := cid.New()
	entry1 := connectEntry(same, rdmuid.UID{Manufacturer: 1, Device: 1}, brokerproto.RPTClientTypeController)

	conn1, reply1 := dialAndConnect(t, b, entry1, "default")
	defer conn1.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, reply1.Status)

	// Reading the disconnect the evicted connection receives happens on a
	// background goroutine: the broker writes it, then closes conn1's
	// peer, concurrently with the second connect below.
	disconnectCh := make(chan []byte, 1)
	go func() { disconnectCh <- readAvailable(t, conn1) }()

	entry2 := connectEntry(same, rdmuid.UID{Manufacturer: 1, Device: 2}, brokerproto.RPTClientTypeController)
	conn2, reply2 := dialAndConnect(t, b, entry2, "default")
	defer conn2.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, reply2.Status)

	raw := <-disconnectCh
	if raw != nil {
		pdu, err := acn.ParseMessage(raw)
		if err == nil {
			msg, _, err := brokerproto.Decode(pdu.Payload)
			if err == nil {
				if d, ok := msg.(*brokerproto.BrokerDisconnectMsg); ok {
					assert.Equal(t, brokerproto.DisconnectReasonDuplicateCid, d.Reason)
				}
			}
		}
	}
	assert.Equal(t, 1, b.ClientCount("default"))
}

func TestRPTRequestRoutesToKnownDevice(t *testing.T) {
	b := testBroker()
	deviceUID := rdmuid.UID{Manufacturer: 0x1111, Device: 10}
	deviceEntry := connectEntry(cid.New(), deviceUID, brokerproto.RPTClientTypeDevice)
	deviceConn, deviceReply := dialAndConnect(t, b, deviceEntry, "default")
	defer deviceConn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, deviceReply.Status)

	controllerUID := rdmuid.UID{Manufacturer: 0x2222, Device: 1}
	controllerEntry := connectEntry(cid.New(), controllerUID, brokerproto.RPTClientTypeController)
	controllerConn, controllerReply := dialAndConnect(t, b, controllerEntry, "default")
	defer controllerConn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, controllerReply.Status)

	payload, err := rpt.Pack(&rpt.RequestMsg{
		Header:   rpt.Header{SourceUID: controllerUID, DestUID: deviceUID, SeqNum: 1},
		Commands: []rpt.RDMCommand{{Data: []byte{0x01, 0x02}}},
	})
	require.NoError(t, err)

	fwdCh := make(chan []byte, 1)
	go func() { fwdCh <- readAvailable(t, deviceConn) }()
	writeMessage(t, controllerConn, acn.VectorRootRPT, controllerEntry.CID, payload)

	raw := <-fwdCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, acn.VectorRootRPT, pdu.Vector)
	msg, _, err := rpt.Decode(pdu.Payload)
	require.NoError(t, err)
	req, ok := msg.(*rpt.RequestMsg)
	require.True(t, ok)
	assert.Equal(t, deviceUID, req.Header.DestUID)
	assert.Equal(t, []byte{0x01, 0x02}, req.Commands[0].Data)
}

func TestRPTRequestUnknownUIDGetsStatus(t *testing.T) {
	b := testBroker()
	controllerUID := rdmuid.UID{Manufacturer: 0x2222, Device: 1}
	controllerEntry := connectEntry(cid.New(), controllerUID, brokerproto.RPTClientTypeController)
	controllerConn, reply := dialAndConnect(t, b, controllerEntry, "default")
	defer controllerConn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, reply.Status)

	unknown := rdmuid.UID{Manufacturer: 0x9999, Device: 99}
	payload, err := rpt.Pack(&rpt.RequestMsg{
		Header:   rpt.Header{SourceUID: controllerUID, DestUID: unknown, SeqNum: 5},
		Commands: []rpt.RDMCommand{{Data: []byte{0xAA}}},
	})
	require.NoError(t, err)

	statusCh := make(chan []byte, 1)
	go func() { statusCh <- readAvailable(t, controllerConn) }()
	writeMessage(t, controllerConn, acn.VectorRootRPT, controllerEntry.CID, payload)

	raw := <-statusCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	msg, _, err := rpt.Decode(pdu.Payload)
	require.NoError(t, err)
	status, ok := msg.(*rpt.StatusMsg)
	require.True(t, ok)
	assert.Equal(t, rpt.StatusUnknownRDMUID, status.StatusCode)
	assert.Equal(t, uint32(5), status.Header.SeqNum)
}

func TestRPTNotificationBroadcastReachesAllControllers(t *testing.T) {
	b := testBroker()
	deviceUID := rdmuid.UID{Manufacturer: 0x3333, Device: 1}
	deviceEntry := connectEntry(cid.New(), deviceUID, brokerproto.RPTClientTypeDevice)
	deviceConn, deviceReply := dialAndConnect(t, b, deviceEntry, "default")
	defer deviceConn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, deviceReply.Status)

	ctrl1Entry := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 0x4444, Device: 1}, brokerproto.RPTClientTypeController)
	ctrl1Conn, ctrl1Reply := dialAndConnect(t, b, ctrl1Entry, "default")
	defer ctrl1Conn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, ctrl1Reply.Status)

	ctrl2Entry := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 0x4444, Device: 2}, brokerproto.RPTClientTypeController)
	ctrl2Conn, ctrl2Reply := dialAndConnect(t, b, ctrl2Entry, "default")
	defer ctrl2Conn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, ctrl2Reply.Status)

	payload, err := rpt.Pack(&rpt.NotificationMsg{
		Header:   rpt.Header{SourceUID: deviceUID, DestUID: rdmuid.Broadcast},
		Commands: []rpt.RDMCommand{{Data: []byte{0x01}}},
	})
	require.NoError(t, err)

	ch1 := make(chan []byte, 1)
	ch2 := make(chan []byte, 1)
	go func() { ch1 <- readAvailable(t, ctrl1Conn) }()
	go func() { ch2 <- readAvailable(t, ctrl2Conn) }()
	writeMessage(t, deviceConn, acn.VectorRootRPT, deviceEntry.CID, payload)

	assert.NotEmpty(t, <-ch1)
	assert.NotEmpty(t, <-ch2)
}

func TestEPTDataForwardsByDestCID(t *testing.T) {
	b := testBroker()
	aEntry := brokerproto.ClientEntry{CID: cid.New(), Protocol: brokerproto.ClientProtocolEPT}
	aConn, aReply := dialAndConnect(t, b, aEntry, "default")
	defer aConn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, aReply.Status)

	bEntry := brokerproto.ClientEntry{CID: cid.New(), Protocol: brokerproto.ClientProtocolEPT}
	bConn, bReply := dialAndConnect(t, b, bEntry, "default")
	defer bConn.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, bReply.Status)

	payload, err := ept.Pack(&ept.DataMsg{DestCID: bEntry.CID, SubProtocolVec: 7, Data: []byte{0x55}})
	require.NoError(t, err)

	fwdCh := make(chan []byte, 1)
	go func() { fwdCh <- readAvailable(t, bConn) }()
	writeMessage(t, aConn, acn.VectorRootEPT, aEntry.CID, payload)

	raw := <-fwdCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	msg, _, err := ept.Decode(pdu.Payload)
	require.NoError(t, err)
	data, ok := msg.(*ept.DataMsg)
	require.True(t, ok)
	assert.Equal(t, []byte{0x55}, data.Data)
}

func TestFetchClientListReturnsEveryScopeMember(t *testing.T) {
	b := testBroker()
	e1 := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 1, Device: 1}, brokerproto.RPTClientTypeDevice)
	c1, r1 := dialAndConnect(t, b, e1, "default")
	defer c1.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, r1.Status)

	e2 := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 1, Device: 2}, brokerproto.RPTClientTypeController)
	c2, r2 := dialAndConnect(t, b, e2, "default")
	defer c2.Close()
	require.Equal(t, brokerproto.ConnectStatusOK, r2.Status)

	fetchPayload, err := brokerproto.Pack(&brokerproto.FetchClientListMsg{})
	require.NoError(t, err)

	listCh := make(chan []byte, 1)
	go func() { listCh <- readAvailable(t, c2) }()
	writeMessage(t, c2, acn.VectorRootBroker, e2.CID, fetchPayload)

	raw := <-listCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	msg, _, err := brokerproto.Decode(pdu.Payload)
	require.NoError(t, err)
	list, ok := msg.(*brokerproto.ClientListMsg)
	require.True(t, ok)
	assert.False(t, list.MoreComing)
	assert.Len(t, list.Clients, 2)
}

func TestUIDBijectionHoldsAcrossAddRemove(t *testing.T) {
	b := testBroker()
	entry := connectEntry(cid.New(), rdmuid.UID{Manufacturer: 9, Device: 1}, brokerproto.RPTClientTypeDevice)
	conn, reply := dialAndConnect(t, b, entry, "default")
	require.Equal(t, brokerproto.ConnectStatusOK, reply.Status)

	h, ok := b.LookupHandle(reply.ClientUID)
	require.True(t, ok)
	uid, ok := b.LookupUID(h)
	require.True(t, ok)
	assert.Equal(t, reply.ClientUID, uid)

	conn.Close()
	require.Eventually(t, func() bool {
		_, stillThere := b.LookupHandle(reply.ClientUID)
		return !stillThere
	}, time.Second, 10*time.Millisecond)

	_, ok = b.LookupUID(h)
	assert.False(t, ok)
}

func TestDynamicUIDWrapSkipsReservedZeroAndCollisions(t *testing.T) {
	b := testBroker()
	b.uidCursor = 0xFFFFFFFF
	reserved := cid.New()
	b.dynamicByRequester[reserved] = rdmuid.UID{Manufacturer: 0x1234, Device: 1}
	b.uidToHandle[(rdmuid.UID{Manufacturer: 0x1234, Device: 1}).AsUint64()] = 1

	requester := cid.New()
	b.mu.Lock()
	got := b.assignDynamicLocked(0x1234, requester)
	b.mu.Unlock()

	assert.Equal(t, rdmuid.UID{Manufacturer: 0x1234, Device: 2}, got)
}

func TestAddStaticUIDReusableAfterDisconnect(t *testing.T) {
	b := testBroker()
	staticUID := rdmuid.UID{Manufacturer: 0x5555, Device: 77}

	entry1 := connectEntry(cid.New(), staticUID, brokerproto.RPTClientTypeDevice)
	conn1, reply1 := dialAndConnect(t, b, entry1, "default")
	require.Equal(t, brokerproto.ConnectStatusOK, reply1.Status)

	conn1.Close()
	require.Eventually(t, func() bool {
		return b.ClientCount("default") == 0
	}, time.Second, 10*time.Millisecond)

	entry2 := connectEntry(cid.New(), staticUID, brokerproto.RPTClientTypeDevice)
	conn2, reply2 := dialAndConnect(t, b, entry2, "default")
	defer conn2.Close()
	assert.Equal(t, brokerproto.ConnectStatusOK, reply2.Status)
}
