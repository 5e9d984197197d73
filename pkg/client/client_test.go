package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/connection"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/broker"
	"github.com/rdmnet-go/rdmnet/pkg/proto/rpt"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// attachConnector adopts a pre-connected socket instead of dialing, the
// same shortcut pkg/connection's own tests use to avoid a real listener.
type attachConnector struct {
	conn net.Conn
	now  time.Time
}

func (a attachConnector) Start(conn *connection.Connection) error {
	return conn.AttachSocket(a.now, a.conn)
}

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

// writeConnectReply writes from a background goroutine: net.Pipe's Write
// blocks until a matching Read drains it, and every caller here reads
// the other end sequentially afterward in the same goroutine.
func writeConnectReply(t *testing.T, conn net.Conn, senderCID cid.CID, status uint16) {
	t.Helper()
	payload, err := broker.Pack(&broker.BrokerConnectReplyMsg{
		Status:      status,
		E133Version: 1,
		BrokerCID:   senderCID,
		ClientUID:   rdmuid.UID{Manufacturer: 0x4321, Device: 99},
	})
	require.NoError(t, err)
	msg := acn.WriteMessage(acn.VectorRootBroker, senderCID, payload)
	go func() { _, _ = conn.Write(msg) }()
}

// newConnectedClient builds a Client with one already-handshaken scope
// and returns the broker-side pipe end for the test to drive.
func newConnectedClient(t *testing.T, cb Callbacks) (*Client, ScopeHandle, net.Conn) {
	t.Helper()
	clientSide, brokerSide := net.Pipe()

	c := New(cid.New(), rdmuid.UID{Manufacturer: 0x1111, Device: 1}, cb)
	now := time.Now()

	// AddScope's Connector writes the connect request synchronously, and
	// net.Pipe's Write blocks until a matching Read drains it; drain it
	// on a background goroutine so AddScope itself doesn't hang.
	drained := make(chan []byte, 1)
	go func() { drained <- readAvailable(t, brokerSide) }()

	h, err := c.AddScope(ScopeConfig{
		Scope:      "default",
		RemoteAddr: "broker.example:8888",
	}, attachConnector{conn: clientSide, now: now})
	require.NoError(t, err)
	require.NotEmpty(t, <-drained)

	writeConnectReply(t, brokerSide, cid.New(), broker.ConnectStatusOK)
	conn, err := c.scopeConn(h)
	require.NoError(t, err)
	conn.Feed(readAvailable(t, conn.Socket()))
	conn.Poll(now)
	require.Equal(t, connection.Heartbeat, conn.State())

	return c, h, brokerSide
}

func TestAddScopeUnknownScopeOperationsFail(t *testing.T) {
	c := New(cid.New(), rdmuid.UID{Manufacturer: 1, Device: 1}, Callbacks{})
	_, err := c.SendRDMCommand(99, rdmuid.UID{}, 0, []byte{0x01})
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestSendRDMCommandWritesRPTRequest(t *testing.T) {
	c, h, brokerSide := newConnectedClient(t, Callbacks{})
	defer brokerSide.Close()

	destUID := rdmuid.UID{Manufacturer: 0x2222, Device: 5}
	replyCh := make(chan []byte, 1)
	go func() { replyCh <- readAvailable(t, brokerSide) }()
	txn, err := c.SendRDMCommand(h, destUID, 0, []byte{0xCC, 0x01})
	require.NoError(t, err)

	raw := <-replyCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, acn.VectorRootRPT, pdu.Vector)

	msg, _, err := rpt.Decode(pdu.Payload)
	require.NoError(t, err)
	req, ok := msg.(*rpt.RequestMsg)
	require.True(t, ok)
	assert.Equal(t, destUID, req.Header.DestUID)
	assert.Equal(t, txn, req.Header.SeqNum)
	require.Len(t, req.Commands, 1)
	assert.Equal(t, []byte{0xCC, 0x01}, req.Commands[0].Data)
}

func TestInboundRDMCommandSyncAckSendsNotification(t *testing.T) {
	var gotTxn uint32
	c, h, brokerSide := newConnectedClient(t, Callbacks{
		OnRDMCommand: func(_ ScopeHandle, hdr rpt.Header, txn uint32, data []byte) ResponseAction {
			gotTxn = txn
			return ResponseAction{Ack: true, ResponseData: [][]byte{{0xAA}}}
		},
	})
	defer brokerSide.Close()

	sourceUID := rdmuid.UID{Manufacturer: 0x3333, Device: 7}
	payload, err := rpt.Pack(&rpt.RequestMsg{
		Header:   rpt.Header{SourceUID: sourceUID, DestUID: rdmuid.UID{Manufacturer: 0x1111, Device: 1}, SeqNum: 42},
		Commands: []rpt.RDMCommand{{Data: []byte{0xBB}}},
	})
	require.NoError(t, err)
	msg := acn.WriteMessage(acn.VectorRootRPT, cid.New(), payload)
	go func() { _, _ = brokerSide.Write(msg) }()

	conn, err := c.scopeConn(h)
	require.NoError(t, err)
	now := time.Now()
	conn.Feed(readAvailable(t, conn.Socket()))

	// The sync-response ack is written from inside Poll, before it
	// returns; drain the unbuffered pipe concurrently so that write
	// doesn't block the only goroutine that could read it.
	replyCh := make(chan []byte, 1)
	go func() { replyCh <- readAvailable(t, brokerSide) }()
	conn.Poll(now)

	assert.Equal(t, uint32(42), gotTxn)

	raw := <-replyCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	msg, _, err := rpt.Decode(pdu.Payload)
	require.NoError(t, err)
	note, ok := msg.(*rpt.NotificationMsg)
	require.True(t, ok)
	assert.Equal(t, sourceUID, note.Header.DestUID)
	assert.Equal(t, uint32(42), note.Header.SeqNum)
	require.Len(t, note.Commands, 1)
	assert.Equal(t, []byte{0xAA}, note.Commands[0].Data)
}

func TestInboundRDMCommandDeferredThenSendRDMAck(t *testing.T) {
	c, h, brokerSide := newConnectedClient(t, Callbacks{
		OnRDMCommand: func(_ ScopeHandle, hdr rpt.Header, txn uint32, data []byte) ResponseAction {
			return ResponseAction{Deferred: true}
		},
	})
	defer brokerSide.Close()

	sourceUID := rdmuid.UID{Manufacturer: 0x3333, Device: 7}
	payload, err := rpt.Pack(&rpt.RequestMsg{
		Header:   rpt.Header{SourceUID: sourceUID, DestUID: rdmuid.UID{Manufacturer: 0x1111, Device: 1}, SeqNum: 7},
		Commands: []rpt.RDMCommand{{Data: []byte{0x01}}},
	})
	require.NoError(t, err)
	msg0 := acn.WriteMessage(acn.VectorRootRPT, cid.New(), payload)
	go func() { _, _ = brokerSide.Write(msg0) }()

	conn, err := c.scopeConn(h)
	require.NoError(t, err)
	conn.Feed(readAvailable(t, conn.Socket()))
	conn.Poll(time.Now())

	// Nothing sent yet: the command was deferred.
	assert.Empty(t, readAvailable(t, brokerSide))

	replyCh := make(chan []byte, 1)
	go func() { replyCh <- readAvailable(t, brokerSide) }()
	require.NoError(t, c.SendRDMAck(7, [][]byte{{0xEE}}))

	raw := <-replyCh
	require.NotEmpty(t, raw)
	pdu, err := acn.ParseMessage(raw)
	require.NoError(t, err)
	msg, _, err := rpt.Decode(pdu.Payload)
	require.NoError(t, err)
	note := msg.(*rpt.NotificationMsg)
	assert.Equal(t, []byte{0xEE}, note.Commands[0].Data)

	// Already answered: a second ack for the same transaction fails.
	assert.ErrorIs(t, c.SendRDMAck(7, nil), ErrNoSuchCommand)
}

func TestRemoveScopeDropsHandle(t *testing.T) {
	c, h, brokerSide := newConnectedClient(t, Callbacks{})
	defer brokerSide.Close()

	// Destroy writes a final disconnect PDU synchronously; drain it on a
	// background goroutine so the unbuffered pipe write doesn't block.
	drained := make(chan struct{})
	go func() {
		readAvailable(t, brokerSide)
		close(drained)
	}()
	require.NoError(t, c.RemoveScope(h, broker.DisconnectReasonShutdown))
	<-drained

	_, err := c.SendRDMCommand(h, rdmuid.UID{}, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownScope)
}
