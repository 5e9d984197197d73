// Package client implements the RPT/EPT client core: scope lifecycle on
// top of one pkg/connection.Connection per scope, RDM command/response
// wrapping into RPT PDUs, and the synchronous-or-deferred response
// convention commands are answered under. Grounded on
// internal/protocol/nsm/callback/client.go's transaction-number
// correlation idiom (generalized here to RPT sequence numbers) and on
// pkg/connection.Connection's own callback-after-unlock discipline,
// which this package's scope callbacks inherit unmodified.
package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/connection"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/broker"
	"github.com/rdmnet-go/rdmnet/pkg/proto/ept"
	"github.com/rdmnet-go/rdmnet/pkg/proto/rpt"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// ScopeHandle identifies one of a Client's scopes, and doubles as the
// connection.Handle passed to the underlying Connection.
type ScopeHandle uint32

// ErrUnknownScope is returned by any per-scope operation given a handle
// the Client does not currently own.
var ErrUnknownScope = errors.New("client: unknown scope handle")

// ErrNoSuchCommand is returned by SendRDMAck/SendRDMNack when the
// transaction number does not match a command that was deferred.
var ErrNoSuchCommand = errors.New("client: no deferred command with that transaction number")

// ResponseAction is what an OnRDMCommand callback returns to choose
// between answering synchronously and deferring to a later
// SendRDMAck/SendRDMNack call. With Deferred set, the core saves the
// command and waits; otherwise Ack chooses between an ack carrying
// ResponseData and a NACK carrying NackReason. The zero value is a NACK
// with reason 0.
type ResponseAction struct {
	Deferred     bool
	Ack          bool
	NackReason   uint16
	ResponseData [][]byte
}

// Callbacks is the user-facing event set a Client invokes. None of these
// may block; the core never calls one while holding its lock, the same
// rule pkg/connection.Callbacks documents.
type Callbacks struct {
	OnConnected    func(h ScopeHandle, reply *broker.BrokerConnectReplyMsg)
	OnDisconnected func(h ScopeHandle, kind connection.DisconnectEventKind, brokerReason *uint16)

	// OnRDMCommand is invoked for an inbound RPT request addressed to
	// this client. Its return value is the sync-response convention:
	// fill in Ack/ResponseData (or leave Ack false and set NackReason) to
	// have the core transmit the reply before this call returns, or return
	// ResponseAction{Deferred: true} to answer later via SendRDMAck or
	// SendRDMNack using the transaction number passed alongside.
	OnRDMCommand func(h ScopeHandle, hdr rpt.Header, transactionNumber uint32, rdmData []byte) ResponseAction

	OnRDMResponse func(h ScopeHandle, hdr rpt.Header, rdmData []byte)
	OnRPTStatus   func(h ScopeHandle, hdr rpt.Header, statusCode uint16, statusString string)
	OnEPTData     func(h ScopeHandle, sourceCID cid.CID, subProtocolVec uint32, data []byte)
	OnEPTStatus   func(h ScopeHandle, statusCode uint16)
	OnClientList  func(h ScopeHandle, vector uint16, clients []broker.ClientEntry, moreComing bool)
}

// ScopeConfig configures one scope's connection attempt. Conn carries
// the dial target and timers; RemoteAddr and ConnectMsg on Conn are
// overwritten from Scope/ClientEntry so callers only set them once.
type ScopeConfig struct {
	Scope       string
	RemoteAddr  string
	ClientEntry broker.ClientEntry
	Conn        connection.Config
}

// deferredCommand is a saved RDM command awaiting a later
// SendRDMAck/SendRDMNack call. The RDM payload itself is not retained
// here: per the scratch-buffer convention, only the addressing needed
// to build the reply header is copied, since the caller owns and may
// reuse its command buffer once OnRDMCommand returns.
type deferredCommand struct {
	scope  ScopeHandle
	header rpt.Header
}

type scopeState struct {
	cfg  ScopeConfig
	conn *connection.Connection
}

// Client is the RPT/EPT core: it owns zero or more scopes, each
// wrapping one pkg/connection.Connection, and a transaction-number
// allocator shared by every scope's outbound RDM commands.
type Client struct {
	mu sync.Mutex

	cid cid.CID
	uid rdmuid.UID
	cb  Callbacks

	nextHandle ScopeHandle
	scopes     map[ScopeHandle]*scopeState

	nextTransNum uint32
	deferred     map[uint32]deferredCommand
}

// New constructs a Client identified by cid/uid, with no scopes yet.
func New(c cid.CID, uid rdmuid.UID, cb Callbacks) *Client {
	return &Client{
		cid:      c,
		uid:      uid,
		cb:       cb,
		scopes:   make(map[ScopeHandle]*scopeState),
		deferred: make(map[uint32]deferredCommand),
	}
}

// RegisterRPT is a no-op resource-allocation step in this implementation
// (the Client struct itself is the allocated resource); it exists so
// callers follow the same register-then-add-scope sequence the
// synchronous core describes, and to mirror the request/response
// convention's split between registration and an optionally-attached
// LLRP target. Co-located LLRP targets are constructed directly with
// pkg/llrp/target.New and bound to this Client's CID/UID by the caller,
// since an RPT client and its LLRP target have independent lifecycles
// in this API (the target keeps responding to probes even while a
// scope is reconnecting).
func (c *Client) RegisterRPT() error { return nil }

// AddScope starts a connection attempt for cfg and returns a handle
// identifying it.
func (c *Client) AddScope(cfg ScopeConfig, connector Connector) (ScopeHandle, error) {
	cfg.ClientEntry.CID = c.cid
	cfg.ClientEntry.Protocol = broker.ClientProtocolRPT
	cfg.ClientEntry.UID = c.uid
	cfg.Conn.LocalCID = c.cid
	cfg.Conn.RemoteAddr = cfg.RemoteAddr
	cfg.Conn.ConnectMsg = &broker.BrokerConnectMsg{
		Scope:       cfg.Scope,
		E133Version: 1,
		Client:      cfg.ClientEntry,
	}

	c.mu.Lock()
	c.nextHandle++
	h := c.nextHandle
	c.mu.Unlock()

	conn := connection.New(connection.Handle(h), cfg.Conn, connection.Callbacks{
		OnConnected:    func(_ connection.Handle, reply *broker.BrokerConnectReplyMsg) { c.handleConnected(h, reply) },
		OnDisconnected: func(_ connection.Handle, kind connection.DisconnectEventKind, reason *uint16) { c.handleDisconnected(h, kind, reason) },
		OnMessage:      func(_ connection.Handle, pdu acn.RootPDU) { c.handleMessage(h, pdu) },
	})

	c.mu.Lock()
	c.scopes[h] = &scopeState{cfg: cfg, conn: conn}
	c.mu.Unlock()

	if connector != nil {
		if err := connector.Start(conn); err != nil {
			c.mu.Lock()
			delete(c.scopes, h)
			c.mu.Unlock()
			return 0, err
		}
	}
	return h, nil
}

// Connector starts a freshly constructed Connection, e.g. by calling its
// Connect method with the caller's current time. Abstracted so tests can
// observe exactly when a scope's connection begins without requiring a
// real clock.
type Connector interface {
	Start(conn *connection.Connection) error
}

func (c *Client) handleConnected(h ScopeHandle, reply *broker.BrokerConnectReplyMsg) {
	if c.cb.OnConnected != nil {
		c.cb.OnConnected(h, reply)
	}
}

func (c *Client) handleDisconnected(h ScopeHandle, kind connection.DisconnectEventKind, reason *uint16) {
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected(h, kind, reason)
	}
}

// scopeConn returns the Connection backing h, or ErrUnknownScope.
func (c *Client) scopeConn(h ScopeHandle) (*connection.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scopes[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScope, h)
	}
	return s.conn, nil
}

// RemoveScope sends a broker-disconnect with reason and drops the scope.
func (c *Client) RemoveScope(h ScopeHandle, reason uint16) error {
	conn, err := c.scopeConn(h)
	if err != nil {
		return err
	}
	conn.Destroy(reason)
	c.mu.Lock()
	delete(c.scopes, h)
	c.mu.Unlock()
	return nil
}

// ChangeScope tears down h's connection and starts a new one under the
// same handle, so callers holding the handle do not need to track a
// new one across a scope reconfiguration.
func (c *Client) ChangeScope(h ScopeHandle, newCfg ScopeConfig, reason uint16, connector Connector) error {
	c.mu.Lock()
	old, ok := c.scopes[h]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownScope, h)
	}
	old.conn.Destroy(reason)

	newCfg.ClientEntry.CID = c.cid
	newCfg.ClientEntry.Protocol = broker.ClientProtocolRPT
	newCfg.ClientEntry.UID = c.uid
	newCfg.Conn.LocalCID = c.cid
	newCfg.Conn.RemoteAddr = newCfg.RemoteAddr
	newCfg.Conn.ConnectMsg = &broker.BrokerConnectMsg{
		Scope:       newCfg.Scope,
		E133Version: 1,
		Client:      newCfg.ClientEntry,
	}
	conn := connection.New(connection.Handle(h), newCfg.Conn, connection.Callbacks{
		OnConnected:    func(_ connection.Handle, reply *broker.BrokerConnectReplyMsg) { c.handleConnected(h, reply) },
		OnDisconnected: func(_ connection.Handle, kind connection.DisconnectEventKind, r *uint16) { c.handleDisconnected(h, kind, r) },
		OnMessage:      func(_ connection.Handle, pdu acn.RootPDU) { c.handleMessage(h, pdu) },
	})

	c.mu.Lock()
	c.scopes[h] = &scopeState{cfg: newCfg, conn: conn}
	c.mu.Unlock()

	if connector == nil {
		return nil
	}
	return connector.Start(conn)
}

// nextTxn allocates a monotonic RPT sequence number, shared by every
// scope since the wire header carries it per-message rather than
// per-connection.
func (c *Client) nextTxn() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTransNum++
	return c.nextTransNum
}

// SendRDMCommand wraps data as an RPT request addressed to destUID and
// sends it on scope h. It returns the allocated transaction (sequence)
// number, which a device echoes back in its response header.
func (c *Client) SendRDMCommand(h ScopeHandle, destUID rdmuid.UID, destEndpoint uint16, data []byte) (uint32, error) {
	conn, err := c.scopeConn(h)
	if err != nil {
		return 0, err
	}
	seq := c.nextTxn()
	payload, err := rpt.Pack(&rpt.RequestMsg{
		Header: rpt.Header{
			SourceUID:    c.uid,
			DestUID:      destUID,
			DestEndpoint: destEndpoint,
			SeqNum:       seq,
		},
		Commands: []rpt.RDMCommand{{Data: data}},
	})
	if err != nil {
		return 0, err
	}
	return seq, conn.Send(acn.VectorRootRPT, payload)
}

// sendNotification wraps one RDM sub-message as an RPT notification
// addressed back to sourceUID, the convention send_rdm_ack/nack/update
// all share.
func (c *Client) sendNotification(h ScopeHandle, hdr rpt.Header, data []byte) error {
	conn, err := c.scopeConn(h)
	if err != nil {
		return err
	}
	reply := rpt.Header{
		SourceUID:      c.uid,
		SourceEndpoint: hdr.DestEndpoint,
		DestUID:        hdr.SourceUID,
		DestEndpoint:   hdr.SourceEndpoint,
		SeqNum:         hdr.SeqNum,
	}
	payload, err := rpt.Pack(&rpt.NotificationMsg{Header: reply, Commands: []rpt.RDMCommand{{Data: data}}})
	if err != nil {
		return err
	}
	return conn.Send(acn.VectorRootRPT, payload)
}

// SendRDMAck answers a previously deferred command (OnRDMCommand
// returned ResponseAction{Deferred: true}) with one or more RDM
// response buffers, identified by the transaction number the callback
// received.
func (c *Client) SendRDMAck(transactionNumber uint32, responseData [][]byte) error {
	c.mu.Lock()
	d, ok := c.deferred[transactionNumber]
	if ok {
		delete(c.deferred, transactionNumber)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchCommand, transactionNumber)
	}
	for _, resp := range responseData {
		if err := c.sendNotification(d.scope, d.header, resp); err != nil {
			return err
		}
	}
	return nil
}

// SendRDMNack answers a previously deferred command with an RPT status
// carrying reason, rather than an RDM-level NACK (used when the core
// itself cannot route or process the command, not when the responder
// chooses to NACK the RDM request — that path is an ordinary
// SendRDMAck with a NACK-encoded RDM response buffer).
func (c *Client) SendRDMNack(transactionNumber uint32, statusCode uint16, statusString string) error {
	c.mu.Lock()
	d, ok := c.deferred[transactionNumber]
	if ok {
		delete(c.deferred, transactionNumber)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchCommand, transactionNumber)
	}
	conn, err := c.scopeConn(d.scope)
	if err != nil {
		return err
	}
	reply := rpt.Header{
		SourceUID:      c.uid,
		SourceEndpoint: d.header.DestEndpoint,
		DestUID:        d.header.SourceUID,
		DestEndpoint:   d.header.SourceEndpoint,
		SeqNum:         d.header.SeqNum,
	}
	payload, err := rpt.Pack(&rpt.StatusMsg{Header: reply, StatusCode: statusCode, StatusString: statusString})
	if err != nil {
		return err
	}
	return conn.Send(acn.VectorRootRPT, payload)
}

// SendRDMUpdate sends an unsolicited RPT notification (a device pushing
// a status update no controller explicitly requested) on scope h,
// addressed to destUID, or broadcast if destUID is the RDM broadcast
// UID.
func (c *Client) SendRDMUpdate(h ScopeHandle, destUID rdmuid.UID, destEndpoint uint16, data []byte) error {
	conn, err := c.scopeConn(h)
	if err != nil {
		return err
	}
	seq := c.nextTxn()
	payload, err := rpt.Pack(&rpt.NotificationMsg{
		Header: rpt.Header{
			SourceUID:    c.uid,
			DestUID:      destUID,
			DestEndpoint: destEndpoint,
			SeqNum:       seq,
		},
		Commands: []rpt.RDMCommand{{Data: data}},
	})
	if err != nil {
		return err
	}
	return conn.Send(acn.VectorRootRPT, payload)
}

// handleRDMRequest runs the sync-response convention for one inbound
// RPT request command: invoke OnRDMCommand, and either transmit its
// answer immediately or save it under its transaction number for a
// later SendRDMAck/SendRDMNack.
func (c *Client) handleRDMRequest(h ScopeHandle, hdr rpt.Header, data []byte) {
	if c.cb.OnRDMCommand == nil {
		return
	}
	action := c.cb.OnRDMCommand(h, hdr, hdr.SeqNum, data)
	if action.Deferred {
		c.mu.Lock()
		c.deferred[hdr.SeqNum] = deferredCommand{scope: h, header: hdr}
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.deferred[hdr.SeqNum] = deferredCommand{scope: h, header: hdr}
	c.mu.Unlock()
	if !action.Ack {
		if err := c.SendRDMNack(hdr.SeqNum, action.NackReason, ""); err != nil {
			logger.Debug("client: sync nack send failed", "error", err)
		}
		return
	}
	if err := c.SendRDMAck(hdr.SeqNum, action.ResponseData); err != nil {
		logger.Debug("client: sync ack send failed", "error", err)
	}
}

// SendEPTData wraps an opaque sub-protocol payload as an EPT data
// message addressed to destCID on scope h. The core never interprets
// data.
func (c *Client) SendEPTData(h ScopeHandle, destCID cid.CID, subProtocolVec uint32, data []byte) error {
	conn, err := c.scopeConn(h)
	if err != nil {
		return err
	}
	payload, err := ept.Pack(&ept.DataMsg{DestCID: destCID, SubProtocolVec: subProtocolVec, Data: data})
	if err != nil {
		return err
	}
	return conn.Send(acn.VectorRootEPT, payload)
}

// RequestClientList sends VECTOR_BROKER_FETCH_CLIENT_LIST on scope h;
// the reply arrives via OnClientList.
func (c *Client) RequestClientList(h ScopeHandle) error {
	return c.sendBrokerMsg(h, &broker.FetchClientListMsg{})
}

// RequestResponderIDs requests the broker's current dynamic UID
// assignment table (the responder-ID-to-UID mapping) on scope h.
func (c *Client) RequestResponderIDs(h ScopeHandle) error {
	return c.sendBrokerMsg(h, &broker.FetchDynamicUIDAssignmentListMsg{})
}

// RequestDynamicUIDs asks the broker to assign dynamic UIDs for the
// given (manufacturer ID, CID) pairs on scope h; assignments arrive via
// a VECTOR_BROKER_ASSIGNED_DYNAMIC_UIDS reply.
func (c *Client) RequestDynamicUIDs(h ScopeHandle, requests []broker.DynamicUIDRequest) error {
	return c.sendBrokerMsg(h, &broker.RequestDynamicUIDsMsg{Requests: requests})
}

func (c *Client) sendBrokerMsg(h ScopeHandle, msg broker.Message) error {
	conn, err := c.scopeConn(h)
	if err != nil {
		return err
	}
	payload, err := broker.Pack(msg)
	if err != nil {
		return err
	}
	return conn.Send(acn.VectorRootBroker, payload)
}

// handleMessage decodes an inbound root-layer PDU by its vector and
// routes it to the matching callback, running the sync-response
// convention for RPT requests along the way.
func (c *Client) handleMessage(h ScopeHandle, pdu acn.RootPDU) {
	switch pdu.Vector {
	case acn.VectorRootBroker:
		msg, _, err := broker.Decode(pdu.Payload)
		if err != nil {
			logger.Debug("client: malformed broker message", "error", err)
			return
		}
		if list, ok := msg.(*broker.ClientListMsg); ok && c.cb.OnClientList != nil {
			c.cb.OnClientList(h, list.Vector(), list.Clients, list.MoreComing)
		}
	case acn.VectorRootRPT:
		msg, _, err := rpt.Decode(pdu.Payload)
		if err != nil {
			logger.Debug("client: malformed rpt message", "error", err)
			return
		}
		switch m := msg.(type) {
		case *rpt.RequestMsg:
			for _, cmd := range m.Commands {
				c.handleRDMRequest(h, m.Header, cmd.Data)
			}
		case *rpt.NotificationMsg:
			if c.cb.OnRDMResponse != nil {
				for _, cmd := range m.Commands {
					c.cb.OnRDMResponse(h, m.Header, cmd.Data)
				}
			}
		case *rpt.StatusMsg:
			if c.cb.OnRPTStatus != nil {
				c.cb.OnRPTStatus(h, m.Header, m.StatusCode, m.StatusString)
			}
		}
	case acn.VectorRootEPT:
		msg, _, err := ept.Decode(pdu.Payload)
		if err != nil {
			logger.Debug("client: malformed ept message", "error", err)
			return
		}
		switch m := msg.(type) {
		case *ept.DataMsg:
			if c.cb.OnEPTData != nil {
				c.cb.OnEPTData(h, pdu.Sender, m.SubProtocolVec, m.Data)
			}
		case *ept.StatusMsg:
			if c.cb.OnEPTStatus != nil {
				c.cb.OnEPTStatus(h, m.StatusCode)
			}
		}
	}
}
