// Package broker implements the Broker core: the per-scope server every
// RPT/EPT client connects through. It accepts TCP connections, runs the
// connect handshake, maintains the live client registry and dynamic UID
// table, and routes RPT/EPT traffic between connected clients.
//
// The accept-loop/shutdown shape is grounded on
// internal/protocol/portmap/server.go (listener-per-config, one goroutine
// per accepted connection, a sync.Once-guarded shutdown channel plus
// sync.WaitGroup draining every worker before Serve returns). The
// registry locking discipline is grounded on pkg/metadata/lock/grace.go:
// one RWMutex guards several related maps, and every user-facing
// notification callout happens after the lock is released, never while
// it is held, mirroring pkg/connection.Connection's own
// invoke-after-unlock rule.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/internal/telemetry"
	"github.com/rdmnet-go/rdmnet/pkg/bufpool"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/broker"
	"github.com/rdmnet-go/rdmnet/pkg/proto/ept"
	"github.com/rdmnet-go/rdmnet/pkg/proto/rpt"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
	"github.com/rdmnet-go/rdmnet/pkg/transport/reassembler"
)

// ClientHandle identifies one live connection within a Broker's registry.
type ClientHandle uint32

// Default timers, per E1.33. The read-side heartbeat timeout mirrors
// pkg/connection's client-side constants; the broker enforces the same
// 2x-interval deadline against clients it serves.
const (
	DefaultHeartbeatInterval = 15000 * time.Millisecond
	DefaultHeartbeatTimeout  = 2 * DefaultHeartbeatInterval
	DefaultConnectTimeout    = 10 * time.Second
)

// Metrics is the counter set a Broker records through, if any. A nil
// Metrics (the default) disables recording entirely.
type Metrics interface {
	ClientConnected(protocol string)
	ClientDisconnected(protocol string)
	MessageRouted(vector string, status string)
	DynamicUIDAssigned()
	ClientListFragmentsSent(n int)
}

// Config configures a Broker.
type Config struct {
	CID         cid.CID
	Scope       string
	E133Version uint16

	// ListenAddrs is one host:port per interface the broker listens on,
	// per the "listening socket per configured interface" requirement.
	ListenAddrs []string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ConnectTimeout    time.Duration

	// Metrics records broker events, if set. Nil disables recording.
	Metrics Metrics
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.E133Version == 0 {
		c.E133Version = 1
	}
}

// registeredClient is one live connection the broker holds open.
type registeredClient struct {
	handle ClientHandle
	entry  broker.ClientEntry
	scope  string
	conn   net.Conn

	sendMu sync.Mutex
}

// send frames payload as a Root PDU under the broker's own CID and
// writes it, serialized against any other goroutine routing traffic to
// the same client.
func (rc *registeredClient) send(vector uint32, localCID cid.CID, payload []byte) error {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()
	msg := acn.WriteMessage(vector, localCID, payload)
	_, err := rc.conn.Write(msg)
	return err
}

// Broker is a scope's server: registry, UID manager, and router.
type Broker struct {
	cfg Config

	mu           sync.RWMutex
	listeners    []net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	nextHandle ClientHandle
	clients    map[ClientHandle]*registeredClient
	byCID      map[cid.CID]ClientHandle

	// UID manager state (component J): guarded by the same mu as the
	// rest of the registry, per the "UID manager is guarded by the
	// broker's master lock" resource rule.
	uidCursor          uint32
	uidToHandle        map[uint64]ClientHandle
	handleToUID        map[ClientHandle]rdmuid.UID
	dynamicByRequester map[cid.CID]rdmuid.UID
}

// New constructs a Broker for cfg. Call Serve to start listening.
func New(cfg Config) *Broker {
	cfg.applyDefaults()
	return &Broker{
		cfg:                cfg,
		shutdown:           make(chan struct{}),
		clients:            make(map[ClientHandle]*registeredClient),
		byCID:              make(map[cid.CID]ClientHandle),
		uidToHandle:        make(map[uint64]ClientHandle),
		handleToUID:        make(map[ClientHandle]rdmuid.UID),
		dynamicByRequester: make(map[cid.CID]rdmuid.UID),
	}
}

// Serve starts one listener per configured address and blocks, accepting
// connections, until Shutdown is called or ctx is done.
func (b *Broker) Serve(ctx context.Context) error {
	for _, addr := range b.cfg.ListenAddrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			b.Shutdown()
			return fmt.Errorf("broker: listen %s: %w", addr, err)
		}
		b.mu.Lock()
		b.listeners = append(b.listeners, ln)
		b.mu.Unlock()
		b.wg.Add(1)
		go b.acceptLoop(ln)
	}
	go func() {
		select {
		case <-ctx.Done():
			b.Shutdown()
		case <-b.shutdown:
		}
	}()
	b.wg.Wait()
	return nil
}

func (b *Broker) acceptLoop(ln net.Listener) {
	defer b.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.shutdown:
				return
			default:
				logger.Debug("broker: accept error", "error", err)
				return
			}
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.ServeConn(conn)
		}()
	}
}

// Shutdown tears down every listener and connected client, then waits
// for every accept/serve goroutine to return.
func (b *Broker) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdown)
		b.mu.Lock()
		listeners := b.listeners
		var conns []*registeredClient
		for _, c := range b.clients {
			conns = append(conns, c)
		}
		b.mu.Unlock()
		for _, ln := range listeners {
			_ = ln.Close()
		}
		for _, c := range conns {
			_ = c.conn.Close()
		}
	})
	b.wg.Wait()
}

// readFramedMessage blocks until one complete ACN message is available on
// conn, or deadline passes, or conn errors. rsm accumulates bytes across
// calls so a message split across TCP segments is reassembled correctly.
func readFramedMessage(conn net.Conn, rsm *reassembler.Reassembler, deadline time.Time) ([]byte, error) {
	for {
		raw, ok, err := rsm.Poll()
		if err != nil {
			return nil, err
		}
		if ok {
			return raw, nil
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		rsm.Feed(buf[:n])
	}
}

// ServeConn runs one client connection's full lifecycle: the connect
// handshake (the broker-side counterpart of "accept; create connection
// with attach_socket" followed by the initial client_connect read
// window), then steady-state heartbeat/routing until the peer
// disconnects or times out. ServeConn takes ownership of conn and closes
// it before returning, so callers normally invoke it from its own
// goroutine (as acceptLoop does) rather than waiting on it directly,
// except in tests that want to observe one connection synchronously.
func (b *Broker) ServeConn(conn net.Conn) {
	defer conn.Close()
	ctx, span := telemetry.StartClientSpan(context.Background(), conn.RemoteAddr().String(), "unknown")
	defer span.End()
	rsm := reassembler.New()

	raw, err := readFramedMessage(conn, rsm, time.Now().Add(b.cfg.ConnectTimeout))
	if err != nil {
		logger.Debug("broker: client_connect read failed", "error", err)
		return
	}
	pdu, err := acn.ParseMessage(raw)
	if err != nil || pdu.Vector != acn.VectorRootBroker {
		bufpool.Put(raw)
		logger.Debug("broker: malformed client_connect", "error", err)
		return
	}
	msg, _, err := broker.Decode(pdu.Payload)
	bufpool.Put(raw)
	if err != nil {
		logger.Debug("broker: malformed client_connect payload", "error", err)
		return
	}
	connectMsg, ok := msg.(*broker.BrokerConnectMsg)
	if !ok {
		logger.Debug("broker: expected client_connect, got different vector")
		return
	}

	rc, status := b.admit(connectMsg, conn)
	if status != broker.ConnectStatusOK {
		b.replyConnect(conn, status, connectMsg.Client.UID)
		return
	}
	defer b.evict(rc)
	telemetry.SetAttributes(ctx, telemetry.Protocol(protocolLabel(rc.entry.Protocol)), telemetry.ClientCID(rc.entry.CID.String()))

	if err := b.replyConnect(conn, broker.ConnectStatusOK, rc.entry.UID); err != nil {
		return
	}
	b.notifyClientList(rc.scope, broker.NewClientAdd, []broker.ClientEntry{rc.entry})

	for {
		raw, err := readFramedMessage(conn, rsm, time.Now().Add(b.cfg.HeartbeatTimeout))
		if err != nil {
			return
		}
		pdu, err := acn.ParseMessage(raw)
		if err != nil {
			bufpool.Put(raw)
			logger.Debug("broker: malformed message, closing", "handle", rc.handle, "error", err)
			return
		}
		done := b.dispatch(rc, pdu)
		bufpool.Put(raw)
		if done {
			return
		}
	}
}

func (b *Broker) replyConnect(conn net.Conn, status uint16, uid rdmuid.UID) error {
	payload, err := broker.Pack(&broker.BrokerConnectReplyMsg{
		Status:      status,
		E133Version: b.cfg.E133Version,
		BrokerCID:   b.cfg.CID,
		ClientUID:   uid,
	})
	if err != nil {
		return err
	}
	msg := acn.WriteMessage(acn.VectorRootBroker, b.cfg.CID, payload)
	_, err = conn.Write(msg)
	return err
}

// admit validates a client_connect against scope/version and assigns a
// dynamic UID if requested, registering the client on success. On
// rejection it returns a non-OK status and no registeredClient.
//
// Version mismatch has no dedicated connect-reply status in E1.33's
// fixed code list (OK, ScopeMismatch, CapacityExhausted, DuplicateUid,
// InvalidClientEntry, InvalidUid); it is reported as InvalidClientEntry,
// the closest coded status to "this entry is not one I can serve".
func (b *Broker) admit(m *broker.BrokerConnectMsg, conn net.Conn) (*registeredClient, uint16) {
	if m.Scope != b.cfg.Scope {
		return nil, broker.ConnectStatusScopeMismatch
	}
	if m.E133Version != b.cfg.E133Version {
		return nil, broker.ConnectStatusInvalidClientEntry
	}

	entry := m.Client
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry.Protocol == broker.ClientProtocolRPT {
		if entry.UID.IsDynamicRequest() {
			entry.UID = b.assignDynamicLocked(entry.UID.Manufacturer, entry.CID)
		} else if owner, ok := b.uidToHandle[entry.UID.AsUint64()]; ok {
			if existing := b.clients[owner]; existing != nil && existing.entry.CID != entry.CID {
				return nil, broker.ConnectStatusDuplicateUID
			}
		}
	}

	if old, ok := b.byCID[entry.CID]; ok {
		if oldClient := b.clients[old]; oldClient != nil {
			b.removeClientLocked(oldClient)
			go func() {
				_ = oldClient.send(acn.VectorRootBroker, b.cfg.CID, mustPackDisconnect(broker.DisconnectReasonDuplicateCid))
				_ = oldClient.conn.Close()
			}()
		}
	}

	b.nextHandle++
	rc := &registeredClient{handle: b.nextHandle, entry: entry, scope: m.Scope, conn: conn}
	b.clients[rc.handle] = rc
	b.byCID[entry.CID] = rc.handle
	if entry.Protocol == broker.ClientProtocolRPT {
		// addUIDLocked cannot fail here: a dynamic UID was just minted
		// fresh by assignDynamicLocked, and a static one already passed
		// the duplicate check above.
		_ = b.addUIDLocked(entry.UID, rc.handle)
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.ClientConnected(protocolLabel(entry.Protocol))
	}
	return rc, broker.ConnectStatusOK
}

func protocolLabel(p uint32) string {
	if p == broker.ClientProtocolRPT {
		return "rpt"
	}
	return "ept"
}

func mustPackDisconnect(reason uint16) []byte {
	payload, _ := broker.Pack(&broker.BrokerDisconnectMsg{Reason: reason})
	return payload
}

// removeClientLocked drops a client from every registry map. Caller must
// hold b.mu.
func (b *Broker) removeClientLocked(rc *registeredClient) {
	delete(b.clients, rc.handle)
	if b.byCID[rc.entry.CID] == rc.handle {
		delete(b.byCID, rc.entry.CID)
	}
	b.removeUIDLocked(rc.handle)
}

// evict removes rc from the registry and notifies subscribers, run as
// ServeConn's deferred cleanup on every exit path once a client has been
// admitted.
func (b *Broker) evict(rc *registeredClient) {
	b.mu.Lock()
	_, stillPresent := b.clients[rc.handle]
	b.removeClientLocked(rc)
	b.mu.Unlock()
	if stillPresent {
		b.notifyClientList(rc.scope, broker.NewClientRemove, []broker.ClientEntry{rc.entry})
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.ClientDisconnected(protocolLabel(rc.entry.Protocol))
		}
	}
}

// dispatch routes one parsed PDU by its root vector. It returns true if
// the connection should close (a disconnect was requested or received).
func (b *Broker) dispatch(rc *registeredClient, pdu acn.RootPDU) bool {
	switch pdu.Vector {
	case acn.VectorRootBroker:
		msg, _, err := broker.Decode(pdu.Payload)
		if err != nil {
			logger.Debug("broker: malformed broker message", "handle", rc.handle, "error", err)
			b.recordRouted("broker", "malformed")
			return true
		}
		b.recordRouted("broker", "ok")
		return b.handleBrokerMsg(rc, msg)
	case acn.VectorRootRPT:
		msg, _, err := rpt.Decode(pdu.Payload)
		if err != nil {
			logger.Debug("broker: malformed rpt message", "handle", rc.handle, "error", err)
			b.recordRouted("rpt", "malformed")
			return true
		}
		b.recordRouted("rpt", "ok")
		b.routeRPT(rc, msg)
	case acn.VectorRootEPT:
		msg, _, err := ept.Decode(pdu.Payload)
		if err != nil {
			logger.Debug("broker: malformed ept message", "handle", rc.handle, "error", err)
			b.recordRouted("ept", "malformed")
			return true
		}
		b.recordRouted("ept", "ok")
		b.routeEPT(msg)
	default:
		logger.Debug("broker: unhandled root vector", "vector", pdu.Vector)
		b.recordRouted("unknown", "unhandled")
	}
	return false
}

func (b *Broker) recordRouted(vector, status string) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.MessageRouted(vector, status)
	}
}

func (b *Broker) handleBrokerMsg(rc *registeredClient, msg broker.Message) bool {
	switch m := msg.(type) {
	case *broker.BrokerNullMsg:
		// Heartbeat: readFramedMessage already refreshed the deadline.
	case *broker.FetchClientListMsg:
		b.sendClientList(rc)
	case *broker.ClientEntryUpdateMsg:
		b.updateClientEntry(rc, m)
	case *broker.RequestDynamicUIDsMsg:
		b.handleRequestDynamicUIDs(rc, m)
	case *broker.FetchDynamicUIDAssignmentListMsg:
		b.handleFetchDynamicUIDList(rc, m)
	case *broker.BrokerDisconnectMsg:
		return true
	default:
		logger.Debug("broker: unhandled broker vector", "vector", msg.Vector())
	}
	return false
}

func (b *Broker) updateClientEntry(rc *registeredClient, m *broker.ClientEntryUpdateMsg) {
	b.mu.Lock()
	rc.entry.BindingCID = m.Client.BindingCID
	entry := rc.entry
	b.mu.Unlock()
	b.notifyClientList(rc.scope, broker.NewClientChange, []broker.ClientEntry{entry})
}

// maxClientsPerFragment conservatively bounds a connected_client_list
// fragment's encoded size well under the reassembler's MaxMessageSize,
// since the broker never computes the exact per-entry byte cost (that
// detail is private to pkg/proto/broker's encoder).
const maxClientsPerFragment = 500

func (b *Broker) sendClientList(rc *registeredClient) {
	b.mu.RLock()
	var entries []broker.ClientEntry
	for _, c := range b.clients {
		if c.scope == rc.scope {
			entries = append(entries, c.entry)
		}
	}
	b.mu.RUnlock()

	fragments := 0
	for {
		batch := entries
		more := false
		if len(batch) > maxClientsPerFragment {
			batch = entries[:maxClientsPerFragment]
			entries = entries[maxClientsPerFragment:]
			more = true
		} else {
			entries = nil
		}
		payload, err := broker.Pack(broker.NewConnectedClientList(batch, more))
		if err != nil {
			return
		}
		if err := rc.send(acn.VectorRootBroker, b.cfg.CID, payload); err != nil {
			return
		}
		fragments++
		if !more {
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.ClientListFragmentsSent(fragments)
			}
			return
		}
	}
}

func (b *Broker) handleRequestDynamicUIDs(rc *registeredClient, m *broker.RequestDynamicUIDsMsg) {
	b.mu.Lock()
	assignments := make([]broker.DynamicUIDAssignment, 0, len(m.Requests))
	for _, req := range m.Requests {
		uid := b.assignDynamicLocked(req.ManufacturerID, req.CID)
		assignments = append(assignments, broker.DynamicUIDAssignment{UID: uid, CID: req.CID, Status: broker.DynamicUIDStatusOK})
	}
	b.mu.Unlock()
	payload, err := broker.Pack(&broker.AssignedDynamicUIDsMsg{Assignments: assignments})
	if err != nil {
		return
	}
	_ = rc.send(acn.VectorRootBroker, b.cfg.CID, payload)
}

func (b *Broker) handleFetchDynamicUIDList(rc *registeredClient, m *broker.FetchDynamicUIDAssignmentListMsg) {
	b.mu.RLock()
	assignments := make([]broker.DynamicUIDAssignment, 0, len(m.UIDs))
	for _, uid := range m.UIDs {
		status := broker.DynamicUIDStatusInvalidManufID
		var owner cid.CID
		if _, ok := b.uidToHandle[uid.AsUint64()]; ok {
			for requester, assigned := range b.dynamicByRequester {
				if assigned == uid {
					owner = requester
					status = broker.DynamicUIDStatusOK
					break
				}
			}
		}
		assignments = append(assignments, broker.DynamicUIDAssignment{UID: uid, CID: owner, Status: status})
	}
	b.mu.RUnlock()
	payload, err := broker.Pack(&broker.AssignedDynamicUIDsMsg{Assignments: assignments})
	if err != nil {
		return
	}
	_ = rc.send(acn.VectorRootBroker, b.cfg.CID, payload)
}

// notifyClientList packs a client-list vector (add/remove/change) for
// entries and delivers it to every currently connected controller on
// scope. Targets are snapshotted under the registry lock and sent after
// releasing it, so a slow or blocked subscriber can never stall a routing
// or registration path that holds the lock.
func (b *Broker) notifyClientList(scope string, build func([]broker.ClientEntry) *broker.ClientListMsg, entries []broker.ClientEntry) {
	payload, err := broker.Pack(build(entries))
	if err != nil {
		return
	}
	b.mu.RLock()
	var targets []*registeredClient
	for _, c := range b.clients {
		if c.scope == scope && c.entry.Protocol == broker.ClientProtocolRPT && c.entry.RPTClientType == broker.RPTClientTypeController {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()
	for _, t := range targets {
		_ = t.send(acn.VectorRootBroker, b.cfg.CID, payload)
	}
}

// routeRPT applies RPT's routing rules: requests go controller-to-device
// by destination UID, notifications go device-to-controller (or
// broadcast to every controller on the scope), and status passes through
// to whichever side the header addresses.
func (b *Broker) routeRPT(rc *registeredClient, msg rpt.Message) {
	header := msg.GetHeader()
	switch m := msg.(type) {
	case *rpt.RequestMsg:
		dest, ok := b.lookupClientByUID(header.DestUID)
		if !ok {
			b.sendRPTStatus(rc, header, rpt.StatusUnknownRDMUID, "unknown RDM UID")
			return
		}
		b.forwardRPT(dest, m)
	case *rpt.NotificationMsg:
		if header.DestUID.IsBroadcast() {
			payload, err := rpt.Pack(m)
			if err != nil {
				return
			}
			b.mu.RLock()
			var targets []*registeredClient
			for _, c := range b.clients {
				if c.scope == rc.scope && c.entry.Protocol == broker.ClientProtocolRPT && c.entry.RPTClientType == broker.RPTClientTypeController {
					targets = append(targets, c)
				}
			}
			b.mu.RUnlock()
			for _, t := range targets {
				_ = t.send(acn.VectorRootRPT, b.cfg.CID, payload)
			}
			return
		}
		if dest, ok := b.lookupClientByUID(header.DestUID); ok {
			b.forwardRPT(dest, m)
		}
	case *rpt.StatusMsg:
		if dest, ok := b.lookupClientByUID(header.DestUID); ok {
			b.forwardRPT(dest, m)
		}
	}
}

func (b *Broker) forwardRPT(dest *registeredClient, msg rpt.Message) {
	payload, err := rpt.Pack(msg)
	if err != nil {
		return
	}
	_ = dest.send(acn.VectorRootRPT, b.cfg.CID, payload)
}

func (b *Broker) sendRPTStatus(rc *registeredClient, hdr rpt.Header, code uint16, text string) {
	reply := rpt.Header{
		SourceUID:      hdr.DestUID,
		SourceEndpoint: hdr.DestEndpoint,
		DestUID:        hdr.SourceUID,
		DestEndpoint:   hdr.SourceEndpoint,
		SeqNum:         hdr.SeqNum,
	}
	payload, err := rpt.Pack(&rpt.StatusMsg{Header: reply, StatusCode: code, StatusString: text})
	if err != nil {
		return
	}
	_ = rc.send(acn.VectorRootRPT, b.cfg.CID, payload)
}

// routeEPT forwards a Data/Status message to the client identified by its
// destination CID; EPT has no broadcast or status-reply-on-miss.
func (b *Broker) routeEPT(msg ept.Message) {
	dest, ok := b.lookupClientByCID(msg.GetDestCID())
	if !ok {
		return
	}
	payload, err := ept.Pack(msg)
	if err != nil {
		return
	}
	_ = dest.send(acn.VectorRootEPT, b.cfg.CID, payload)
}

func (b *Broker) lookupClientByUID(uid rdmuid.UID) (*registeredClient, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.uidToHandle[uid.AsUint64()]
	if !ok {
		return nil, false
	}
	c, ok := b.clients[h]
	return c, ok
}

func (b *Broker) lookupClientByCID(c cid.CID) (*registeredClient, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.byCID[c]
	if !ok {
		return nil, false
	}
	rc, ok := b.clients[h]
	return rc, ok
}

// ErrUnknownClient is returned by RemoveClient for a handle not currently
// registered.
var ErrUnknownClient = errors.New("broker: unknown client handle")

// RemoveClient forcibly disconnects a registered client (an operator
// action, not a protocol one), sending BrokerDisconnectMsg with reason
// first.
func (b *Broker) RemoveClient(h ClientHandle, reason uint16) error {
	b.mu.RLock()
	rc, ok := b.clients[h]
	b.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	_ = rc.send(acn.VectorRootBroker, b.cfg.CID, mustPackDisconnect(reason))
	return rc.conn.Close()
}

// ClientCount returns the number of clients currently registered on
// scope, across every listener.
func (b *Broker) ClientCount(scope string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.clients {
		if c.scope == scope {
			n++
		}
	}
	return n
}

// Clients returns a snapshot of every currently registered client's
// entry, for debug/introspection surfaces such as internal/httpapi.
func (b *Broker) Clients() []broker.ClientEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]broker.ClientEntry, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c.entry)
	}
	return out
}
