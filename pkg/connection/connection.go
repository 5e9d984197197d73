// Package connection implements the per-broker TCP connection state
// machine: connect, RDMnet handshake, heartbeat, and backoff-driven
// reconnect. The mutex-plus-timer discipline is the same one
// pkg/metadata/lock's GracePeriodManager uses for its own two-state
// machine, generalized here to six states and deadline-based ticking
// instead of goroutine-owned timers, since the connection's timers are
// driven by the shared runtime's poll loop rather than each connection
// spawning its own.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/pkg/bufpool"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/broker"
	"github.com/rdmnet-go/rdmnet/pkg/transport/reassembler"
)

// State is one state of the connection lifecycle.
type State int

const (
	NotStarted State = iota
	Backoff
	TCPConnPending
	RDMnetConnPending
	Heartbeat
	MarkedForDestruction
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Backoff:
		return "backoff"
	case TCPConnPending:
		return "tcp_conn_pending"
	case RDMnetConnPending:
		return "rdmnet_conn_pending"
	case Heartbeat:
		return "heartbeat"
	case MarkedForDestruction:
		return "marked_for_destruction"
	default:
		return "unknown"
	}
}

// Timer defaults, per E1.33.
const (
	DefaultHeartbeatInterval = 15000 * time.Millisecond
	DefaultHeartbeatTimeout  = 2 * DefaultHeartbeatInterval
	DefaultBackoffInitial    = 3000 * time.Millisecond
	DefaultBackoffMax        = 30000 * time.Millisecond
)

// Handle identifies a connection within the owning runtime.
type Handle uint32

// DisconnectEventKind classifies why OnDisconnected fired.
type DisconnectEventKind int

const (
	DisconnectTCPError DisconnectEventKind = iota
	DisconnectPeerClosed
	DisconnectHeartbeatTimeout
	DisconnectRejected
	DisconnectRequested
)

// Callbacks is the user-level callback set a Connection invokes. The
// owner (client or broker core) is responsible for not blocking inside
// these; the connection itself never invokes a callback while holding
// its lock.
type Callbacks struct {
	OnConnected    func(h Handle, reply *broker.BrokerConnectReplyMsg)
	OnDisconnected func(h Handle, kind DisconnectEventKind, brokerReason *uint16)
	OnMessage      func(h Handle, pdu acn.RootPDU)
}

// Dialer abstracts net.Dialer so tests can substitute a fake transport.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a Connection.
type Config struct {
	LocalCID          cid.CID
	RemoteAddr        string
	ConnectMsg        *broker.BrokerConnectMsg
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	AutoReconnect     bool
	Dialer            Dialer
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
}

// ErrWrongState is returned when an operation is invalid for the
// connection's current state.
var ErrWrongState = errors.New("connection: operation invalid in current state")

// Connection is one TCP connection to a broker, tracked through the
// connect/handshake/heartbeat/backoff lifecycle described in the
// connection state machine.
type Connection struct {
	mu sync.Mutex

	handle    Handle
	cfg       Config
	callbacks Callbacks

	state State
	conn  net.Conn
	rsm   *reassembler.Reassembler

	sendDeadline      time.Time
	hbDeadline        time.Time
	backoffDeadline   time.Time
	handshakeDeadline time.Time
	backoffCurrent    time.Duration

	dialGeneration int
}

// New creates a Connection in NotStarted state. The caller must call
// Connect or AttachSocket to begin the lifecycle.
func New(handle Handle, cfg Config, callbacks Callbacks) *Connection {
	cfg.applyDefaults()
	return &Connection{
		handle:         handle,
		cfg:            cfg,
		callbacks:      callbacks,
		state:          NotStarted,
		rsm:            reassembler.New(),
		backoffCurrent: cfg.BackoffInitial,
	}
}

// Handle returns the connection's handle.
func (c *Connection) Handle() Handle { return c.handle }

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect begins the connect/backoff/handshake sequence. A zero initial
// backoff means the first TCP attempt starts immediately on the next
// Tick.
func (c *Connection) Connect(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NotStarted && c.state != MarkedForDestruction {
		return fmt.Errorf("%w: connect from %s", ErrWrongState, c.state)
	}
	c.state = Backoff
	c.backoffDeadline = now
	return nil
}

// AttachSocket adopts an already-connected socket, skipping the TCP
// dial step, and immediately sends the connect request.
func (c *Connection) AttachSocket(now time.Time, conn net.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NotStarted {
		return fmt.Errorf("%w: attach_socket from %s", ErrWrongState, c.state)
	}
	c.conn = conn
	c.rsm = reassembler.New()
	return c.beginHandshakeLocked(now)
}

// beginHandshakeLocked sends the BrokerConnectMsg and transitions to
// RDMnetConnPending. Caller must hold c.mu.
func (c *Connection) beginHandshakeLocked(now time.Time) error {
	payload, err := broker.Pack(c.cfg.ConnectMsg)
	if err != nil {
		return fmt.Errorf("connection: pack connect: %w", err)
	}
	msg := acn.WriteMessage(acn.VectorRootBroker, c.cfg.LocalCID, payload)
	if _, err := c.conn.Write(msg); err != nil {
		c.conn.Close()
		c.enterBackoffLocked(now)
		return fmt.Errorf("connection: send connect: %w", err)
	}
	c.state = RDMnetConnPending
	c.handshakeDeadline = now.Add(c.cfg.HeartbeatTimeout)
	return nil
}

// dialComplete is invoked from the dial goroutine spawned by Tick. It
// re-enters the connection under lock to apply the TCP result.
func (c *Connection) dialComplete(generation int, now time.Time, conn net.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.dialGeneration || c.state != TCPConnPending {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		logger.Debug("tcp connect failed", "remote", c.cfg.RemoteAddr, "error", err)
		c.enterBackoffLocked(now)
		return
	}
	c.conn = conn
	c.rsm = reassembler.New()
	if err := c.beginHandshakeLocked(now); err != nil {
		logger.Debug("handshake send failed", "error", err)
	}
}

// enterBackoffLocked transitions to Backoff and doubles the backoff
// interval, capped at BackoffMax. Caller must hold c.mu.
func (c *Connection) enterBackoffLocked(now time.Time) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Backoff
	c.backoffDeadline = now.Add(c.backoffCurrent)
	c.backoffCurrent *= 2
	if c.backoffCurrent > c.cfg.BackoffMax {
		c.backoffCurrent = c.cfg.BackoffMax
	}
}

// Tick advances the connection's timers and must be called regularly by
// the owning runtime. It returns nothing; a due dial runs on its own
// goroutine, and the socket to read from is available via Socket.
func (c *Connection) Tick(now time.Time) {
	c.mu.Lock()
	var deferredCallback func()
	switch c.state {
	case Backoff:
		if !now.Before(c.backoffDeadline) {
			c.state = TCPConnPending
			c.dialGeneration++
			gen := c.dialGeneration
			remote := c.cfg.RemoteAddr
			dialer := c.cfg.Dialer
			c.mu.Unlock()
			go func() {
				conn, err := dialer.DialContext(context.Background(), "tcp", remote)
				c.dialComplete(gen, time.Now(), conn, err)
			}()
			return
		}
	case RDMnetConnPending:
		if !now.Before(c.handshakeDeadline) {
			c.enterBackoffLocked(now)
		}
	case Heartbeat:
		if !now.Before(c.hbDeadline) {
			deferredCallback = c.handleHeartbeatTimeoutLocked(now)
		} else if !now.Before(c.sendDeadline) {
			c.sendNullLocked(now)
		}
	}
	c.mu.Unlock()
	if deferredCallback != nil {
		deferredCallback()
	}
}

func (c *Connection) sendNullLocked(now time.Time) {
	payload, _ := broker.Pack(&broker.BrokerNullMsg{})
	msg := acn.WriteMessage(acn.VectorRootBroker, c.cfg.LocalCID, payload)
	if _, err := c.conn.Write(msg); err != nil {
		c.enterBackoffLocked(now)
		return
	}
	c.sendDeadline = now.Add(c.cfg.HeartbeatInterval)
}

// handleHeartbeatTimeoutLocked applies the state transition and returns a
// closure the caller must invoke after releasing c.mu, or nil if there is
// no callback to fire. Caller must hold c.mu.
func (c *Connection) handleHeartbeatTimeoutLocked(now time.Time) func() {
	cb := c.callbacks.OnDisconnected
	h := c.handle
	if c.cfg.AutoReconnect {
		c.enterBackoffLocked(now)
	} else {
		c.markDestroyedLocked()
	}
	if cb == nil {
		return nil
	}
	return func() { cb(h, DisconnectHeartbeatTimeout, nil) }
}

func (c *Connection) markDestroyedLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = MarkedForDestruction
}

// Feed supplies bytes read from the connection's socket. The caller is
// expected to read from Socket() and call Feed with whatever bytes it
// got, then call Poll to drain complete messages.
func (c *Connection) Feed(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rsm != nil {
		c.rsm.Feed(data)
	}
}

// Socket returns the underlying net.Conn, or nil if not currently
// connected.
func (c *Connection) Socket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Poll drains complete messages from the connection's reassembler,
// applying handshake/heartbeat semantics and invoking user callbacks for
// anything beyond the connection's own housekeeping. now is used to
// refresh the heartbeat receive deadline on every successfully parsed
// message. Poll returns after the reassembler reports it needs more
// data, or immediately after an error that destroys the connection.
func (c *Connection) Poll(now time.Time) {
	for {
		c.mu.Lock()
		if c.rsm == nil || c.state == MarkedForDestruction {
			c.mu.Unlock()
			return
		}
		raw, ok, err := c.rsm.Poll()
		if err != nil {
			logger.Debug("connection: malformed stream, closing", "handle", c.handle, "error", err)
			c.enterBackoffOrDestroyLocked(now)
			c.mu.Unlock()
			return
		}
		if !ok {
			c.mu.Unlock()
			return
		}
		pdu, perr := acn.ParseMessage(raw)
		bufpool.Put(raw)
		if perr != nil {
			logger.Debug("connection: malformed message, closing", "handle", c.handle, "error", perr)
			c.enterBackoffOrDestroyLocked(now)
			c.mu.Unlock()
			return
		}
		deferredCallback := c.handleIncomingLocked(now, pdu)
		c.mu.Unlock()
		if deferredCallback != nil {
			deferredCallback()
		}
	}
}

func (c *Connection) enterBackoffOrDestroyLocked(now time.Time) {
	if c.cfg.AutoReconnect {
		c.enterBackoffLocked(now)
	} else {
		c.markDestroyedLocked()
	}
}

// handleIncomingLocked applies one parsed PDU's effect on the state
// machine and returns a closure the caller must invoke after releasing
// c.mu, or nil if the PDU produced no user-visible callback. Caller must
// hold c.mu.
func (c *Connection) handleIncomingLocked(now time.Time, pdu acn.RootPDU) func() {
	switch c.state {
	case RDMnetConnPending:
		if pdu.Vector != acn.VectorRootBroker {
			return nil
		}
		msg, _, err := broker.Decode(pdu.Payload)
		if err != nil {
			c.enterBackoffOrDestroyLocked(now)
			return nil
		}
		reply, ok := msg.(*broker.BrokerConnectReplyMsg)
		if !ok {
			return nil
		}
		if reply.Status != broker.ConnectStatusOK {
			cb := c.callbacks.OnDisconnected
			h := c.handle
			status := reply.Status
			c.enterBackoffLocked(now)
			if cb == nil {
				return nil
			}
			return func() { cb(h, DisconnectRejected, &status) }
		}
		c.state = Heartbeat
		c.backoffCurrent = c.cfg.BackoffInitial
		c.sendDeadline = now.Add(c.cfg.HeartbeatInterval)
		c.hbDeadline = now.Add(c.cfg.HeartbeatTimeout)
		cb := c.callbacks.OnConnected
		h := c.handle
		if cb == nil {
			return nil
		}
		return func() { cb(h, reply) }
	case Heartbeat:
		c.hbDeadline = now.Add(c.cfg.HeartbeatTimeout)
		if pdu.Vector == acn.VectorRootBroker {
			if msg, _, err := broker.Decode(pdu.Payload); err == nil {
				if _, isNull := msg.(*broker.BrokerNullMsg); isNull {
					return nil
				}
			}
		}
		cb := c.callbacks.OnMessage
		h := c.handle
		if cb == nil {
			return nil
		}
		return func() { cb(h, pdu) }
	}
	return nil
}

// Send frames payload as a root-layer PDU with vector under the local CID
// and transmits it over the connection's socket. It is only valid in
// Heartbeat state.
func (c *Connection) Send(vector uint32, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Heartbeat {
		return fmt.Errorf("%w: send from %s", ErrWrongState, c.state)
	}
	msg := acn.WriteMessage(vector, c.cfg.LocalCID, payload)
	_, err := c.conn.Write(msg)
	return err
}

// Destroy tears down the connection, sending a final BrokerDisconnect
// PDU with reason unless the socket is already unwritable.
func (c *Connection) Destroy(reason uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		payload, err := broker.Pack(&broker.BrokerDisconnectMsg{Reason: reason})
		if err == nil {
			msg := acn.WriteMessage(acn.VectorRootBroker, c.cfg.LocalCID, payload)
			_, _ = c.conn.Write(msg)
		}
	}
	c.markDestroyedLocked()
}
