package logger

import (
	"encoding/hex"
	"log/slog"
)

// Standard field keys for structured logging across the RDMnet core.
// Use these keys consistently so log lines stay greppable/aggregatable
// across connection, LLRP, discovery and broker-routing code paths.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Component identity
	KeyCID       = "cid"        // local or remote component identifier
	KeyRemoteCID = "remote_cid" // remote component identifier
	KeyUID       = "uid"        // RDM UID (manufacturer:device)
	KeyScope     = "scope"      // RDMnet scope string

	// Connections
	KeyHandle    = "handle"     // connection or client handle
	KeyState     = "state"      // connection state machine state
	KeyRemoteIP  = "remote_ip"  // remote socket address
	KeyBackoffMs = "backoff_ms" // current reconnect backoff, milliseconds

	// Wire messages
	KeyVector      = "vector"      // root/protocol-layer vector
	KeyLength      = "length"      // PDU or message length in bytes
	KeyTransNum    = "trans_num"   // LLRP/RPT transaction number
	KeySeqNum      = "seq_num"     // RPT sequence number
	KeyStatusCode  = "status_code" // RPT/Broker status code
	KeyStatusMsg   = "status_msg"  // human-readable status string
	KeyDisconnRsn  = "disconn_rsn" // broker disconnect reason
	KeyDestination = "destination" // routing destination CID/UID
	KeyEndpointID  = "endpoint_id" // RDM endpoint identifier

	// LLRP
	KeyLLRPNetint = "llrp_netint" // network interface used for LLRP I/O
	KeyLowerUID   = "lower_uid"   // probe range lower bound
	KeyUpperUID   = "upper_uid"   // probe range upper bound
	KeyKnownCount = "known_count" // size of known-UIDs set

	// Discovery
	KeyServiceName = "service_name" // DNS-SD service instance name
	KeyBrokerCID   = "broker_cid"   // discovered/registered broker CID

	// Misc
	KeyError    = "error"
	KeyDuration = "duration_ms"
)

// TraceID builds a trace_id attribute.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID builds a span_id attribute.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// CID builds a component-identifier attribute, rendered as hex.
func CID(b []byte) slog.Attr { return slog.String(KeyCID, hex.EncodeToString(b)) }

// Handle builds a handle attribute from an opaque byte identifier rendered as hex.
func Handle(h []byte) slog.Attr { return slog.String(KeyHandle, hex.EncodeToString(h)) }

// HandleNum builds a handle attribute from a numeric connection/client handle.
func HandleNum(h uint32) slog.Attr { return slog.Uint64(KeyHandle, uint64(h)) }

// Scope builds a scope attribute.
func Scope(s string) slog.Attr { return slog.String(KeyScope, s) }

// State builds a connection-state attribute.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// Vector builds a wire-vector attribute.
func Vector(v string) slog.Attr { return slog.String(KeyVector, v) }

// StatusMsg builds a status-message attribute.
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// TransNum builds a transaction-number attribute.
func TransNum(n uint32) slog.Attr { return slog.Uint64(KeyTransNum, uint64(n)) }

// DurationMs builds a duration-in-milliseconds attribute.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDuration, ms) }

// Err builds an error attribute; returns a zero Attr for a nil error so
// callers can pass it unconditionally without branching.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
