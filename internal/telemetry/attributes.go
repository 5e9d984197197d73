package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on broker and LLRP spans, following the dotted
// naming the teacher's internal/telemetry/tracer.go uses for its own
// protocol attributes.
const (
	AttrClientAddr  = "rdmnet.client.address"
	AttrClientCID   = "rdmnet.client.cid"
	AttrClientUID   = "rdmnet.client.uid"
	AttrProtocol    = "rdmnet.protocol" // rpt or ept
	AttrVector      = "rdmnet.pdu.vector"
	AttrTargetUID   = "rdmnet.llrp.target_uid"
	AttrBrokerScope = "rdmnet.broker.scope"
)

// Span names for broker and LLRP operations.
const (
	SpanClientConnection  = "broker.client_connection"
	SpanMessageDispatch   = "broker.dispatch"
	SpanLLRPDiscoveryRound = "llrp.discovery_round"
)

func ClientAddr(addr string) attribute.KeyValue  { return attribute.String(AttrClientAddr, addr) }
func ClientCID(cid string) attribute.KeyValue    { return attribute.String(AttrClientCID, cid) }
func ClientUID(uid string) attribute.KeyValue    { return attribute.String(AttrClientUID, uid) }
func Protocol(name string) attribute.KeyValue    { return attribute.String(AttrProtocol, name) }
func Vector(v string) attribute.KeyValue         { return attribute.String(AttrVector, v) }
func TargetUID(uid string) attribute.KeyValue    { return attribute.String(AttrTargetUID, uid) }
func BrokerScope(scope string) attribute.KeyValue { return attribute.String(AttrBrokerScope, scope) }

// StartClientSpan starts a span for one accepted client connection,
// tagged with its remote address and negotiated protocol.
func StartClientSpan(ctx context.Context, addr, protocol string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanClientConnection, trace.WithAttributes(
		ClientAddr(addr), Protocol(protocol),
	))
}

// StartLLRPDiscoverySpan starts a span for one LLRP discovery round.
func StartLLRPDiscoverySpan(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanLLRPDiscoveryRound, trace.WithAttributes(attrs...))
}
