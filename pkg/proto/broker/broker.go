// Package broker implements the Broker protocol PDU: the vectors a
// controller, device, or broker exchange to connect, enumerate clients,
// assign dynamic UIDs, and tear down a scope connection.
//
// Every message type implements Message, mirroring the tagged-union
// shape the wire codec uses at every protocol layer (see pkg/proto/acn).
package broker

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
	"github.com/rdmnet-go/rdmnet/pkg/wire"
)

// Broker PDU vectors.
const (
	VectorConnect               uint16 = 1
	VectorConnectReply          uint16 = 2
	VectorClientEntryUpdate     uint16 = 3
	VectorClientRedirectV4      uint16 = 4
	VectorClientRedirectV6      uint16 = 5
	VectorFetchClientList       uint16 = 6
	VectorConnectedClientList   uint16 = 7
	VectorClientAdd             uint16 = 8
	VectorClientRemove          uint16 = 9
	VectorClientChange          uint16 = 10
	VectorRequestDynamicUIDs    uint16 = 11
	VectorAssignedDynamicUIDs   uint16 = 12
	VectorFetchDynamicUIDList   uint16 = 13
	VectorDisconnect            uint16 = 14
	VectorNull                  uint16 = 15
)

// Client protocol discriminants, carried inside a ClientEntry.
const (
	ClientProtocolRPT uint32 = 0x00000005
	ClientProtocolEPT uint32 = 0x0000000b
)

// RPT client entry sub-types.
type RPTClientType uint8

const (
	RPTClientTypeDevice     RPTClientType = 0
	RPTClientTypeController RPTClientType = 1
)

// Connect-reply status codes.
const (
	ConnectStatusOK                  uint16 = 0
	ConnectStatusScopeMismatch       uint16 = 1
	ConnectStatusCapacityExhausted   uint16 = 2
	ConnectStatusDuplicateUID        uint16 = 3
	ConnectStatusInvalidClientEntry  uint16 = 4
	ConnectStatusInvalidUID          uint16 = 5
)

// Disconnect reason codes.
const (
	DisconnectReasonShutdown            uint16 = 0
	DisconnectReasonCapacityExhausted   uint16 = 1
	DisconnectReasonHardwareFault       uint16 = 2
	DisconnectReasonSoftwareFault       uint16 = 3
	DisconnectReasonSoftwareReset       uint16 = 4
	DisconnectReasonIncorrectScope      uint16 = 5
	DisconnectReasonRPTReconfigure      uint16 = 6
	DisconnectReasonLLRPReconfigure     uint16 = 7
	DisconnectReasonUserReconfigure     uint16 = 8
	DisconnectReasonDuplicateCid        uint16 = 9
)

// DynamicUID assignment status codes.
const (
	DynamicUIDStatusOK               uint16 = 0
	DynamicUIDStatusInvalidManufID   uint16 = 1
	DynamicUIDStatusCapacityExhausted uint16 = 2
)

const scopeFieldLen = 63

// ErrMalformed is returned for any structurally invalid Broker PDU.
var ErrMalformed = errors.New("broker: malformed message")

// ErrUnsupportedVector is returned by Decode for a vector this package
// does not recognize. The caller may still want the raw payload for
// diagnostics; it is included on the error.
type ErrUnsupportedVector struct {
	Vector  uint16
	Payload []byte
}

func (e *ErrUnsupportedVector) Error() string {
	return fmt.Sprintf("broker: unsupported vector %d", e.Vector)
}

// Message is implemented by every Broker PDU payload type.
type Message interface {
	Vector() uint16
	encode(buf *bytes.Buffer)
}

// ClientEntry describes one member of a broker's client registry: an RPT
// device/controller or an EPT client, discriminated by Protocol.
type ClientEntry struct {
	CID      cid.CID
	Protocol uint32

	// RPT fields, valid when Protocol == ClientProtocolRPT.
	UID           rdmuid.UID
	RPTClientType RPTClientType
	BindingCID    cid.CID

	// EPT fields, valid when Protocol == ClientProtocolEPT.
	EPTProtocols []EPTSubProtocol
}

// EPTSubProtocol names one sub-protocol an EPT client speaks.
type EPTSubProtocol struct {
	Vector uint32
	Name   string
}

const eptProtocolNameLen = 32

func encodeClientEntry(buf *bytes.Buffer, e ClientEntry) {
	var hdr [4]byte
	wire.PutUint32(hdr[:], e.Protocol)
	buf.Write(hdr[:])
	buf.Write(e.CID.Bytes())
	switch e.Protocol {
	case ClientProtocolRPT:
		var uidBuf [rdmuid.Size]byte
		_ = rdmuid.Pack(e.UID, uidBuf[:])
		buf.Write(uidBuf[:])
		buf.WriteByte(byte(e.RPTClientType))
		buf.Write(e.BindingCID.Bytes())
	case ClientProtocolEPT:
		buf.WriteByte(byte(len(e.EPTProtocols)))
		for _, p := range e.EPTProtocols {
			var vb [4]byte
			wire.PutUint32(vb[:], p.Vector)
			buf.Write(vb[:])
			var nameBuf [eptProtocolNameLen]byte
			_ = wire.PutFixedString(nameBuf[:], eptProtocolNameLen, p.Name)
			buf.Write(nameBuf[:])
		}
	}
}

func clientEntryEncodedLen(e ClientEntry) int {
	n := 4 + cid.Size
	switch e.Protocol {
	case ClientProtocolRPT:
		n += rdmuid.Size + 1 + cid.Size
	case ClientProtocolEPT:
		n += 1 + len(e.EPTProtocols)*(4+eptProtocolNameLen)
	}
	return n
}

func decodeClientEntry(buf []byte) (ClientEntry, int, error) {
	if err := wire.RequireLen(buf, 4+cid.Size); err != nil {
		return ClientEntry{}, 0, fmt.Errorf("%w: client entry: %v", ErrMalformed, err)
	}
	protocol := wire.GetUint32(buf[0:4])
	c, err := cid.FromBytes(buf[4 : 4+cid.Size])
	if err != nil {
		return ClientEntry{}, 0, fmt.Errorf("%w: client entry cid: %v", ErrMalformed, err)
	}
	off := 4 + cid.Size
	entry := ClientEntry{CID: c, Protocol: protocol}
	switch protocol {
	case ClientProtocolRPT:
		need := rdmuid.Size + 1 + cid.Size
		if err := wire.RequireLen(buf[off:], need); err != nil {
			return ClientEntry{}, 0, fmt.Errorf("%w: rpt client entry: %v", ErrMalformed, err)
		}
		uid, err := rdmuid.Parse(buf[off : off+rdmuid.Size])
		if err != nil {
			return ClientEntry{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		entry.UID = uid
		off += rdmuid.Size
		entry.RPTClientType = RPTClientType(buf[off])
		off++
		binding, err := cid.FromBytes(buf[off : off+cid.Size])
		if err != nil {
			return ClientEntry{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		entry.BindingCID = binding
		off += cid.Size
	case ClientProtocolEPT:
		if err := wire.RequireLen(buf[off:], 1); err != nil {
			return ClientEntry{}, 0, fmt.Errorf("%w: ept client entry: %v", ErrMalformed, err)
		}
		count := int(buf[off])
		off++
		for i := 0; i < count; i++ {
			need := 4 + eptProtocolNameLen
			if err := wire.RequireLen(buf[off:], need); err != nil {
				return ClientEntry{}, 0, fmt.Errorf("%w: ept sub-protocol: %v", ErrMalformed, err)
			}
			vector := wire.GetUint32(buf[off : off+4])
			name, err := wire.GetFixedString(buf[off+4:off+need], eptProtocolNameLen)
			if err != nil {
				return ClientEntry{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			entry.EPTProtocols = append(entry.EPTProtocols, EPTSubProtocol{Vector: vector, Name: name})
			off += need
		}
	default:
		return ClientEntry{}, 0, fmt.Errorf("%w: unknown client protocol 0x%08x", ErrMalformed, protocol)
	}
	return entry, off, nil
}

// BrokerConnectMsg is VECTOR_BROKER_CONNECT: a client's request to join a
// scope.
type BrokerConnectMsg struct {
	Scope           string
	E133Version     uint16
	ConnectionFlags byte
	Client          ClientEntry
}

func (m *BrokerConnectMsg) Vector() uint16 { return VectorConnect }

func (m *BrokerConnectMsg) encode(buf *bytes.Buffer) {
	var scopeBuf [scopeFieldLen]byte
	_ = wire.PutFixedString(scopeBuf[:], scopeFieldLen, m.Scope)
	buf.Write(scopeBuf[:])
	var v [2]byte
	wire.PutUint16(v[:], m.E133Version)
	buf.Write(v[:])
	buf.WriteByte(m.ConnectionFlags)
	encodeClientEntry(buf, m.Client)
}

func decodeBrokerConnect(buf []byte) (*BrokerConnectMsg, error) {
	if err := wire.RequireLen(buf, scopeFieldLen+2+1); err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrMalformed, err)
	}
	scope, err := wire.GetFixedString(buf[:scopeFieldLen], scopeFieldLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	off := scopeFieldLen
	version := wire.GetUint16(buf[off : off+2])
	off += 2
	flags := buf[off]
	off++
	entry, _, err := decodeClientEntry(buf[off:])
	if err != nil {
		return nil, err
	}
	return &BrokerConnectMsg{Scope: scope, E133Version: version, ConnectionFlags: flags, Client: entry}, nil
}

// BrokerConnectReplyMsg is VECTOR_BROKER_CONNECT_REPLY.
type BrokerConnectReplyMsg struct {
	Status      uint16
	E133Version uint16
	BrokerCID   cid.CID
	ClientUID   rdmuid.UID
}

func (m *BrokerConnectReplyMsg) Vector() uint16 { return VectorConnectReply }

func (m *BrokerConnectReplyMsg) encode(buf *bytes.Buffer) {
	var b [2]byte
	wire.PutUint16(b[:], m.Status)
	buf.Write(b[:])
	wire.PutUint16(b[:], m.E133Version)
	buf.Write(b[:])
	buf.Write(m.BrokerCID.Bytes())
	var uidBuf [rdmuid.Size]byte
	_ = rdmuid.Pack(m.ClientUID, uidBuf[:])
	buf.Write(uidBuf[:])
}

func decodeBrokerConnectReply(buf []byte) (*BrokerConnectReplyMsg, error) {
	need := 2 + 2 + cid.Size + rdmuid.Size
	if err := wire.RequireLen(buf, need); err != nil {
		return nil, fmt.Errorf("%w: connect-reply: %v", ErrMalformed, err)
	}
	status := wire.GetUint16(buf[0:2])
	version := wire.GetUint16(buf[2:4])
	brokerCID, err := cid.FromBytes(buf[4 : 4+cid.Size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	uid, err := rdmuid.Parse(buf[4+cid.Size : need])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &BrokerConnectReplyMsg{Status: status, E133Version: version, BrokerCID: brokerCID, ClientUID: uid}, nil
}

// ClientEntryUpdateMsg is VECTOR_BROKER_CLIENT_ENTRY_UPDATE: a connected
// client revising its own entry (e.g. a new binding CID).
type ClientEntryUpdateMsg struct {
	ConnectionFlags byte
	Client          ClientEntry
}

func (m *ClientEntryUpdateMsg) Vector() uint16 { return VectorClientEntryUpdate }

func (m *ClientEntryUpdateMsg) encode(buf *bytes.Buffer) {
	buf.WriteByte(m.ConnectionFlags)
	encodeClientEntry(buf, m.Client)
}

func decodeClientEntryUpdate(buf []byte) (*ClientEntryUpdateMsg, error) {
	if err := wire.RequireLen(buf, 1); err != nil {
		return nil, fmt.Errorf("%w: client-entry-update: %v", ErrMalformed, err)
	}
	flags := buf[0]
	entry, _, err := decodeClientEntry(buf[1:])
	if err != nil {
		return nil, err
	}
	return &ClientEntryUpdateMsg{ConnectionFlags: flags, Client: entry}, nil
}

// ClientRedirectMsg is VECTOR_BROKER_CLIENT_REDIRECT_V4/V6: tells a
// client to reconnect at a different address.
type ClientRedirectMsg struct {
	IsIPv6 bool
	IP     net.IP
	Port   uint16
}

func (m *ClientRedirectMsg) Vector() uint16 {
	if m.IsIPv6 {
		return VectorClientRedirectV6
	}
	return VectorClientRedirectV4
}

func (m *ClientRedirectMsg) encode(buf *bytes.Buffer) {
	if m.IsIPv6 {
		var b [18]byte
		_ = wire.PutIPv6(b[:], m.IP, m.Port)
		buf.Write(b[:])
		return
	}
	var b [6]byte
	_ = wire.PutIPv4(b[:], m.IP, m.Port)
	buf.Write(b[:])
}

func decodeClientRedirect(buf []byte, isV6 bool) (*ClientRedirectMsg, error) {
	if isV6 {
		ip, port, err := wire.GetIPv6(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: redirect-v6: %v", ErrMalformed, err)
		}
		return &ClientRedirectMsg{IsIPv6: true, IP: ip, Port: port}, nil
	}
	ip, port, err := wire.GetIPv4(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: redirect-v4: %v", ErrMalformed, err)
	}
	return &ClientRedirectMsg{IP: ip, Port: port}, nil
}

// FetchClientListMsg is VECTOR_BROKER_FETCH_CLIENT_LIST: carries no data.
type FetchClientListMsg struct{}

func (m *FetchClientListMsg) Vector() uint16        { return VectorFetchClientList }
func (m *FetchClientListMsg) encode(*bytes.Buffer) {}

// ClientListMsg is the shared shape of VECTOR_BROKER_CONNECTED_CLIENT_LIST,
// VECTOR_BROKER_CLIENT_ADD, VECTOR_BROKER_CLIENT_REMOVE, and
// VECTOR_BROKER_CLIENT_CHANGE, which all carry a list of client entries
// and differ only in vector and (for the connected list) a continuation
// flag.
type ClientListMsg struct {
	vector     uint16
	MoreComing bool
	Clients    []ClientEntry
}

func (m *ClientListMsg) Vector() uint16 { return m.vector }

func (m *ClientListMsg) encode(buf *bytes.Buffer) {
	for _, c := range m.Clients {
		encodeClientEntry(buf, c)
	}
}

// NewConnectedClientList builds a VECTOR_BROKER_CONNECTED_CLIENT_LIST
// reply fragment. moreComing is clear only on the last fragment of a
// multi-part fetch_client_list response.
func NewConnectedClientList(clients []ClientEntry, moreComing bool) *ClientListMsg {
	return &ClientListMsg{vector: VectorConnectedClientList, Clients: clients, MoreComing: moreComing}
}

// NewClientAdd builds a VECTOR_BROKER_CLIENT_ADD notification.
func NewClientAdd(clients []ClientEntry) *ClientListMsg {
	return &ClientListMsg{vector: VectorClientAdd, Clients: clients}
}

// NewClientRemove builds a VECTOR_BROKER_CLIENT_REMOVE notification.
func NewClientRemove(clients []ClientEntry) *ClientListMsg {
	return &ClientListMsg{vector: VectorClientRemove, Clients: clients}
}

// NewClientChange builds a VECTOR_BROKER_CLIENT_CHANGE notification.
func NewClientChange(clients []ClientEntry) *ClientListMsg {
	return &ClientListMsg{vector: VectorClientChange, Clients: clients}
}

func decodeClientList(vector uint16, buf []byte) (*ClientListMsg, error) {
	msg := &ClientListMsg{vector: vector}
	for len(buf) > 0 {
		entry, n, err := decodeClientEntry(buf)
		if err != nil {
			return nil, err
		}
		msg.Clients = append(msg.Clients, entry)
		buf = buf[n:]
	}
	return msg, nil
}

// DynamicUIDRequest is one entry of a RequestDynamicUIDsMsg: a request
// for the broker to mint a UID under the given manufacturer ID for the
// component identified by CID.
type DynamicUIDRequest struct {
	ManufacturerID uint16
	CID            cid.CID
}

// RequestDynamicUIDsMsg is VECTOR_BROKER_REQUEST_DYNAMIC_UIDS.
type RequestDynamicUIDsMsg struct {
	Requests []DynamicUIDRequest
}

func (m *RequestDynamicUIDsMsg) Vector() uint16 { return VectorRequestDynamicUIDs }

func (m *RequestDynamicUIDsMsg) encode(buf *bytes.Buffer) {
	for _, r := range m.Requests {
		var b [2]byte
		wire.PutUint16(b[:], r.ManufacturerID)
		buf.Write(b[:])
		buf.Write(r.CID.Bytes())
	}
}

func decodeRequestDynamicUIDs(buf []byte) (*RequestDynamicUIDsMsg, error) {
	const entryLen = 2 + cid.Size
	msg := &RequestDynamicUIDsMsg{}
	for len(buf) > 0 {
		if err := wire.RequireLen(buf, entryLen); err != nil {
			return nil, fmt.Errorf("%w: request-dynamic-uids: %v", ErrMalformed, err)
		}
		manuf := wire.GetUint16(buf[0:2])
		c, err := cid.FromBytes(buf[2:entryLen])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg.Requests = append(msg.Requests, DynamicUIDRequest{ManufacturerID: manuf, CID: c})
		buf = buf[entryLen:]
	}
	return msg, nil
}

// DynamicUIDAssignment is one entry of an AssignedDynamicUIDsMsg.
type DynamicUIDAssignment struct {
	UID    rdmuid.UID
	CID    cid.CID
	Status uint16
}

// AssignedDynamicUIDsMsg is VECTOR_BROKER_ASSIGNED_DYNAMIC_UIDS, the
// broker's reply to a RequestDynamicUIDsMsg.
type AssignedDynamicUIDsMsg struct {
	Assignments []DynamicUIDAssignment
}

func (m *AssignedDynamicUIDsMsg) Vector() uint16 { return VectorAssignedDynamicUIDs }

func (m *AssignedDynamicUIDsMsg) encode(buf *bytes.Buffer) {
	for _, a := range m.Assignments {
		var uidBuf [rdmuid.Size]byte
		_ = rdmuid.Pack(a.UID, uidBuf[:])
		buf.Write(uidBuf[:])
		buf.Write(a.CID.Bytes())
		var s [2]byte
		wire.PutUint16(s[:], a.Status)
		buf.Write(s[:])
	}
}

func decodeAssignedDynamicUIDs(buf []byte) (*AssignedDynamicUIDsMsg, error) {
	const entryLen = rdmuid.Size + cid.Size + 2
	msg := &AssignedDynamicUIDsMsg{}
	for len(buf) > 0 {
		if err := wire.RequireLen(buf, entryLen); err != nil {
			return nil, fmt.Errorf("%w: assigned-dynamic-uids: %v", ErrMalformed, err)
		}
		uid, err := rdmuid.Parse(buf[0:rdmuid.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		c, err := cid.FromBytes(buf[rdmuid.Size : rdmuid.Size+cid.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		status := wire.GetUint16(buf[rdmuid.Size+cid.Size : entryLen])
		msg.Assignments = append(msg.Assignments, DynamicUIDAssignment{UID: uid, CID: c, Status: status})
		buf = buf[entryLen:]
	}
	return msg, nil
}

// FetchDynamicUIDAssignmentListMsg is VECTOR_BROKER_FETCH_DYNAMIC_UID_LIST:
// a request to resolve a set of previously assigned dynamic UIDs back to
// their owning CIDs.
type FetchDynamicUIDAssignmentListMsg struct {
	UIDs []rdmuid.UID
}

func (m *FetchDynamicUIDAssignmentListMsg) Vector() uint16 { return VectorFetchDynamicUIDList }

func (m *FetchDynamicUIDAssignmentListMsg) encode(buf *bytes.Buffer) {
	for _, u := range m.UIDs {
		var b [rdmuid.Size]byte
		_ = rdmuid.Pack(u, b[:])
		buf.Write(b[:])
	}
}

func decodeFetchDynamicUIDList(buf []byte) (*FetchDynamicUIDAssignmentListMsg, error) {
	msg := &FetchDynamicUIDAssignmentListMsg{}
	for len(buf) > 0 {
		if err := wire.RequireLen(buf, rdmuid.Size); err != nil {
			return nil, fmt.Errorf("%w: fetch-dynamic-uid-list: %v", ErrMalformed, err)
		}
		u, err := rdmuid.Parse(buf[:rdmuid.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg.UIDs = append(msg.UIDs, u)
		buf = buf[rdmuid.Size:]
	}
	return msg, nil
}

// BrokerDisconnectMsg is VECTOR_BROKER_DISCONNECT.
type BrokerDisconnectMsg struct {
	Reason uint16
}

func (m *BrokerDisconnectMsg) Vector() uint16 { return VectorDisconnect }

func (m *BrokerDisconnectMsg) encode(buf *bytes.Buffer) {
	var b [2]byte
	wire.PutUint16(b[:], m.Reason)
	buf.Write(b[:])
}

func decodeBrokerDisconnect(buf []byte) (*BrokerDisconnectMsg, error) {
	if err := wire.RequireLen(buf, 2); err != nil {
		return nil, fmt.Errorf("%w: disconnect: %v", ErrMalformed, err)
	}
	return &BrokerDisconnectMsg{Reason: wire.GetUint16(buf[0:2])}, nil
}

// BrokerNullMsg is VECTOR_BROKER_NULL, the heartbeat PDU: carries no data.
type BrokerNullMsg struct{}

func (m *BrokerNullMsg) Vector() uint16      { return VectorNull }
func (m *BrokerNullMsg) encode(*bytes.Buffer) {}

const brokerPDUHeaderSize = wire.FlagsAndLengthSize + 2

// Pack serializes a Broker PDU: flags-and-length, vector, and payload.
func Pack(msg Message) ([]byte, error) {
	body := new(bytes.Buffer)
	msg.encode(body)
	total := brokerPDUHeaderSize + body.Len()
	if total > wire.MaxPDULength {
		return nil, fmt.Errorf("broker: pdu length %d exceeds field width", total)
	}
	out := new(bytes.Buffer)
	var hdr [wire.FlagsAndLengthSize]byte
	if err := wire.PackFlagsAndLength(hdr[:], 0xF, uint32(total)); err != nil {
		return nil, err
	}
	out.Write(hdr[:])
	var v [2]byte
	wire.PutUint16(v[:], msg.Vector())
	out.Write(v[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Decode parses a Broker PDU from buf, returning the concrete Message and
// the number of bytes consumed.
func Decode(buf []byte) (Message, int, error) {
	if err := wire.RequireLen(buf, brokerPDUHeaderSize); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	_, length, err := wire.ParseFlagsAndLength(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if int(length) < brokerPDUHeaderSize {
		return nil, 0, fmt.Errorf("%w: pdu length %d too small", ErrMalformed, length)
	}
	if err := wire.RequireLen(buf, int(length)); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	vector := wire.GetUint16(buf[wire.FlagsAndLengthSize:brokerPDUHeaderSize])
	payload := buf[brokerPDUHeaderSize:length]

	var msg Message
	switch vector {
	case VectorConnect:
		msg, err = decodeBrokerConnect(payload)
	case VectorConnectReply:
		msg, err = decodeBrokerConnectReply(payload)
	case VectorClientEntryUpdate:
		msg, err = decodeClientEntryUpdate(payload)
	case VectorClientRedirectV4:
		msg, err = decodeClientRedirect(payload, false)
	case VectorClientRedirectV6:
		msg, err = decodeClientRedirect(payload, true)
	case VectorFetchClientList:
		msg = &FetchClientListMsg{}
	case VectorConnectedClientList, VectorClientAdd, VectorClientRemove, VectorClientChange:
		msg, err = decodeClientList(vector, payload)
	case VectorRequestDynamicUIDs:
		msg, err = decodeRequestDynamicUIDs(payload)
	case VectorAssignedDynamicUIDs:
		msg, err = decodeAssignedDynamicUIDs(payload)
	case VectorFetchDynamicUIDList:
		msg, err = decodeFetchDynamicUIDList(payload)
	case VectorDisconnect:
		msg, err = decodeBrokerDisconnect(payload)
	case VectorNull:
		msg = &BrokerNullMsg{}
	default:
		return nil, 0, &ErrUnsupportedVector{Vector: vector, Payload: payload}
	}
	if err != nil {
		return nil, 0, err
	}
	return msg, int(length), nil
}
