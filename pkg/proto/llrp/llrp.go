// Package llrp implements the LLRP (Low Level Recovery Protocol) PDU:
// multicast probe request/reply and unicast-over-multicast RDM command
// exchange used for link-local component discovery and recovery.
package llrp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
	"github.com/rdmnet-go/rdmnet/pkg/wire"
)

// LLRP PDU vectors.
const (
	VectorProbeRequest uint32 = 1
	VectorProbeReply   uint32 = 2
	VectorRDMCommand   uint32 = 3
	VectorRDMResponse  uint32 = 4
)

// Component types carried in a probe reply, identifying what kind of
// RDMnet component the replying target is.
const (
	ComponentTypeRPTDevice     uint8 = 0
	ComponentTypeRPTController uint8 = 1
	ComponentTypeBroker        uint8 = 2
	ComponentTypeEPTClient     uint8 = 3
)

// ProbeRequestFilter bits, set by the manager to suppress replies from
// targets of a given component type.
const (
	FilterBrokersOnly       uint16 = 0x0001
	FilterClientConnInactive uint16 = 0x0002
)

// MaxKnownUIDs bounds the known-UID suppression list a single probe
// request can carry.
const MaxKnownUIDs = 200

// HardwareAddrLen is the size of a packed MAC address.
const HardwareAddrLen = 6

// ErrMalformed is returned for any structurally invalid LLRP PDU.
var ErrMalformed = errors.New("llrp: malformed message")

// ErrUnsupportedVector is returned by Decode for a vector this package
// does not recognize.
type ErrUnsupportedVector struct {
	Vector  uint32
	Payload []byte
}

func (e *ErrUnsupportedVector) Error() string {
	return fmt.Sprintf("llrp: unsupported vector %d", e.Vector)
}

// Header addresses an LLRP PDU: the destination CID (the broadcast CID
// for probe requests) and a transaction number the sender allocates
// monotonically, used to correlate RDM command/response pairs.
type Header struct {
	DestCID           cid.CID
	TransactionNumber uint32
}

const headerSize = cid.Size + 4

func (h Header) encode(buf *bytes.Buffer) {
	buf.Write(h.DestCID.Bytes())
	var v [4]byte
	wire.PutUint32(v[:], h.TransactionNumber)
	buf.Write(v[:])
}

func decodeHeader(buf []byte) (Header, error) {
	if err := wire.RequireLen(buf, headerSize); err != nil {
		return Header{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	c, err := cid.FromBytes(buf[0:cid.Size])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	txn := wire.GetUint32(buf[cid.Size:headerSize])
	return Header{DestCID: c, TransactionNumber: txn}, nil
}

// Message is implemented by every LLRP PDU payload type.
type Message interface {
	Vector() uint32
	GetHeader() Header
	encode(buf *bytes.Buffer)
}

// ProbeRequestMsg is VECTOR_PROBE_REQUEST: the manager's request for
// targets with a UID in [Lower, Upper] to reply, excluding any already
// in KnownUIDs.
type ProbeRequestMsg struct {
	Header    Header
	Lower     rdmuid.UID
	Upper     rdmuid.UID
	Filter    uint16
	KnownUIDs []rdmuid.UID
}

func (m *ProbeRequestMsg) Vector() uint32    { return VectorProbeRequest }
func (m *ProbeRequestMsg) GetHeader() Header { return m.Header }

func (m *ProbeRequestMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	var b [rdmuid.Size]byte
	_ = rdmuid.Pack(m.Lower, b[:])
	buf.Write(b[:])
	_ = rdmuid.Pack(m.Upper, b[:])
	buf.Write(b[:])
	var f [2]byte
	wire.PutUint16(f[:], m.Filter)
	buf.Write(f[:])
	for _, u := range m.KnownUIDs {
		_ = rdmuid.Pack(u, b[:])
		buf.Write(b[:])
	}
}

func decodeProbeRequest(header Header, buf []byte) (*ProbeRequestMsg, error) {
	if err := wire.RequireLen(buf, rdmuid.Size*2+2); err != nil {
		return nil, fmt.Errorf("%w: probe-request: %v", ErrMalformed, err)
	}
	lower, err := rdmuid.Parse(buf[0:rdmuid.Size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	upper, err := rdmuid.Parse(buf[rdmuid.Size : rdmuid.Size*2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	off := rdmuid.Size * 2
	filter := wire.GetUint16(buf[off : off+2])
	off += 2
	rest := buf[off:]
	if len(rest)%rdmuid.Size != 0 {
		return nil, fmt.Errorf("%w: probe-request: trailing bytes in known-uid list", ErrMalformed)
	}
	msg := &ProbeRequestMsg{Header: header, Lower: lower, Upper: upper, Filter: filter}
	for len(rest) > 0 {
		u, err := rdmuid.Parse(rest[:rdmuid.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg.KnownUIDs = append(msg.KnownUIDs, u)
		rest = rest[rdmuid.Size:]
	}
	if len(msg.KnownUIDs) > MaxKnownUIDs {
		return nil, fmt.Errorf("%w: probe-request: %d known uids exceeds max %d", ErrMalformed, len(msg.KnownUIDs), MaxKnownUIDs)
	}
	return msg, nil
}

// ProbeReplyMsg is VECTOR_PROBE_REPLY: a target identifying itself in
// response to a matching probe request.
type ProbeReplyMsg struct {
	Header        Header
	TargetCID     cid.CID
	TargetUID     rdmuid.UID
	ComponentType uint8
	HardwareAddr  [HardwareAddrLen]byte
}

func (m *ProbeReplyMsg) Vector() uint32    { return VectorProbeReply }
func (m *ProbeReplyMsg) GetHeader() Header { return m.Header }

func (m *ProbeReplyMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	buf.Write(m.TargetCID.Bytes())
	var u [rdmuid.Size]byte
	_ = rdmuid.Pack(m.TargetUID, u[:])
	buf.Write(u[:])
	buf.WriteByte(m.ComponentType)
	buf.Write(m.HardwareAddr[:])
}

func decodeProbeReply(header Header, buf []byte) (*ProbeReplyMsg, error) {
	need := cid.Size + rdmuid.Size + 1 + HardwareAddrLen
	if err := wire.RequireLen(buf, need); err != nil {
		return nil, fmt.Errorf("%w: probe-reply: %v", ErrMalformed, err)
	}
	targetCID, err := cid.FromBytes(buf[0:cid.Size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	off := cid.Size
	uid, err := rdmuid.Parse(buf[off : off+rdmuid.Size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	off += rdmuid.Size
	compType := buf[off]
	off++
	var mac [HardwareAddrLen]byte
	copy(mac[:], buf[off:off+HardwareAddrLen])
	return &ProbeReplyMsg{Header: header, TargetCID: targetCID, TargetUID: uid, ComponentType: compType, HardwareAddr: mac}, nil
}

// RDMCommandMsg is VECTOR_RDM_CMD: an RDM command unicast-over-multicast
// to an already-discovered target.
type RDMCommandMsg struct {
	Header Header
	Data   []byte
}

func (m *RDMCommandMsg) Vector() uint32    { return VectorRDMCommand }
func (m *RDMCommandMsg) GetHeader() Header { return m.Header }
func (m *RDMCommandMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	buf.Write(m.Data)
}

// RDMResponseMsg is VECTOR_RDM_RESPONSE: the target's reply to an
// RDMCommandMsg, correlated by the header's transaction number.
type RDMResponseMsg struct {
	Header Header
	Data   []byte
}

func (m *RDMResponseMsg) Vector() uint32    { return VectorRDMResponse }
func (m *RDMResponseMsg) GetHeader() Header { return m.Header }
func (m *RDMResponseMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	buf.Write(m.Data)
}

const pduHeaderSize = wire.FlagsAndLengthSize + 4

// Pack serializes an LLRP PDU: flags-and-length, vector, and payload.
func Pack(msg Message) ([]byte, error) {
	body := new(bytes.Buffer)
	msg.encode(body)
	total := pduHeaderSize + body.Len()
	if total > wire.MaxPDULength {
		return nil, fmt.Errorf("llrp: pdu length %d exceeds field width", total)
	}
	out := new(bytes.Buffer)
	var hdr [wire.FlagsAndLengthSize]byte
	if err := wire.PackFlagsAndLength(hdr[:], 0xF, uint32(total)); err != nil {
		return nil, err
	}
	out.Write(hdr[:])
	var v [4]byte
	wire.PutUint32(v[:], msg.Vector())
	out.Write(v[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Decode parses an LLRP PDU from buf, returning the concrete Message and
// the number of bytes consumed.
func Decode(buf []byte) (Message, int, error) {
	if err := wire.RequireLen(buf, pduHeaderSize); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	_, length, err := wire.ParseFlagsAndLength(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if int(length) < pduHeaderSize {
		return nil, 0, fmt.Errorf("%w: pdu length %d too small", ErrMalformed, length)
	}
	if err := wire.RequireLen(buf, int(length)); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	vector := wire.GetUint32(buf[wire.FlagsAndLengthSize:pduHeaderSize])
	payload := buf[pduHeaderSize:length]

	header, err := decodeHeader(payload)
	if err != nil {
		return nil, 0, err
	}
	rest := payload[headerSize:]

	var msg Message
	switch vector {
	case VectorProbeRequest:
		msg, err = decodeProbeRequest(header, rest)
	case VectorProbeReply:
		msg, err = decodeProbeReply(header, rest)
	case VectorRDMCommand:
		data := make([]byte, len(rest))
		copy(data, rest)
		msg = &RDMCommandMsg{Header: header, Data: data}
	case VectorRDMResponse:
		data := make([]byte, len(rest))
		copy(data, rest)
		msg = &RDMResponseMsg{Header: header, Data: data}
	default:
		return nil, 0, &ErrUnsupportedVector{Vector: vector, Payload: payload}
	}
	if err != nil {
		return nil, 0, err
	}
	return msg, int(length), nil
}
