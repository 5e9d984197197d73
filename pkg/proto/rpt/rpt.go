// Package rpt implements the RPT (RDM Packet Transport) protocol PDU:
// the vector that carries RDM commands, notifications, and routing
// status between RDMnet controllers, devices, and the broker.
package rpt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
	"github.com/rdmnet-go/rdmnet/pkg/wire"
)

// RPT PDU vectors.
const (
	VectorRequest      uint32 = 1
	VectorStatus       uint32 = 2
	VectorNotification uint32 = 3
)

// Status codes carried by a StatusMsg, reported when a request or
// notification cannot be routed or acted on.
const (
	StatusUnknownRPTUID        uint16 = 0x0000
	StatusRDMTimeout           uint16 = 0x0001
	StatusInvalidRDMResponse   uint16 = 0x0002
	StatusUnknownRDMUID        uint16 = 0x0003
	StatusUnknownEndpoint      uint16 = 0x0004
	StatusBroadcastComplete    uint16 = 0x0005
	StatusUnknownVector        uint16 = 0x0006
	StatusInvalidMessage       uint16 = 0x0007
	StatusInvalidCommandClass  uint16 = 0x0008
)

// ErrMalformed is returned for any structurally invalid RPT PDU.
var ErrMalformed = errors.New("rpt: malformed message")

// ErrUnsupportedVector is returned by Decode for a vector this package
// does not recognize.
type ErrUnsupportedVector struct {
	Vector  uint32
	Payload []byte
}

func (e *ErrUnsupportedVector) Error() string {
	return fmt.Sprintf("rpt: unsupported vector %d", e.Vector)
}

// Header addresses an RPT message: source and destination UID/endpoint
// plus a sequence number the sender allocates monotonically per
// connection (used to correlate status responses).
type Header struct {
	SourceUID      rdmuid.UID
	SourceEndpoint uint16
	DestUID        rdmuid.UID
	DestEndpoint   uint16
	SeqNum         uint32
}

const headerSize = rdmuid.Size + 2 + rdmuid.Size + 2 + 4

func (h Header) encode(buf *bytes.Buffer) {
	var b [rdmuid.Size]byte
	_ = rdmuid.Pack(h.SourceUID, b[:])
	buf.Write(b[:])
	var u16 [2]byte
	wire.PutUint16(u16[:], h.SourceEndpoint)
	buf.Write(u16[:])
	_ = rdmuid.Pack(h.DestUID, b[:])
	buf.Write(b[:])
	wire.PutUint16(u16[:], h.DestEndpoint)
	buf.Write(u16[:])
	var u32 [4]byte
	wire.PutUint32(u32[:], h.SeqNum)
	buf.Write(u32[:])
}

func decodeHeader(buf []byte) (Header, error) {
	if err := wire.RequireLen(buf, headerSize); err != nil {
		return Header{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	src, err := rdmuid.Parse(buf[0:rdmuid.Size])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	off := rdmuid.Size
	srcEP := wire.GetUint16(buf[off : off+2])
	off += 2
	dst, err := rdmuid.Parse(buf[off : off+rdmuid.Size])
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	off += rdmuid.Size
	dstEP := wire.GetUint16(buf[off : off+2])
	off += 2
	seq := wire.GetUint32(buf[off : off+4])
	return Header{SourceUID: src, SourceEndpoint: srcEP, DestUID: dst, DestEndpoint: dstEP, SeqNum: seq}, nil
}

// Message is implemented by every RPT PDU payload type.
type Message interface {
	Vector() uint32
	GetHeader() Header
	encode(buf *bytes.Buffer)
}

// RDMCommand wraps each chained RDM buffer carried by a Request or
// Notification message inside its own flags-and-length sub-PDU.
type RDMCommand struct {
	Data []byte
}

func encodeRDMCommands(buf *bytes.Buffer, cmds []RDMCommand) {
	for _, c := range cmds {
		var hdr [wire.FlagsAndLengthSize]byte
		_ = wire.PackFlagsAndLength(hdr[:], 0xF, uint32(wire.FlagsAndLengthSize+len(c.Data)))
		buf.Write(hdr[:])
		buf.Write(c.Data)
	}
}

func decodeRDMCommands(buf []byte) ([]RDMCommand, error) {
	var out []RDMCommand
	for len(buf) > 0 {
		if err := wire.RequireLen(buf, wire.FlagsAndLengthSize); err != nil {
			return nil, fmt.Errorf("%w: rdm command: %v", ErrMalformed, err)
		}
		_, length, err := wire.ParseFlagsAndLength(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if int(length) < wire.FlagsAndLengthSize || int(length) > len(buf) {
			return nil, fmt.Errorf("%w: rdm command length %d invalid", ErrMalformed, length)
		}
		data := make([]byte, int(length)-wire.FlagsAndLengthSize)
		copy(data, buf[wire.FlagsAndLengthSize:length])
		out = append(out, RDMCommand{Data: data})
		buf = buf[length:]
	}
	return out, nil
}

// RequestMsg is VECTOR_RPT_REQUEST: a controller sending one or more RDM
// commands to a device.
type RequestMsg struct {
	Header   Header
	Commands []RDMCommand
}

func (m *RequestMsg) Vector() uint32    { return VectorRequest }
func (m *RequestMsg) GetHeader() Header { return m.Header }
func (m *RequestMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	encodeRDMCommands(buf, m.Commands)
}

// NotificationMsg is VECTOR_RPT_NOTIFICATION: a device pushing RDM
// responses or unsolicited updates to a controller (or broadcast).
type NotificationMsg struct {
	Header   Header
	Commands []RDMCommand
}

func (m *NotificationMsg) Vector() uint32    { return VectorNotification }
func (m *NotificationMsg) GetHeader() Header { return m.Header }
func (m *NotificationMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	encodeRDMCommands(buf, m.Commands)
}

// StatusMsg is VECTOR_RPT_STATUS: a routing-level error delivered in
// place of the requested response (e.g. the destination UID is unknown).
type StatusMsg struct {
	Header       Header
	StatusCode   uint16
	StatusString string
}

func (m *StatusMsg) Vector() uint32    { return VectorStatus }
func (m *StatusMsg) GetHeader() Header { return m.Header }
func (m *StatusMsg) encode(buf *bytes.Buffer) {
	m.Header.encode(buf)
	var b [2]byte
	wire.PutUint16(b[:], m.StatusCode)
	buf.Write(b[:])
	buf.WriteString(m.StatusString)
}

func decodeStatus(header Header, buf []byte) (*StatusMsg, error) {
	if err := wire.RequireLen(buf, 2); err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	code := wire.GetUint16(buf[0:2])
	return &StatusMsg{Header: header, StatusCode: code, StatusString: string(buf[2:])}, nil
}

const pduHeaderSize = wire.FlagsAndLengthSize + 4

// Pack serializes an RPT PDU: flags-and-length, vector, and payload.
func Pack(msg Message) ([]byte, error) {
	body := new(bytes.Buffer)
	msg.encode(body)
	total := pduHeaderSize + body.Len()
	if total > wire.MaxPDULength {
		return nil, fmt.Errorf("rpt: pdu length %d exceeds field width", total)
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

// Decode parses an RPT PDU from buf, returning the concrete Message and
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
	case VectorRequest:
		cmds, derr := decodeRDMCommands(rest)
		if derr != nil {
			return nil, 0, derr
		}
		msg = &RequestMsg{Header: header, Commands: cmds}
	case VectorNotification:
		cmds, derr := decodeRDMCommands(rest)
		if derr != nil {
			return nil, 0, derr
		}
		msg = &NotificationMsg{Header: header, Commands: cmds}
	case VectorStatus:
		msg, err = decodeStatus(header, rest)
	default:
		return nil, 0, &ErrUnsupportedVector{Vector: vector, Payload: payload}
	}
	if err != nil {
		return nil, 0, err
	}
	return msg, int(length), nil
}
