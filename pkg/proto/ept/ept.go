// Package ept implements the EPT (Extensible Packet Transport) protocol
// PDU: RDMnet's generic transport for non-RDM payloads between clients
// that share a sub-protocol vector. The core does not interpret the
// opaque data it carries.
package ept

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/wire"
)

// EPT PDU vectors.
const (
	VectorData   uint32 = 1
	VectorStatus uint32 = 2
)

// Status codes carried by a StatusMsg.
const (
	StatusUnknownCID      uint16 = 0x0000
	StatusUnknownVector   uint16 = 0x0001
)

// ErrMalformed is returned for any structurally invalid EPT PDU.
var ErrMalformed = errors.New("ept: malformed message")

// ErrUnsupportedVector is returned by Decode for a vector this package
// does not recognize.
type ErrUnsupportedVector struct {
	Vector  uint32
	Payload []byte
}

func (e *ErrUnsupportedVector) Error() string {
	return fmt.Sprintf("ept: unsupported vector %d", e.Vector)
}

// Message is implemented by every EPT PDU payload type.
type Message interface {
	Vector() uint32
	GetDestCID() cid.CID
	encode(buf *bytes.Buffer)
}

// DataMsg is VECTOR_EPT_DATA: an opaque sub-protocol payload addressed
// to another EPT client by CID.
type DataMsg struct {
	DestCID        cid.CID
	SubProtocolVec uint32
	Data           []byte
}

func (m *DataMsg) Vector() uint32      { return VectorData }
func (m *DataMsg) GetDestCID() cid.CID { return m.DestCID }

func (m *DataMsg) encode(buf *bytes.Buffer) {
	buf.Write(m.DestCID.Bytes())
	var v [4]byte
	wire.PutUint32(v[:], m.SubProtocolVec)
	buf.Write(v[:])
	buf.Write(m.Data)
}

func decodeData(buf []byte) (*DataMsg, error) {
	if err := wire.RequireLen(buf, cid.Size+4); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	dest, err := cid.FromBytes(buf[0:cid.Size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	vec := wire.GetUint32(buf[cid.Size : cid.Size+4])
	data := make([]byte, len(buf)-cid.Size-4)
	copy(data, buf[cid.Size+4:])
	return &DataMsg{DestCID: dest, SubProtocolVec: vec, Data: data}, nil
}

// StatusMsg is VECTOR_EPT_STATUS: a routing-level error reported to the
// sender of a DataMsg that could not be delivered.
type StatusMsg struct {
	DestCID    cid.CID
	StatusCode uint16
}

func (m *StatusMsg) Vector() uint32      { return VectorStatus }
func (m *StatusMsg) GetDestCID() cid.CID { return m.DestCID }

func (m *StatusMsg) encode(buf *bytes.Buffer) {
	buf.Write(m.DestCID.Bytes())
	var v [2]byte
	wire.PutUint16(v[:], m.StatusCode)
	buf.Write(v[:])
}

func decodeStatus(buf []byte) (*StatusMsg, error) {
	if err := wire.RequireLen(buf, cid.Size+2); err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	dest, err := cid.FromBytes(buf[0:cid.Size])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	code := wire.GetUint16(buf[cid.Size : cid.Size+2])
	return &StatusMsg{DestCID: dest, StatusCode: code}, nil
}

const pduHeaderSize = wire.FlagsAndLengthSize + 4

// Pack serializes an EPT PDU: flags-and-length, vector, and payload.
func Pack(msg Message) ([]byte, error) {
	body := new(bytes.Buffer)
	msg.encode(body)
	total := pduHeaderSize + body.Len()
	if total > wire.MaxPDULength {
		return nil, fmt.Errorf("ept: pdu length %d exceeds field width", total)
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

// Decode parses an EPT PDU from buf, returning the concrete Message and
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

	var msg Message
	switch vector {
	case VectorData:
		msg, err = decodeData(payload)
	case VectorStatus:
		msg, err = decodeStatus(payload)
	default:
		return nil, 0, &ErrUnsupportedVector{Vector: vector, Payload: payload}
	}
	if err != nil {
		return nil, 0, err
	}
	return msg, int(length), nil
}
