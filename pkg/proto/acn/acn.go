// Package acn implements the ACN framing layer shared by every RDMnet
// message: the TCP/UDP preamble and the Root PDU that carries a
// Broker/RPT/EPT/LLRP vector plus the sender's CID. Protocol-specific
// payload parsing lives one layer up, in pkg/proto/broker, pkg/proto/rpt,
// pkg/proto/ept, and pkg/proto/llrp.
//
// Encode/Decode here play the same role that XdrEncoder/XdrDecoder play
// for the NFS codec stack: a small shared interface every concrete
// message type implements so generic framing code can pack/parse without
// a type switch.
package acn

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/wire"
)

// Identifier is the fixed 12-byte ACN packet identifier that opens every
// RDMnet TCP and UDP datagram.
const Identifier = "ASC-E1.17\x00\x00\x00"

// PreambleSize and PostambleSize are the two leading 16-bit fields that
// precede the ACN packet identifier on the wire.
const (
	PreambleSize  uint16 = 0x0010
	PostambleSize uint16 = 0x0000
)

// PreambleLen is the full size in bytes of preamble-size + postamble-size
// + identifier.
const PreambleLen = 2 + 2 + len(Identifier)

// Root PDU vectors, selecting which protocol-specific codec parses the
// PDU data that follows the sender CID.
const (
	VectorRootBroker uint32 = 0x00000009
	VectorRootRPT    uint32 = 0x00000005
	VectorRootEPT    uint32 = 0x0000000b
	VectorRootLLRP   uint32 = 0x0000000a
)

// ErrMalformed is returned whenever a buffer does not decode as a
// well-formed ACN preamble or Root PDU.
var ErrMalformed = errors.New("acn: malformed message")

// RootLayerHeaderSize is flags+length(3) + vector(4) + CID(16).
const RootLayerHeaderSize = wire.FlagsAndLengthSize + 4 + cid.Size

// RootPDU is a parsed Root Layer PDU: a vector identifying the
// protocol-specific payload, the sender's CID, and the raw payload bytes
// (everything after the CID, up to the PDU's own length).
type RootPDU struct {
	Vector  uint32
	Sender  cid.CID
	Payload []byte
}

// WritePreamble appends the fixed ACN TCP preamble to buf.
func WritePreamble(buf *bytes.Buffer) {
	var b [PreambleLen]byte
	wire.PutUint16(b[0:2], PreambleSize)
	wire.PutUint16(b[2:4], PostambleSize)
	copy(b[4:], Identifier)
	buf.Write(b[:])
}

// ConsumePreamble strips and validates the leading ACN preamble from buf,
// returning the remainder.
func ConsumePreamble(buf []byte) ([]byte, error) {
	if len(buf) < PreambleLen {
		return nil, fmt.Errorf("%w: short preamble", ErrMalformed)
	}
	if wire.GetUint16(buf[0:2]) != PreambleSize || wire.GetUint16(buf[2:4]) != PostambleSize {
		return nil, fmt.Errorf("%w: bad preamble sizes", ErrMalformed)
	}
	if string(buf[4:PreambleLen]) != Identifier {
		return nil, fmt.Errorf("%w: bad ACN identifier", ErrMalformed)
	}
	return buf[PreambleLen:], nil
}

// WriteRootLayer packs a Root Layer PDU: flags-and-length, vector,
// sender CID, and the already-encoded protocol-specific payload.
func WriteRootLayer(buf *bytes.Buffer, vector uint32, sender cid.CID, payload []byte) error {
	length := uint32(RootLayerHeaderSize + len(payload))
	if length > wire.MaxPDULength {
		return fmt.Errorf("acn: root PDU length %d exceeds field width", length)
	}
	var header [wire.FlagsAndLengthSize]byte
	// A Root PDU is always a standalone top-level PDU: both the length
	// and vector flag bits are set.
	if err := wire.PackFlagsAndLength(header[:], 0xF, length); err != nil {
		return err
	}
	buf.Write(header[:])
	var vb [4]byte
	wire.PutUint32(vb[:], vector)
	buf.Write(vb[:])
	buf.Write(sender.Bytes())
	buf.Write(payload)
	return nil
}

// ParseRootLayer reads a single Root Layer PDU from the front of buf,
// returning the parsed PDU and the number of bytes consumed.
func ParseRootLayer(buf []byte) (RootPDU, int, error) {
	if err := wire.RequireLen(buf, wire.FlagsAndLengthSize); err != nil {
		return RootPDU{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	_, length, err := wire.ParseFlagsAndLength(buf)
	if err != nil {
		return RootPDU{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if int(length) < RootLayerHeaderSize {
		return RootPDU{}, 0, fmt.Errorf("%w: root PDU length %d too small", ErrMalformed, length)
	}
	if err := wire.RequireLen(buf, int(length)); err != nil {
		return RootPDU{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	vector := wire.GetUint32(buf[wire.FlagsAndLengthSize : wire.FlagsAndLengthSize+4])
	cidStart := wire.FlagsAndLengthSize + 4
	sender, err := cid.FromBytes(buf[cidStart : cidStart+cid.Size])
	if err != nil {
		return RootPDU{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	payload := buf[cidStart+cid.Size : length]
	return RootPDU{Vector: vector, Sender: sender, Payload: payload}, int(length), nil
}

// WriteMessage assembles a complete on-the-wire message: preamble
// followed by one Root Layer PDU.
func WriteMessage(vector uint32, sender cid.CID, payload []byte) []byte {
	buf := new(bytes.Buffer)
	WritePreamble(buf)
	// WriteRootLayer only fails on an oversize payload, which callers
	// building PDUs from bounded in-memory structures never produce.
	_ = WriteRootLayer(buf, vector, sender, payload)
	return buf.Bytes()
}

// ParseMessage validates the ACN preamble and parses the Root Layer PDU
// that follows it.
func ParseMessage(buf []byte) (RootPDU, error) {
	rest, err := ConsumePreamble(buf)
	if err != nil {
		return RootPDU{}, err
	}
	pdu, _, err := ParseRootLayer(rest)
	return pdu, err
}
