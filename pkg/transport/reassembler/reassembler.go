// Package reassembler accumulates bytes read from a TCP connection and
// yields complete ACN-framed messages. It mirrors the
// fragment-header/read-loop contract used by the teacher's own
// stream-oriented adapters (read a framing header, then read exactly
// that many bytes into a pooled buffer), generalized to ACN's
// preamble + flags-and-length framing instead of RPC record marking.
package reassembler

import (
	"errors"
	"fmt"

	"github.com/rdmnet-go/rdmnet/pkg/bufpool"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/wire"
)

// MaxMessageSize bounds the largest frame the reassembler will accept
// before reporting ErrOversize. It is well under the largest value the
// Root PDU's 20-bit length field can express, since no legitimate
// RDMnet message (even a maximal client list fragment) approaches that
// field's theoretical ceiling.
const MaxMessageSize = 1 << 16

// ErrOversize is returned by Poll when a declared message length exceeds
// MaxMessageSize. The caller MUST close the connection.
var ErrOversize = errors.New("reassembler: message exceeds maximum size")

// ErrMalformed is returned by Poll when the accumulated bytes do not
// begin with a valid ACN preamble or Root PDU length field. The caller
// MUST close the connection.
var ErrMalformed = acn.ErrMalformed

// Reassembler buffers bytes from a single TCP connection and extracts
// complete ACN messages from the stream. It never discards bytes
// silently: once Feed appends data, every byte is either returned inside
// a Poll'd message or left pending for the next message.
type Reassembler struct {
	buf []byte
}

// New returns an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{}
}

// Feed appends newly read bytes to the reassembler's internal buffer.
// It never blocks and never fails.
func (r *Reassembler) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// Poll attempts to extract one complete message from the buffered bytes.
// It returns (nil, false, nil) when more data is needed, (msg, true, nil)
// when a message is ready, and (nil, false, err) on malformed or oversize
// input. The caller owns the returned buffer and must return it with
// bufpool.Put once done; Poll may be called again immediately after a
// successful extraction to drain any further complete messages already
// buffered.
func (r *Reassembler) Poll() ([]byte, bool, error) {
	if len(r.buf) < acn.PreambleLen {
		return nil, false, nil
	}
	rest, err := acn.ConsumePreamble(r.buf)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rest) < wire.FlagsAndLengthSize {
		return nil, false, nil
	}
	_, rootLen, err := wire.ParseFlagsAndLength(rest)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if int(rootLen) < acn.RootLayerHeaderSize {
		return nil, false, fmt.Errorf("%w: root PDU length %d too small", ErrMalformed, rootLen)
	}
	total := acn.PreambleLen + int(rootLen)
	if total > MaxMessageSize {
		return nil, false, fmt.Errorf("%w: declared %d bytes", ErrOversize, total)
	}
	if len(r.buf) < total {
		return nil, false, nil
	}

	msg := bufpool.Get(total)
	copy(msg, r.buf[:total])
	r.consume(total)
	return msg, true, nil
}

// consume drops the first n bytes of the internal buffer, compacting the
// remainder in place.
func (r *Reassembler) consume(n int) {
	remaining := len(r.buf) - n
	copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
}

// Pending reports how many bytes are currently buffered awaiting a
// complete message; useful for idle-connection diagnostics.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}
