// Package cid implements the RDMnet Component Identifier (CID): a 128-bit
// UUID that uniquely and immutably identifies a component on the network.
package cid

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Size is the packed wire size of a CID, in bytes.
const Size = 16

// CID is a 128-bit component identifier. The zero value is the nil CID.
type CID [Size]byte

// Nil is the all-zero CID, used as a sentinel for "not yet assigned".
var Nil CID

// New generates a fresh random (v4) CID. A component's CID is immutable
// once assigned; callers are expected to generate it once at startup and
// persist it across restarts if continuity matters.
func New() CID {
	u := uuid.New()
	var c CID
	copy(c[:], u[:])
	return c
}

// Must is a convenience for package-level CID constants derived from a
// fixed string; it panics on a malformed literal, which is appropriate
// only for compile-time-known test fixtures.
func Must(s string) CID {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse parses the canonical "xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx" string
// form of a CID.
func Parse(s string) (CID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("cid: parse %q: %w", s, err)
	}
	var c CID
	copy(c[:], u[:])
	return c, nil
}

// FromBytes copies a 16-byte slice into a CID, in canonical network order.
func FromBytes(b []byte) (CID, error) {
	if len(b) != Size {
		return Nil, fmt.Errorf("cid: want %d bytes, got %d", Size, len(b))
	}
	var c CID
	copy(c[:], b)
	return c, nil
}

// Bytes returns the CID's canonical 16-byte big-endian representation,
// suitable for wire packing.
func (c CID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, c[:])
	return out
}

// String renders the canonical UUID string form.
func (c CID) String() string {
	return uuid.UUID(c).String()
}

// IsNil reports whether this is the zero CID.
func (c CID) IsNil() bool {
	return c == Nil
}

// Compare performs the byte-wise big-endian comparison used by the
// discovery adapter's broker-election logic: CID is treated as a 16-byte
// big-endian unsigned integer. Returns <0, 0, >0 the way bytes.Compare does.
func Compare(a, b CID) int {
	return bytes.Compare(a[:], b[:])
}

// Uint64Halves exposes the high/low 64 bits for callers (e.g. hashing,
// sharding) that want a cheap numeric surrogate without pulling in the
// full byte-wise comparison; it is not used for wire packing.
func (c CID) Uint64Halves() (hi, lo uint64) {
	hi = binary.BigEndian.Uint64(c[0:8])
	lo = binary.BigEndian.Uint64(c[8:16])
	return
}
