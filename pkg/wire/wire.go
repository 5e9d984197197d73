// Package wire implements the shared binary packing primitives used by
// every RDMnet PDU layer: flags-and-length fields, fixed-width
// null-padded strings, and canonical network-layout addresses. Every
// multi-byte integer on the wire is network (big-endian) byte order.
//
// These helpers play the same role for RDMnet's ACN framing that
// internal/protocol/xdr/encode.go's WriteXDRString/WriteXDROpaque play for
// XDR: length-prefixed, padded wire primitives shared by every message
// type built on top of them. RDMnet's framing is not XDR (no 4-byte
// alignment, fixed-width string fields instead of length-prefixed ones
// for several PDUs), so the helpers are re-derived for this layout rather
// than reusing the XDR package directly.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// FlagsAndLengthSize is the fixed size of an ACN "flags and length" field.
const FlagsAndLengthSize = 3

// MaxPDULength is the largest value the 20-bit length field can encode.
const MaxPDULength = 1<<20 - 1

// PackFlagsAndLength writes a 3-byte flags-and-length field: the top
// nibble of the first byte carries flags, the remaining 20 bits carry
// length (inclusive of these 3 bytes).
func PackFlagsAndLength(buf []byte, flags byte, length uint32) error {
	if len(buf) < FlagsAndLengthSize {
		return fmt.Errorf("wire: PackFlagsAndLength: buffer too small")
	}
	if length > MaxPDULength {
		return fmt.Errorf("wire: PackFlagsAndLength: length %d exceeds %d-bit field", length, 20)
	}
	buf[0] = (flags << 4) | byte(length>>16&0x0F)
	buf[1] = byte(length >> 8)
	buf[2] = byte(length)
	return nil
}

// ParseFlagsAndLength reads a 3-byte flags-and-length field.
func ParseFlagsAndLength(buf []byte) (flags byte, length uint32, err error) {
	if len(buf) < FlagsAndLengthSize {
		return 0, 0, fmt.Errorf("wire: ParseFlagsAndLength: buffer too small")
	}
	flags = buf[0] >> 4
	length = uint32(buf[0]&0x0F)<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	return flags, length, nil
}

// PutFixedString writes s into buf[:n], null-terminating and zero-padding
// to exactly n bytes. If s is longer than n-1 bytes it is truncated and
// still null-terminated.
func PutFixedString(buf []byte, n int, s string) error {
	if len(buf) < n {
		return fmt.Errorf("wire: PutFixedString: buffer too small: have %d, need %d", len(buf), n)
	}
	b := []byte(s)
	if len(b) >= n {
		b = b[:n-1]
	}
	copy(buf[:n], b)
	for i := len(b); i < n; i++ {
		buf[i] = 0
	}
	return nil
}

// GetFixedString reads a null-padded fixed-width string field, trimming
// at the first NUL (or the field width if unterminated).
func GetFixedString(buf []byte, n int) (string, error) {
	if len(buf) < n {
		return "", fmt.Errorf("wire: GetFixedString: buffer too small: have %d, need %d", len(buf), n)
	}
	field := buf[:n]
	end := 0
	for end < n && field[end] != 0 {
		end++
	}
	return string(field[:end]), nil
}

// PutUint16 / PutUint32 / PutUint64 are thin aliases over encoding/binary
// kept local so every PDU-level pack function imports one package for its
// integer fields instead of reaching into encoding/binary directly; this
// mirrors the teacher's own XDR helpers being the single point of contact
// for wire integers.
func PutUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func PutUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func PutUint64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }

func GetUint16(buf []byte) uint16 { return binary.BigEndian.Uint16(buf) }
func GetUint32(buf []byte) uint32 { return binary.BigEndian.Uint32(buf) }
func GetUint64(buf []byte) uint64 { return binary.BigEndian.Uint64(buf) }

// PutIPv4 packs a 4-byte IPv4 address plus a 2-byte port in canonical
// network layout: [addr(4)][port(2)].
func PutIPv4(buf []byte, ip net.IP, port uint16) error {
	if len(buf) < 6 {
		return fmt.Errorf("wire: PutIPv4: buffer too small")
	}
	v4 := ip.To4()
	if v4 == nil {
		return fmt.Errorf("wire: PutIPv4: %v is not an IPv4 address", ip)
	}
	copy(buf[0:4], v4)
	PutUint16(buf[4:6], port)
	return nil
}

// GetIPv4 is the inverse of PutIPv4.
func GetIPv4(buf []byte) (net.IP, uint16, error) {
	if len(buf) < 6 {
		return nil, 0, fmt.Errorf("wire: GetIPv4: buffer too small")
	}
	ip := net.IPv4(buf[0], buf[1], buf[2], buf[3])
	port := GetUint16(buf[4:6])
	return ip, port, nil
}

// PutIPv6 packs a 16-byte IPv6 address plus a 2-byte port.
func PutIPv6(buf []byte, ip net.IP, port uint16) error {
	if len(buf) < 18 {
		return fmt.Errorf("wire: PutIPv6: buffer too small")
	}
	v6 := ip.To16()
	if v6 == nil {
		return fmt.Errorf("wire: PutIPv6: %v is not an IPv6 address", ip)
	}
	copy(buf[0:16], v6)
	PutUint16(buf[16:18], port)
	return nil
}

// GetIPv6 is the inverse of PutIPv6.
func GetIPv6(buf []byte) (net.IP, uint16, error) {
	if len(buf) < 18 {
		return nil, 0, fmt.Errorf("wire: GetIPv6: buffer too small")
	}
	ip := make(net.IP, 16)
	copy(ip, buf[0:16])
	port := GetUint16(buf[16:18])
	return ip, port, nil
}

// RequireLen enforces that buf has at least n bytes remaining, returning
// an error the caller can wrap into its own malformed-PDU error type.
func RequireLen(buf []byte, n int) error {
	if len(buf) < n {
		return fmt.Errorf("wire: buffer too short: have %d, need %d", len(buf), n)
	}
	return nil
}
