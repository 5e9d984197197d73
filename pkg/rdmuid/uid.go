// Package rdmuid implements the RDM Unique Identifier (UID): the
// {manufacturer, device} pair that addresses responders and RPT clients.
package rdmuid

import (
	"encoding/binary"
	"fmt"
)

// Size is the packed wire size of a UID, in bytes (2 + 4).
const Size = 6

// Reserved device-ID values and broadcast addresses, per ANSI E1.20/E1.33.
const (
	// DynamicUIDRequestDevice marks a UID as "dynamic, not yet assigned".
	DynamicUIDRequestDevice uint32 = 0

	// AllDevicesBroadcast is the device-field broadcast value for a single
	// manufacturer ID (or the global broadcast manufacturer 0xFFFF).
	AllDevicesBroadcast uint32 = 0xFFFFFFFF

	// BroadcastAllManufacturers is the manufacturer-field broadcast value.
	BroadcastAllManufacturers uint16 = 0xFFFF

	// DynamicUIDMaxDevice is the largest device ID a broker may assign
	// dynamically before wrapping back to 1 (0 stays reserved).
	DynamicUIDMaxDevice uint32 = 0xFFFFFFFF
)

// UID identifies a component or responder on the RDM bus.
type UID struct {
	Manufacturer uint16
	Device       uint32
}

// Broadcast is the global "every device of every manufacturer" address.
var Broadcast = UID{Manufacturer: BroadcastAllManufacturers, Device: AllDevicesBroadcast}

// Kind classifies a UID as static, dynamic-request, or dynamic-assigned.
// Kind is a property of how the UID is used/obtained and is not encoded
// on the wire; this package defines the values but no function derives a
// Kind from a UID.
type Kind int

const (
	// KindStatic is a UID configured out-of-band (factory/manual).
	KindStatic Kind = iota
	// KindDynamicRequest is a UID with Device == 0, awaiting assignment.
	KindDynamicRequest
	// KindDynamicAssigned is a UID a broker has assigned.
	KindDynamicAssigned
)

// IsDynamicRequest reports whether this UID is requesting dynamic
// assignment (device field is the reserved zero value).
func (u UID) IsDynamicRequest() bool {
	return u.Device == DynamicUIDRequestDevice
}

// IsBroadcast reports whether u addresses every responder of a
// manufacturer (or all manufacturers).
func (u UID) IsBroadcast() bool {
	return u.Device == AllDevicesBroadcast
}

// String renders the canonical "MMMM:DDDDDDDD" hex form used in logs and
// the original RDMnet library's diagnostics.
func (u UID) String() string {
	return fmt.Sprintf("%04x:%08x", u.Manufacturer, u.Device)
}

// Less orders UIDs first by manufacturer then by device, the ordering
// used by the LLRP manager's binary-search range splitting.
func (u UID) Less(o UID) bool {
	if u.Manufacturer != o.Manufacturer {
		return u.Manufacturer < o.Manufacturer
	}
	return u.Device < o.Device
}

// Pack writes the UID's 6-byte network-order representation to buf,
// which must have at least Size bytes remaining.
func Pack(u UID, buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("rdmuid: pack: buffer too small: have %d, need %d", len(buf), Size)
	}
	binary.BigEndian.PutUint16(buf[0:2], u.Manufacturer)
	binary.BigEndian.PutUint32(buf[2:6], u.Device)
	return nil
}

// Parse reads a 6-byte network-order UID from buf.
func Parse(buf []byte) (UID, error) {
	if len(buf) < Size {
		return UID{}, fmt.Errorf("rdmuid: parse: buffer too small: have %d, need %d", len(buf), Size)
	}
	return UID{
		Manufacturer: binary.BigEndian.Uint16(buf[0:2]),
		Device:       binary.BigEndian.Uint32(buf[2:6]),
	}, nil
}

// AsUint64 packs the UID into a single comparable/hashable key, useful as
// a map key in the broker's UID registry.
func (u UID) AsUint64() uint64 {
	return uint64(u.Manufacturer)<<32 | uint64(u.Device)
}

// FromUint64 is the inverse of AsUint64.
func FromUint64(v uint64) UID {
	return UID{
		Manufacturer: uint16(v >> 32),
		Device:       uint32(v),
	}
}
