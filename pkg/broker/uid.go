package broker

import (
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// advanceDeviceID returns the next device ID after c, wrapping
// 0xFFFFFFFF back to 1 rather than 0: device ID 0 is reserved (it marks
// a dynamic-UID request, never an assignment) so the cursor must skip
// it on wraparound.
func advanceDeviceID(c uint32) uint32 {
	if c >= 0xFFFFFFFF {
		return 1
	}
	return c + 1
}

// assignDynamicLocked returns the UID already assigned to requester's
// CID under manufacturer, or mints a fresh one by walking the cursor
// forward past every already-live or already-reserved candidate. Caller
// must hold b.mu.
func (b *Broker) assignDynamicLocked(manufacturer uint16, requester cid.CID) rdmuid.UID {
	if existing, ok := b.dynamicByRequester[requester]; ok && existing.Manufacturer == manufacturer {
		return existing
	}

	for {
		b.uidCursor = advanceDeviceID(b.uidCursor)
		candidate := rdmuid.UID{Manufacturer: manufacturer, Device: b.uidCursor}
		if _, liveTaken := b.uidToHandle[candidate.AsUint64()]; liveTaken {
			continue
		}
		if reserved := b.reservedLocked(candidate); reserved {
			continue
		}
		b.dynamicByRequester[requester] = candidate
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.DynamicUIDAssigned()
		}
		return candidate
	}
}

// reservedLocked reports whether uid is already held as some other CID's
// dynamic assignment for the session, even if that CID is not currently
// connected (dynamic UIDs persist for the session once assigned, per the
// "UID manager" state rules).
func (b *Broker) reservedLocked(uid rdmuid.UID) bool {
	for _, assigned := range b.dynamicByRequester {
		if assigned == uid {
			return true
		}
	}
	return false
}

// ErrDuplicateID is returned by addUIDLocked when uid is already held by
// a different live client.
var ErrDuplicateID = errDuplicateID{}

type errDuplicateID struct{}

func (errDuplicateID) Error() string { return "broker: uid already in use" }

// addUIDLocked registers a fixed UID for handle directly, bypassing dynamic
// assignment. It only conflicts with another *live* holder of the same
// UID: a static UID freed by one client's disconnect is immediately
// reusable by the next one to present it, since the live registry (not
// the session-long dynamic reservation set) is what the uniqueness
// invariant is actually about.
func (b *Broker) addUIDLocked(uid rdmuid.UID, h ClientHandle) error {
	if owner, ok := b.uidToHandle[uid.AsUint64()]; ok && owner != h {
		return ErrDuplicateID
	}
	b.uidToHandle[uid.AsUint64()] = h
	b.handleToUID[h] = uid
	return nil
}

// removeUIDLocked drops handle's UID binding, if any. Caller must hold
// b.mu. The session-long dynamic reservation in dynamicByRequester is
// deliberately left untouched: a disconnecting dynamic client keeps its
// assignment for the rest of the broker's session, so a later
// reconnect from the same CID gets the same UID back.
func (b *Broker) removeUIDLocked(h ClientHandle) {
	uid, ok := b.handleToUID[h]
	if !ok {
		return
	}
	delete(b.handleToUID, h)
	if b.uidToHandle[uid.AsUint64()] == h {
		delete(b.uidToHandle, uid.AsUint64())
	}
}

// LookupUID returns the UID currently bound to handle, if the client is
// still registered.
func (b *Broker) LookupUID(h ClientHandle) (rdmuid.UID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	uid, ok := b.handleToUID[h]
	return uid, ok
}

// LookupHandle returns the handle currently bound to uid, if any client
// holds it live.
func (b *Broker) LookupHandle(uid rdmuid.UID) (ClientHandle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.uidToHandle[uid.AsUint64()]
	return h, ok
}
