// Package target implements the LLRP target half of link-local recovery:
// per-interface probe-request evaluation, collision-avoidance reply
// backoff, and the synchronous-response contract for RDM commands
// received over multicast. Grounded on pkg/metadata/lock/grace.go's
// mutex-plus-deadline state machine, generalized from one shared timer to
// one reply_pending deadline per interface.
package target

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// MaxBackoff is LLRP_MAX_BACKOFF_MS: the ceiling of the uniform reply
// delay drawn to avoid every matching target replying at once.
const MaxBackoff = 2000 * time.Millisecond

// Callbacks is the user-level callback set a Target invokes. As with
// pkg/connection, these fire outside the target's lock.
type Callbacks struct {
	// SendReply transmits a packed probe reply on the given interface.
	SendReply func(iface string, reply *llrp.ProbeReplyMsg) error
	// HandleRDMCommand is the synchronous-response contract: the target
	// calls this with the inbound RDM buffer and expects the RDM
	// response buffer back, or ok=false to suppress any reply.
	HandleRDMCommand func(iface string, data []byte) (response []byte, ok bool)
}

// Config configures a Target.
type Config struct {
	CID           cid.CID
	UID           rdmuid.UID
	ComponentType uint8
	HardwareAddr  [llrp.HardwareAddrLen]byte
	// Rand, if set, is used instead of math/rand's default source for
	// the reply backoff draw. Tests inject a seeded source for
	// determinism.
	Rand *rand.Rand
}

type interfaceState struct {
	known              bool
	replyPending       bool
	pendingReplyCID    cid.CID
	pendingReplyTrans  uint32
	replyBackoffDeadline time.Time
}

// Target tracks per-interface LLRP state for one local component.
type Target struct {
	mu   sync.Mutex
	cfg  Config
	cb   Callbacks
	rng  *rand.Rand
	byIf map[string]*interfaceState

	connectedToBroker bool
}

// New constructs a Target. The target starts out not connected to a
// broker; SetConnectedToBroker records changes to that state.
func New(cfg Config, cb Callbacks) *Target {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Target{
		cfg:  cfg,
		cb:   cb,
		rng:  rng,
		byIf: make(map[string]*interfaceState),
	}
}

// SetConnectedToBroker records whether the owning component currently
// has a broker connection. The flag is only stored: probe-request
// evaluation and probe replies do not read it, and replies always carry
// cfg.ComponentType unchanged.
func (t *Target) SetConnectedToBroker(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectedToBroker = connected
}

func (t *Target) stateFor(iface string) *interfaceState {
	st, ok := t.byIf[iface]
	if !ok {
		st = &interfaceState{}
		t.byIf[iface] = st
	}
	return st
}

// HandleProbeRequest evaluates an inbound probe request on iface and
// schedules a reply if this target matches. now is the receipt time used
// to compute the backoff deadline.
func (t *Target) HandleProbeRequest(now time.Time, iface string, req *llrp.ProbeRequestMsg) {
	if t.cfg.UID.Less(req.Lower) || req.Upper.Less(t.cfg.UID) {
		return
	}
	for _, known := range req.KnownUIDs {
		if known == t.cfg.UID {
			return
		}
	}
	if req.Filter&componentFilterBit(t.cfg.ComponentType) != 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateFor(iface)

	delay := time.Duration(t.rng.Int63n(int64(MaxBackoff) + 1))
	deadline := now.Add(delay)
	if !shouldAdoptDeadline(st.replyPending, st.replyBackoffDeadline, deadline) {
		return
	}
	st.replyPending = true
	st.pendingReplyCID = req.Header.DestCID
	st.pendingReplyTrans = req.Header.TransactionNumber
	st.replyBackoffDeadline = deadline
}

// shouldAdoptDeadline implements "if already pending with a closer peer
// probe-request, keep earlier timer": a candidate deadline is adopted
// unless a reply is already pending with a strictly earlier deadline.
func shouldAdoptDeadline(pending bool, existing, candidate time.Time) bool {
	if !pending {
		return true
	}
	return !existing.Before(candidate)
}

// componentFilterBit maps a component type to its suppression bit in a
// probe request's Filter field. Only the broker type maps to a bit
// (FilterBrokersOnly); FilterClientConnInactive is not consulted, and
// every other component type is never suppressed.
func componentFilterBit(componentType uint8) uint16 {
	if componentType == llrp.ComponentTypeBroker {
		return llrp.FilterBrokersOnly
	}
	return 0
}

// Tick fires any reply whose backoff deadline has elapsed.
func (t *Target) Tick(now time.Time) {
	t.mu.Lock()
	type firing struct {
		iface string
		msg   *llrp.ProbeReplyMsg
	}
	var toSend []firing
	for iface, st := range t.byIf {
		if !st.replyPending || now.Before(st.replyBackoffDeadline) {
			continue
		}
		toSend = append(toSend, firing{
			iface: iface,
			msg: &llrp.ProbeReplyMsg{
				Header:        llrp.Header{DestCID: st.pendingReplyCID, TransactionNumber: st.pendingReplyTrans},
				TargetCID:     t.cfg.CID,
				TargetUID:     t.cfg.UID,
				ComponentType: t.cfg.ComponentType,
				HardwareAddr:  t.cfg.HardwareAddr,
			},
		})
		st.replyPending = false
	}
	t.mu.Unlock()

	if t.cb.SendReply == nil {
		return
	}
	for _, f := range toSend {
		_ = t.cb.SendReply(f.iface, f.msg)
	}
}

// HandleRDMCommand dispatches an inbound LLRP RDM command to the user's
// synchronous-response handler and, if it returns a response, invokes
// SendRDMResponse via the caller-supplied sender on the same interface the
// command arrived on.
func (t *Target) HandleRDMCommand(iface string, cmd *llrp.RDMCommandMsg, send func(iface string, resp *llrp.RDMResponseMsg) error) {
	if t.cb.HandleRDMCommand == nil {
		return
	}
	resp, ok := t.cb.HandleRDMCommand(iface, cmd.Data)
	if !ok || send == nil {
		return
	}
	_ = send(iface, &llrp.RDMResponseMsg{Header: cmd.Header, Data: resp})
}
