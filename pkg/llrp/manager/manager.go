// Package manager implements the LLRP manager: probe-request issuance,
// recursive known-UID-space range splitting, and RDM command/response
// correlation by transaction number. Grounded on
// internal/protocol/nlm/blocking/queue.go's lock-guarded FIFO-of-pending
// shape, generalized here to a queue of pending UID ranges processed on a
// discovery tick, and on internal/protocol/nsm/callback/client.go's
// fire-and-match-by-xid convention for send_rdm_command/response
// correlation.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/internal/telemetry"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

// DiscoveryInterval is LLRP_DISCOVERY_INTERVAL: how long the manager waits
// after issuing a probe request before deciding whether to recurse.
const DiscoveryInterval = 2500 * time.Millisecond

// MaxKnownUIDsPerRequest bounds how many known UIDs one probe request
// carries, matching llrp.MaxKnownUIDs.
const MaxKnownUIDsPerRequest = llrp.MaxKnownUIDs

// RecurseThreshold approximates "200 minus len(known_uids that fit in a
// message)": once a range has produced at least this many fresh replies in
// one interval, it is assumed to hold more targets than a single
// known-UID suppression list can track, and is split in half.
const RecurseThreshold = MaxKnownUIDsPerRequest - 20

// TargetRecord is what the manager knows about one discovered target.
type TargetRecord struct {
	CID           cid.CID
	UID           rdmuid.UID
	ComponentType uint8
	HardwareAddr  [llrp.HardwareAddrLen]byte
}

// Metrics is the counter set a Manager records through, if any.
type Metrics interface {
	DiscoveryRoundStarted()
	DeviceProbed(found bool)
}

// Callbacks is the user-facing event set.
type Callbacks struct {
	SendProbeRequest  func(req *llrp.ProbeRequestMsg) error
	SendRDMCommand    func(cmd *llrp.RDMCommandMsg) error
	TargetDiscovered  func(t TargetRecord)
	DiscoveryFinished func()

	// Metrics records discovery events, if set. Nil disables recording.
	Metrics Metrics
}

type uidRange struct {
	lower, upper rdmuid.UID
}

type rangeState struct {
	r              uidRange
	deadline       time.Time
	repliesInRound int
}

// Manager runs recursive LLRP discovery and correlates RDM
// command/response pairs by transaction number.
type Manager struct {
	mu sync.Mutex

	cb        Callbacks
	knownUIDs map[rdmuid.UID]TargetRecord

	pendingRanges []*rangeState
	activeRange   *rangeState

	nextTransNum uint32
	pendingCmds  map[uint32]chan *llrp.RDMResponseMsg

	discoveryActive bool
}

// New constructs an idle Manager.
func New(cb Callbacks) *Manager {
	return &Manager{
		cb:          cb,
		knownUIDs:   make(map[rdmuid.UID]TargetRecord),
		pendingCmds: make(map[uint32]chan *llrp.RDMResponseMsg),
	}
}

// StartDiscovery seeds the range queue with the entire 48-bit UID space
// and issues the first probe request.
func (m *Manager) StartDiscovery(now time.Time) error {
	m.mu.Lock()
	m.discoveryActive = true
	m.pendingRanges = []*rangeState{{
		r: uidRange{
			lower: rdmuid.UID{Manufacturer: 0, Device: 0},
			upper: rdmuid.UID{Manufacturer: 0xFFFF, Device: 0xFFFFFFFF},
		},
	}}
	m.mu.Unlock()
	return m.advance(now)
}

// advance pops the next pending range (if no range is currently active)
// and issues its probe request.
func (m *Manager) advance(now time.Time) error {
	m.mu.Lock()
	if m.activeRange != nil || len(m.pendingRanges) == 0 {
		finished := m.activeRange == nil && len(m.pendingRanges) == 0 && m.discoveryActive
		if finished {
			m.discoveryActive = false
		}
		m.mu.Unlock()
		if finished && m.cb.DiscoveryFinished != nil {
			m.cb.DiscoveryFinished()
		}
		return nil
	}
	next := m.pendingRanges[0]
	m.pendingRanges = m.pendingRanges[1:]
	next.deadline = now.Add(DiscoveryInterval)
	next.repliesInRound = 0
	m.activeRange = next

	known := m.knownUIDsInRangeLocked(next.r)
	if len(known) > MaxKnownUIDsPerRequest {
		known = known[:MaxKnownUIDsPerRequest]
	}
	req := &llrp.ProbeRequestMsg{
		Lower:     next.r.lower,
		Upper:     next.r.upper,
		KnownUIDs: known,
	}
	m.mu.Unlock()

	if m.cb.Metrics != nil {
		m.cb.Metrics.DiscoveryRoundStarted()
	}
	_, span := telemetry.StartLLRPDiscoverySpan(context.Background(),
		telemetry.TargetUID(next.r.lower.String()+"-"+next.r.upper.String()))
	defer span.End()

	if m.cb.SendProbeRequest == nil {
		return nil
	}
	if err := m.cb.SendProbeRequest(req); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (m *Manager) knownUIDsInRangeLocked(r uidRange) []rdmuid.UID {
	var out []rdmuid.UID
	for uid := range m.knownUIDs {
		if !uid.Less(r.lower) && !r.upper.Less(uid) {
			out = append(out, uid)
		}
	}
	return out
}

// HandleProbeReply records a discovered target and notifies the caller.
func (m *Manager) HandleProbeReply(reply *llrp.ProbeReplyMsg) {
	m.mu.Lock()
	_, alreadyKnown := m.knownUIDs[reply.TargetUID]
	record := TargetRecord{
		CID:           reply.TargetCID,
		UID:           reply.TargetUID,
		ComponentType: reply.ComponentType,
		HardwareAddr:  reply.HardwareAddr,
	}
	m.knownUIDs[reply.TargetUID] = record
	if m.activeRange != nil {
		m.activeRange.repliesInRound++
	}
	m.mu.Unlock()

	if m.cb.Metrics != nil {
		m.cb.Metrics.DeviceProbed(true)
	}
	if !alreadyKnown && m.cb.TargetDiscovered != nil {
		m.cb.TargetDiscovered(record)
	}
}

// Tick checks whether the active range's discovery interval has elapsed;
// if so, it decides whether to recurse (split and requeue) or retire the
// range, then advances to the next pending range.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	active := m.activeRange
	if active == nil || now.Before(active.deadline) {
		m.mu.Unlock()
		return
	}
	m.activeRange = nil
	recurse := active.repliesInRound >= RecurseThreshold
	if recurse {
		lower, upper := split(active.r)
		m.pendingRanges = append(m.pendingRanges,
			&rangeState{r: uidRange{lower: active.r.lower, upper: lower}},
			&rangeState{r: uidRange{lower: upper, upper: active.r.upper}},
		)
		logger.Debug("llrp manager: recursing range",
			"replies", active.repliesInRound, "threshold", RecurseThreshold)
	}
	m.mu.Unlock()

	if err := m.advance(now); err != nil {
		logger.Debug("llrp manager: advance failed", "error", err)
	}
}

// split divides a UID range in half by its 48-bit integer value.
func split(r uidRange) (midLower, midUpper rdmuid.UID) {
	lo := r.lower.AsUint64()
	hi := r.upper.AsUint64()
	mid := lo + (hi-lo)/2
	return rdmuid.FromUint64(mid), rdmuid.FromUint64(mid + 1)
}

// SendRDMCommand allocates a monotonic transaction number, packs the
// command addressed to dest, and sends it. The response arrives via
// HandleRDMResponse and is delivered to the returned channel.
func (m *Manager) SendRDMCommand(destCID cid.CID, data []byte) (uint32, <-chan *llrp.RDMResponseMsg, error) {
	m.mu.Lock()
	m.nextTransNum++
	txn := m.nextTransNum
	ch := make(chan *llrp.RDMResponseMsg, 1)
	m.pendingCmds[txn] = ch
	m.mu.Unlock()

	cmd := &llrp.RDMCommandMsg{
		Header: llrp.Header{DestCID: destCID, TransactionNumber: txn},
		Data:   data,
	}
	if m.cb.SendRDMCommand == nil {
		return txn, ch, fmt.Errorf("manager: no send callback configured")
	}
	if err := m.cb.SendRDMCommand(cmd); err != nil {
		m.mu.Lock()
		delete(m.pendingCmds, txn)
		m.mu.Unlock()
		return txn, ch, err
	}
	return txn, ch, nil
}

// HandleRDMResponse correlates an inbound response with its pending
// command by transaction number and delivers it.
func (m *Manager) HandleRDMResponse(resp *llrp.RDMResponseMsg) {
	m.mu.Lock()
	ch, ok := m.pendingCmds[resp.Header.TransactionNumber]
	if ok {
		delete(m.pendingCmds, resp.Header.TransactionNumber)
	}
	m.mu.Unlock()
	if ok {
		ch <- resp
	}
}
