package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/rdmuid"
)

func TestStartDiscoverySendsFullRangeProbe(t *testing.T) {
	var got *llrp.ProbeRequestMsg
	m := New(Callbacks{
		SendProbeRequest: func(req *llrp.ProbeRequestMsg) error {
			got = req
			return nil
		},
	})
	require.NoError(t, m.StartDiscovery(time.Now()))
	require.NotNil(t, got)
	assert.Equal(t, rdmuid.UID{Manufacturer: 0, Device: 0}, got.Lower)
	assert.Equal(t, rdmuid.UID{Manufacturer: 0xFFFF, Device: 0xFFFFFFFF}, got.Upper)
}

func TestProbeReplyAddsToKnownAndNotifies(t *testing.T) {
	var discovered []TargetRecord
	m := New(Callbacks{
		SendProbeRequest: func(req *llrp.ProbeRequestMsg) error { return nil },
		TargetDiscovered: func(t TargetRecord) { discovered = append(discovered, t) },
	})
	require.NoError(t, m.StartDiscovery(time.Now()))

	reply := &llrp.ProbeReplyMsg{
		TargetCID: cid.New(),
		TargetUID: rdmuid.UID{Manufacturer: 0x1111, Device: 42},
	}
	m.HandleProbeReply(reply)
	m.HandleProbeReply(reply) // duplicate must not re-notify

	require.Len(t, discovered, 1)
	assert.Equal(t, reply.TargetUID, discovered[0].UID)
}

func TestDiscoveryFinishesWhenNoRangesRemain(t *testing.T) {
	finished := false
	var sends int
	m := New(Callbacks{
		SendProbeRequest: func(req *llrp.ProbeRequestMsg) error { sends++; return nil },
		DiscoveryFinished: func() { finished = true },
	})
	start := time.Now()
	require.NoError(t, m.StartDiscovery(start))
	require.Equal(t, 1, sends)

	// No replies arrived; the interval elapses and the single range
	// retires without recursing (repliesInRound stays below threshold).
	m.Tick(start.Add(DiscoveryInterval))
	assert.True(t, finished)
	assert.Equal(t, 1, sends)
}

func TestHighReplyCountRecursesIntoTwoSubRanges(t *testing.T) {
	var sends []*llrp.ProbeRequestMsg
	m := New(Callbacks{
		SendProbeRequest: func(req *llrp.ProbeRequestMsg) error {
			sends = append(sends, req)
			return nil
		},
	})
	start := time.Now()
	require.NoError(t, m.StartDiscovery(start))
	require.Len(t, sends, 1)

	for i := 0; i < RecurseThreshold; i++ {
		m.HandleProbeReply(&llrp.ProbeReplyMsg{
			TargetCID: cid.New(),
			TargetUID: rdmuid.UID{Manufacturer: 1, Device: uint32(i + 1)},
		})
	}

	m.Tick(start.Add(DiscoveryInterval))
	require.Len(t, sends, 2)
	// The first sub-range probed (the lower half) must be a well-formed range.
	assert.True(t, sends[1].Lower.Less(sends[1].Upper) || sends[1].Lower == sends[1].Upper)
}

func TestSendRDMCommandCorrelatesResponseByTransactionNumber(t *testing.T) {
	var sentCmd *llrp.RDMCommandMsg
	m := New(Callbacks{
		SendRDMCommand: func(cmd *llrp.RDMCommandMsg) error {
			sentCmd = cmd
			return nil
		},
	})
	dest := cid.New()
	txn, ch, err := m.SendRDMCommand(dest, []byte{0xCC})
	require.NoError(t, err)
	require.Equal(t, txn, sentCmd.Header.TransactionNumber)

	m.HandleRDMResponse(&llrp.RDMResponseMsg{
		Header: llrp.Header{DestCID: dest, TransactionNumber: txn},
		Data:   []byte{0x01},
	})

	select {
	case resp := <-ch:
		assert.Equal(t, []byte{0x01}, resp.Data)
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}
}
