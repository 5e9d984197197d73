package runtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPollable struct {
	ticks int32
}

func (p *countingPollable) Tick(now time.Time) {
	atomic.AddInt32(&p.ticks, 1)
}

func TestTickOnceCallsAllRegistered(t *testing.T) {
	r := New()
	require.NoError(t, r.Init())
	a := &countingPollable{}
	b := &countingPollable{}
	r.Register("a", a)
	r.Register("b", b)

	r.TickOnce(time.Now())

	assert.EqualValues(t, 1, a.ticks)
	assert.EqualValues(t, 1, b.ticks)
}

func TestUnregisterStopsTicking(t *testing.T) {
	r := New()
	a := &countingPollable{}
	r.Register("a", a)
	r.Unregister("a")

	r.TickOnce(time.Now())

	assert.EqualValues(t, 0, a.ticks)
}

func TestSocketNotifyCallsRegisteredCallback(t *testing.T) {
	r := New()
	fired := make(chan struct{}, 1)
	h := r.RegisterSocket(func() { fired <- struct{}{} })

	r.NotifyReadable(h)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}

	r.UnregisterSocket(h)
	r.NotifyReadable(h) // no-op now, must not panic or block
}

func TestTwoIndependentRuntimesDoNotShareState(t *testing.T) {
	r1 := New()
	r2 := New()
	a := &countingPollable{}
	r1.Register("a", a)

	r2.TickOnce(time.Now())

	assert.EqualValues(t, 0, a.ticks)
}
