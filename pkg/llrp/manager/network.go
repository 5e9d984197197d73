package manager

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/pkg/cid"
	"github.com/rdmnet-go/rdmnet/pkg/llrp/target"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/transport/mcast"
)

// tickInterval is how often Discover calls Manager.Tick (range
// recursion/retirement). The probe-reply read loop has no timer of its
// own; it ends when the socket is closed.
const tickInterval = 100 * time.Millisecond

// Discover runs one full discovery pass over multicast: join the LLRP
// group on every interface in ifaces, send probe requests through
// transport, and collect replies until discovery finishes or ctx is
// done. Grounded on pkg/llrp/target.Serve's receive-loop-plus-ticker
// shape, the manager side of the same multicast rendezvous.
func Discover(ctx context.Context, m *Manager, senderCID cid.CID, transport *mcast.Transport, ifaces []net.Interface) error {
	conn, err := mcast.CreateRecvSocket(target.Port)
	if err != nil {
		return fmt.Errorf("llrp manager: %w", err)
	}
	defer conn.Close()

	for i := range ifaces {
		if err := mcast.Subscribe(conn, &ifaces[i], target.MulticastGroup); err != nil {
			logger.Warn("llrp manager: subscribe failed", "interface", ifaces[i].Name, "error", err)
			continue
		}
		defer mcast.Unsubscribe(conn, &ifaces[i], target.MulticastGroup)
	}

	m.cb.SendProbeRequest = func(req *llrp.ProbeRequestMsg) error {
		return broadcast(transport, ifaces, senderCID, req)
	}

	finished := make(chan struct{})
	var once sync.Once
	origFinished := m.cb.DiscoveryFinished
	m.cb.DiscoveryFinished = func() {
		if origFinished != nil {
			origFinished()
		}
		once.Do(func() { close(finished) })
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			pdu, err := acn.ParseMessage(buf[:n])
			if err != nil || pdu.Vector != acn.VectorRootLLRP {
				continue
			}
			msg, _, err := llrp.Decode(pdu.Payload)
			if err != nil {
				continue
			}
			if reply, ok := msg.(*llrp.ProbeReplyMsg); ok {
				m.HandleProbeReply(reply)
			}
		}
	}()

	if err := m.StartDiscovery(time.Now()); err != nil {
		return err
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-finished:
			conn.Close()
			return nil
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

func broadcast(transport *mcast.Transport, ifaces []net.Interface, senderCID cid.CID, req *llrp.ProbeRequestMsg) error {
	payload, err := llrp.Pack(req)
	if err != nil {
		return err
	}
	out := acn.WriteMessage(acn.VectorRootLLRP, senderCID, payload)
	dest := &net.UDPAddr{IP: target.MulticastGroup, Port: target.Port}

	var lastErr error
	for i := range ifaces {
		sock, err := transport.GetSendSocket(&ifaces[i], 0)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = sock.WriteToUDP(out, dest)
		transport.ReleaseSendSocket(&ifaces[i], 0)
		if err != nil {
			lastErr = err
		}
	}
	return lastErr
}
