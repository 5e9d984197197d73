package target

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/pkg/proto/acn"
	"github.com/rdmnet-go/rdmnet/pkg/proto/llrp"
	"github.com/rdmnet-go/rdmnet/pkg/transport/mcast"
)

// MulticastGroup is the IPv4 multicast group LLRP probe traffic is sent
// to, per E1.33's LLRP section.
var MulticastGroup = net.IPv4(239, 255, 250, 133)

// Port is the UDP port every LLRP target listens on and every manager
// sends to.
const Port = 5569

// tickInterval is how often Serve drains backoff-expired replies. It is
// well under MaxBackoff so a reply fires close to its deadline rather
// than waiting for the next multiple of the interval.
const tickInterval = 50 * time.Millisecond

// Serve joins the LLRP multicast group on every interface in ifaces,
// decodes inbound probe requests and RDM commands, and answers them
// through t's Callbacks until ctx is done. It owns the receive socket and
// one send socket per interface, releasing both through transport on
// return. Grounded on pkg/broker.Broker.Serve's listen-then-drain shape,
// adapted from one TCP listener per address to one shared UDP socket
// joined on many interfaces.
func (t *Target) Serve(ctx context.Context, transport *mcast.Transport, ifaces []net.Interface) error {
	conn, err := mcast.CreateRecvSocket(Port)
	if err != nil {
		return fmt.Errorf("llrp target: %w", err)
	}
	defer conn.Close()

	for i := range ifaces {
		if err := mcast.Subscribe(conn, &ifaces[i], MulticastGroup); err != nil {
			logger.Warn("llrp target: subscribe failed", "interface", ifaces[i].Name, "error", err)
			continue
		}
		defer mcast.Unsubscribe(conn, &ifaces[i], MulticastGroup)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		t.recvLoop(conn, ifaces, transport)
	}()
	go func() {
		defer wg.Done()
		t.tickLoop(ctx, done, transport, ifaces)
	}()

	<-ctx.Done()
	close(done)
	conn.Close()
	wg.Wait()
	return nil
}

func (t *Target) recvLoop(conn *net.UDPConn, ifaces []net.Interface, transport *mcast.Transport) {
	buf := make([]byte, 4096)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		t.handleDatagram(buf[:n], src, ifaces, transport)
	}
}

func (t *Target) handleDatagram(data []byte, src *net.UDPAddr, ifaces []net.Interface, transport *mcast.Transport) {
	pdu, err := acn.ParseMessage(data)
	if err != nil || pdu.Vector != acn.VectorRootLLRP {
		return
	}
	msg, _, err := llrp.Decode(pdu.Payload)
	if err != nil {
		return
	}
	iface := ifaceForSource(ifaces, src)
	switch m := msg.(type) {
	case *llrp.ProbeRequestMsg:
		t.HandleProbeRequest(time.Now(), iface, m)
	case *llrp.RDMCommandMsg:
		t.HandleRDMCommand(iface, m, func(iface string, resp *llrp.RDMResponseMsg) error {
			return t.sendTo(transport, iface, resp, src)
		})
	}
}

// ifaceForSource guesses the receiving interface from the source
// address's subnet; a mismatch just falls back to the first interface,
// which only costs a slightly wider reply-suppression window, never
// correctness of whether this target replies at all.
func ifaceForSource(ifaces []net.Interface, src *net.UDPAddr) string {
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.Contains(src.IP) {
				return ifc.Name
			}
		}
	}
	if len(ifaces) > 0 {
		return ifaces[0].Name
	}
	return ""
}

func (t *Target) tickLoop(ctx context.Context, done <-chan struct{}, transport *mcast.Transport, ifaces []net.Interface) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	t.cb.SendReply = func(iface string, reply *llrp.ProbeReplyMsg) error {
		return t.sendTo(transport, iface, reply, nil)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case now := <-ticker.C:
			t.Tick(now)
		}
	}
}

func (t *Target) sendTo(transport *mcast.Transport, ifaceName string, msg llrp.Message, dest *net.UDPAddr) error {
	netint, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("llrp target: reply interface %s: %w", ifaceName, err)
	}
	sock, err := transport.GetSendSocket(netint, 0)
	if err != nil {
		return err
	}
	defer transport.ReleaseSendSocket(netint, 0)

	payload, err := llrp.Pack(msg)
	if err != nil {
		return err
	}
	out := acn.WriteMessage(acn.VectorRootLLRP, t.cfg.CID, payload)

	if dest == nil {
		dest = &net.UDPAddr{IP: MulticastGroup, Port: Port}
	}
	_, err = sock.WriteToUDP(out, dest)
	return err
}
