// Package mcast manages per-interface multicast sockets for LLRP: one
// refcounted send socket per (network interface, source port), a shared
// receive socket bound to INADDR_ANY with explicit per-interface group
// subscription, and the lowest-MAC election (cmd/rdmnetbroker reports the
// result as its LLRP target's hardware address). Grounded
// on internal/protocol/portmap/server.go's listen/shutdown/waitgroup
// shape, extended from single-socket TCP+UDP service to many
// interface-scoped multicast sockets.
package mcast

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/rdmnet-go/rdmnet/internal/logger"
)

// TTL is the multicast hop limit mandated for LLRP send sockets.
const TTL = 20

// sendKey identifies a refcounted send socket.
type sendKey struct {
	netint     string
	sourcePort int
}

type sendSocket struct {
	conn     *net.UDPConn
	pconn    *ipv4.PacketConn
	refcount int
}

// Transport owns the set of multicast sockets for one process. There is
// no package-level instance; callers construct one per runtime the way
// internal/runtime.Runtime is constructed, and pass it to the LLRP target
// and manager.
type Transport struct {
	mu    sync.Mutex
	sends map[sendKey]*sendSocket
}

// New returns an empty Transport.
func New() *Transport {
	return &Transport{sends: make(map[sendKey]*sendSocket)}
}

// Interfaces lists the local network interfaces eligible for multicast:
// up, not loopback, multicast-capable.
func Interfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("mcast: enumerate interfaces: %w", err)
	}
	var out []net.Interface
	for _, ifc := range all {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifc.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, ifc)
	}
	return out, nil
}

// LowestMACAddr returns the lexicographically lowest non-zero hardware
// address across eligible interfaces. cmd/rdmnetbroker reports it as its
// LLRP target's hardware address; the target's UID and the discovery
// conflict election (which compares CIDs) are not derived from it.
func LowestMACAddr() (net.HardwareAddr, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}
	var macs []net.HardwareAddr
	for _, ifc := range ifaces {
		if len(ifc.HardwareAddr) == 0 {
			continue
		}
		macs = append(macs, ifc.HardwareAddr)
	}
	if len(macs) == 0 {
		return nil, fmt.Errorf("mcast: no interface with a hardware address")
	}
	sort.Slice(macs, func(i, j int) bool {
		return string(macs[i]) < string(macs[j])
	})
	return macs[0], nil
}

// GetSendSocket returns the refcounted send socket for (netint,
// sourcePort), creating it on first use. TTL is fixed at TTL, loopback is
// disabled, and the outgoing interface is bound explicitly so replies
// egress on the interface the corresponding request arrived on.
func (t *Transport) GetSendSocket(netint *net.Interface, sourcePort int) (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := sendKey{netint: netint.Name, sourcePort: sourcePort}
	if existing, ok := t.sends[key]; ok {
		existing.refcount++
		return existing.conn, nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: sourcePort})
	if err != nil {
		return nil, fmt.Errorf("mcast: open send socket on %s:%d: %w", netint.Name, sourcePort, err)
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: set ttl: %w", err)
	}
	if err := pconn.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: disable loopback: %w", err)
	}
	if err := pconn.SetMulticastInterface(netint); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mcast: bind outgoing interface %s: %w", netint.Name, err)
	}

	t.sends[key] = &sendSocket{conn: conn, pconn: pconn, refcount: 1}
	logger.Debug("mcast: opened send socket", "interface", netint.Name, "source_port", sourcePort)
	return conn, nil
}

// ReleaseSendSocket decrements the refcount for (netint, sourcePort),
// closing the underlying socket once it reaches zero.
func (t *Transport) ReleaseSendSocket(netint *net.Interface, sourcePort int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := sendKey{netint: netint.Name, sourcePort: sourcePort}
	existing, ok := t.sends[key]
	if !ok {
		return
	}
	existing.refcount--
	if existing.refcount <= 0 {
		existing.conn.Close()
		delete(t.sends, key)
	}
}

// CreateRecvSocket opens a multicast receive socket bound to INADDR_ANY
// on port, with no group membership yet; callers must Subscribe per
// interface.
func CreateRecvSocket(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("mcast: open recv socket on :%d: %w", port, err)
	}
	return conn, nil
}

// Subscribe joins group on the given interface for an already-open
// receive socket. Multicast membership is always explicit per interface;
// there is no implicit all-interfaces join.
func Subscribe(conn *net.UDPConn, netint *net.Interface, group net.IP) error {
	pconn := ipv4.NewPacketConn(conn)
	return pconn.JoinGroup(netint, &net.UDPAddr{IP: group})
}

// Unsubscribe leaves group on the given interface.
func Unsubscribe(conn *net.UDPConn, netint *net.Interface, group net.IP) error {
	pconn := ipv4.NewPacketConn(conn)
	return pconn.LeaveGroup(netint, &net.UDPAddr{IP: group})
}
