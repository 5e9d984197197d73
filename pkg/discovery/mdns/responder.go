// Package mdns is a pure-Go DNS-SD responder over multicast UDP: the
// concrete implementation of discovery.Responder that pkg/discovery's
// own docs describe as a platform-adapter concern. It speaks just enough
// of RFC 6762/6763 to browse and publish _rdmnet-broker._tcp and
// _rdmnet-llrp._udp records on the local network, reusing
// pkg/transport/mcast for socket setup the same way LLRP does.
package mdns

import (
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/rdmnet-go/rdmnet/internal/logger"
	"github.com/rdmnet-go/rdmnet/pkg/transport/mcast"
)

// Port and group are the fixed mDNS multicast rendezvous point.
const (
	Port = 5353
)

var group = net.IPv4(224, 0, 0, 251)

// Responder implements discovery.Responder over a shared mDNS multicast
// socket. One Responder can back any number of concurrent Browse/Publish
// calls; the underlying socket is opened lazily and closed when the last
// caller stops.
type Responder struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	ifaces  []net.Interface
	readers int
}

// New returns an unopened Responder. Construct one per process, the way
// mcast.Transport and discovery.Adapter are both explicitly constructed
// rather than package globals.
func New() *Responder {
	return &Responder{}
}

func (r *Responder) ensureOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.readers++
		return nil
	}
	conn, err := mcast.CreateRecvSocket(Port)
	if err != nil {
		return err
	}
	ifaces, err := mcast.Interfaces()
	if err != nil {
		conn.Close()
		return err
	}
	for _, ifc := range ifaces {
		if err := mcast.Subscribe(conn, &ifc, group); err != nil {
			logger.Debug("mdns: join group failed", "interface", ifc.Name, "error", err)
		}
	}
	r.conn = conn
	r.ifaces = ifaces
	r.readers = 1
	return nil
}

func (r *Responder) releaseOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers--
	if r.readers <= 0 && r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Browse sends a periodic PTR query for serviceType and delivers every
// PTR+SRV+TXT answer set it sees, until stop is called. domain is
// accepted for interface symmetry with discovery.Responder but mDNS has
// no notion of a browsing domain beyond "local".
func (r *Responder) Browse(serviceType, domain string, onRecord func(instance string, txt map[string]string, addrs []string, port uint16)) (stop func(), err error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go r.queryLoop(serviceType, done)
	go r.readLoop(serviceType, onRecord, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			r.releaseOpen()
		})
	}, nil
}

func (r *Responder) queryLoop(serviceType string, done <-chan struct{}) {
	r.sendQuery(serviceType)
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			r.sendQuery(serviceType)
		}
	}
}

func (r *Responder) sendQuery(serviceType string) {
	name, err := dnsmessage.NewName(fqdn(serviceType))
	if err != nil {
		return
	}
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{},
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	}
	packed, err := msg.Pack()
	if err != nil {
		return
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	_, _ = conn.WriteToUDP(packed, &net.UDPAddr{IP: group, Port: Port})
}

func (r *Responder) readLoop(serviceType string, onRecord func(instance string, txt map[string]string, addrs []string, port uint16), done <-chan struct{}) {
	buf := make([]byte, 9000)
	for {
		select {
		case <-done:
			return
		default:
		}
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		instance, txt, addrs, port, ok := parseResponse(buf[:n], serviceType)
		if ok {
			onRecord(instance, txt, addrs, port)
		}
	}
}

// Publish answers mDNS PTR queries for serviceType with a PTR+SRV+TXT+A
// record set describing instance, until unpublish is called.
func (r *Responder) Publish(serviceType, instance string, txt map[string]string, port uint16) (unpublish func(), err error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go r.answerLoop(serviceType, instance, txt, port, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			r.releaseOpen()
		})
	}, nil
}

func (r *Responder) answerLoop(serviceType, instance string, txt map[string]string, port uint16, done <-chan struct{}) {
	buf := make([]byte, 9000)
	for {
		select {
		case <-done:
			return
		default:
		}
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if !isQueryFor(buf[:n], serviceType) {
			continue
		}
		reply := buildAnswer(serviceType, instance, txt, port)
		if reply != nil {
			_, _ = conn.WriteToUDP(reply, src)
		}
	}
}

func fqdn(s string) string {
	s = strings.TrimSuffix(s, ".")
	return s + ".local."
}

func isQueryFor(raw []byte, serviceType string) bool {
	var p dnsmessage.Parser
	if _, err := p.Start(raw); err != nil {
		return false
	}
	want := fqdn(serviceType)
	for {
		q, err := p.Question()
		if err != nil {
			break
		}
		if q.Type == dnsmessage.TypePTR && strings.EqualFold(q.Name.String(), want) {
			return true
		}
	}
	return false
}

func buildAnswer(serviceType, instance string, txt map[string]string, port uint16) []byte {
	ptrName, err := dnsmessage.NewName(fqdn(serviceType))
	if err != nil {
		return nil
	}
	svcName, err := dnsmessage.NewName(instance + "." + fqdn(serviceType))
	if err != nil {
		return nil
	}
	hostName, err := dnsmessage.NewName(sanitizeLabel(instance) + ".local.")
	if err != nil {
		return nil
	}

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{Response: true, Authoritative: true})
	_ = b.StartAnswers()

	_ = b.PTRResource(
		dnsmessage.ResourceHeader{Name: ptrName, Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET, TTL: 120},
		dnsmessage.PTRResource{PTR: svcName},
	)
	_ = b.SRVResource(
		dnsmessage.ResourceHeader{Name: svcName, Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET, TTL: 120},
		dnsmessage.SRVResource{Priority: 0, Weight: 0, Port: port, Target: hostName},
	)
	_ = b.TXTResource(
		dnsmessage.ResourceHeader{Name: svcName, Type: dnsmessage.TypeTXT, Class: dnsmessage.ClassINET, TTL: 120},
		dnsmessage.TXTResource{TXT: encodeTXT(txt)},
	)
	if addr, ok := localV4Addr(); ok {
		_ = b.AResource(
			dnsmessage.ResourceHeader{Name: hostName, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: 120},
			dnsmessage.AResource{A: addr},
		)
	}

	packed, err := b.Finish()
	if err != nil {
		return nil
	}
	return packed
}

func sanitizeLabel(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' {
			return '-'
		}
		return r
	}, s)
}

func encodeTXT(txt map[string]string) [][]byte {
	out := make([][]byte, 0, len(txt))
	for k, v := range txt {
		out = append(out, []byte(k+"="+v))
	}
	return out
}

func localV4Addr() ([4]byte, bool) {
	ifaces, err := mcast.Interfaces()
	if err != nil {
		return [4]byte{}, false
	}
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipn.IP.To4()
			if v4 == nil {
				continue
			}
			var out [4]byte
			copy(out[:], v4)
			return out, true
		}
	}
	return [4]byte{}, false
}

// parseResponse extracts a PTR+TXT+SRV+A answer set matching serviceType
// from one mDNS response packet.
func parseResponse(raw []byte, serviceType string) (instance string, txt map[string]string, addrs []string, port uint16, ok bool) {
	var p dnsmessage.Parser
	hdr, err := p.Start(raw)
	if err != nil || !hdr.Response {
		return "", nil, nil, 0, false
	}
	if err := p.SkipAllQuestions(); err != nil {
		return "", nil, nil, 0, false
	}

	want := fqdn(serviceType)
	txt = make(map[string]string)
	var svcName string
	var hostName string

	for {
		h, err := p.AnswerHeader()
		if err != nil {
			break
		}
		switch h.Type {
		case dnsmessage.TypePTR:
			r, err := p.PTRResource()
			if err == nil && strings.EqualFold(h.Name.String(), want) {
				svcName = r.PTR.String()
				instance = strings.TrimSuffix(strings.TrimSuffix(svcName, "."+want), ".")
			}
		case dnsmessage.TypeSRV:
			r, err := p.SRVResource()
			if err == nil && (svcName == "" || strings.EqualFold(h.Name.String(), svcName)) {
				port = r.Port
				hostName = r.Target.String()
			} else {
				_ = p.SkipAnswer()
			}
		case dnsmessage.TypeTXT:
			r, err := p.TXTResource()
			if err == nil && (svcName == "" || strings.EqualFold(h.Name.String(), svcName)) {
				for _, field := range r.TXT {
					if i := strings.IndexByte(string(field), '='); i >= 0 {
						txt[string(field[:i])] = string(field[i+1:])
					}
				}
			}
		case dnsmessage.TypeA:
			r, err := p.AResource()
			if err == nil && (hostName == "" || strings.EqualFold(h.Name.String(), hostName)) {
				addrs = append(addrs, net.IP(r.A[:]).String())
			}
		default:
			_ = p.SkipAnswer()
		}
	}

	if instance == "" {
		return "", nil, nil, 0, false
	}
	return instance, txt, addrs, port, true
}
