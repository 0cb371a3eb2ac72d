// Package natpmptest provides an in-process NAT-PMP gateway for testing
// clients against.
package natpmptest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	opPublicAddress = 0
	opMapUDP        = 1
	opMapTCP        = 2
	opReply         = 128

	resultUnsupportedOpcode = 5
)

// Gateway is a fake NAT-PMP gateway listening on a loopback UDP socket.
// By default it answers every request correctly; the Set* and Reply*
// methods inject the misbehaviour real gateways and networks exhibit.
type Gateway struct {
	conn   *net.UDPConn
	other  *net.UDPConn // replies sent from the wrong source
	closed atomic.Bool
	done   chan struct{}
	start  time.Time

	mu           sync.Mutex // guards below
	externalIP   netip.Addr
	drop         int
	resultCode   uint16
	grantPort    uint16
	grantTTL     *uint32
	wrongSource  int
	foreign      *net.UDPConn // replies sent from another address
	foreignLeft  int
	wrongOpcode  int
	shortReplies int
	counters     Counters
	mappings     map[mappingKey]Mapping
}

// Counters records what the gateway has seen.
type Counters struct {
	Requests      int // every datagram received
	Dropped       int // requests deliberately ignored
	PublicAddress int
	Map           int
	Bogus         int // unparseable or unknown opcode
}

// Mapping is a port mapping currently held by the gateway.
type Mapping struct {
	Opcode       uint8
	InternalPort uint16
	ExternalPort uint16
	Lifetime     uint32
	Client       netip.AddrPort
}

type mappingKey struct {
	opcode uint8
	port   uint16
}

// New starts a Gateway on 127.0.0.1 at a random port. It is closed when
// the test ends.
func New(tb testing.TB) *Gateway {
	tb.Helper()
	g, err := Listen("127.0.0.1:0")
	if err != nil {
		tb.Fatalf("natpmptest: %v", err)
	}
	tb.Cleanup(func() { g.Close() })
	return g
}

// Listen starts a Gateway on addr, which must be an IPv4 UDP address.
func Listen(addr string) (*Gateway, error) {
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	other, err := net.ListenUDP("udp4", &net.UDPAddr{IP: laddr.IP})
	if err != nil {
		conn.Close()
		return nil, err
	}
	g := &Gateway{
		conn:       conn,
		other:      other,
		done:       make(chan struct{}),
		start:      time.Now(),
		externalIP: netip.AddrFrom4([4]byte{203, 0, 113, 100}), // RFC 5737 test IP
		mappings:   make(map[mappingKey]Mapping),
	}
	go g.serve()
	return g, nil
}

// Addr returns the address the gateway listens on.
func (g *Gateway) Addr() netip.AddrPort {
	return g.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close stops the gateway.
func (g *Gateway) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	err := g.conn.Close()
	g.other.Close()
	<-g.done
	g.mu.Lock()
	if g.foreign != nil {
		g.foreign.Close()
	}
	g.mu.Unlock()
	return err
}

// SetExternalIP sets the address reported to public address requests.
func (g *Gateway) SetExternalIP(ip netip.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.externalIP = ip
}

// DropRequests makes the gateway ignore the next n requests.
func (g *Gateway) DropRequests(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drop = n
}

// SetResultCode sets the result code put in every response.
func (g *Gateway) SetResultCode(code uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resultCode = code
}

// GrantPublicPort makes the gateway grant port instead of the requested
// public port. Zero restores the default of granting what was asked for.
func (g *Gateway) GrantPublicPort(port uint16) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grantPort = port
}

// GrantLifetime makes the gateway grant secs instead of the requested
// lifetime for new mappings.
func (g *Gateway) GrantLifetime(secs uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grantTTL = &secs
}

// ReplyFromWrongSource sends the next n responses from a different UDP
// port than the one the request went to.
func (g *Gateway) ReplyFromWrongSource(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wrongSource = n
}

// ReplyFromAddress sends the next n responses from a socket bound to ip
// instead of the gateway's own address. It fails if ip cannot be bound.
func (g *Gateway) ReplyFromAddress(ip netip.Addr, n int) error {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, 0)))
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.foreign != nil {
		g.foreign.Close()
	}
	g.foreign = conn
	g.foreignLeft = n
	return nil
}

// ReplyWithWrongOpcode answers the next n requests with a response whose
// opcode does not match the request.
func (g *Gateway) ReplyWithWrongOpcode(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wrongOpcode = n
}

// ReplyTruncated truncates the next n responses to their header.
func (g *Gateway) ReplyTruncated(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shortReplies = n
}

// Stats returns a snapshot of the gateway's counters.
func (g *Gateway) Stats() Counters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters
}

// Mappings returns the mappings currently held by the gateway.
func (g *Gateway) Mappings() []Mapping {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := make([]Mapping, 0, len(g.mappings))
	for _, m := range g.mappings {
		ms = append(ms, m)
	}
	return ms
}

func (g *Gateway) serve() {
	defer close(g.done)
	buf := make([]byte, 1500)
	for {
		n, src, err := g.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if g.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		pkt, from := g.handle(buf[:n], src)
		if pkt == nil {
			continue
		}
		if from == nil {
			from = g.conn
		}
		from.WriteToUDPAddrPort(pkt, src)
	}
}

// handle builds the response to one request and picks the socket it is
// sent from. A nil response means no reply.
func (g *Gateway) handle(req []byte, src netip.AddrPort) ([]byte, *net.UDPConn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counters.Requests++
	if g.drop > 0 {
		g.drop--
		g.counters.Dropped++
		return nil, nil
	}
	if len(req) < 2 {
		g.counters.Bogus++
		return nil, nil
	}

	var resp []byte
	switch req[1] {
	case opPublicAddress:
		g.counters.PublicAddress++
		resp = g.publicAddressLocked(req)
	case opMapUDP, opMapTCP:
		if len(req) < 12 {
			g.counters.Bogus++
			return nil, nil
		}
		g.counters.Map++
		resp = g.mapLocked(req, src)
	default:
		g.counters.Bogus++
		resp = g.header(req[1]+opReply, resultUnsupportedOpcode, 8)
	}

	if g.wrongOpcode > 0 {
		g.wrongOpcode--
		resp[1] ^= 0x7f
	}
	if g.shortReplies > 0 {
		g.shortReplies--
		resp = resp[:2]
	}
	if g.foreignLeft > 0 && g.foreign != nil {
		g.foreignLeft--
		return resp, g.foreign
	}
	if g.wrongSource > 0 {
		g.wrongSource--
		return resp, g.other
	}
	return resp, nil
}

func (g *Gateway) publicAddressLocked(req []byte) []byte {
	resp := g.header(req[1]+opReply, g.resultCode, 12)
	ip := g.externalIP.As4()
	copy(resp[8:12], ip[:])
	return resp
}

func (g *Gateway) mapLocked(req []byte, src netip.AddrPort) []byte {
	op := req[1]
	internal := binary.BigEndian.Uint16(req[4:6])
	external := binary.BigEndian.Uint16(req[6:8])
	lifetime := binary.BigEndian.Uint32(req[8:12])

	resp := g.header(op+opReply, g.resultCode, 16)
	binary.BigEndian.PutUint16(resp[8:10], internal)
	if g.resultCode != 0 {
		return resp
	}

	key := mappingKey{opcode: op, port: internal}
	if lifetime == 0 {
		delete(g.mappings, key)
		return resp
	}

	if g.grantPort != 0 {
		external = g.grantPort
	} else if external == 0 {
		external = internal
	}
	if g.grantTTL != nil {
		lifetime = *g.grantTTL
	}
	g.mappings[key] = Mapping{
		Opcode:       op,
		InternalPort: internal,
		ExternalPort: external,
		Lifetime:     lifetime,
		Client:       src,
	}
	binary.BigEndian.PutUint16(resp[10:12], external)
	binary.BigEndian.PutUint32(resp[12:16], lifetime)
	return resp
}

func (g *Gateway) header(op uint8, result uint16, size int) []byte {
	resp := make([]byte, size)
	resp[1] = op
	binary.BigEndian.PutUint16(resp[2:4], result)
	binary.BigEndian.PutUint32(resp[4:8], uint32(time.Since(g.start)/time.Second))
	return resp
}

func (g *Gateway) String() string {
	return fmt.Sprintf("natpmptest.Gateway(%s)", g.Addr())
}
