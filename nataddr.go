package pmpmapper

import (
	"net/netip"
	"strings"
	"time"
)

// MappedAddr is a net.Addr describing a port mapping: the internal address
// on this host and the external address on the gateway.
type MappedAddr struct {
	protocol Protocol
	internal netip.AddrPort
	external netip.AddrPort
	lifetime time.Duration
}

// NewMappedAddr creates a new MappedAddr with internal and external addresses.
func NewMappedAddr(protocol Protocol, internal, external netip.AddrPort, lifetime time.Duration) *MappedAddr {
	return &MappedAddr{
		protocol: protocol,
		internal: internal,
		external: external,
		lifetime: lifetime,
	}
}

// Network returns the network type (tcp/udp).
func (a *MappedAddr) Network() string {
	return strings.ToLower(a.protocol.String())
}

// String returns the external address for external connections.
func (a *MappedAddr) String() string {
	return a.external.String()
}

// InternalAddr returns the internal network address.
func (a *MappedAddr) InternalAddr() netip.AddrPort {
	return a.internal
}

// ExternalAddr returns the external network address.
func (a *MappedAddr) ExternalAddr() netip.AddrPort {
	return a.external
}

// Lifetime returns the lifetime the gateway granted.
func (a *MappedAddr) Lifetime() time.Duration {
	return a.lifetime
}
