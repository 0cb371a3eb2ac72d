package pmpmapper

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// GatewayAddress is where NAT-PMP requests are sent: the default gateway's
// IPv4 address and the NAT-PMP port.
type GatewayAddress struct {
	IP   netip.Addr
	Port uint16
}

// NewGatewayAddress returns the NAT-PMP endpoint of the gateway at ip.
func NewGatewayAddress(ip netip.Addr) GatewayAddress {
	return GatewayAddress{IP: ip.Unmap(), Port: DefaultPort}
}

// AddrPort returns the gateway endpoint as a netip.AddrPort.
func (g GatewayAddress) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(g.IP.Unmap(), g.Port)
}

func (g GatewayAddress) String() string {
	return g.AddrPort().String()
}

// RouteEntry is one IPv4 route read from the kernel routing table. A zero
// Gateway means the route has no IPv4 next hop.
type RouteEntry struct {
	Destination netip.Addr
	Netmask     netip.Addr
	// HasNetmask is false when the kernel reported no netmask at all.
	HasNetmask bool
	Gateway    netip.Addr
}

// IsDefault reports whether e is an IPv4 default route: destination
// 0.0.0.0, netmask absent or 0.0.0.0, and an IPv4 gateway.
func (e RouteEntry) IsDefault() bool {
	if e.Destination != netip.IPv4Unspecified() {
		return false
	}
	if e.HasNetmask && e.Netmask != netip.IPv4Unspecified() {
		return false
	}
	return e.Gateway.Is4() && !e.Gateway.IsUnspecified()
}

// selectDefaultRoute returns the gateway of the first default route in
// scan order.
func selectDefaultRoute(entries []RouteEntry) (netip.Addr, error) {
	for _, e := range entries {
		if e.IsDefault() {
			return e.Gateway, nil
		}
	}
	return netip.Addr{}, ErrNoDefaultRoute
}

// DiscoverGateway finds the default gateway by reading the system routing
// table. This is a convenience wrapper around DiscoverGatewayContext using
// context.Background().
func DiscoverGateway() (GatewayAddress, error) {
	return DiscoverGatewayContext(context.Background())
}

// DiscoverGatewayContext finds the default gateway by reading the system
// routing table. The returned address is a copy owned by the caller and
// always carries DefaultPort.
func DiscoverGatewayContext(ctx context.Context) (GatewayAddress, error) {
	if err := ctx.Err(); err != nil {
		return GatewayAddress{}, fmt.Errorf("context cancelled: %w", err)
	}
	ip, err := readDefaultGateway(ctx)
	if err != nil {
		return GatewayAddress{}, err
	}
	return NewGatewayAddress(ip), nil
}

// localAddrFor determines which local IPv4 address the host uses to reach
// the gateway. It opens a UDP "connection" so that the kernel picks a
// route; no packets are sent.
func localAddrFor(gw GatewayAddress) (netip.Addr, error) {
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(gw.AddrPort()))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to determine local IP: %w", err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address type: %T", conn.LocalAddr())
	}
	ip, ok := netip.AddrFromSlice(localAddr.IP)
	if !ok || !ip.Unmap().Is4() {
		return netip.Addr{}, fmt.Errorf("not IPv4 address: %v", localAddr.IP)
	}
	return ip.Unmap(), nil
}
