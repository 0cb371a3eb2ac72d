//go:build linux

package pmpmapper

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// readDefaultGateway dumps the main routing table over rtnetlink and
// returns the gateway of the first IPv4 default route. Netlink replies
// are length-prefixed messages with aligned attributes; rtnetlink does
// the decoding.
func readDefaultGateway(_ context.Context) (netip.Addr, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: rtnetlink dial: %w", ErrScanFailed, err)
	}
	defer conn.Close()

	msgs, err := conn.Route.List()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: rtnetlink route dump: %w", ErrScanFailed, err)
	}
	entries := make([]RouteEntry, 0, len(msgs))
	for _, m := range msgs {
		if e, ok := routeEntryFromNetlink(m); ok {
			entries = append(entries, e)
		}
	}
	return selectDefaultRoute(entries)
}

// routeEntryFromNetlink converts an RTM_NEWROUTE message from the main
// table into a RouteEntry. A missing RTA_DST means 0.0.0.0. An ECMP route
// carries its next hops in RTA_MULTIPATH instead of RTA_GATEWAY.
func routeEntryFromNetlink(m rtnetlink.RouteMessage) (RouteEntry, bool) {
	if m.Family != unix.AF_INET {
		return RouteEntry{}, false
	}
	table := uint32(m.Table)
	if m.Attributes.Table != 0 {
		table = m.Attributes.Table
	}
	if table != unix.RT_TABLE_MAIN {
		return RouteEntry{}, false
	}
	if m.Type != unix.RTN_UNICAST || m.DstLength > 32 {
		return RouteEntry{}, false
	}

	e := RouteEntry{
		Destination: netip.IPv4Unspecified(),
		HasNetmask:  true,
	}
	if dst, ok := netip.AddrFromSlice(m.Attributes.Dst.To4()); ok {
		e.Destination = dst
	}
	mask := net.CIDRMask(int(m.DstLength), 32)
	e.Netmask = netip.AddrFrom4([4]byte(mask))
	if gw, ok := netip.AddrFromSlice(m.Attributes.Gateway.To4()); ok {
		e.Gateway = gw
	} else {
		e.Gateway = multipathGateway(m.Attributes.Multipath)
	}
	return e, true
}

// multipathGateway returns the first IPv4 gateway among the next hops.
func multipathGateway(hops []rtnetlink.NextHop) netip.Addr {
	for _, h := range hops {
		if gw, ok := netip.AddrFromSlice(h.Gateway.To4()); ok {
			return gw
		}
	}
	return netip.Addr{}
}
