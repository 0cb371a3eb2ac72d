//go:build freebsd || netbsd || openbsd || dragonfly

package pmpmapper

import (
	"context"
	"fmt"
	"net/netip"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// readDefaultGateway dumps the kernel routing table with NET_RT_DUMP and
// returns the gateway of the first IPv4 default route. The rt_msghdr
// layout differs between the BSDs, so x/net/route does the decoding.
func readDefaultGateway(_ context.Context) (netip.Addr, error) {
	rib, err := route.FetchRIB(unix.AF_INET, route.RIBTypeRoute, 0)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: route.FetchRIB: %w", ErrScanFailed, err)
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: route.ParseRIB: %w", ErrScanFailed, err)
	}
	entries := make([]RouteEntry, 0, len(msgs))
	for _, m := range msgs {
		rm, ok := m.(*route.RouteMessage)
		if !ok {
			continue
		}
		if e, ok := routeEntryFromMessage(rm); ok {
			entries = append(entries, e)
		}
	}
	return selectDefaultRoute(entries)
}

// routeEntryFromMessage converts a parsed routing message into a
// RouteEntry. Only messages with an IPv4 destination qualify.
func routeEntryFromMessage(rm *route.RouteMessage) (RouteEntry, bool) {
	addr := func(i int) route.Addr {
		if i < len(rm.Addrs) {
			return rm.Addrs[i]
		}
		return nil
	}
	dst, ok := addr(unix.RTAX_DST).(*route.Inet4Addr)
	if !ok {
		return RouteEntry{}, false
	}
	e := RouteEntry{Destination: netip.AddrFrom4(dst.IP)}
	if gw, ok := addr(unix.RTAX_GATEWAY).(*route.Inet4Addr); ok {
		e.Gateway = netip.AddrFrom4(gw.IP)
	}
	if mask, ok := addr(unix.RTAX_NETMASK).(*route.Inet4Addr); ok {
		e.HasNetmask = true
		e.Netmask = netip.AddrFrom4(mask.IP)
	}
	return e, true
}
