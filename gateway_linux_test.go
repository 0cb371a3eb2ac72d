//go:build linux

package pmpmapper

import (
	"net"
	"net/netip"
	"testing"

	"github.com/jsimonetti/rtnetlink"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestRouteEntryFromNetlink(t *testing.T) {
	mainRoute := func(dstLen uint8, dst, gw net.IP) rtnetlink.RouteMessage {
		return rtnetlink.RouteMessage{
			Family:    unix.AF_INET,
			DstLength: dstLen,
			Table:     unix.RT_TABLE_MAIN,
			Type:      unix.RTN_UNICAST,
			Attributes: rtnetlink.RouteAttributes{
				Dst:     dst,
				Gateway: gw,
			},
		}
	}

	testCases := []struct {
		name   string
		msg    rtnetlink.RouteMessage
		ok     bool
		want   RouteEntry
		isDflt bool
	}{
		{
			name: "default route without RTA_DST",
			msg:  mainRoute(0, nil, net.IPv4(192, 168, 1, 1)),
			ok:   true,
			want: RouteEntry{
				Destination: netip.MustParseAddr("0.0.0.0"),
				Netmask:     netip.MustParseAddr("0.0.0.0"),
				HasNetmask:  true,
				Gateway:     netip.MustParseAddr("192.168.1.1"),
			},
			isDflt: true,
		},
		{
			name: "multipath default route",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, nil)
				m.Attributes.Multipath = []rtnetlink.NextHop{
					{Gateway: net.IPv4(10, 0, 0, 1)},
					{Gateway: net.IPv4(10, 0, 0, 2)},
				}
				return m
			}(),
			ok: true,
			want: RouteEntry{
				Destination: netip.MustParseAddr("0.0.0.0"),
				Netmask:     netip.MustParseAddr("0.0.0.0"),
				HasNetmask:  true,
				Gateway:     netip.MustParseAddr("10.0.0.1"),
			},
			isDflt: true,
		},
		{
			name: "multipath skips IPv6 next hops",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, nil)
				m.Attributes.Multipath = []rtnetlink.NextHop{
					{Gateway: net.ParseIP("fe80::1")},
					{Gateway: net.IPv4(10, 0, 0, 2)},
				}
				return m
			}(),
			ok: true,
			want: RouteEntry{
				Destination: netip.MustParseAddr("0.0.0.0"),
				Netmask:     netip.MustParseAddr("0.0.0.0"),
				HasNetmask:  true,
				Gateway:     netip.MustParseAddr("10.0.0.2"),
			},
			isDflt: true,
		},
		{
			name: "top-level gateway preferred over multipath",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, net.IPv4(192, 168, 1, 1))
				m.Attributes.Multipath = []rtnetlink.NextHop{{Gateway: net.IPv4(10, 0, 0, 1)}}
				return m
			}(),
			ok: true,
			want: RouteEntry{
				Destination: netip.MustParseAddr("0.0.0.0"),
				Netmask:     netip.MustParseAddr("0.0.0.0"),
				HasNetmask:  true,
				Gateway:     netip.MustParseAddr("192.168.1.1"),
			},
			isDflt: true,
		},
		{
			name: "subnet route without gateway",
			msg:  mainRoute(24, net.IPv4(192, 168, 1, 0), nil),
			ok:   true,
			want: RouteEntry{
				Destination: netip.MustParseAddr("192.168.1.0"),
				Netmask:     netip.MustParseAddr("255.255.255.0"),
				HasNetmask:  true,
			},
		},
		{
			name: "IPv6 route",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, net.ParseIP("fe80::1"))
				m.Family = unix.AF_INET6
				return m
			}(),
		},
		{
			name: "local table",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, net.IPv4(10, 0, 0, 1))
				m.Table = unix.RT_TABLE_LOCAL
				return m
			}(),
		},
		{
			name: "extended table attribute",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, net.IPv4(10, 0, 0, 1))
				m.Attributes.Table = 1000
				return m
			}(),
		},
		{
			name: "blackhole",
			msg: func() rtnetlink.RouteMessage {
				m := mainRoute(0, nil, nil)
				m.Type = unix.RTN_BLACKHOLE
				return m
			}(),
		},
		{
			name: "bogus prefix length",
			msg:  mainRoute(64, nil, net.IPv4(10, 0, 0, 1)),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := routeEntryFromNetlink(tc.msg)
			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			assert.Equal(t, tc.want, e)
			assert.Equal(t, tc.isDflt, e.IsDefault())
		})
	}
}

func TestSelectDefaultRouteMultipath(t *testing.T) {
	m := rtnetlink.RouteMessage{
		Family: unix.AF_INET,
		Table:  unix.RT_TABLE_MAIN,
		Type:   unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Multipath: []rtnetlink.NextHop{
				{Gateway: net.IPv4(10, 0, 0, 1)},
				{Gateway: net.IPv4(10, 0, 0, 2)},
			},
		},
	}
	e, ok := routeEntryFromNetlink(m)
	assert.True(t, ok)

	gw, err := selectDefaultRoute([]RouteEntry{e})
	assert.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), gw)
}
