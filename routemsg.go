package pmpmapper

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Routing socket address slots, in the canonical order the kernel packs
// them after a message header (RTAX_* in net/route.h).
const (
	rtaxDst = iota
	rtaxGateway
	rtaxNetmask
	rtaxGenmask
	rtaxIfp
	rtaxIfa
	rtaxAuthor
	rtaxBrd
	rtaxMax
)

const (
	afInet = 2 // AF_INET on every BSD

	sockaddrInetLen = 8 // sa_len, sa_family, port, address
	rtmAddrsOffset  = 12
	rtmMinHeader    = rtmAddrsOffset + 4
)

// ribLayout describes the routing messages in a sysctl NET_RT_DUMP* buffer.
type ribLayout struct {
	headerLen int   // sizeof(struct rt_msghdr*)
	align     int   // sockaddr alignment inside a message
	version   uint8 // RTM_VERSION
	msgType   uint8 // accepted rtm_type, 0 for any
}

// darwinRIBLayout is the layout of a NET_RT_DUMP2 reply (struct
// rt_msghdr2). The darwin kernel packs sockaddrs on 4-byte boundaries.
var darwinRIBLayout = ribLayout{
	headerLen: 92,
	align:     4,
	version:   5,    // RTM_VERSION
	msgType:   0x14, // RTM_GET2
}

// roundup returns the space a sockaddr of length n occupies. Zero-length
// sockaddrs still occupy one alignment unit.
func (l ribLayout) roundup(n int) int {
	if n == 0 {
		return l.align
	}
	return 1 + ((n - 1) | (l.align - 1))
}

// walkRouteDump decodes every IPv4 route message in buf and calls fn with
// it until fn returns false. Records are variable-length; each begins with
// its own length, so the next record's offset is computed rather than
// assumed. Messages of another version or type are skipped.
func walkRouteDump(buf []byte, l ribLayout, fn func(RouteEntry) bool) error {
	order := binary.NativeEndian
	for off := 0; off < len(buf); {
		if len(buf)-off < 2 {
			return fmt.Errorf("%w: truncated message at offset %d", ErrScanFailed, off)
		}
		msglen := int(order.Uint16(buf[off:]))
		if msglen < rtmMinHeader || msglen < l.headerLen || msglen > len(buf)-off {
			return fmt.Errorf("%w: bad message length %d at offset %d", ErrScanFailed, msglen, off)
		}
		msg := buf[off : off+msglen]
		off += msglen

		if msg[2] != l.version || (l.msgType != 0 && msg[3] != l.msgType) {
			continue
		}
		bitmask := order.Uint32(msg[rtmAddrsOffset:])
		sas, err := splitSockaddrs(msg[l.headerLen:], bitmask, l)
		if err != nil {
			return fmt.Errorf("%w: at offset %d: %w", ErrScanFailed, off-msglen, err)
		}
		e, ok := routeEntryFromSockaddrs(sas)
		if !ok {
			continue
		}
		if !fn(e) {
			return nil
		}
	}
	return nil
}

// splitSockaddrs slices the packed sockaddrs of one message into their
// slots. Each sockaddr's length is its first byte; the next one starts at
// the rounded-up length.
func splitSockaddrs(b []byte, bitmask uint32, l ribLayout) ([rtaxMax][]byte, error) {
	var sas [rtaxMax][]byte
	for i := 0; i < rtaxMax; i++ {
		if bitmask&(1<<i) == 0 {
			continue
		}
		if len(b) == 0 {
			return sas, fmt.Errorf("address slot %d missing", i)
		}
		salen := int(b[0])
		if salen > len(b) {
			return sas, fmt.Errorf("address slot %d overruns message (%d > %d)", i, salen, len(b))
		}
		sas[i] = b[:salen]
		adv := l.roundup(salen)
		if adv > len(b) {
			adv = len(b)
		}
		b = b[adv:]
	}
	return sas, nil
}

// routeEntryFromSockaddrs builds a RouteEntry from the slots of an IPv4
// route. Messages without an AF_INET destination are not IPv4 routes.
func routeEntryFromSockaddrs(sas [rtaxMax][]byte) (RouteEntry, bool) {
	dst, ok := inet4Sockaddr(sas[rtaxDst])
	if !ok {
		return RouteEntry{}, false
	}
	e := RouteEntry{Destination: dst}
	if gw, ok := inet4Sockaddr(sas[rtaxGateway]); ok {
		e.Gateway = gw
	}
	if sas[rtaxNetmask] != nil {
		e.HasNetmask = true
		e.Netmask = netmaskSockaddr(sas[rtaxNetmask])
	}
	return e, true
}

func inet4Sockaddr(sa []byte) (netip.Addr, bool) {
	if len(sa) < sockaddrInetLen || sa[1] != afInet {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(sa[4:8])), true
}

// netmaskSockaddr decodes a netmask sockaddr. The kernel truncates
// netmasks after their last non-zero byte and does not set the family,
// so missing bytes are zero.
func netmaskSockaddr(sa []byte) netip.Addr {
	var m [4]byte
	if len(sa) > 4 {
		copy(m[:], sa[4:min(len(sa), sockaddrInetLen)])
	}
	return netip.AddrFrom4(m)
}

// defaultGatewayFromDump scans a routing dump and returns the gateway of
// the first default route.
func defaultGatewayFromDump(buf []byte, l ribLayout) (netip.Addr, error) {
	var gw netip.Addr
	err := walkRouteDump(buf, l, func(e RouteEntry) bool {
		if e.IsDefault() {
			gw = e.Gateway
			return false
		}
		return true
	})
	if err != nil {
		return netip.Addr{}, err
	}
	if !gw.IsValid() {
		return netip.Addr{}, ErrNoDefaultRoute
	}
	return gw, nil
}
