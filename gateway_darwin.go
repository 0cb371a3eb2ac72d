//go:build darwin

package pmpmapper

import (
	"context"
	"fmt"
	"net/netip"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// readDefaultGateway dumps the kernel routing table with NET_RT_DUMP2 and
// walks the rt_msghdr2 records for the first IPv4 default route.
// route.FetchRIB sizes the buffer with a probing sysctl before reading.
func readDefaultGateway(_ context.Context) (netip.Addr, error) {
	rib, err := route.FetchRIB(unix.AF_UNSPEC, unix.NET_RT_DUMP2, 0)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: sysctl net.route.0.0.dump2: %w", ErrScanFailed, err)
	}
	return defaultGatewayFromDump(rib, darwinRIBLayout)
}

