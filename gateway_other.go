//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package pmpmapper

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/jackpal/gateway"
)

// readDefaultGateway defers to jackpal/gateway on platforms without a
// routing table reader of our own, such as Solaris, illumos and AIX.
func readDefaultGateway(_ context.Context) (netip.Addr, error) {
	ip, err := gateway.DiscoverGateway()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	gw, ok := netip.AddrFromSlice(ip.To4())
	if !ok || gw.IsUnspecified() {
		return netip.Addr{}, ErrNoDefaultRoute
	}
	return gw, nil
}
