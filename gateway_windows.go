//go:build windows

package pmpmapper

import (
	"context"
	"fmt"
	"net/netip"
	"os/exec"
)

// readDefaultGateway reads the default gateway using `route print` on
// Windows, which has no routing socket to dump.
func readDefaultGateway(ctx context.Context) (netip.Addr, error) {
	output, err := exec.CommandContext(ctx, "route", "print", "0.0.0.0").Output()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: route print: %w", ErrScanFailed, err)
	}
	return selectDefaultRoute(parseRoutePrint(string(output)))
}
