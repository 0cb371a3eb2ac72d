package pmpmapper

import (
	"bufio"
	"net/netip"
	"strings"
)

// parseRoutePrint parses the IPv4 "Active Routes" section of Windows'
// `route print` output into route entries, in table order. The output
// format looks like:
//
//	===========================================================================
//	IPv4 Route Table
//	===========================================================================
//	Active Routes:
//	Network Destination        Netmask          Gateway       Interface  Metric
//	          0.0.0.0          0.0.0.0      192.168.1.1    192.168.1.100     25
//	===========================================================================
//
// "On-link" gateways are reported with a zero Gateway.
func parseRoutePrint(output string) []RouteEntry {
	scanner := bufio.NewScanner(strings.NewReader(output))

	var entries []RouteEntry
	inActiveRoutes := false
	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "Active Routes:") {
			inActiveRoutes = true
			continue
		}
		if inActiveRoutes && strings.HasPrefix(line, "====") {
			break
		}
		if !inActiveRoutes {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] == "Network" {
			continue
		}

		dst, err := netip.ParseAddr(fields[0])
		if err != nil || !dst.Is4() {
			continue
		}
		mask, err := netip.ParseAddr(fields[1])
		if err != nil || !mask.Is4() {
			continue
		}
		e := RouteEntry{Destination: dst, Netmask: mask, HasNetmask: true}
		if gw, err := netip.ParseAddr(fields[2]); err == nil && gw.Is4() {
			e.Gateway = gw
		}
		entries = append(entries, e)
	}
	return entries
}
