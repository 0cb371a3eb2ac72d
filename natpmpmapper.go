package pmpmapper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"time"
)

// NATPMPMapper implements PortMapper against a single NAT-PMP gateway.
type NATPMPMapper struct {
	client  *Client
	gateway GatewayAddress
	logger  *slog.Logger
}

// NewNATPMPMapper discovers the default gateway and creates a NAT-PMP
// mapper for it.
func NewNATPMPMapper(opts ...Option) (*NATPMPMapper, error) {
	return NewNATPMPMapperContext(context.Background(), opts...)
}

// NewNATPMPMapperContext discovers the default gateway and creates a
// NAT-PMP mapper for it. The context bounds discovery and the
// first public address request.
func NewNATPMPMapperContext(ctx context.Context, opts ...Option) (*NATPMPMapper, error) {
	gw, err := DiscoverGatewayContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("NAT-PMP gateway discovery failed: %w", err)
	}
	return NewNATPMPMapperForGatewayContext(ctx, gw, opts...)
}

// NewNATPMPMapperForGateway creates a NAT-PMP mapper for a known gateway.
// This is a convenience wrapper around NewNATPMPMapperForGatewayContext
// using context.Background().
func NewNATPMPMapperForGateway(gw GatewayAddress, opts ...Option) (*NATPMPMapper, error) {
	return NewNATPMPMapperForGatewayContext(context.Background(), gw, opts...)
}

// NewNATPMPMapperForGatewayContext creates a NAT-PMP mapper for a known
// gateway. The gateway must answer a public address request first.
func NewNATPMPMapperForGatewayContext(ctx context.Context, gw GatewayAddress, opts ...Option) (*NATPMPMapper, error) {
	client := NewClient(opts...)

	// Test connectivity
	resp, err := client.GetPublicAddressContext(ctx, gw)
	if err != nil {
		return nil, fmt.Errorf("NAT-PMP connectivity test failed: %w", err)
	}
	if err := resp.ResultCode.Err("get public address"); err != nil {
		return nil, fmt.Errorf("NAT-PMP connectivity test failed: %w", err)
	}

	return &NATPMPMapper{client: client, gateway: gw, logger: client.logger}, nil
}

// Gateway returns the gateway this mapper talks to.
func (n *NATPMPMapper) Gateway() GatewayAddress {
	return n.gateway
}

// MapPort creates a port mapping via NAT-PMP, asking for the same external
// port as internalPort, and returns the external port the gateway granted.
// A zero duration requests DefaultLifetime.
func (n *NATPMPMapper) MapPort(protocol string, internalPort int, duration time.Duration) (int, error) {
	resp, _, err := n.mapPort(context.Background(), protocol, internalPort, duration)
	if err != nil {
		return 0, err
	}
	return int(resp.PublicPort), nil
}

// MapAddr is MapPort returning the full internal/external address pair.
func (n *NATPMPMapper) MapAddr(ctx context.Context, protocol string, internalPort int, duration time.Duration) (*MappedAddr, error) {
	resp, proto, err := n.mapPort(ctx, protocol, internalPort, duration)
	if err != nil {
		return nil, err
	}
	pub, err := n.client.GetPublicAddressContext(ctx, n.gateway)
	if err != nil {
		return nil, fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	if err := pub.ResultCode.Err("get public address"); err != nil {
		return nil, fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	local, err := localAddrFor(n.gateway)
	if err != nil {
		return nil, err
	}
	return NewMappedAddr(proto,
		netip.AddrPortFrom(local, resp.PrivatePort),
		netip.AddrPortFrom(pub.Address, resp.PublicPort),
		time.Duration(resp.Lifetime)*time.Second), nil
}

func (n *NATPMPMapper) mapPort(ctx context.Context, protocol string, internalPort int, duration time.Duration) (MappingResponse, Protocol, error) {
	// Validate port range to prevent invalid mappings
	if internalPort < 1 || internalPort > math.MaxUint16 {
		return MappingResponse{}, 0, fmt.Errorf("%w: invalid port number: %d (must be 1-65535)", ErrInvalidArgument, internalPort)
	}
	proto, err := ParseProtocol(protocol)
	if err != nil {
		return MappingResponse{}, 0, err
	}
	lifetime, err := lifetimeSeconds(duration)
	if err != nil {
		return MappingResponse{}, 0, err
	}

	resp, err := n.client.CreateMappingContext(ctx, n.gateway, proto, uint16(internalPort), uint16(internalPort), lifetime)
	if err != nil {
		n.logger.Warn("NAT-PMP port mapping failed",
			"protocol", proto,
			"port", internalPort,
			"error", err)
		return MappingResponse{}, 0, fmt.Errorf("NAT-PMP port mapping failed: %w", err)
	}
	if err := resp.ResultCode.Err("map port"); err != nil {
		n.logger.Warn("NAT-PMP gateway refused port mapping",
			"protocol", proto,
			"port", internalPort,
			"result", resp.ResultCode)
		return MappingResponse{}, 0, fmt.Errorf("NAT-PMP port mapping failed: %w", err)
	}
	if int(resp.PublicPort) != internalPort {
		n.logger.Info("gateway mapped a different external port than requested",
			"protocol", proto,
			"requested", internalPort,
			"granted", resp.PublicPort)
	}
	return resp, proto, nil
}

// UnmapPort removes the port mapping for internalPort via NAT-PMP.
// This is a convenience wrapper around UnmapPortContext using
// context.Background().
func (n *NATPMPMapper) UnmapPort(protocol string, internalPort int) error {
	return n.UnmapPortContext(context.Background(), protocol, internalPort)
}

// UnmapPortContext removes the port mapping for internalPort via NAT-PMP.
func (n *NATPMPMapper) UnmapPortContext(ctx context.Context, protocol string, internalPort int) error {
	// Validate port range to prevent invalid unmappings
	if internalPort < 1 || internalPort > math.MaxUint16 {
		return fmt.Errorf("%w: invalid port number: %d (must be 1-65535)", ErrInvalidArgument, internalPort)
	}
	proto, err := ParseProtocol(protocol)
	if err != nil {
		return err
	}

	resp, err := n.client.DestroyMappingContext(ctx, n.gateway, proto, uint16(internalPort))
	if err != nil {
		n.logger.Warn("NAT-PMP port unmapping failed",
			"protocol", proto,
			"port", internalPort,
			"error", err)
		return fmt.Errorf("NAT-PMP port unmapping failed: %w", err)
	}
	if err := resp.ResultCode.Err("unmap port"); err != nil {
		return fmt.Errorf("NAT-PMP port unmapping failed: %w", err)
	}
	return nil
}

// GetExternalIP returns the external IP address via NAT-PMP.
func (n *NATPMPMapper) GetExternalIP() (string, error) {
	resp, err := n.client.GetPublicAddress(n.gateway)
	if err != nil {
		return "", fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	if err := resp.ResultCode.Err("get public address"); err != nil {
		return "", fmt.Errorf("NAT-PMP external IP lookup failed: %w", err)
	}
	return resp.Address.String(), nil
}

// lifetimeSeconds converts a mapping duration to whole seconds on the
// wire, rounding up.
func lifetimeSeconds(d time.Duration) (uint32, error) {
	if d == 0 {
		d = DefaultLifetime
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative mapping duration %v", ErrInvalidArgument, d)
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > math.MaxUint32 {
		return 0, fmt.Errorf("%w: mapping duration %v too long", ErrInvalidArgument, d)
	}
	return uint32(secs), nil
}

var _ PortMapper = (*NATPMPMapper)(nil)
