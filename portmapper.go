// Package pmpmapper discovers the default gateway from the system routing
// table and requests port mappings from it using NAT-PMP
// (draft-cheshire-nat-pmp, RFC 6886).
package pmpmapper

import (
	"context"
	"fmt"
)

// NewPortMapper creates a port mapper for the default gateway.
// This is a convenience wrapper around NewPortMapperContext using context.Background().
func NewPortMapper(opts ...Option) (PortMapper, error) {
	return NewPortMapperContext(context.Background(), opts...)
}

// NewPortMapperContext creates a port mapper for the default gateway with
// context support. The context bounds gateway discovery and the initial
// public address request, which can otherwise take about two minutes against a silent
// gateway.
func NewPortMapperContext(ctx context.Context, opts ...Option) (PortMapper, error) {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	natpmp, err := NewNATPMPMapperContext(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("no NAT traversal available: %w", err)
	}
	return natpmp, nil
}
