package pmpmapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"
)

// Client is a NAT-PMP client. It holds configuration only; every operation
// opens its own UDP socket and closes it before returning, so a Client may
// be used from multiple goroutines.
type Client struct {
	logger     *slog.Logger
	policy     RetryPolicy
	listenAddr string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithListenAddr sets the local UDP address requests are sent from.
func WithListenAddr(addr string) Option {
	return func(c *Client) {
		c.listenAddr = addr
	}
}

// NewClient returns a Client using DefaultRetryPolicy unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		logger:     slog.Default(),
		policy:     DefaultRetryPolicy,
		listenAddr: defaultListenAddr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPublicAddress asks the gateway for its external IPv4 address.
// This is a convenience wrapper around GetPublicAddressContext using
// context.Background(). With the default policy it can block for about
// 127 seconds before giving up.
func (c *Client) GetPublicAddress(gw GatewayAddress) (PublicAddressResponse, error) {
	return c.GetPublicAddressContext(context.Background(), gw)
}

// GetPublicAddressContext asks the gateway for its external IPv4 address.
func (c *Client) GetPublicAddressContext(ctx context.Context, gw GatewayAddress) (PublicAddressResponse, error) {
	var resp PublicAddressResponse
	req, err := PublicAddressRequest{Version: protocolVersion, Opcode: opPublicAddress}.MarshalBinary()
	if err != nil {
		return resp, err
	}
	raw, err := c.exchange(ctx, gw, req, publicAddressRespLength)
	if err != nil {
		return resp, fmt.Errorf("get public address: %w", err)
	}
	if err := resp.UnmarshalBinary(raw); err != nil {
		return PublicAddressResponse{}, fmt.Errorf("get public address: %w", err)
	}
	return resp, nil
}

// CreateMapping requests a mapping from the gateway's publicPort to
// privatePort on this host for lifetime seconds. The returned response is
// authoritative: the gateway may grant a different public port and
// lifetime than requested.
func (c *Client) CreateMapping(gw GatewayAddress, proto Protocol, privatePort, publicPort uint16, lifetime uint32) (MappingResponse, error) {
	return c.CreateMappingContext(context.Background(), gw, proto, privatePort, publicPort, lifetime)
}

// CreateMappingContext is CreateMapping with a context.
func (c *Client) CreateMappingContext(ctx context.Context, gw GatewayAddress, proto Protocol, privatePort, publicPort uint16, lifetime uint32) (MappingResponse, error) {
	var resp MappingResponse
	if !proto.valid() {
		return resp, fmt.Errorf("%w: unsupported protocol: %s", ErrInvalidArgument, proto)
	}
	if privatePort == 0 {
		return resp, fmt.Errorf("%w: private port must be non-zero", ErrInvalidArgument)
	}
	req, err := MappingRequest{
		Version:     protocolVersion,
		Opcode:      uint8(proto),
		PrivatePort: privatePort,
		PublicPort:  publicPort,
		Lifetime:    lifetime,
	}.MarshalBinary()
	if err != nil {
		return resp, err
	}
	raw, err := c.exchange(ctx, gw, req, mappingRespLength)
	if err != nil {
		return resp, fmt.Errorf("map %s port %d: %w", proto, privatePort, err)
	}
	if err := resp.UnmarshalBinary(raw); err != nil {
		return MappingResponse{}, fmt.Errorf("map %s port %d: %w", proto, privatePort, err)
	}
	return resp, nil
}

// DestroyMapping removes the mapping for privatePort by requesting a zero
// public port with a zero lifetime.
func (c *Client) DestroyMapping(gw GatewayAddress, proto Protocol, privatePort uint16) (MappingResponse, error) {
	return c.DestroyMappingContext(context.Background(), gw, proto, privatePort)
}

// DestroyMappingContext is DestroyMapping with a context.
func (c *Client) DestroyMappingContext(ctx context.Context, gw GatewayAddress, proto Protocol, privatePort uint16) (MappingResponse, error) {
	return c.CreateMappingContext(ctx, gw, proto, privatePort, 0, 0)
}

// exchange sends req to the gateway and drives the retry state machine
// until a validated response arrives or the exchange fails. The returned
// slice holds the full response datagram.
func (c *Client) exchange(ctx context.Context, gw GatewayAddress, req []byte, respLen int) ([]byte, error) {
	if !gw.IP.Unmap().Is4() {
		return nil, fmt.Errorf("%w: gateway %v is not an IPv4 address", ErrInvalidArgument, gw.IP)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := gw.AddrPort()
	wantOp := req[1] + opReplyOffset

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", c.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer pc.Close()
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected packet conn type: %T", ErrSendFailed, pc)
	}

	// Unblock a pending read as soon as ctx is done.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	buf := make([]byte, maxDatagramLength)
	var (
		n       int
		from    netip.AddrPort
		ioErr   error
		lastErr error
		failErr error
		ev      opEvent
	)
	state := stateSending
	retry := c.policy.Start()
	for {
		switch state {
		case stateSending:
			c.logger.Debug("sending NAT-PMP request",
				"gateway", dst,
				"opcode", req[1],
				"attempt", retry.Attempt,
				"timeout", retry.Timeout())
			if _, ioErr = conn.WriteToUDPAddrPort(req, dst); ioErr != nil {
				ev = evSendFailed
			} else {
				ev = evSent
			}

		case stateAwaitingResponse:
			deadline := time.Now().Add(retry.Timeout())
			if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
				deadline = d
			}
			if ioErr = conn.SetReadDeadline(deadline); ioErr != nil {
				ev = evReceiveFailed
				break
			}
			if err := contextErr(ctx); err != nil {
				return nil, err
			}
			n, from, ioErr = conn.ReadFromUDPAddrPort(buf)
			switch {
			case ioErr == nil:
				ev = evReceived
			case contextErr(ctx) != nil:
				return nil, contextErr(ctx)
			case errors.Is(ioErr, os.ErrDeadlineExceeded):
				lastErr = ErrNoResponse
				ev = evTimedOut
			default:
				ev = evReceiveFailed
			}

		case stateValidating:
			ev = validateResponse(from, dst, buf[:n], wantOp, respLen)
			switch ev {
			case evRejected:
				c.logger.Debug("ignoring unexpected NAT-PMP datagram",
					"gateway", dst,
					"from", from,
					"length", n,
					"attempt", retry.Attempt)
				lastErr = nil
			case evMalformed:
				ioErr = fmt.Errorf("%d-byte datagram from %s", n, from)
			}

		case stateRetrying:
			ev = evRearm

		case stateSucceeded:
			resp := make([]byte, n)
			copy(resp, buf[:n])
			return resp, nil

		case stateFailed:
			c.logger.Debug("NAT-PMP request failed",
				"gateway", dst,
				"attempt", retry.Attempt,
				"error", failErr)
			return nil, failErr
		}

		step := c.policy.transition(state, ev, retry)
		state, retry = step.state, step.retry
		if state == stateFailed {
			failErr = joinCause(step.fail, ioErr, lastErr)
		}
	}
}

// joinCause attaches the underlying error to the failure kind: the socket
// or decoding error for terminal failures, the last retry cause for
// exhaustion.
func joinCause(kind, ioErr, lastErr error) error {
	switch {
	case errors.Is(kind, ErrRetriesExhausted):
		if lastErr != nil {
			return fmt.Errorf("%w: %w", kind, lastErr)
		}
		return kind
	case ioErr != nil:
		return fmt.Errorf("%w: %w", kind, ioErr)
	default:
		return kind
	}
}

// contextErr is ctx.Err, except that a deadline which has passed counts
// as exceeded even before the context's own timer fires.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}
