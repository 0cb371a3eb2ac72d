package pmpmapper

import (
	"context"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/go-i2p/go-pmp-mapper/natpmptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMapper(t *testing.T) (*NATPMPMapper, *natpmptest.Gateway) {
	t.Helper()
	g, gw := startGateway(t)
	m, err := NewNATPMPMapperForGatewayContext(context.Background(), gw,
		WithListenAddr("127.0.0.1:0"),
		WithRetryPolicy(RetryPolicy{InitialTimeout: 100 * time.Millisecond, MaxAttempts: 3}))
	require.NoError(t, err)
	return m, g
}

func TestNATPMPMapperConstructor(t *testing.T) {
	m, g := newTestMapper(t)
	assert.Equal(t, g.Addr(), m.Gateway().AddrPort())
	assert.Equal(t, 1, g.Stats().PublicAddress, "constructor asks for the public address")
}

func TestNATPMPMapperConstructorRefused(t *testing.T) {
	g, gw := startGateway(t)
	g.SetResultCode(uint16(ResultNetworkFailure))

	_, err := NewNATPMPMapperForGatewayContext(context.Background(), gw, WithListenAddr("127.0.0.1:0"))
	require.Error(t, err)
	var rerr *ResultError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ResultNetworkFailure, rerr.Code)
}

func TestNATPMPMapperConstructorSilent(t *testing.T) {
	g, gw := startGateway(t)
	g.DropRequests(1000)

	_, err := NewNATPMPMapperForGatewayContext(context.Background(), gw,
		WithListenAddr("127.0.0.1:0"),
		WithRetryPolicy(RetryPolicy{InitialTimeout: time.Millisecond, MaxAttempts: 2}))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestNATPMPMapperMapPort(t *testing.T) {
	m, g := newTestMapper(t)

	port, err := m.MapPort("TCP", 8080, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	ms := g.Mappings()
	require.Len(t, ms, 1)
	assert.Equal(t, uint8(opMapTCP), ms[0].Opcode)
	assert.Equal(t, uint32(300), ms[0].Lifetime)

	require.NoError(t, m.UnmapPort("TCP", 8080))
	assert.Empty(t, g.Mappings())
}

func TestNATPMPMapperMapPortGrantedDifferent(t *testing.T) {
	m, g := newTestMapper(t)
	g.GrantPublicPort(40000)

	port, err := m.MapPort("udp", 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, 40000, port)

	ms := g.Mappings()
	require.Len(t, ms, 1)
	assert.Equal(t, uint8(opMapUDP), ms[0].Opcode)
	assert.Equal(t, uint32(DefaultLifetime/time.Second), ms[0].Lifetime)
}

func TestNATPMPMapperRefused(t *testing.T) {
	m, g := newTestMapper(t)
	g.SetResultCode(uint16(ResultOutOfResources))

	_, err := m.MapPort("TCP", 8080, time.Minute)
	var rerr *ResultError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ResultOutOfResources, rerr.Code)

	err = m.UnmapPort("TCP", 8080)
	require.ErrorAs(t, err, &rerr)
}

func TestNATPMPMapperInvalidArguments(t *testing.T) {
	m, g := newTestMapper(t)
	before := g.Stats().Requests

	testCases := []struct {
		name string
		call func() error
	}{
		{"port zero", func() error { _, err := m.MapPort("TCP", 0, time.Minute); return err }},
		{"port too large", func() error { _, err := m.MapPort("TCP", 70000, time.Minute); return err }},
		{"negative port", func() error { _, err := m.MapPort("UDP", -1, time.Minute); return err }},
		{"unknown protocol", func() error { _, err := m.MapPort("SCTP", 80, time.Minute); return err }},
		{"negative duration", func() error { _, err := m.MapPort("TCP", 80, -time.Second); return err }},
		{"unmap port zero", func() error { return m.UnmapPort("TCP", 0) }},
		{"unmap unknown protocol", func() error { return m.UnmapPort("ICMP", 80) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), ErrInvalidArgument)
		})
	}
	assert.Equal(t, before, g.Stats().Requests, "invalid arguments never reach the gateway")
}

func TestNATPMPMapperGetExternalIP(t *testing.T) {
	m, g := newTestMapper(t)
	g.SetExternalIP(netip.MustParseAddr("192.0.2.33"))

	ip, err := m.GetExternalIP()
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.33", ip)
}

func TestNATPMPMapperMapAddr(t *testing.T) {
	m, g := newTestMapper(t)
	g.GrantPublicPort(2121)
	g.GrantLifetime(600)

	addr, err := m.MapAddr(context.Background(), "tcp", 5021, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "tcp", addr.Network())
	assert.Equal(t, netip.MustParseAddrPort("203.0.113.100:2121"), addr.ExternalAddr())
	assert.Equal(t, "203.0.113.100:2121", addr.String())
	assert.Equal(t, uint16(5021), addr.InternalAddr().Port())
	assert.True(t, addr.InternalAddr().Addr().IsLoopback())
	assert.Equal(t, 10*time.Minute, addr.Lifetime())
}

func TestLifetimeSeconds(t *testing.T) {
	testCases := []struct {
		in      time.Duration
		want    uint32
		wantErr bool
	}{
		{0, 3600, false},
		{time.Second, 1, false},
		{1500 * time.Millisecond, 2, false},
		{time.Nanosecond, 1, false},
		{2 * time.Hour, 7200, false},
		{math.MaxUint32 * time.Second, math.MaxUint32, false},
		{(math.MaxUint32 + 1) * time.Second, 0, true},
		{-time.Second, 0, true},
	}
	for _, tc := range testCases {
		got, err := lifetimeSeconds(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidArgument, "%v", tc.in)
			continue
		}
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}

func TestNATPMPMapperForGatewayWrapper(t *testing.T) {
	g, gw := startGateway(t)

	m, err := NewNATPMPMapperForGateway(gw, WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)
	assert.Equal(t, gw, m.Gateway())
	assert.Equal(t, 1, g.Stats().PublicAddress)
}

func TestNATPMPMapperForGatewayContextCancelled(t *testing.T) {
	_, gw := startGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNATPMPMapperForGatewayContext(ctx, gw, WithListenAddr("127.0.0.1:0"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNATPMPMapperMapAddrProtocol(t *testing.T) {
	m, _ := newTestMapper(t)

	for _, tc := range []struct {
		protocol string
		network  string
	}{
		{"UDP", "udp"},
		{"tcp", "tcp"},
	} {
		addr, err := m.MapAddr(context.Background(), tc.protocol, 6100, time.Minute)
		require.NoError(t, err, tc.protocol)
		assert.Equal(t, tc.network, addr.Network())
	}

	_, err := m.MapAddr(context.Background(), "sctp", 6100, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNATPMPMapperUnmapPortContext(t *testing.T) {
	m, g := newTestMapper(t)

	_, err := m.MapPort("UDP", 7100, time.Minute)
	require.NoError(t, err)
	require.Len(t, g.Mappings(), 1)

	require.NoError(t, m.UnmapPortContext(context.Background(), "UDP", 7100))
	assert.Empty(t, g.Mappings())
}

func TestNATPMPMapperUnmapPortContextCancelled(t *testing.T) {
	m, g := newTestMapper(t)
	g.DropRequests(1000)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.UnmapPortContext(ctx, "TCP", 7200)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
