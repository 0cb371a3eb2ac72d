package natpmptest

import (
	"net"
	"net/netip"
	"testing"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenDefaultPort starts a Gateway on 127.0.0.1:5351, where third-party
// clients expect to find it.
func listenDefaultPort(t *testing.T) *Gateway {
	t.Helper()
	g, err := Listen("127.0.0.1:5351")
	if err != nil {
		t.Skipf("cannot bind NAT-PMP port: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

// TestGatewayInterop checks the fake gateway against an independent
// NAT-PMP client implementation.
func TestGatewayInterop(t *testing.T) {
	g := listenDefaultPort(t)
	g.SetExternalIP(netip.MustParseAddr("198.51.100.7"))

	client := natpmp.NewClientWithTimeout(net.IPv4(127, 0, 0, 1), 2*time.Second)

	ext, err := client.GetExternalAddress()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("198.51.100.7"), netip.AddrFrom4(ext.ExternalIPAddress))

	g.GrantPublicPort(2121)
	res, err := client.AddPortMapping("tcp", 5021, 21, 3600)
	require.NoError(t, err)
	assert.Equal(t, uint16(5021), res.InternalPort)
	assert.Equal(t, uint16(2121), res.MappedExternalPort)
	assert.Equal(t, uint32(3600), res.PortMappingLifetimeInSeconds)

	stats := g.Stats()
	assert.Equal(t, 1, stats.PublicAddress)
	assert.Equal(t, 1, stats.Map)
	require.Len(t, g.Mappings(), 1)
	assert.Equal(t, uint16(2121), g.Mappings()[0].ExternalPort)
}

func TestGatewayDeletesMapping(t *testing.T) {
	g := New(t)
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(g.Addr()))
	require.NoError(t, err)
	defer conn.Close()

	roundTrip := func(req []byte, n int) []byte {
		t.Helper()
		_, err := conn.Write(req)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		buf := make([]byte, 64)
		got, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, n, got)
		return buf[:got]
	}

	// UDP, private 4000, public 0 (any), lifetime 60.
	resp := roundTrip([]byte{0, 1, 0, 0, 0x0f, 0xa0, 0, 0, 0, 0, 0, 60}, 16)
	assert.Equal(t, byte(129), resp[1])
	assert.Equal(t, []byte{0x0f, 0xa0}, resp[10:12], "public port defaults to the private port")
	require.Len(t, g.Mappings(), 1)

	resp = roundTrip([]byte{0, 1, 0, 0, 0x0f, 0xa0, 0, 0, 0, 0, 0, 0}, 16)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, resp[10:16])
	assert.Empty(t, g.Mappings())
}

func TestGatewayUnsupportedOpcode(t *testing.T) {
	g := New(t)
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(g.Addr()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0, 9})
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	assert.Equal(t, byte(137), buf[1])
	assert.Equal(t, []byte{0, 5}, buf[2:4])
	assert.Equal(t, 1, g.Stats().Bogus)
}

func TestGatewayCloseIdempotent(t *testing.T) {
	g, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	assert.NoError(t, g.Close())
	assert.NoError(t, g.Close())
}
