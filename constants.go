package pmpmapper

import "time"

// NAT-PMP protocol constants (RFC 6886, draft-cheshire-nat-pmp).
const (
	// DefaultPort is the UDP port a NAT-PMP gateway listens on.
	DefaultPort = 5351

	// DefaultLifetime is the mapping lifetime requested by NATPMPMapper
	// when the caller passes a zero duration.
	DefaultLifetime = 3600 * time.Second

	protocolVersion = 0

	opPublicAddress = 0
	opMapUDP        = 1
	opMapTCP        = 2
	opReplyOffset   = 128
)

// Fixed message sizes on the wire.
const (
	hdrLength               = 2
	publicAddressReqLength  = 2
	publicAddressRespLength = 12
	mappingReqLength        = 12
	mappingRespLength       = 16

	// Largest datagram we bother reading (RFC 6887).
	maxDatagramLength = 1100
)

// Retransmission schedule: 250ms doubling over 9 attempts.
const (
	initialTimeoutDuration = 250 * time.Millisecond
	maxAttempts            = 9

	microsecondsPerSecond = 1000000
)

const defaultListenAddr = "0.0.0.0:0"
