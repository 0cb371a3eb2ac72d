package pmpmapper

import (
	"fmt"
	"strings"
	"time"
)

// PortMapper defines the interface for requesting port mappings from the
// local NAT gateway.
type PortMapper interface {
	MapPort(protocol string, internalPort int, duration time.Duration) (externalPort int, err error)
	UnmapPort(protocol string, internalPort int) error
	GetExternalIP() (string, error)
}

// Protocol selects the transport a mapping applies to. Its value is the
// NAT-PMP request opcode.
type Protocol uint8

const (
	UDP Protocol = opMapUDP
	TCP Protocol = opMapTCP
)

// ParseProtocol parses "tcp" or "udp", ignoring case.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(s) {
	case "TCP":
		return TCP, nil
	case "UDP":
		return UDP, nil
	default:
		return 0, fmt.Errorf("%w: unsupported protocol: %s", ErrInvalidArgument, s)
	}
}

func (p Protocol) String() string {
	switch p {
	case UDP:
		return "UDP"
	case TCP:
		return "TCP"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

func (p Protocol) valid() bool { return p == UDP || p == TCP }

// ResultCode is the status a gateway reports in every response.
type ResultCode uint16

const (
	ResultSuccess            ResultCode = 0
	ResultUnsupportedVersion ResultCode = 1
	ResultNotAuthorized      ResultCode = 2
	ResultNetworkFailure     ResultCode = 3
	ResultOutOfResources     ResultCode = 4
	ResultUnsupportedOpcode  ResultCode = 5
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultUnsupportedVersion:
		return "unsupported version"
	case ResultNotAuthorized:
		return "not authorized/refused"
	case ResultNetworkFailure:
		return "network failure"
	case ResultOutOfResources:
		return "out of resources"
	case ResultUnsupportedOpcode:
		return "unsupported opcode"
	default:
		return "unknown failure"
	}
}

// Err returns nil for ResultSuccess and a *ResultError otherwise.
func (c ResultCode) Err(op string) error {
	if c == ResultSuccess {
		return nil
	}
	return &ResultError{Op: op, Code: c}
}
