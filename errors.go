package pmpmapper

import (
	"errors"
	"fmt"
)

// Gateway discovery errors.
var (
	// ErrScanFailed is returned when the routing table cannot be retrieved
	// or is corrupt.
	ErrScanFailed = errors.New("routing table scan failed")

	// ErrNoDefaultRoute is returned when the routing table has no IPv4
	// default route with a usable gateway.
	ErrNoDefaultRoute = errors.New("no default route")
)

// Client errors.
var (
	ErrSendFailed        = errors.New("NAT-PMP send failed")
	ErrNoResponse        = errors.New("no response from NAT-PMP gateway")
	ErrReceiveFailed     = errors.New("NAT-PMP receive failed")
	ErrMalformedResponse = errors.New("malformed NAT-PMP message")
	ErrRetriesExhausted  = errors.New("NAT-PMP retries exhausted")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// ResultError reports a gateway response that carried a non-zero result
// code.
type ResultError struct {
	Op   string
	Code ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("NAT-PMP %s: gateway returned %s (%d)", e.Op, e.Code, uint16(e.Code))
}
