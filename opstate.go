package pmpmapper

import (
	"fmt"
	"net/netip"
)

// opState is the state of one request/response exchange with the gateway.
type opState uint8

const (
	stateSending opState = iota
	stateAwaitingResponse
	stateValidating
	stateRetrying
	stateSucceeded
	stateFailed
)

func (s opState) String() string {
	switch s {
	case stateSending:
		return "Sending"
	case stateAwaitingResponse:
		return "AwaitingResponse"
	case stateValidating:
		return "Validating"
	case stateRetrying:
		return "Retrying"
	case stateSucceeded:
		return "Succeeded"
	case stateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("opState(%d)", uint8(s))
	}
}

// opEvent is the outcome of performing the I/O of a state.
type opEvent uint8

const (
	evSent opEvent = iota
	evSendFailed
	evReceived
	evTimedOut
	evReceiveFailed
	evAccepted
	evRejected
	evMalformed
	evRearm
)

func (e opEvent) String() string {
	switch e {
	case evSent:
		return "sent"
	case evSendFailed:
		return "send failed"
	case evReceived:
		return "received"
	case evTimedOut:
		return "timed out"
	case evReceiveFailed:
		return "receive failed"
	case evAccepted:
		return "accepted"
	case evRejected:
		return "rejected"
	case evMalformed:
		return "malformed"
	case evRearm:
		return "rearm"
	default:
		return fmt.Sprintf("opEvent(%d)", uint8(e))
	}
}

// opStep is the result of a transition. fail is set iff state is
// stateFailed.
type opStep struct {
	state opState
	retry RetryState
	fail  error
}

// transition is the pure state machine driving an exchange. A rejected
// datagram advances the retry state exactly like a timeout does; a
// malformed datagram from the gateway ends the exchange.
func (p RetryPolicy) transition(s opState, ev opEvent, r RetryState) opStep {
	switch {
	case s == stateSending && ev == evSent:
		return opStep{state: stateAwaitingResponse, retry: r}
	case s == stateSending && ev == evSendFailed:
		return opStep{state: stateFailed, retry: r, fail: ErrSendFailed}

	case s == stateAwaitingResponse && ev == evReceived:
		return opStep{state: stateValidating, retry: r}
	case s == stateAwaitingResponse && ev == evTimedOut:
		return opStep{state: stateRetrying, retry: r}
	case s == stateAwaitingResponse && ev == evReceiveFailed:
		return opStep{state: stateFailed, retry: r, fail: ErrReceiveFailed}

	case s == stateValidating && ev == evAccepted:
		return opStep{state: stateSucceeded, retry: r}
	case s == stateValidating && ev == evRejected:
		return opStep{state: stateRetrying, retry: r}
	case s == stateValidating && ev == evMalformed:
		return opStep{state: stateFailed, retry: r, fail: ErrMalformedResponse}

	case s == stateRetrying && ev == evRearm:
		next, ok := p.Advance(r)
		if !ok {
			return opStep{state: stateFailed, retry: r, fail: ErrRetriesExhausted}
		}
		return opStep{state: stateSending, retry: next}
	}
	return opStep{state: stateFailed, retry: r, fail: fmt.Errorf("invalid event %q in state %s", ev, s)}
}

// validateResponse checks a datagram against the exchange it is meant to
// answer. Datagrams from anyone but the gateway, and datagrams carrying a
// different opcode, are rejected so the exchange retries. A datagram from
// the gateway with the right opcode but too short to decode is malformed.
func validateResponse(from, gateway netip.AddrPort, pkt []byte, wantOp uint8, wantLen int) opEvent {
	if from.Addr().Unmap() != gateway.Addr().Unmap() || from.Port() != gateway.Port() {
		return evRejected
	}
	if len(pkt) < hdrLength {
		return evMalformed
	}
	if pkt[1] != wantOp {
		return evRejected
	}
	if len(pkt) < wantLen {
		return evMalformed
	}
	return evAccepted
}
