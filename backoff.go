package pmpmapper

import "time"

// RetryPolicy is the retransmission schedule of a single operation: the
// first attempt waits InitialTimeout, every further attempt waits twice as
// long as the previous one, up to MaxAttempts attempts in total.
type RetryPolicy struct {
	InitialTimeout time.Duration
	MaxAttempts    int
}

// DefaultRetryPolicy is the schedule mandated by the protocol draft:
// 0.25s, 0.5s, 1s, ... 64s over 9 attempts (about 127s in total).
var DefaultRetryPolicy = RetryPolicy{
	InitialTimeout: initialTimeoutDuration,
	MaxAttempts:    maxAttempts,
}

// RetryState is the position of one operation in its retry schedule. The
// timeout is kept as seconds plus microseconds.
type RetryState struct {
	Attempt int // 1-based
	Sec     int64
	Usec    int64
}

// Timeout returns how long the current attempt waits for a response.
func (s RetryState) Timeout() time.Duration {
	return time.Duration(s.Sec)*time.Second + time.Duration(s.Usec)*time.Microsecond
}

// Start returns the state of the first attempt.
func (p RetryPolicy) Start() RetryState {
	d := p.InitialTimeout
	if d <= 0 {
		d = initialTimeoutDuration
	}
	return RetryState{
		Attempt: 1,
		Sec:     int64(d / time.Second),
		Usec:    int64(d%time.Second) / int64(time.Microsecond),
	}
}

// Advance doubles the timeout and moves to the next attempt. It reports
// false once the next attempt would exceed MaxAttempts.
func (p RetryPolicy) Advance(s RetryState) (RetryState, bool) {
	if s.Attempt >= p.maxAttempts() {
		return s, false
	}
	next := RetryState{
		Attempt: s.Attempt + 1,
		Sec:     s.Sec * 2,
		Usec:    s.Usec * 2,
	}
	if next.Usec >= microsecondsPerSecond {
		overflow := next.Usec / microsecondsPerSecond
		next.Usec -= overflow * microsecondsPerSecond
		next.Sec += overflow
	}
	return next, true
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return maxAttempts
	}
	return p.MaxAttempts
}
