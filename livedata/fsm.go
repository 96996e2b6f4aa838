package livedata

import (
	"fmt"
	"time"
)

// Status is the connection state of a Channel.
type Status int

const (
	Connecting Status = iota
	Connected
	Disconnected
	Reconnecting
	Fallback
	Error
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Fallback:
		return "fallback"
	case Error:
		return "error"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type eventKind int

const (
	evOpened eventKind = iota
	evClosed
	evDialFailed
	evReconnectDue
)

func (e eventKind) String() string {
	switch e {
	case evOpened:
		return "opened"
	case evClosed:
		return "closed"
	case evDialFailed:
		return "dial failed"
	case evReconnectDue:
		return "reconnect due"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type effectKind int

const (
	effNone effectKind = iota
	effDial
	effScheduleReconnect
	effStartPolling
)

// machine is the part of the channel state the transition table works on.
type machine struct {
	status   Status
	attempts int
}

// step is the outcome of one transition. via lists statuses that are
// published, in order, before the final one.
type step struct {
	via    []Status
	to     machine
	effect effectKind
	delay  time.Duration
}

// backoff is the delay before reconnect attempt n (n >= 1).
func (c *Config) backoff(attempts int) time.Duration {
	d := c.Base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= c.Ceiling {
			return c.Ceiling
		}
	}
	return d
}

// next is the transition function. It has no side effects.
func (c *Config) next(m machine, e eventKind) step {
	if m.status == Fallback {
		// Fallback is terminal; the stream is never tried again.
		return step{to: m}
	}
	switch e {
	case evOpened:
		return step{to: machine{status: Connected}}

	case evClosed, evDialFailed:
		via := Disconnected
		if e == evDialFailed {
			via = Error
		}
		m.attempts++
		if m.attempts < c.MaxAttempts {
			return step{
				via:    []Status{via},
				to:     machine{status: Reconnecting, attempts: m.attempts},
				effect: effScheduleReconnect,
				delay:  c.backoff(m.attempts),
			}
		}
		return step{
			via:    []Status{via},
			to:     machine{status: Fallback, attempts: m.attempts},
			effect: effStartPolling,
		}

	case evReconnectDue:
		if m.status != Reconnecting {
			return step{to: m}
		}
		return step{to: m, effect: effDial}
	}
	return step{to: m}
}
