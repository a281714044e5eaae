package realtime

import "time"

// State is the lifecycle state of a user's change subscription.
type State string

const (
	StateInitial      State = "INITIAL"
	StateSubscribing  State = "SUBSCRIBING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
	StateClosed       State = "CLOSED"
)

const (
	MaxReconnectAttempts = 5
	baseBackoff          = time.Second
	maxBackoff           = 30 * time.Second
)

// EventKind is an input to the state machine.
type EventKind int

const (
	EventSetup EventKind = iota
	EventSubscribed
	EventChannelError
	EventTimedOut
	EventChannelClosed
	EventRetryDue
	EventForceReconnect
	EventTeardown
)

func (k EventKind) String() string {
	switch k {
	case EventSetup:
		return "setup"
	case EventSubscribed:
		return "subscribed"
	case EventChannelError:
		return "channel_error"
	case EventTimedOut:
		return "timed_out"
	case EventChannelClosed:
		return "channel_closed"
	case EventRetryDue:
		return "retry_due"
	case EventForceReconnect:
		return "force_reconnect"
	case EventTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// EffectKind is a side effect the owner of the state machine must perform,
// in order.
type EffectKind int

const (
	EffectCancelRetry EffectKind = iota
	EffectCloseChannel
	EffectOpenChannel
	EffectScheduleRetry
)

type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

// Snapshot is the complete machine state.
type Snapshot struct {
	State    State
	Attempts int
}

// Backoff returns the delay before reconnect attempt k (1-indexed).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Transition is the pure state machine of a subscription. Events that do not
// apply to the current state leave it unchanged with no effects.
func Transition(s Snapshot, kind EventKind) (Snapshot, []Effect) {
	switch kind {
	case EventSetup:
		effects := []Effect{{Kind: EffectCancelRetry}}
		if s.State != StateInitial && s.State != StateClosed {
			effects = append(effects, Effect{Kind: EffectCloseChannel})
		}
		return Snapshot{State: StateSubscribing}, append(effects, Effect{Kind: EffectOpenChannel})

	case EventSubscribed:
		if s.State != StateSubscribing {
			return s, nil
		}
		return Snapshot{State: StateConnected}, nil

	case EventChannelError, EventTimedOut, EventChannelClosed:
		if s.State != StateSubscribing && s.State != StateConnected {
			return s, nil
		}
		attempts := s.Attempts + 1
		effects := []Effect{{Kind: EffectCloseChannel}}
		if attempts >= MaxReconnectAttempts {
			return Snapshot{State: StateFailed, Attempts: attempts}, effects
		}
		return Snapshot{State: StateReconnecting, Attempts: attempts},
			append(effects, Effect{Kind: EffectScheduleRetry, Delay: Backoff(attempts)})

	case EventRetryDue:
		if s.State != StateReconnecting {
			return s, nil
		}
		return Snapshot{State: StateSubscribing, Attempts: s.Attempts}, []Effect{{Kind: EffectOpenChannel}}

	case EventForceReconnect:
		if s.State == StateClosed {
			return s, nil
		}
		return Snapshot{State: StateSubscribing}, []Effect{
			{Kind: EffectCancelRetry},
			{Kind: EffectCloseChannel},
			{Kind: EffectOpenChannel},
		}

	case EventTeardown:
		if s.State == StateClosed {
			return s, nil
		}
		return Snapshot{State: StateClosed}, []Effect{
			{Kind: EffectCancelRetry},
			{Kind: EffectCloseChannel},
		}
	}
	return s, nil
}
