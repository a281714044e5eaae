package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffIsMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for k := 1; k <= 40; k++ {
		d := Backoff(k)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
}

func TestTransition_Setup(t *testing.T) {
	s, effects := Transition(Snapshot{State: StateInitial}, EventSetup)
	assert.Equal(t, Snapshot{State: StateSubscribing}, s)
	assert.Equal(t, []EffectKind{EffectCancelRetry, EffectOpenChannel}, kinds(effects))

	s, effects = Transition(Snapshot{State: StateConnected}, EventSetup)
	assert.Equal(t, StateSubscribing, s.State)
	assert.Equal(t, []EffectKind{EffectCancelRetry, EffectCloseChannel, EffectOpenChannel}, kinds(effects))
}

func TestTransition_SubscribedResetsAttempts(t *testing.T) {
	s, effects := Transition(Snapshot{State: StateSubscribing, Attempts: 3}, EventSubscribed)
	assert.Equal(t, Snapshot{State: StateConnected, Attempts: 0}, s)
	assert.Empty(t, effects)

	s, effects = Transition(Snapshot{State: StateReconnecting, Attempts: 2}, EventSubscribed)
	assert.Equal(t, Snapshot{State: StateReconnecting, Attempts: 2}, s)
	assert.Empty(t, effects)
}

func TestTransition_ErrorsScheduleBackoff(t *testing.T) {
	for _, ev := range []EventKind{EventChannelError, EventTimedOut, EventChannelClosed} {
		t.Run(ev.String(), func(t *testing.T) {
			s, effects := Transition(Snapshot{State: StateConnected}, ev)
			assert.Equal(t, Snapshot{State: StateReconnecting, Attempts: 1}, s)
			require.Len(t, effects, 2)
			assert.Equal(t, EffectCloseChannel, effects[0].Kind)
			assert.Equal(t, EffectScheduleRetry, effects[1].Kind)
			assert.Equal(t, time.Second, effects[1].Delay)
		})
	}
}

func TestTransition_ErrorOutsideLiveStatesIgnored(t *testing.T) {
	for _, st := range []State{StateInitial, StateReconnecting, StateFailed, StateClosed} {
		s, effects := Transition(Snapshot{State: st, Attempts: 2}, EventChannelError)
		assert.Equal(t, Snapshot{State: st, Attempts: 2}, s)
		assert.Empty(t, effects)
	}
}

func TestTransition_RetryDue(t *testing.T) {
	s, effects := Transition(Snapshot{State: StateReconnecting, Attempts: 2}, EventRetryDue)
	assert.Equal(t, Snapshot{State: StateSubscribing, Attempts: 2}, s)
	assert.Equal(t, []EffectKind{EffectOpenChannel}, kinds(effects))

	s, effects = Transition(Snapshot{State: StateClosed}, EventRetryDue)
	assert.Equal(t, StateClosed, s.State)
	assert.Empty(t, effects)
}

func TestTransition_ExhaustionEndsInFailed(t *testing.T) {
	s := Snapshot{State: StateInitial}
	s, _ = Transition(s, EventSetup)

	var delays []time.Duration
	for i := 0; i < MaxReconnectAttempts; i++ {
		var effects []Effect
		s, effects = Transition(s, EventChannelError)
		for _, e := range effects {
			if e.Kind == EffectScheduleRetry {
				delays = append(delays, e.Delay)
			}
		}
		if s.State == StateReconnecting {
			s, _ = Transition(s, EventRetryDue)
		}
	}

	assert.Equal(t, Snapshot{State: StateFailed, Attempts: MaxReconnectAttempts}, s)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)

	s2, effects := Transition(s, EventRetryDue)
	assert.Equal(t, s, s2)
	assert.Empty(t, effects)

	s, effects = Transition(s, EventForceReconnect)
	assert.Equal(t, Snapshot{State: StateSubscribing, Attempts: 0}, s)
	assert.Equal(t, []EffectKind{EffectCancelRetry, EffectCloseChannel, EffectOpenChannel}, kinds(effects))
}

func TestTransition_Teardown(t *testing.T) {
	for _, st := range []State{StateInitial, StateSubscribing, StateConnected, StateReconnecting, StateFailed} {
		s, effects := Transition(Snapshot{State: st, Attempts: 1}, EventTeardown)
		assert.Equal(t, Snapshot{State: StateClosed}, s)
		assert.Equal(t, []EffectKind{EffectCancelRetry, EffectCloseChannel}, kinds(effects))
	}

	s, effects := Transition(Snapshot{State: StateClosed}, EventTeardown)
	assert.Equal(t, StateClosed, s.State)
	assert.Empty(t, effects)

	s, effects = Transition(Snapshot{State: StateClosed}, EventForceReconnect)
	assert.Equal(t, StateClosed, s.State)
	assert.Empty(t, effects)
}
