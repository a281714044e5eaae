package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingTarget struct {
	idle  atomic.Bool
	calls atomic.Int32
}

func (c *countingTarget) ResubscribeIfIdle() bool {
	c.calls.Add(1)
	return c.idle.Load()
}

func TestHealthMonitor_Check(t *testing.T) {
	target := &countingTarget{}
	h := NewHealthMonitor(target, time.Minute, zap.NewNop())

	assert.False(t, h.Check())
	target.idle.Store(true)
	assert.True(t, h.Check())
	assert.Equal(t, int32(2), target.calls.Load())
}

func TestHealthMonitor_TicksUntilStopped(t *testing.T) {
	target := &countingTarget{}
	h := NewHealthMonitor(target, 10*time.Millisecond, zap.NewNop())

	h.Start()
	h.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	after := target.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, target.calls.Load())
}
