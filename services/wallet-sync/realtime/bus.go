package realtime

import (
	"sync"
	"sync/atomic"
)

// SignalKind names a UI-facing notification.
type SignalKind string

const (
	SignalPendingPaymentResolved SignalKind = "pending_payment_resolved"
	SignalClosePaymentDialog     SignalKind = "close_payment_dialog"
)

const (
	ResolutionSuccess = "success"
	ResolutionFailure = "failure"
)

// Resolution is the payload of a pending_payment_resolved signal.
type Resolution struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

type Signal struct {
	Kind       SignalKind  `json:"kind"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Bus fans signals out to listeners. Publish never blocks: a listener whose
// buffer is full misses the signal.
type Bus struct {
	mu        sync.RWMutex
	listeners map[int]chan Signal
	nextID    int
	dropped   atomic.Int64
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]chan Signal)}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Signal, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(s Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.listeners {
		select {
		case ch <- s:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a listener was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
