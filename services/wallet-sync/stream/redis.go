package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yashrajoria/payment-sync/services/common/changefeed"
	"go.uber.org/zap"
)

const (
	DefaultSubscribeTimeout = 10 * time.Second
	messageBuffer           = 64
)

// RedisSource subscribes to the per-user pub/sub channel the change relay
// publishes to.
type RedisSource struct {
	client           *redis.Client
	subscribeTimeout time.Duration
	logger           *zap.Logger
}

func NewRedisSource(client *redis.Client, subscribeTimeout time.Duration, logger *zap.Logger) *RedisSource {
	if subscribeTimeout <= 0 {
		subscribeTimeout = DefaultSubscribeTimeout
	}
	return &RedisSource{client: client, subscribeTimeout: subscribeTimeout, logger: logger}
}

// Subscribe never blocks on the network. The outcome of the subscribe
// handshake is reported on the returned subscription.
func (s *RedisSource) Subscribe(ctx context.Context, channelID, userID string) (Subscription, error) {
	sub := &redisSubscription{
		id:     channelID,
		ps:     s.client.Subscribe(ctx),
		out:    make(chan Message, messageBuffer),
		done:   make(chan struct{}),
		logger: s.logger.With(zap.String("channel_id", channelID), zap.String("user_id", userID)),
	}
	go sub.run(ctx, changefeed.Channel(userID), s.subscribeTimeout)
	return sub, nil
}

type redisSubscription struct {
	id     string
	ps     *redis.PubSub
	out    chan Message
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (r *redisSubscription) Messages() <-chan Message { return r.out }

func (r *redisSubscription) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.ps.Close()
	})
	return err
}

func (r *redisSubscription) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *redisSubscription) run(ctx context.Context, channel string, timeout time.Duration) {
	defer close(r.out)

	if err := r.ps.Subscribe(ctx, channel); err != nil {
		r.fail(err)
		return
	}
	if err := r.awaitConfirmation(ctx, timeout); err != nil {
		r.fail(err)
		return
	}
	r.emit(Message{Status: StatusSubscribed})
	r.logger.Debug("Subscribed", zap.String("channel", channel))

	for {
		v, err := r.ps.Receive(ctx)
		if err != nil {
			r.fail(err)
			return
		}
		switch m := v.(type) {
		case *redis.Message:
			r.emit(Message{Payload: []byte(m.Payload)})
		case *redis.Subscription:
			if m.Kind == "unsubscribe" && m.Count == 0 {
				r.fail(errors.New("unsubscribed by server"))
				return
			}
		}
	}
}

func (r *redisSubscription) awaitConfirmation(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return context.DeadlineExceeded
		}
		v, err := r.ps.ReceiveTimeout(ctx, remaining)
		if err != nil {
			return err
		}
		if m, ok := v.(*redis.Subscription); ok && m.Kind == "subscribe" {
			return nil
		}
	}
}

// fail reports the terminal status for err. A subscription closed locally
// always reports CLOSED.
func (r *redisSubscription) fail(err error) {
	switch {
	case r.closed():
		r.final(Message{Status: StatusClosed})
	case isTimeout(err):
		r.logger.Warn("Subscribe timed out", zap.Error(err))
		r.final(Message{Status: StatusTimedOut, Err: err})
	default:
		r.logger.Warn("Channel error", zap.Error(err))
		r.final(Message{Status: StatusChannelError, Err: err})
	}
}

func (r *redisSubscription) emit(m Message) {
	select {
	case r.out <- m:
	case <-r.done:
	}
}

// final delivers the last message without blocking a reader that is gone.
func (r *redisSubscription) final(m Message) {
	select {
	case r.out <- m:
	default:
		r.logger.Debug("Dropped final status", zap.String("status", string(m.Status)))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
