package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func next(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case m, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed early")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message")
		return Message{}
	}
}

func newSource(t *testing.T) (*RedisSource, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSource(client, time.Second, zap.NewNop()), mr, client
}

func TestRedisSource_SubscribeAndReceive(t *testing.T) {
	src, _, client := newSource(t)

	sub, err := src.Subscribe(context.Background(), "ch-1", "user-1")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, StatusSubscribed, next(t, sub).Status)

	require.NoError(t, client.Publish(context.Background(), "transactions:user-1", `{"eventType":"UPDATE"}`).Err())
	m := next(t, sub)
	assert.Empty(t, m.Status)
	assert.JSONEq(t, `{"eventType":"UPDATE"}`, string(m.Payload))
}

func TestRedisSource_OtherUsersAreNotDelivered(t *testing.T) {
	src, _, client := newSource(t)

	sub, err := src.Subscribe(context.Background(), "ch-1", "user-1")
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, StatusSubscribed, next(t, sub).Status)

	require.NoError(t, client.Publish(context.Background(), "transactions:user-2", `{"eventType":"INSERT"}`).Err())
	require.NoError(t, client.Publish(context.Background(), "transactions:user-1", `{"eventType":"DELETE"}`).Err())
	assert.Contains(t, string(next(t, sub).Payload), "DELETE")
}

func TestRedisSource_CloseReportsClosed(t *testing.T) {
	src, _, _ := newSource(t)

	sub, err := src.Subscribe(context.Background(), "ch-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, StatusSubscribed, next(t, sub).Status)

	require.NoError(t, sub.Close())
	assert.Equal(t, StatusClosed, next(t, sub).Status)

	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.NoError(t, sub.Close())
}

func TestRedisSource_ServerGoneReportsChannelError(t *testing.T) {
	src, mr, _ := newSource(t)

	sub, err := src.Subscribe(context.Background(), "ch-1", "user-1")
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, StatusSubscribed, next(t, sub).Status)

	mr.Close()
	m := next(t, sub)
	assert.Equal(t, StatusChannelError, m.Status)
	assert.Error(t, m.Err)
}

func TestRedisSource_SilentServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	client := redis.NewClient(&redis.Options{
		Addr:        ln.Addr().String(),
		ReadTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	src := NewRedisSource(client, 200*time.Millisecond, zap.NewNop())

	sub, err := src.Subscribe(context.Background(), "ch-1", "user-1")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, StatusTimedOut, next(t, sub).Status)
}
