package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-sync/services/common/changefeed"
	"github.com/yashrajoria/payment-sync/services/wallet-sync/stream"
	"go.uber.org/zap"
)

// ---- fakes ----

type fakeSub struct {
	id       string
	ch       chan stream.Message
	keepOpen bool
	once     sync.Once
	closed   atomic.Bool
}

func (s *fakeSub) Messages() <-chan stream.Message { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		if !s.keepOpen {
			close(s.ch)
		}
	})
	return nil
}

// send delivers unless the subscription was already closed by the manager.
func (s *fakeSub) send(m stream.Message) {
	defer func() { _ = recover() }()
	s.ch <- m
}

type fakeSource struct {
	mu       sync.Mutex
	subs     []*fakeSub
	err      error
	keepOpen bool
}

func (f *fakeSource) Subscribe(_ context.Context, channelID, _ string) (stream.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSub{id: channelID, ch: make(chan stream.Message, 16), keepOpen: f.keepOpen}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSource) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

func (f *fakeSource) at(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns live timers with the given delay.
func (s *fakeScheduler) pending(d time.Duration) []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if t.delay == d && !t.stopped.Load() {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single live timer with delay d.
func (s *fakeScheduler) fire(t *testing.T, d time.Duration) {
	t.Helper()
	timers := s.pending(d)
	require.Len(t, timers, 1, "expected one pending %s timer", d)
	timers[0].stopped.Store(true)
	timers[0].fn()
}

type recorder struct {
	refetches atomic.Int32
	profiles  atomic.Int32
	mu        sync.Mutex
	resolved  []Resolution
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		TransactionsChanged: func(context.Context) error { r.refetches.Add(1); return nil },
		ProfileMaybeChanged: func(context.Context, string) error { r.profiles.Add(1); return nil },
		PendingPaymentResolved: func(res Resolution) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.resolved = append(r.resolved, res)
		},
	}
}

func (r *recorder) resolutions() []Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Resolution(nil), r.resolved...)
}

// ---- helpers ----

type fixture struct {
	m     *Manager
	src   *fakeSource
	sched *fakeScheduler
	rec   *recorder
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{src: &fakeSource{}, sched: &fakeScheduler{}, rec: &recorder{}}
	opts := Options{
		Source:         f.src,
		Hooks:          f.rec.hooks(),
		Scheduler:      f.sched,
		HealthInterval: time.Hour,
		Logger:         zap.NewNop(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	f.m = NewManager("user-1", opts)
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state %s, want %s", f.m.State(), want)
}

func (f *fixture) connect(t *testing.T) *fakeSub {
	t.Helper()
	sub := f.src.last()
	sub.send(stream.Message{Status: stream.StatusSubscribed})
	f.waitState(t, StateConnected)
	return sub
}

func change(status, providerID string) stream.Message {
	return stream.Message{Payload: []byte(`{"eventType":"UPDATE","new":{"user_id":"user-1","status":"` + status +
		`","provider_transaction_id":"` + providerID + `","status_detail":"cc_rejected_insufficient_amount"}}`)}
}

// ---- tests ----

func TestManager_StartConnects(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	assert.Equal(t, StateSubscribing, f.m.State())
	assert.Equal(t, 1, f.src.count())

	f.connect(t)
	assert.Equal(t, 0, f.m.Attempts())
	assert.NotEmpty(t, f.m.ChannelID())
}

func TestManager_ReconnectExhaustion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))

	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := 0; i < MaxReconnectAttempts; i++ {
		f.src.last().send(stream.Message{Status: stream.StatusChannelError, Err: errors.New("boom")})
		if i < len(delays) {
			f.waitState(t, StateReconnecting)
			assert.Equal(t, i+1, f.m.Attempts())
			f.sched.fire(t, delays[i])
			f.waitState(t, StateSubscribing)
		}
	}

	f.waitState(t, StateFailed)
	assert.Equal(t, MaxReconnectAttempts, f.m.Attempts())
	assert.Equal(t, MaxReconnectAttempts, f.src.count(), "no 6th subscription")
	assert.Empty(t, f.sched.pending(16*time.Second))

	f.m.ForceReconnect()
	assert.Equal(t, StateSubscribing, f.m.State())
	assert.Equal(t, 0, f.m.Attempts())
	assert.Equal(t, MaxReconnectAttempts+1, f.src.count())
}

func TestManager_SuccessfulReconnectResetsAttempts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	f.connect(t)

	f.src.last().send(stream.Message{Status: stream.StatusTimedOut})
	f.waitState(t, StateReconnecting)
	f.sched.fire(t, time.Second)
	f.waitState(t, StateSubscribing)

	f.connect(t)
	assert.Equal(t, 0, f.m.Attempts())
}

func TestManager_StaleChannelIgnored(t *testing.T) {
	f := newFixture(t)
	f.src.keepOpen = true
	require.NoError(t, f.m.Start(context.Background()))
	old := f.connect(t)

	f.m.ForceReconnect()
	require.Equal(t, 2, f.src.count())
	assert.True(t, old.closed.Load(), "previous channel torn down")

	old.send(stream.Message{Status: stream.StatusSubscribed})
	old.send(change("approved", "1"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateSubscribing, f.m.State())
	assert.Zero(t, f.rec.refetches.Load())
}

func TestManager_SubscribeErrorSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.src.err = errors.New("unreachable")
	require.NoError(t, f.m.Start(context.Background()))

	assert.Equal(t, StateReconnecting, f.m.State())
	assert.Equal(t, 1, f.m.Attempts())
	assert.Len(t, f.sched.pending(time.Second), 1)
}

func TestManager_ChangeTriggersRefetchAndProfile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	sub.send(change("pending", "9"))
	sub.send(change("approved", "9"))
	require.Eventually(t, func() bool { return f.rec.refetches.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.rec.profiles.Load())
}

func TestManager_PendingPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	signals, cancel := f.m.Bus().Subscribe(8)
	defer cancel()
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("123")
	sub.send(change("approved", "123"))

	select {
	case s := <-signals:
		assert.Equal(t, SignalPendingPaymentResolved, s.Kind)
		require.NotNil(t, s.Resolution)
		assert.Equal(t, Resolution{Status: ResolutionSuccess, Message: "Payment approved", ID: "123"}, *s.Resolution)
	case <-time.After(time.Second):
		t.Fatal("no resolved signal")
	}
	assert.Empty(t, f.m.PendingPayment())
	require.Len(t, f.rec.resolutions(), 1)

	require.Eventually(t, func() bool { return len(f.sched.pending(DefaultCloseDialogDelay)) == 1 }, time.Second, 5*time.Millisecond)
	f.sched.fire(t, DefaultCloseDialogDelay)
	assert.Equal(t, SignalClosePaymentDialog, (<-signals).Kind)

	// Same id again is a no-op once the context is cleared.
	sub.send(change("approved", "123"))
	require.Eventually(t, func() bool { return f.rec.refetches.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, f.rec.resolutions(), 1)
	select {
	case s := <-signals:
		t.Fatalf("unexpected signal %s", s.Kind)
	default:
	}
}

func TestManager_PendingPaymentFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("77")
	sub.send(change("in_process", "77"))
	sub.send(change("rejected", "77"))

	require.Eventually(t, func() bool { return len(f.rec.resolutions()) == 1 }, time.Second, 5*time.Millisecond)
	res := f.rec.resolutions()[0]
	assert.Equal(t, ResolutionFailure, res.Status)
	assert.Equal(t, "Insufficient funds", res.Message)
	assert.Empty(t, f.m.PendingPayment())
	assert.Empty(t, f.sched.pending(DefaultCloseDialogDelay))
}

func TestManager_OtherPaymentDoesNotResolve(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("1")
	sub.send(change("approved", "2"))
	require.Eventually(t, func() bool { return f.rec.refetches.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "1", f.m.PendingPayment())
	assert.Empty(t, f.rec.resolutions())
}

func TestManager_HookPanicDoesNotStopEvents(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(o *Options) {
		o.Hooks.TransactionsChanged = func(context.Context) error {
			if calls.Add(1) == 1 {
				panic("bad row")
			}
			return nil
		}
	})
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("5")
	sub.send(stream.Message{Payload: []byte("{not json")})
	sub.send(change("approved", "5"))
	sub.send(change("pending", "6"))

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, f.m.State())
	assert.Len(t, f.rec.resolutions(), 1, "correlation ran despite refetch panic")
}

func TestManager_HealthCheckResubscribesIdle(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.m.ResubscribeIfIdle(), "not started")

	require.NoError(t, f.m.Start(context.Background()))
	assert.True(t, f.m.ResubscribeIfIdle(), "stuck subscribing")
	assert.Equal(t, 2, f.src.count())
	assert.True(t, f.src.at(0).closed.Load())

	f.connect(t)
	assert.False(t, f.m.ResubscribeIfIdle())

	f.src.last().send(stream.Message{Status: stream.StatusChannelError})
	f.waitState(t, StateReconnecting)
	assert.False(t, f.m.ResubscribeIfIdle(), "reconnect in flight")
}

func TestManager_CloseCancelsTimers(t *testing.T) {
	f := newFixture(t)
	signals, cancel := f.m.Bus().Subscribe(8)
	defer cancel()
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("3")
	sub.send(change("completed", "3"))
	<-signals
	require.Eventually(t, func() bool { return len(f.sched.pending(DefaultCloseDialogDelay)) == 1 }, time.Second, 5*time.Millisecond)

	sub.send(stream.Message{Status: stream.StatusChannelError})
	f.waitState(t, StateReconnecting)

	f.m.Close()
	assert.Equal(t, StateClosed, f.m.State())
	assert.Empty(t, f.sched.pending(time.Second))
	assert.Empty(t, f.sched.pending(DefaultCloseDialogDelay))
	assert.Empty(t, f.m.ChannelID())

	f.m.ForceReconnect()
	assert.Equal(t, StateClosed, f.m.State())
	assert.ErrorIs(t, f.m.Start(context.Background()), ErrManagerClosed)
}

type fakeSyncer struct {
	status string
	err    error
}

func (s fakeSyncer) SyncPayment(context.Context, string) (string, error) { return s.status, s.err }

func TestManager_SyncNow(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Syncer = fakeSyncer{status: "approved"} })
	status, err := f.m.SyncNow(context.Background(), "55512345")
	require.NoError(t, err)
	assert.Equal(t, "approved", status)
	assert.Equal(t, int32(1), f.rec.refetches.Load())
	assert.Equal(t, int32(1), f.rec.profiles.Load())

	f = newFixture(t, func(o *Options) { o.Syncer = fakeSyncer{err: errors.New("502")} })
	_, err = f.m.SyncNow(context.Background(), "1")
	assert.Error(t, err)
	assert.Zero(t, f.rec.refetches.Load())

	f = newFixture(t)
	_, err = f.m.SyncNow(context.Background(), "1")
	assert.Error(t, err)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Insufficient funds", failureMessage("rejected", "cc_rejected_insufficient_amount"))
	assert.Equal(t, "Payment cancelled: by_payer", failureMessage("cancelled", "by_payer"))
	assert.Equal(t, "Payment expired", failureMessage("expired", ""))
}

func TestManager_LatestSuccessReplacesDialogClose(t *testing.T) {
	f := newFixture(t)
	signals, cancel := f.m.Bus().Subscribe(8)
	defer cancel()
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("10")
	sub.send(change("approved", "10"))
	require.Eventually(t, func() bool { return len(f.rec.resolutions()) == 1 }, time.Second, 5*time.Millisecond)
	first := f.sched.pending(DefaultCloseDialogDelay)
	require.Len(t, first, 1)

	f.m.SetPendingPayment("11")
	sub.send(change("approved", "11"))
	require.Eventually(t, func() bool { return len(f.rec.resolutions()) == 2 }, time.Second, 5*time.Millisecond)

	assert.True(t, first[0].stopped.Load(), "earlier close-dialog timer is cancelled")
	require.Len(t, f.sched.pending(DefaultCloseDialogDelay), 1)

	<-signals
	<-signals
	first[0].fn()
	select {
	case s := <-signals:
		t.Fatalf("replaced timer published %s", s.Kind)
	default:
	}

	f.sched.fire(t, DefaultCloseDialogDelay)
	assert.Equal(t, SignalClosePaymentDialog, (<-signals).Kind)
}

func TestManager_NoSignalsAfterClose(t *testing.T) {
	f := newFixture(t)
	signals, cancel := f.m.Bus().Subscribe(8)
	defer cancel()
	require.NoError(t, f.m.Start(context.Background()))
	sub := f.connect(t)

	f.m.SetPendingPayment("20")
	sub.send(change("approved", "20"))
	<-signals
	timers := f.sched.pending(DefaultCloseDialogDelay)
	require.Len(t, timers, 1)

	f.m.Close()
	timers[0].fn()

	f.m.mu.Lock()
	f.m.pending = "21"
	f.m.mu.Unlock()
	c, err := changefeed.Decode(change("approved", "21").Payload)
	require.NoError(t, err)
	f.m.resolvePending(c)

	select {
	case s := <-signals:
		t.Fatalf("signal %s published after Close", s.Kind)
	default:
	}
	assert.Len(t, f.rec.resolutions(), 1)
}
