// Package realtime keeps a client's wallet state converged with the server
// by following the user's transaction change feed.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yashrajoria/payment-sync/services/common/changefeed"
	"github.com/yashrajoria/payment-sync/services/wallet-sync/stream"
	"go.uber.org/zap"
)

const (
	DefaultHealthInterval   = 60 * time.Second
	DefaultCloseDialogDelay = 2 * time.Second
)

var ErrManagerClosed = errors.New("realtime manager closed")

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Hooks are the application callbacks driven by the change feed. Any of them
// may be nil.
type Hooks struct {
	TransactionsChanged    func(ctx context.Context) error
	ProfileMaybeChanged    func(ctx context.Context, userID string) error
	PendingPaymentResolved func(Resolution)
}

// PaymentSyncer triggers server-side reconciliation of one payment and
// returns the mapped status.
type PaymentSyncer interface {
	SyncPayment(ctx context.Context, paymentID string) (string, error)
}

type Options struct {
	Source           stream.Source
	Hooks            Hooks
	Bus              *Bus
	Syncer           PaymentSyncer
	Scheduler        Scheduler
	HealthInterval   time.Duration
	CloseDialogDelay time.Duration
	Logger           *zap.Logger
}

// Manager owns the single live change subscription of one user session.
// Every setup discards the previous channel; messages from a discarded
// channel are ignored.
type Manager struct {
	userID      string
	source      stream.Source
	hooks       Hooks
	bus         *Bus
	syncer      PaymentSyncer
	sched       Scheduler
	dialogDelay time.Duration
	health      *HealthMonitor
	logger      *zap.Logger

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
	closed       bool
	snap         Snapshot
	seq          uint64
	channelID    string
	sub          stream.Subscription
	cancelSub    context.CancelFunc
	retry        Timer
	retryGen     uint64
	pending      string
	dialogTimer  Timer
	dialogGen    uint64
}

func NewManager(userID string, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clockScheduler{}
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.CloseDialogDelay <= 0 {
		opts.CloseDialogDelay = DefaultCloseDialogDelay
	}

	m := &Manager{
		userID:      userID,
		source:      opts.Source,
		hooks:       opts.Hooks,
		bus:         opts.Bus,
		syncer:      opts.Syncer,
		sched:       opts.Scheduler,
		dialogDelay: opts.CloseDialogDelay,
		logger:      opts.Logger.With(zap.String("user_id", userID)),
		snap:        Snapshot{State: StateInitial},
	}
	m.health = NewHealthMonitor(m, opts.HealthInterval, m.logger)
	return m
}

// Bus returns the signal bus the manager publishes to.
func (m *Manager) Bus() *Bus { return m.bus }

// Start opens the first subscription and starts the health monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.dispatch(EventSetup)
	m.mu.Unlock()

	m.health.Start()
	return nil
}

// Close tears the session down. Pending timers are cancelled and no bus
// signal is published once it returns.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.dispatch(EventTeardown)
	if m.dialogTimer != nil {
		m.dialogTimer.Stop()
		m.dialogTimer = nil
	}
	m.pending = ""
	cancel := m.cancel
	m.mu.Unlock()

	m.health.Stop()
	if cancel != nil {
		cancel()
	}
}

// ForceReconnect resets the attempt counter and subscribes afresh, also
// from FAILED.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.started {
		return
	}
	m.dispatch(EventForceReconnect)
}

// ResubscribeIfIdle sets up a fresh subscription when the manager is not
// connected and no reconnect is in flight.
func (m *Manager) ResubscribeIfIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.started {
		return false
	}
	if m.snap.State == StateConnected || m.snap.Attempts != 0 {
		return false
	}
	m.dispatch(EventSetup)
	return true
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Manager) State() State { return m.Snapshot().State }

func (m *Manager) Attempts() int { return m.Snapshot().Attempts }

// ChannelID returns the id of the live channel, empty when there is none.
func (m *Manager) ChannelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelID
}

// SetPendingPayment records the payment the user is waiting on. An empty id
// clears it.
func (m *Manager) SetPendingPayment(paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = paymentID
}

func (m *Manager) PendingPayment() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// SyncNow asks the server to reconcile paymentID and refetches local state.
func (m *Manager) SyncNow(ctx context.Context, paymentID string) (string, error) {
	if m.syncer == nil {
		return "", errors.New("manual sync not configured")
	}
	status, err := m.syncer.SyncPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("sync payment %s: %w", paymentID, err)
	}
	if m.hooks.TransactionsChanged != nil {
		if err := m.hooks.TransactionsChanged(ctx); err != nil {
			return status, fmt.Errorf("refetch transactions: %w", err)
		}
	}
	if isFundsAffecting(status) && m.hooks.ProfileMaybeChanged != nil {
		if err := m.hooks.ProfileMaybeChanged(ctx, m.userID); err != nil {
			return status, fmt.Errorf("refresh profile: %w", err)
		}
	}
	return status, nil
}

// dispatch runs one transition and its effects. m.mu must be held.
func (m *Manager) dispatch(kind EventKind) {
	prev := m.snap
	next, effects := Transition(prev, kind)
	m.snap = next
	if prev != next {
		m.logger.Info("Subscription state changed",
			zap.String("event", kind.String()),
			zap.String("from", string(prev.State)),
			zap.String("to", string(next.State)),
			zap.Int("attempts", next.Attempts),
		)
	}
	for _, e := range effects {
		m.apply(e)
	}
}

func (m *Manager) apply(e Effect) {
	switch e.Kind {
	case EffectCancelRetry:
		if m.retry != nil {
			m.retry.Stop()
			m.retry = nil
		}
		m.retryGen++
	case EffectCloseChannel:
		m.closeChannel()
	case EffectOpenChannel:
		m.openChannel()
	case EffectScheduleRetry:
		m.retryGen++
		gen := m.retryGen
		m.logger.Info("Reconnect scheduled", zap.Duration("delay", e.Delay), zap.Int("attempt", m.snap.Attempts))
		m.retry = m.sched.AfterFunc(e.Delay, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if gen != m.retryGen || m.closed {
				return
			}
			m.retry = nil
			m.dispatch(EventRetryDue)
		})
	}
}

func (m *Manager) openChannel() {
	m.seq++
	id := fmt.Sprintf("wallet-%s-%d-%d", m.userID, time.Now().UnixMilli(), m.seq)
	ctx, cancel := context.WithCancel(m.ctx)

	sub, err := m.source.Subscribe(ctx, id, m.userID)
	if err != nil {
		cancel()
		m.logger.Warn("Subscribe failed", zap.String("channel_id", id), zap.Error(err))
		m.dispatch(EventChannelError)
		return
	}
	m.channelID = id
	m.sub = sub
	m.cancelSub = cancel
	go m.pump(id, sub)
}

func (m *Manager) closeChannel() {
	if m.sub == nil {
		return
	}
	sub, cancel := m.sub, m.cancelSub
	m.sub, m.cancelSub, m.channelID = nil, nil, ""
	cancel()
	if err := sub.Close(); err != nil {
		m.logger.Debug("Channel close failed", zap.Error(err))
	}
}

func (m *Manager) pump(id string, sub stream.Subscription) {
	for msg := range sub.Messages() {
		if msg.Status != "" {
			m.onStatus(id, msg)
			continue
		}
		if m.isCurrent(id) {
			m.handleChange(msg.Payload)
		}
	}
	m.onStatus(id, stream.Message{Status: stream.StatusClosed})
}

func (m *Manager) isCurrent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && id == m.channelID
}

func (m *Manager) onStatus(id string, msg stream.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || id != m.channelID {
		return
	}

	switch msg.Status {
	case stream.StatusSubscribed:
		m.dispatch(EventSubscribed)
	case stream.StatusChannelError:
		m.logger.Warn("Channel error", zap.String("channel_id", id), zap.Error(msg.Err))
		m.dispatch(EventChannelError)
	case stream.StatusTimedOut:
		m.logger.Warn("Subscribe timed out", zap.String("channel_id", id))
		m.dispatch(EventTimedOut)
	case stream.StatusClosed:
		m.dispatch(EventChannelClosed)
	}
}

// handleChange applies one change event. Each step is isolated so a failing
// hook never stops later steps or later events.
func (m *Manager) handleChange(payload []byte) {
	change, err := changefeed.Decode(payload)
	if err != nil {
		m.logger.Warn("Dropping undecodable change", zap.Error(err))
		return
	}
	ctx := m.ctx
	status := change.Status()

	m.safely("refetch_transactions", func() error {
		if m.hooks.TransactionsChanged == nil {
			return nil
		}
		return m.hooks.TransactionsChanged(ctx)
	})

	if isFundsAffecting(status) {
		m.safely("refresh_profile", func() error {
			if m.hooks.ProfileMaybeChanged == nil {
				return nil
			}
			owner := change.OwnerUserID()
			if owner == "" {
				owner = m.userID
			}
			return m.hooks.ProfileMaybeChanged(ctx, owner)
		})
	}

	m.safely("resolve_pending", func() error {
		m.resolvePending(change)
		return nil
	})
}

func (m *Manager) safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Change handler panicked", zap.String("step", step), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn("Change handler failed", zap.String("step", step), zap.Error(err))
	}
}

func (m *Manager) resolvePending(change *changefeed.Change) {
	id := change.Field("provider_transaction_id")
	if id == "" {
		return
	}
	status := change.Status()

	m.mu.Lock()
	if m.closed || m.pending == "" || m.pending != id {
		m.mu.Unlock()
		return
	}
	var res Resolution
	switch {
	case isFundsAffecting(status):
		res = Resolution{Status: ResolutionSuccess, Message: "Payment " + status, ID: id}
		m.scheduleDialogClose()
	case isTerminalFailure(status):
		res = Resolution{Status: ResolutionFailure, Message: failureMessage(status, change.Field("status_detail")), ID: id}
	default:
		m.mu.Unlock()
		return
	}
	m.pending = ""
	m.bus.Publish(Signal{Kind: SignalPendingPaymentResolved, Resolution: &res})
	hook := m.hooks.PendingPaymentResolved
	m.mu.Unlock()

	m.logger.Info("Pending payment resolved", zap.String("payment_id", id), zap.String("status", status))
	if hook != nil {
		hook(res)
	}
}

// scheduleDialogClose replaces any close-dialog signal still waiting. m.mu
// must be held.
func (m *Manager) scheduleDialogClose() {
	if m.dialogTimer != nil {
		m.dialogTimer.Stop()
	}
	m.dialogGen++
	gen := m.dialogGen
	m.dialogTimer = m.sched.AfterFunc(m.dialogDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || gen != m.dialogGen {
			return
		}
		m.dialogTimer = nil
		m.bus.Publish(Signal{Kind: SignalClosePaymentDialog})
	})
}

func isFundsAffecting(status string) bool {
	return status == "approved" || status == "completed"
}

func isTerminalFailure(status string) bool {
	switch status {
	case "rejected", "cancelled", "failed", "expired":
		return true
	}
	return false
}

var statusDetailMessages = map[string]string{
	"cc_rejected_insufficient_amount":      "Insufficient funds",
	"cc_rejected_bad_filled_security_code": "Invalid security code",
	"cc_rejected_bad_filled_date":          "Invalid expiration date",
	"cc_rejected_bad_filled_card_number":   "Invalid card number",
	"cc_rejected_call_for_authorize":       "The card issuer must authorize this payment",
	"cc_rejected_high_risk":                "Payment declined by risk analysis",
	"cc_rejected_duplicated_payment":       "Duplicate payment",
	"expired":                              "Payment expired",
}

func failureMessage(status, detail string) string {
	if msg, ok := statusDetailMessages[detail]; ok {
		return msg
	}
	if detail != "" {
		return fmt.Sprintf("Payment %s: %s", status, detail)
	}
	return "Payment " + status
}
