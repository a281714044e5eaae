package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/yashrajoria/payment-sync/services/wallet-sync/client"
	"github.com/yashrajoria/payment-sync/services/wallet-sync/realtime"
	"github.com/yashrajoria/payment-sync/services/wallet-sync/stream"
	"go.uber.org/zap"
)

func newWatchCmd(a *app) *cobra.Command {
	var userID, pending, token string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a user's transaction changes until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if token == "" {
				token = a.cfg.AccessToken
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, userID, pending, token)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to follow")
	cmd.Flags().StringVar(&pending, "pending", "", "provider payment id the user is waiting on")
	cmd.Flags().StringVar(&token, "token", "", "access token for the wallet and sync APIs (default $ACCESS_TOKEN)")
	return cmd
}

func (a *app) watch(ctx context.Context, userID, pending, token string) error {
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	log := a.logger.With(zap.String("user_id", userID))
	hooks := a.walletHooks(log, token)
	hooks.PendingPaymentResolved = func(res realtime.Resolution) {
		log.Info("Pending payment resolved", zap.String("payment_id", res.ID), zap.String("status", res.Status), zap.String("message", res.Message))
	}

	m := realtime.NewManager(userID, realtime.Options{
		Source:         stream.NewRedisSource(rdb, a.cfg.SubscribeTimeout, a.logger),
		Hooks:          hooks,
		Syncer:         client.NewSyncClient(a.cfg.PaymentSyncURL, token),
		HealthInterval: a.cfg.HealthInterval,
		Logger:         a.logger,
	})
	signals, cancel := m.Bus().Subscribe(16)
	defer cancel()

	if pending != "" {
		m.SetPendingPayment(pending)
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Close()
	log.Info("Watching transactions", zap.String("pending_payment", pending))

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping watcher", zap.String("state", string(m.State())))
			return nil
		case s := <-signals:
			fields := []zap.Field{zap.String("signal", string(s.Kind))}
			if s.Resolution != nil {
				fields = append(fields, zap.String("status", s.Resolution.Status), zap.String("payment_id", s.Resolution.ID))
			}
			log.Info("Signal", fields...)
		}
	}
}

// walletHooks refreshes local state through the wallet API. Without
// WALLET_API_URL the hooks are left nil and refreshes are skipped.
func (a *app) walletHooks(log *zap.Logger, token string) realtime.Hooks {
	if a.cfg.WalletAPIURL == "" {
		log.Warn("WALLET_API_URL not set, local state refresh disabled")
		return realtime.Hooks{}
	}
	wallet := client.NewWalletClient(a.cfg.WalletAPIURL, token)
	return realtime.Hooks{
		TransactionsChanged: func(ctx context.Context) error {
			txs, err := wallet.ListTransactions(ctx)
			if err != nil {
				return err
			}
			log.Info("Transactions refreshed", zap.Int("count", len(txs)))
			return nil
		},
		ProfileMaybeChanged: func(ctx context.Context, uid string) error {
			if uid == "" {
				return nil
			}
			p, err := wallet.GetProfile(ctx, uid)
			if err != nil {
				return err
			}
			log.Info("Profile refreshed", zap.Float64("balance", p.Balance), zap.Bool("subscription_active", p.SubscriptionActive))
			return nil
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var userID, token string

	cmd := &cobra.Command{
		Use:   "sync PAYMENT_ID",
		Short: "Reconcile one payment now and refresh local wallet state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = a.cfg.AccessToken
			}
			m := realtime.NewManager(userID, realtime.Options{
				Hooks:  a.walletHooks(a.logger.With(zap.String("user_id", userID)), token),
				Syncer: client.NewSyncClient(a.cfg.PaymentSyncURL, token),
				Logger: a.logger,
			})
			defer m.Close()

			status, err := m.SyncNow(cmd.Context(), args[0])
			if status != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "payment %s: %s\n", args[0], status)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user whose profile to refresh after an approved payment")
	cmd.Flags().StringVar(&token, "token", "", "access token (default $ACCESS_TOKEN)")
	return cmd
}
