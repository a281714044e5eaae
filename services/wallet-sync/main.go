package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yashrajoria/payment-sync/services/common/logger"
	"github.com/yashrajoria/payment-sync/services/wallet-sync/config"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "wallet-sync",
		Short:         "Keep a user's wallet state in sync with payment events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			l, err := logger.Initialize(cfg.Env)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			a.cfg, a.logger = cfg, l
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.AddCommand(newWatchCmd(a), newSyncCmd(a))
	return root
}
