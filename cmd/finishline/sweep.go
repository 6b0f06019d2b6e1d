package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/metrics"
	"github.com/avikstrom/finishline/internal/poll"
	"github.com/avikstrom/finishline/internal/push"
	"github.com/avikstrom/finishline/internal/store"
	"github.com/avikstrom/finishline/internal/upstream"
)

// sweepCmd runs a single sweep pass and exits, for cron-style deployments
// that do not keep the serve loop running.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Poll every class with recent followers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(cfg.DB.Path)
			if err != nil {
				logger.Error("failed to open database", zap.Error(err))
				return err
			}
			defer db.Close()

			m := metrics.New()
			cache := store.NewCache(db, logger)
			subs := store.NewSubscriptionStore(db, logger)
			client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.RatePerSecond, cfg.Upstream.Timeout(), logger)

			var sender push.Sender = push.NoopSender{}
			if cfg.Push.Enabled {
				sender = push.NewGatewayClient(cfg.Push.GatewayURL, cfg.Push.APIKey, cfg.Push.Timeout(), logger)
			}
			dispatcher := push.NewDispatcher(sender, nil, m, logger)

			coord := poll.NewCoordinator(client, cache, subs, dispatcher, m, cfg.Cache.Fresh(), logger)
			sweeper := poll.NewSweeper(coord, subs, cfg.Sweep.Interval(), cfg.Sweep.Window(),
				cfg.Sweep.MaxInFlight, m, logger)

			sweeper.RunOnce(cmd.Context())
			logger.Info("sweep pass complete")
			return nil
		},
	}
}
