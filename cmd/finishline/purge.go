package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/poll"
	"github.com/avikstrom/finishline/internal/store"
)

// purgeCmd runs one retention pass and exits; useful when the server runs
// with retention.run_interval_min set high or for cron-driven cleanup.
func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired cache entries and stale subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(cfg.DB.Path)
			if err != nil {
				logger.Error("failed to open database", zap.Error(err))
				return err
			}
			defer db.Close()

			cache := store.NewCache(db, logger)
			subs := store.NewSubscriptionStore(db, logger)

			janitor := poll.NewJanitor(cache, subs, cfg.Retention.RunInterval(),
				cfg.Cache.Retention(), cfg.Retention.SubscriptionAge(), logger)
			evicted, deleted := janitor.RunOnce(cmd.Context())

			logger.Info("purge complete",
				zap.Int("cacheEvicted", evicted),
				zap.Int("subscriptionsDeleted", deleted),
			)
			return nil
		},
	}
}
