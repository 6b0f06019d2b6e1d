package poll

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/store"
)

// Janitor runs the retention maintenance: evicting cache entries past the
// storage horizon and deleting aged-out subscriptions. Neither is
// correctness-critical; a skipped pass only delays cleanup.
type Janitor struct {
	cache           *store.Cache
	subs            *store.SubscriptionStore
	interval        time.Duration
	cacheRetention  time.Duration
	subscriptionAge time.Duration
	logger          *zap.Logger
}

func NewJanitor(cache *store.Cache, subs *store.SubscriptionStore,
	interval, cacheRetention, subscriptionAge time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		cache:           cache,
		subs:            subs,
		interval:        interval,
		cacheRetention:  cacheRetention,
		subscriptionAge: subscriptionAge,
		logger:          logger,
	}
}

// Run executes retention passes until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one retention pass and returns the removal counts.
func (j *Janitor) RunOnce(ctx context.Context) (evicted, deleted int) {
	evicted = j.cache.EvictOlderThan(ctx, j.cacheRetention)
	deleted = j.subs.DeleteOlderThan(ctx, j.subscriptionAge)
	if evicted > 0 || deleted > 0 {
		j.logger.Info("retention pass complete",
			zap.Int("cacheEvicted", evicted),
			zap.Int("subscriptionsDeleted", deleted),
		)
	}
	return evicted, deleted
}
