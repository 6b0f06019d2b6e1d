package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/metrics"
	"github.com/avikstrom/finishline/internal/store"
)

// Sweeper re-polls every (competition, class) pair with recent followers on
// a fixed interval, independent of inbound traffic. Each distinct pair is
// polled once per pass regardless of follower count, and per-pair failures
// never abort the pass.
type Sweeper struct {
	coord       *Coordinator
	subs        *store.SubscriptionStore
	interval    time.Duration
	window      time.Duration
	maxInFlight int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewSweeper(coord *Coordinator, subs *store.SubscriptionStore, interval, window time.Duration,
	maxInFlight int, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Sweeper{
		coord:       coord,
		subs:        subs,
		interval:    interval,
		window:      window,
		maxInFlight: maxInFlight,
		metrics:     m,
		logger:      logger,
	}
}

// Run executes sweep passes until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweep loop started",
		zap.Duration("interval", s.interval),
		zap.Duration("window", s.window),
		zap.Int("maxInFlight", s.maxInFlight),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep loop stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one full sweep pass over the active pairs through a
// bounded worker pool, keeping upstream pressure under maxInFlight.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := time.Now()

	pairs := s.subs.ActivePairs(ctx, s.window)
	s.metrics.SweepActivePairs.Set(float64(len(pairs)))
	if len(pairs) == 0 {
		return
	}

	jobs := make(chan store.Pair, len(pairs))
	var wg sync.WaitGroup
	for i := 0; i < s.maxInFlight; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, jobs)
		}()
	}

	for _, pair := range pairs {
		jobs <- pair
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(start)
	s.metrics.SweepDuration.Observe(duration.Seconds())
	s.logger.Debug("sweep pass complete",
		zap.Int("pairs", len(pairs)),
		zap.Duration("duration", duration),
	)
}

func (s *Sweeper) worker(ctx context.Context, jobs <-chan store.Pair) {
	for pair := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := s.coord.RefreshClassResults(ctx, pair.CompetitionID, pair.ClassName); err != nil {
			s.logger.Warn("sweep pair failed",
				zap.Int("comp", pair.CompetitionID),
				zap.String("class", pair.ClassName),
				zap.Error(err),
			)
		}
	}
}
