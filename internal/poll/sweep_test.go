package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/store"
)

func addSub(t *testing.T, e *env, comp int, class, runner, token string) {
	t.Helper()
	err := e.subs.Add(context.Background(), &store.Subscription{
		UserID: "u-" + token, CompetitionID: comp, ClassName: class,
		RunnerName: runner, Token: token,
	})
	if err != nil {
		t.Fatalf("add subscription: %v", err)
	}
}

func TestSweep_PollsEachPairOnce(t *testing.T) {
	e := newEnv(t, 0)
	logger, _ := zap.NewDevelopment()

	// Two followers of the same pair must cost one upstream fetch.
	addSub(t, e, 10278, "H21", "Anton Mörkfors", "A")
	addSub(t, e, 10278, "H21", "Anton Mörkfors", "B")
	addSub(t, e, 10278, "D21", "Sara Hagström", "C")

	e.fetcher.queue(10278, "H21", classCall{snapshot: mustSnapshot(t, 10278, h21After)})
	e.fetcher.queue(10278, "D21", classCall{snapshot: mustSnapshot(t, 10278, h21After)})

	sweeper := NewSweeper(e.coord, e.subs, time.Minute, 12*time.Hour, 2, e.metrics, logger)
	sweeper.RunOnce(context.Background())

	if n := e.fetcher.callCount(10278, "H21"); n != 1 {
		t.Errorf("H21 fetched %d times, expected 1", n)
	}
	if n := e.fetcher.callCount(10278, "D21"); n != 1 {
		t.Errorf("D21 fetched %d times, expected 1", n)
	}
}

func TestSweep_PairFailureDoesNotAbortPass(t *testing.T) {
	e := newEnv(t, 0)
	logger, _ := zap.NewDevelopment()

	addSub(t, e, 10278, "H21", "Anton Mörkfors", "A")
	addSub(t, e, 10278, "D21", "Sara Hagström", "B")

	e.fetcher.queue(10278, "H21", classCall{err: errors.New("boom")})
	e.fetcher.queue(10278, "D21", classCall{snapshot: mustSnapshot(t, 10278, h21After)})

	// One worker forces sequential processing so the failing pair, whichever
	// comes first, precedes at least one healthy one.
	sweeper := NewSweeper(e.coord, e.subs, time.Minute, 12*time.Hour, 1, e.metrics, logger)
	sweeper.RunOnce(context.Background())

	if n := e.fetcher.callCount(10278, "H21") + e.fetcher.callCount(10278, "D21"); n != 2 {
		t.Errorf("expected both pairs attempted, got %d fetches", n)
	}
}

func TestSweep_NoActivePairsFetchesNothing(t *testing.T) {
	e := newEnv(t, 0)
	logger, _ := zap.NewDevelopment()

	sweeper := NewSweeper(e.coord, e.subs, time.Minute, 12*time.Hour, 4, e.metrics, logger)
	sweeper.RunOnce(context.Background())

	if n := e.fetcher.callCount(10278, "H21"); n != 0 {
		t.Errorf("expected no fetches without followers, got %d", n)
	}
}

func TestJanitor_RunOnceReportsCounts(t *testing.T) {
	e := newEnv(t, 0)
	logger, _ := zap.NewDevelopment()
	ctx := context.Background()

	e.cache.Set(ctx, "k1", "h", []byte(`{}`))
	addSub(t, e, 10278, "H21", "Anton Mörkfors", "A")

	janitor := NewJanitor(e.cache, e.subs, time.Minute, 0, 0, logger)
	// Zero retention treats everything already written as expired.
	time.Sleep(5 * time.Millisecond)
	evicted, deleted := janitor.RunOnce(ctx)

	if evicted != 1 {
		t.Errorf("expected 1 evicted cache entry, got %d", evicted)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted subscription, got %d", deleted)
	}
}
