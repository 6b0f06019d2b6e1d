// Package poll drives the fetch → diff → dispatch → cache pipeline, both
// for inbound on-demand queries and for the scheduled sweep.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/diff"
	"github.com/avikstrom/finishline/internal/metrics"
	"github.com/avikstrom/finishline/internal/push"
	"github.com/avikstrom/finishline/internal/store"
	"github.com/avikstrom/finishline/internal/upstream"
)

// ErrInvalidQuery marks an inbound query with a bad method or missing
// parameters; the server maps it to a 400.
var ErrInvalidQuery = errors.New("invalid query")

// errNoPriorSnapshot covers a provider answering NOT MODIFIED when the
// cache holds nothing to serve, for example after an eviction raced the
// fetch. The pipeline degrades to an error result instead of a payload.
var errNoPriorSnapshot = errors.New("provider reported no change but no cached copy exists")

// staleAge bounds how old a cache entry may be and still serve as the diff
// baseline and hash source. Entries past it are as good as absent; the
// retention job removes them anyway.
const staleAge = 30 * 24 * time.Hour

// Fetcher is the upstream client surface the coordinator needs; satisfied
// by *upstream.Client.
type Fetcher interface {
	Competitions(ctx context.Context) ([]upstream.Competition, json.RawMessage, error)
	Classes(ctx context.Context, comp int, lastHash string) (*upstream.ClassList, bool, error)
	ClassResults(ctx context.Context, comp int, class, lastHash string) (*upstream.ClassSnapshot, bool, error)
	LastPassings(ctx context.Context, comp int, lastHash string) (*upstream.PassingList, bool, error)
}

// Result is the envelope served to inbound callers.
type Result struct {
	Status string          `json:"status"` // "ok" | "unchanged" | "error"
	Hash   string          `json:"hash,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Coordinator runs one fetch→diff→dispatch→cache pipeline per query. It
// owns no locking: concurrent pipelines on the same key are last-write-wins
// by design, snapshots being idempotent to re-store.
type Coordinator struct {
	fetcher    Fetcher
	cache      *store.Cache
	subs       *store.SubscriptionStore
	dispatcher *push.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	freshAge   time.Duration
}

func NewCoordinator(fetcher Fetcher, cache *store.Cache, subs *store.SubscriptionStore,
	dispatcher *push.Dispatcher, m *metrics.Metrics, freshAge time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		fetcher:    fetcher,
		cache:      cache,
		subs:       subs,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		freshAge:   freshAge,
	}
}

// Query dispatches an inbound method-keyed query. lastHash is the caller's
// prior change token; matching data comes back as "unchanged" without a
// payload.
func (c *Coordinator) Query(ctx context.Context, method string, params map[string]string, lastHash string) (*Result, error) {
	switch method {
	case string(upstream.MethodCompetitions):
		return c.competitions(ctx)
	case string(upstream.MethodClasses):
		comp, err := intParam(params, "comp")
		if err != nil {
			return nil, err
		}
		return c.classes(ctx, comp, lastHash)
	case string(upstream.MethodClassResults):
		comp, err := intParam(params, "comp")
		if err != nil {
			return nil, err
		}
		class, ok := params["class"]
		if !ok || class == "" {
			return nil, fmt.Errorf("%w: class parameter is required", ErrInvalidQuery)
		}
		return c.classResults(ctx, comp, class, lastHash)
	case string(upstream.MethodLastPassings):
		comp, err := intParam(params, "comp")
		if err != nil {
			return nil, err
		}
		return c.lastPassings(ctx, comp, lastHash)
	case "getclubresults":
		comp, err := intParam(params, "comp")
		if err != nil {
			return nil, err
		}
		club, ok := params["club"]
		if !ok || club == "" {
			return nil, fmt.Errorf("%w: club parameter is required", ErrInvalidQuery)
		}
		return c.clubResults(ctx, comp, club)
	case "getclubs":
		comp, err := intParam(params, "comp")
		if err != nil {
			return nil, err
		}
		return c.clubs(ctx, comp)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidQuery, method)
	}
}

func intParam(params map[string]string, name string) (int, error) {
	raw, ok := params[name]
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %s parameter is required", ErrInvalidQuery, name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be numeric", ErrInvalidQuery, name)
	}
	return n, nil
}

func (c *Coordinator) competitions(ctx context.Context) (*Result, error) {
	key := store.Key(string(upstream.MethodCompetitions), nil)
	if entry, ok := c.cache.Get(ctx, key, c.freshAge); ok {
		c.metrics.CacheHits.Inc()
		return &Result{Status: "ok", Data: entry.Payload}, nil
	}
	c.metrics.CacheMisses.Inc()

	_, raw, err := c.fetcher.Competitions(ctx)
	if err != nil {
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodCompetitions), "error").Inc()
		return errorResult(err), nil
	}
	c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodCompetitions), "changed").Inc()
	c.cache.Set(ctx, key, "", raw)
	return &Result{Status: "ok", Data: raw}, nil
}

func (c *Coordinator) classes(ctx context.Context, comp int, lastHash string) (*Result, error) {
	key := store.Key(string(upstream.MethodClasses), map[string]string{"comp": strconv.Itoa(comp)})
	if entry, ok := c.cache.Get(ctx, key, c.freshAge); ok {
		c.metrics.CacheHits.Inc()
		return served(entry.Payload, entry.Hash, lastHash), nil
	}
	c.metrics.CacheMisses.Inc()

	stale, _ := c.cache.Get(ctx, key, staleAge)
	priorHash := ""
	if stale != nil {
		priorHash = stale.Hash
	}

	list, unchanged, err := c.fetcher.Classes(ctx, comp, priorHash)
	if err != nil {
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClasses), "error").Inc()
		return errorResult(err), nil
	}
	if unchanged {
		if stale == nil {
			c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClasses), "error").Inc()
			return errorResult(errNoPriorSnapshot), nil
		}
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClasses), "unchanged").Inc()
		c.cache.Touch(ctx, key)
		return served(stale.Payload, stale.Hash, lastHash), nil
	}
	c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClasses), "changed").Inc()
	c.cache.Set(ctx, key, list.Hash, list.Raw)
	return served(list.Raw, list.Hash, lastHash), nil
}

func (c *Coordinator) lastPassings(ctx context.Context, comp int, lastHash string) (*Result, error) {
	key := store.Key(string(upstream.MethodLastPassings), map[string]string{"comp": strconv.Itoa(comp)})
	if entry, ok := c.cache.Get(ctx, key, c.freshAge); ok {
		c.metrics.CacheHits.Inc()
		return served(entry.Payload, entry.Hash, lastHash), nil
	}
	c.metrics.CacheMisses.Inc()

	stale, _ := c.cache.Get(ctx, key, staleAge)
	priorHash := ""
	if stale != nil {
		priorHash = stale.Hash
	}

	list, unchanged, err := c.fetcher.LastPassings(ctx, comp, priorHash)
	if err != nil {
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodLastPassings), "error").Inc()
		return errorResult(err), nil
	}
	if unchanged {
		if stale == nil {
			c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodLastPassings), "error").Inc()
			return errorResult(errNoPriorSnapshot), nil
		}
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodLastPassings), "unchanged").Inc()
		c.cache.Touch(ctx, key)
		return served(stale.Payload, stale.Hash, lastHash), nil
	}
	c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodLastPassings), "changed").Inc()
	c.cache.Set(ctx, key, list.Hash, list.Raw)
	return served(list.Raw, list.Hash, lastHash), nil
}

func (c *Coordinator) classResults(ctx context.Context, comp int, class, lastHash string) (*Result, error) {
	key := classResultsKey(comp, class)
	if entry, ok := c.cache.Get(ctx, key, c.freshAge); ok {
		c.metrics.CacheHits.Inc()
		return served(entry.Payload, entry.Hash, lastHash), nil
	}
	c.metrics.CacheMisses.Inc()

	payload, hash, err := c.RefreshClassResults(ctx, comp, class)
	if err != nil {
		return errorResult(err), nil
	}
	return served(payload, hash, lastHash), nil
}

// RefreshClassResults goes upstream for one (competition, class) pair,
// passing the cached hash so the provider can short-circuit, diffs the new
// snapshot against the cached one, dispatches notifications for every
// notable event with followers, and stores the new snapshot. The returned
// payload is whatever should be served: the fresh body, or the cached one
// when the provider reported no change.
func (c *Coordinator) RefreshClassResults(ctx context.Context, comp int, class string) ([]byte, string, error) {
	key := classResultsKey(comp, class)
	prior, _ := c.cache.Get(ctx, key, staleAge)
	priorHash := ""
	if prior != nil {
		priorHash = prior.Hash
	}

	snapshot, unchanged, err := c.fetcher.ClassResults(ctx, comp, class, priorHash)
	if err != nil {
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClassResults), "error").Inc()
		return nil, "", err
	}
	if unchanged {
		if prior == nil {
			c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClassResults), "error").Inc()
			return nil, "", errNoPriorSnapshot
		}
		c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClassResults), "unchanged").Inc()
		c.cache.Touch(ctx, key)
		return prior.Payload, prior.Hash, nil
	}
	c.metrics.UpstreamFetches.WithLabelValues(string(upstream.MethodClassResults), "changed").Inc()

	c.notify(ctx, comp, class, prior, snapshot)
	c.cache.Set(ctx, key, snapshot.Hash, snapshot.Raw)
	return snapshot.Raw, snapshot.Hash, nil
}

// notify diffs the cached snapshot against the fresh one and fans the
// resulting events out to followers. Diff failures only cost notifications,
// never the poll.
func (c *Coordinator) notify(ctx context.Context, comp int, class string, prior *store.Entry, snapshot *upstream.ClassSnapshot) {
	if prior == nil {
		return
	}
	oldSnapshot, err := upstream.DecodeClassResults(prior.Payload, comp)
	if err != nil {
		c.logger.Warn("cached snapshot undecodable, skipping diff",
			zap.Int("comp", comp), zap.String("class", class), zap.Error(err))
		return
	}

	for _, event := range diff.Changes(oldSnapshot, snapshot) {
		followers := c.subs.ForRunner(ctx, comp, class, event.Runner)
		c.dispatcher.Dispatch(ctx, event, followers)
	}
}

func classResultsKey(comp int, class string) string {
	return store.Key(string(upstream.MethodClassResults), map[string]string{
		"comp":  strconv.Itoa(comp),
		"class": class,
	})
}

func served(payload []byte, hash, lastHash string) *Result {
	if lastHash != "" && hash != "" && hash == lastHash {
		return &Result{Status: "unchanged", Hash: hash}
	}
	return &Result{Status: "ok", Hash: hash, Data: payload}
}

func errorResult(err error) *Result {
	return &Result{Status: "error", Error: err.Error()}
}

// clubRunner is one entry in the aggregate club views.
type clubRunner struct {
	Class    string `json:"class"`
	Name     string `json:"name"`
	Club     string `json:"club"`
	Place    string `json:"place"`
	Result   string `json:"result"`
	Status   int    `json:"status"`
	Progress int    `json:"progress"`
}

// clubResults builds a club's roster across every class by fanning out
// class-results fetches. A failing class is omitted from the aggregate;
// the call still succeeds with partial data.
func (c *Coordinator) clubResults(ctx context.Context, comp int, club string) (*Result, error) {
	classes, err := c.classNames(ctx, comp)
	if err != nil {
		return errorResult(err), nil
	}

	var roster []clubRunner
	for _, class := range classes {
		snapshot, err := c.classSnapshot(ctx, comp, class)
		if err != nil {
			c.logger.Warn("omitting class from club roster",
				zap.Int("comp", comp), zap.String("class", class), zap.Error(err))
			continue
		}
		for _, runner := range snapshot.Runners {
			if runner.Club != club {
				continue
			}
			roster = append(roster, clubRunner{
				Class:    class,
				Name:     runner.Name,
				Club:     runner.Club,
				Place:    runner.Place,
				Result:   runner.Result,
				Status:   int(runner.Status),
				Progress: runner.Progress,
			})
		}
	}

	data, err := json.Marshal(map[string]any{"club": club, "results": roster})
	if err != nil {
		return errorResult(err), nil
	}
	return &Result{Status: "ok", Data: data}, nil
}

// clubs lists every club in a competition with its runners, again fanning
// out class-results fetches with per-class failure omission.
func (c *Coordinator) clubs(ctx context.Context, comp int) (*Result, error) {
	classes, err := c.classNames(ctx, comp)
	if err != nil {
		return errorResult(err), nil
	}

	byClub := make(map[string][]string)
	for _, class := range classes {
		snapshot, err := c.classSnapshot(ctx, comp, class)
		if err != nil {
			c.logger.Warn("omitting class from club listing",
				zap.Int("comp", comp), zap.String("class", class), zap.Error(err))
			continue
		}
		for _, runner := range snapshot.Runners {
			if runner.Club == "" {
				continue
			}
			byClub[runner.Club] = append(byClub[runner.Club], runner.Name)
		}
	}

	names := make([]string, 0, len(byClub))
	for name := range byClub {
		names = append(names, name)
	}
	sort.Strings(names)

	type clubEntry struct {
		Name    string   `json:"name"`
		Runners []string `json:"runners"`
	}
	entries := make([]clubEntry, 0, len(names))
	for _, name := range names {
		runners := byClub[name]
		sort.Strings(runners)
		entries = append(entries, clubEntry{Name: name, Runners: runners})
	}

	data, err := json.Marshal(map[string]any{"clubs": entries})
	if err != nil {
		return errorResult(err), nil
	}
	return &Result{Status: "ok", Data: data}, nil
}

// classNames returns the class list for a competition through the normal
// cached path.
func (c *Coordinator) classNames(ctx context.Context, comp int) ([]string, error) {
	result, err := c.classes(ctx, comp, "")
	if err != nil {
		return nil, err
	}
	if result.Status == "error" {
		return nil, errors.New(result.Error)
	}

	var payload struct {
		Classes []struct {
			ClassName string `json:"className"`
		} `json:"classes"`
	}
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding class list: %w", err)
	}
	names := make([]string, 0, len(payload.Classes))
	for _, cl := range payload.Classes {
		names = append(names, cl.ClassName)
	}
	return names, nil
}

// classSnapshot returns a decoded snapshot for one class through the
// cached class-results path, so aggregate fan-outs share the cache and
// still trigger notifications on change.
func (c *Coordinator) classSnapshot(ctx context.Context, comp int, class string) (*upstream.ClassSnapshot, error) {
	result, err := c.classResults(ctx, comp, class, "")
	if err != nil {
		return nil, err
	}
	if result.Status == "error" {
		return nil, errors.New(result.Error)
	}
	return upstream.DecodeClassResults(result.Data, comp)
}
