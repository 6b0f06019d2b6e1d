package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const notModifiedMarker = "NOT MODIFIED"

// Client is the decode/normalize boundary in front of the live-results
// provider. It performs no caching and no retries; transport and decode
// failures come back as errors for the caller to handle.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(baseURL string, ratePerSec int, timeout time.Duration, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		logger:  logger,
	}
}

// Competitions fetches the provider's competition listing. The listing
// carries no change hash upstream, so there is no unchanged variant.
func (c *Client) Competitions(ctx context.Context) ([]Competition, json.RawMessage, error) {
	body, _, err := c.fetch(ctx, MethodCompetitions, nil, "")
	if err != nil {
		return nil, nil, err
	}

	var payload struct {
		Competitions []Competition `json:"competitions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return payload.Competitions, body, nil
}

// Classes fetches the class listing for a competition. The bool return is
// true when the provider reported no change against lastHash.
func (c *Client) Classes(ctx context.Context, comp int, lastHash string) (*ClassList, bool, error) {
	params := url.Values{"comp": {strconv.Itoa(comp)}}
	body, unchanged, err := c.fetch(ctx, MethodClasses, params, lastHash)
	if err != nil || unchanged {
		return nil, unchanged, err
	}

	var payload struct {
		Classes []struct {
			ClassName string `json:"className"`
		} `json:"classes"`
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	list := &ClassList{Hash: payload.Hash, Raw: body}
	for _, cl := range payload.Classes {
		list.Classes = append(list.Classes, cl.ClassName)
	}
	return list, false, nil
}

// ClassResults fetches the full result list for one class.
func (c *Client) ClassResults(ctx context.Context, comp int, class, lastHash string) (*ClassSnapshot, bool, error) {
	params := url.Values{
		"comp":             {strconv.Itoa(comp)},
		"class":            {class},
		"unformattedTimes": {"true"},
	}
	body, unchanged, err := c.fetch(ctx, MethodClassResults, params, lastHash)
	if err != nil || unchanged {
		return nil, unchanged, err
	}

	snapshot, err := DecodeClassResults(body, comp)
	if err != nil {
		return nil, false, err
	}
	return snapshot, false, nil
}

// DecodeClassResults normalizes a raw class-results payload into a
// ClassSnapshot. Exposed so cached payloads can be re-hydrated for diffing.
func DecodeClassResults(body json.RawMessage, comp int) (*ClassSnapshot, error) {
	var payload struct {
		ClassName     string         `json:"className"`
		SplitControls []SplitControl `json:"splitcontrols"`
		Results       []rawRunner    `json:"results"`
		Hash          string         `json:"hash"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	snapshot := &ClassSnapshot{
		CompetitionID: comp,
		ClassName:     payload.ClassName,
		Hash:          payload.Hash,
		SplitControls: payload.SplitControls,
		Runners:       make([]RunnerRecord, 0, len(payload.Results)),
		Raw:           body,
	}
	for _, r := range payload.Results {
		snapshot.Runners = append(snapshot.Runners, r.normalize())
	}
	return snapshot, nil
}

// LastPassings fetches the recent radio passings for a competition.
func (c *Client) LastPassings(ctx context.Context, comp int, lastHash string) (*PassingList, bool, error) {
	params := url.Values{"comp": {strconv.Itoa(comp)}}
	body, unchanged, err := c.fetch(ctx, MethodLastPassings, params, lastHash)
	if err != nil || unchanged {
		return nil, unchanged, err
	}

	var payload struct {
		Passings []Passing `json:"passings"`
		Hash     string    `json:"hash"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &PassingList{Passings: payload.Passings, Hash: payload.Hash, Raw: body}, false, nil
}

// fetch performs one provider request and returns the sanitized body, or
// unchanged=true when the provider short-circuited on lastHash.
func (c *Client) fetch(ctx context.Context, method Method, params url.Values, lastHash string) ([]byte, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("rate limiter: %w", err)
	}

	values := url.Values{"method": {string(method)}}
	for key, vs := range params {
		for _, v := range vs {
			values.Add(key, v)
		}
	}
	if lastHash != "" {
		values.Set("last_hash", lastHash)
	}

	reqURL := c.baseURL + "/api.php?" + values.Encode()
	c.logger.Debug("fetching upstream", zap.String("method", string(method)), zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, method)
	}

	body = sanitize(body)

	// The provider tags hash-bearing responses with a status field; only
	// OK and the not-modified marker are valid.
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch probe.Status {
	case "", "OK":
		return body, false, nil
	case notModifiedMarker:
		// Only valid as an answer to a request that carried a hash.
		if lastHash == "" {
			return nil, false, fmt.Errorf("%w: %q without last_hash", ErrBadStatus, probe.Status)
		}
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrBadStatus, probe.Status)
	}
}

// sanitize replaces control bytes below 0x20 (other than tab, LF, CR) with
// spaces. The provider is observed to emit raw control bytes inside
// free-text name and club fields, which breaks strict JSON decoding.
func sanitize(body []byte) []byte {
	cleaned := body
	copied := false
	for i, b := range body {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			if !copied {
				cleaned = make([]byte, len(body))
				copy(cleaned, body)
				copied = true
			}
			cleaned[i] = ' '
		}
	}
	return cleaned
}
