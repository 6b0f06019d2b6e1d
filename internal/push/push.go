// Package push delivers notable-event notifications to follower devices
// through an external push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidToken marks a delivery rejected because the device token is
// invalid or expired. The caller may use it to prune dead subscriptions.
var ErrInvalidToken = errors.New("invalid or expired device token")

// Delivery is one notification addressed to one device token.
type Delivery struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender sends a single delivery. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// GatewayClient sends deliveries to an HTTP push gateway.
type GatewayClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	logger     *zap.Logger
}

func NewGatewayClient(url, apiKey string, timeout time.Duration, logger *zap.Logger) *GatewayClient {
	return &GatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		apiKey:     apiKey,
		logger:     logger,
	}
}

func (c *GatewayClient) Send(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("notification sent", zap.String("title", d.Title))
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		strings.Contains(strings.ToLower(string(body)), "invalid token") {
		return fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
	}
	return fmt.Errorf("notification failed with status %d", resp.StatusCode)
}

// NoopSender drops all deliveries; used when push is disabled.
type NoopSender struct{}

func (NoopSender) Send(context.Context, Delivery) error { return nil }
