// Package subgraph reads token-distribution schedules and account balances from a network's
// GraphQL subgraph.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/metrics"
	"github.com/giveconomy/givstream/utils/pkg/retry"
	"golang.org/x/time/rate"
)

type Config struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Retry      retry.Config
	// RateLimit caps requests per second across all networks; Burst is the bucket size.
	RateLimit rate.Limit
	Burst     int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return nil
}

type Client struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
	}, nil
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// query posts a GraphQL query and decodes its data into out, retrying transient failures.
func (c *Client) query(ctx context.Context, url, name, query string, vars map[string]any, out any) error {
	if url == "" {
		return errors.New("subgraph url is not configured")
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return retry.Do(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter: %w", err)
		}

		start := time.Now()
		err := c.post(ctx, url, body, out)
		metrics.RecordSubgraphRequest(name, time.Since(start), err)
		if err != nil {
			c.log.Debug("subgraph: query failed", "query", name, "url", url, "error", err)
		}
		return err
	})
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, len(gqlResp.Errors))
		for i, e := range gqlResp.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("subgraph error: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}
