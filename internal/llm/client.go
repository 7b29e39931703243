// Package llm calls an OpenAI-compatible chat completion endpoint to
// obtain debugging advice for a reported error.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/qerrors/internal/metrics"
	"github.com/vietddude/qerrors/internal/retry"
)

const (
	// maxResponseBytes caps how much of an advice response is read.
	maxResponseBytes = 1 << 20
	// maxBodySnippet caps how much of an error body is kept for diagnostics.
	maxBodySnippet = 2048
)

// ClientError marks failures that originate from the advice call itself.
// Reports built from such errors are recognized and dropped instead of
// feeding back into another advice call.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string { return "advice client: " + e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// Config holds advice endpoint settings.
type Config struct {
	URL            string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxSockets     int     // concurrent connections to the endpoint
	MaxFreeSockets int     // idle connections kept open
	TokenBudget    int     // response token cap, also bounds the prompt
	RatePerSecond  float64 // outbound request rate; 0 disables limiting
	RateBurst      int
}

// Client is an HTTP client for the advice endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// New creates a client with a tuned connection pool.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxSockets,
				MaxConnsPerHost:     cfg.MaxSockets,
				MaxIdleConnsPerHost: cfg.MaxFreeSockets,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		log:     log.With("component", "llm"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// RequestAdvice posts the prompt to the advice endpoint and returns the
// raw response body. Every failure is wrapped in ClientError.
func (c *Client) RequestAdvice(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &ClientError{Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: c.cfg.TokenBudget,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClientError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return "", &ClientError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.AdviceRequests.WithLabelValues("error").Inc()
		return "", &ClientError{Err: fmt.Errorf("advice call: %w", err)}
	}
	defer resp.Body.Close()

	metrics.AdviceLatency.Observe(time.Since(start).Seconds())
	metrics.AdviceRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &ClientError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > maxBodySnippet {
			snippet = snippet[:maxBodySnippet]
		}
		c.log.Debug("advice endpoint error", "status", resp.StatusCode, "url", c.cfg.URL)
		return "", &ClientError{Err: &retry.StatusError{
			Code:   resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   string(snippet),
		}}
	}

	return string(body), nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
