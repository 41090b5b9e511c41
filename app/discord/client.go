package discord

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
)

const (
	defaultMaxRetries = 3
	retryDelay        = 5 * time.Second
)

// DeliveryError is a per-item send failure. Permanent means retrying within
// this run is pointless (a 4xx other than rate limiting); the item stays out
// of the store and is retried on the next scheduled run either way.
type DeliveryError struct {
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook delivery failed: status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Client posts messages to a Discord incoming webhook. Sends are strictly
// sequential; rate limiting is honored by sleeping for the delay the
// endpoint reports before retrying.
type Client struct {
	httpClient *http.Client
	webhookURL string
	username   string
	avatarURL  string
	maxRetries int

	// Sleep is overridable in tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

func NewClient(httpClient *http.Client, webhookURL, username, avatarURL string) *Client {
	return &Client{
		httpClient: httpClient,
		webhookURL: webhookURL,
		username:   username,
		avatarURL:  avatarURL,
		maxRetries: defaultMaxRetries,
		Sleep:      time.Sleep,
	}
}

type webhookPayload struct {
	Content   string `json:"content"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
}

// Send posts one message. Rate-limit responses are waited out and do not
// count against the retry budget; 5xx responses are retried up to the
// budget; any other 4xx is permanent.
func (c *Client) Send(ctx context.Context, content string) error {
	payload := webhookPayload{
		Content:   content,
		Username:  c.username,
		AvatarURL: c.avatarURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Permanent: true, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	attempt := 0
	for {
		status, retryAfter, err := c.post(ctx, body)

		switch {
		case err == nil && status >= 200 && status <= 299:
			return nil

		case err == nil && status == http.StatusTooManyRequests:
			slog.Warn("Webhook rate limited", "retry_after", retryAfter)
			c.Sleep(retryAfter)
			continue

		case err == nil && status >= 400 && status <= 499:
			return &DeliveryError{StatusCode: status, Permanent: true}
		}

		attempt++
		if attempt >= c.maxRetries {
			if err != nil {
				return &DeliveryError{Err: err}
			}
			return &DeliveryError{StatusCode: status}
		}

		slog.Warn("Webhook delivery failed, retrying", "attempt", attempt, "status", status, "error", err)
		c.Sleep(retryDelay)
	}
}

func (c *Client) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, parseRetryAfter(resp, respBody), nil
	}

	return resp.StatusCode, 0, nil
}

// parseRetryAfter prefers the Retry-After header (seconds) and falls back
// to the retry_after field Discord puts in the 429 body.
func parseRetryAfter(resp *http.Response, body []byte) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	var rl rateLimitBody
	if err := json.Unmarshal(body, &rl); err == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}

	return retryDelay
}
