package keycrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrOrderNotFound = errors.New("keycrm order not found")

// Client fetches order details from the KeyCRM API. The webhook body only
// names the order, so every actionable event costs one API call; the
// limiter keeps that under the account's rate cap.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter <-chan time.Time
}

func NewClientFromEnv() (*Client, error) {
	token := strings.TrimSpace(os.Getenv("KEYCRM_API_TOKEN"))
	if token == "" {
		return nil, errors.New("KEYCRM_API_TOKEN is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("KEYCRM_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://openapi.keycrm.app/v1"
	}
	rateLimitPerMin := int64(50)
	if v := strings.TrimSpace(os.Getenv("KEYCRM_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

// GetOrder fetches one order with its line items included. Server errors
// and transport failures are retried a few times before giving up.
func (c *Client) GetOrder(ctx context.Context, orderId string) (*Order, error) {
	endpoint := fmt.Sprintf("%s/order/%s?include=products", c.baseURL, orderId)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second * time.Duration(attempt)):
			}
		}
		<-c.limiter

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: order_id=%s", ErrOrderNotFound, orderId)
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("keycrm api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("keycrm api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var order Order
		if err := json.Unmarshal(body, &order); err != nil {
			return nil, fmt.Errorf("keycrm order parse: %w", err)
		}
		return &order, nil
	}
	return nil, lastErr
}
