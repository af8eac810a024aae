package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"negotiation_server/server/common/errs"
)

const BasePath = "/api/internal/v1/directory"

const (
	defaultHTTPTimeout      = 5 * time.Second
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second
)

type Options struct {
	Timeout          time.Duration
	FailThreshold    int
	EndpointCooldown time.Duration
}

// Client posts JSON to the catalog/billing service, rotating across endpoints
// and cooling down an endpoint after repeated failures.
type Client struct {
	endpoints []string
	http      *http.Client
	next      uint32

	failThreshold    int
	endpointCooldown time.Duration

	mu         sync.Mutex
	failureCnt map[string]int
	cooldownTo map[string]time.Time
}

func NewClient(opts Options, endpoints ...string) *Client {
	normalized := normalizeEndpoints(endpoints)
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = defaultFailThreshold
	}
	if opts.EndpointCooldown <= 0 {
		opts.EndpointCooldown = defaultEndpointCooldown
	}
	return &Client{
		endpoints:        normalized,
		http:             &http.Client{Timeout: opts.Timeout},
		failThreshold:    opts.FailThreshold,
		endpointCooldown: opts.EndpointCooldown,
		failureCnt:       make(map[string]int, len(normalized)),
		cooldownTo:       make(map[string]time.Time, len(normalized)),
	}
}

// Post returns errs.ErrNotFound for a 404, errs.ErrNetwork when every endpoint
// failed at the transport level or with a 5xx.
func (c *Client) Post(ctx context.Context, path string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return errs.Network("directory", fmt.Errorf("endpoint is not configured"))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	start := int(atomic.AddUint32(&c.next, 1)-1) % len(c.endpoints)
	var lastErr error
	for offset := 0; offset < len(c.endpoints); offset++ {
		endpoint := c.endpoints[(start+offset)%len(c.endpoints)]
		if c.isCoolingDown(endpoint, time.Now()) {
			continue
		}
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			lastErr = fmt.Errorf("request failed endpoint=%s: %w", endpoint, doErr)
			c.onFailure(endpoint, time.Now())
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d endpoint=%s", resp.StatusCode, endpoint)
			c.onFailure(endpoint, time.Now())
			continue
		case resp.StatusCode == http.StatusNotFound:
			_ = resp.Body.Close()
			c.onSuccess(endpoint)
			return errs.NotFound("directory entry", path)
		case resp.StatusCode >= 300:
			_ = resp.Body.Close()
			return fmt.Errorf("directory status %d endpoint=%s", resp.StatusCode, endpoint)
		}

		decodeErr := json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if decodeErr != nil {
			c.onFailure(endpoint, time.Now())
			return decodeErr
		}
		c.onSuccess(endpoint)
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints cooling down")
	}
	return errs.Network("directory", lastErr)
}

func normalizeEndpoints(endpoints []string) []string {
	result := make([]string, 0, len(endpoints))
	seen := map[string]struct{}{}
	for _, endpoint := range endpoints {
		normalized := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func (c *Client) isCoolingDown(endpoint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldownTo[endpoint]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.cooldownTo, endpoint)
		return false
	}
	return true
}

func (c *Client) onFailure(endpoint string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.failureCnt[endpoint] + 1
	c.failureCnt[endpoint] = count
	if count >= c.failThreshold {
		c.cooldownTo[endpoint] = now.Add(c.endpointCooldown)
		c.failureCnt[endpoint] = 0
	}
}

func (c *Client) onSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCnt[endpoint] = 0
	delete(c.cooldownTo, endpoint)
}
