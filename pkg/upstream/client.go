package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/roost/pkg/log"
	"github.com/perchlabs/roost/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the upstream origin; tests point it at a local server
	DefaultBaseURL = "https://x.com"

	defaultRateLimitCooldown = 15 * time.Minute
	maxRateLimitRetries      = 3
	maxTransportAttempts     = 3

	acceptLanguage = "en-US,en;q=0.9"
)

// AuthError is a non-retryable authentication failure (401/403)
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed: HTTP %d", e.Status)
}

// RateLimitError is returned after the rate-limit retry budget is exhausted
type RateLimitError struct {
	Retries int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limit persisted after %d cooldown cycles", e.Retries)
}

// Response is a classified upstream reply
type Response struct {
	Status int
	Body   []byte
	JSON   map[string]interface{} // Parsed payload when the body is JSON
}

// Client is the per-account HTTP client. Each account owns exactly one
// client bound to its proxy, so cookies, proxy credentials, and auth state
// never cross identities.
type Client struct {
	hc      *http.Client
	creds   *types.Credentials
	baseURL string
	logger  zerolog.Logger

	// Tunables, defaulted in NewClient; tests shorten them
	cooldown    time.Duration
	backoffUnit time.Duration
	minDelay    time.Duration
	maxDelay    time.Duration
}

// NewClient builds the dedicated client for an account. Transport parameters
// are randomized per client to keep the fleet's traffic shape uneven.
func NewClient(account *types.Account) (*Client, error) {
	if account.Credentials == nil {
		return nil, fmt.Errorf("account %s has no credentials", account.ID)
	}

	connectTimeout := randDuration(20, 30)
	requestTimeout := randDuration(45, 60)
	idleExpiry := randDuration(25, 35)
	keepaliveConns := randInt(3, 7)
	maxConns := randInt(8, 12)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Upstream proxies frequently terminate TLS with untrusted leaves
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		ForceAttemptHTTP2: false,
		// Empty map disables HTTP/2 negotiation entirely
		TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
		MaxIdleConnsPerHost: keepaliveConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     idleExpiry,
	}

	if account.Proxy != nil {
		if err := account.Proxy.Validate(); err != nil {
			return nil, fmt.Errorf("invalid proxy for account %s: %w", account.ID, err)
		}
		transport.Proxy = http.ProxyURL(account.Proxy.URL())
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		creds:       account.Credentials,
		baseURL:     DefaultBaseURL,
		logger:      log.WithAccount(account.ID),
		cooldown:    defaultRateLimitCooldown,
		backoffUnit: time.Second,
		minDelay:    500 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}, nil
}

// Do issues one upstream request with the client's retry and classification
// behavior. headers are merged over the per-call defaults; body may be nil.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (*Response, error) {
	// Small random delay before each request to blunt bursts
	if err := sleepCtx(ctx, c.interRequestDelay()); err != nil {
		return nil, err
	}

	rateLimitRetries := 0
	transportAttempt := 0

	for {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("user-agent", c.userAgent())
		req.Header.Set("x-request-id", uuid.New().String())
		req.Header.Set("accept-language", acceptLanguage)
		if len(body) > 0 {
			req.Header.Set("content-type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transportAttempt++
			if transportAttempt >= maxTransportAttempts {
				return nil, fmt.Errorf("transport failure after %d attempts: %w", transportAttempt, err)
			}
			backoff := c.backoffUnit * (1 << transportAttempt)
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("transport error, retrying")
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		result, retry, err := c.classify(resp)
		if err != nil {
			return nil, err
		}
		if retry {
			rateLimitRetries++
			if rateLimitRetries >= maxRateLimitRetries {
				return nil, &RateLimitError{Retries: rateLimitRetries}
			}
			c.logger.Warn().Dur("cooldown", c.cooldown).Msg("rate limited, waiting")
			if err := sleepCtx(ctx, c.cooldown); err != nil {
				return nil, err
			}
			continue
		}
		return result, nil
	}
}

// classify maps an HTTP response to a Response, a retry request, or an error
func (c *Client) classify(resp *http.Response) (*Response, bool, error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, &AuthError{Status: resp.StatusCode}

	case resp.StatusCode == http.StatusNoContent:
		return &Response{Status: resp.StatusCode}, false, nil

	default:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, false, fmt.Errorf("failed to read response body: %w", err)
		}
		out := &Response{Status: resp.StatusCode, Body: buf.Bytes()}
		var parsed map[string]interface{}
		if json.Unmarshal(out.Body, &parsed) == nil {
			out.JSON = parsed
		}
		return out, false, nil
	}
}

func (c *Client) userAgent() string {
	if c.creds.UserAgent != "" {
		return c.creds.UserAgent
	}
	return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
}

func (c *Client) interRequestDelay() time.Duration {
	if c.maxDelay <= c.minDelay {
		return c.minDelay
	}
	return c.minDelay + time.Duration(rand.Int63n(int64(c.maxDelay-c.minDelay)))
}

// sleepCtx sleeps for d or until ctx is cancelled
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAuthError reports whether err is a non-retryable authentication failure
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimitError reports whether err is an exhausted rate-limit budget
func IsRateLimitError(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

func randDuration(minSec, maxSec int) time.Duration {
	return time.Duration(minSec+rand.Intn(maxSec-minSec)) * time.Second
}

func randInt(min, max int) int {
	return min + rand.Intn(max-min+1)
}
