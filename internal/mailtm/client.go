// Package mailtm is the outbound client for the mail.tm REST API. Each method
// performs exactly one upstream call and normalizes failures into
// *domain.Error values the router can relay unchanged.
package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"tempmailproxy/internal/domain"
	"tempmailproxy/internal/requestid"
)

const (
	// DefaultBaseURL is the public mail.tm endpoint.
	DefaultBaseURL = "https://api.mail.tm"

	// DefaultTimeout bounds every upstream round-trip.
	DefaultTimeout = 20 * time.Second

	acceptHeader = "application/ld+json"

	// maxResponseBytes caps how much of an upstream body is read.
	maxResponseBytes = 4 << 20
)

type Client struct {
	baseURL   string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client. Its Timeout is kept
// as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent sent upstream.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New returns a Client for baseURL. A non-positive timeout falls back to
// DefaultTimeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: NewBreaker("mailtm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewBreaker returns the breaker used by default: it opens after more than
// five consecutive transport errors and lets one trial request through after
// 30 seconds. Any HTTP response, 5xx included, counts as a success so
// upstream statuses are always relayed.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

// ListDomains returns the hydra:member records of GET /domains, untouched.
func (c *Client) ListDomains(ctx context.Context) ([]json.RawMessage, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/domains", "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway,
			"Failed to fetch domains: "+string(body), nil)
	}

	var page struct {
		Members []json.RawMessage `json:"hydra:member"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway,
			"Invalid domains payload from provider", err)
	}
	if page.Members == nil {
		page.Members = []json.RawMessage{}
	}
	return page.Members, nil
}

// CreateAccount registers address upstream. 200 and 201 are success; any other
// status is returned with the upstream code, 409 meaning the address is taken.
func (c *Client) CreateAccount(ctx context.Context, address, password string) (json.RawMessage, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/accounts", "", credentials(address, password))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, domain.UpstreamStatusError(status, body)
	}
	return rawJSON(body)
}

// GetToken exchanges credentials for a bearer token. Every failure status is
// reported as 401.
func (c *Client) GetToken(ctx context.Context, address, password string) (json.RawMessage, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/token", "", credentials(address, password))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, domain.NewError(domain.KindUnauthorized, http.StatusUnauthorized, string(body), nil)
	}
	return rawJSON(body)
}

// GetAccountInfo fetches GET /me for token.
func (c *Client) GetAccountInfo(ctx context.Context, token string) (json.RawMessage, error) {
	return c.getAuthorized(ctx, "/me", token)
}

// ListMessages fetches one page of message summaries. page is forwarded as-is.
func (c *Client) ListMessages(ctx context.Context, token string, page int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	return c.getAuthorized(ctx, "/messages?"+q.Encode(), token)
}

// GetMessage fetches a single message by ID.
func (c *Client) GetMessage(ctx context.Context, token, messageID string) (json.RawMessage, error) {
	return c.getAuthorized(ctx, "/messages/"+url.PathEscape(messageID), token)
}

func (c *Client) getAuthorized(ctx context.Context, path, token string) (json.RawMessage, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, domain.UpstreamStatusError(status, body)
	}
	return rawJSON(body)
}

// do performs a single round-trip through the circuit breaker and returns the
// upstream status and body. Only transport-level failures produce an error.
func (c *Client) do(ctx context.Context, method, path, token string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, domain.NewError(domain.KindInternal, http.StatusInternalServerError,
				"failed to encode upstream request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, domain.NewError(domain.KindInternal, http.StatusInternalServerError,
			"failed to build upstream request", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if resp == nil {
		return 0, nil, unreachable(err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		return 0, nil, unreachable(readErr)
	}
	return resp.StatusCode, data, nil
}

func unreachable(err error) *domain.Error {
	detail := "Upstream provider unreachable"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		detail = "Upstream provider unavailable: circuit open"
	}
	return domain.NewError(domain.KindUpstreamUnreachable, http.StatusBadGateway, detail, err)
}

func rawJSON(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway,
			"Invalid JSON payload from provider", nil)
	}
	return json.RawMessage(body), nil
}

func credentials(address, password string) map[string]string {
	return map[string]string{"address": address, "password": password}
}
