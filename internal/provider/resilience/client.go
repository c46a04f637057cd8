package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling the provider while its circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ServerError is a 5xx answer from a provider.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ClientConfig configures a provider client.
type ClientConfig struct {
	// Name identifies the provider in logs and the health registry.
	Name string

	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a network error or 5xx.
	MaxRetries uint64

	// InitialInterval and MaxInterval bound the exponential backoff between attempts.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Breaker BreakerConfig

	// Registry receives success and failure reports (optional).
	Registry *Registry

	// UserAgent is sent on requests that do not carry one.
	UserAgent string

	Logger zerolog.Logger
}

// DefaultClientConfig keeps retries short so a locate request stays interactive.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Breaker:         DefaultBreakerConfig(),
		Logger:          zerolog.Nop(),
	}
}

// Client is an http.Client guarded by retries and a circuit breaker.
// Each attempt goes through the breaker, so a retried request counts once per attempt.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	cfg     ClientConfig
}

// NewClient creates a client and registers it with cfg.Registry.
// Zero durations and breaker settings are taken from DefaultClientConfig.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.Name)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = def.Breaker
	}

	c := &Client{
		name: cfg.Name,
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}
	c.breaker = newBreaker[*http.Response](cfg.Name, cfg.Breaker, c.onStateChange) //nolint:bodyclose // type parameter

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// BreakerState returns the current circuit state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// BreakerCounts returns the circuit's request counts for the current interval.
func (c *Client) BreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}

// Do sends req, retrying network errors and 5xx answers with exponential backoff.
// 4xx answers are returned as is. When retries run out on a 5xx, the last
// response is returned without an error so the caller can map its status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)

	var (
		last    *http.Response
		attempt int
	)
	op := func() error {
		attempt++
		if last != nil {
			drain(last)
			last = nil
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
			return c.send(ctx, req)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case err != nil:
			last = resp
			c.cfg.Logger.Debug().Err(err).Str("provider", c.name).Int("attempt", attempt).Msg("provider attempt failed")
			return err
		}
		last = resp
		return nil
	}

	err := backoff.Retry(op, policy)
	if err != nil {
		c.report(err)
		if last != nil {
			return last, nil
		}
		return nil, err
	}
	c.report(nil)
	return last, nil
}

func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	attemptReq := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attemptReq.Body = body
	}
	if c.cfg.UserAgent != "" && attemptReq.Header.Get("User-Agent") == "" {
		attemptReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(attemptReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, &ServerError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) report(err error) {
	if c.cfg.Registry == nil || errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		c.cfg.Registry.RecordSuccess(c.name)
		return
	}
	c.cfg.Registry.RecordFailure(c.name, err)
}

func (c *Client) onStateChange(name string, from, to gobreaker.State) {
	event := c.cfg.Logger.Info()
	if to == gobreaker.StateOpen {
		event = c.cfg.Logger.Warn()
	}
	event.Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")

	if c.cfg.Registry != nil {
		c.cfg.Registry.RecordStateChange(name, to)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
