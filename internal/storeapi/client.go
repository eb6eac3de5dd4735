// Package storeapi is a client for the commerce REST API that owns carts,
// coupons, addresses, orders and payment verification.
package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/idempotency"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("store is temporarily unavailable, please try again shortly")

// maxBody caps response bodies read from the store.
const maxBody = 4 << 20

// APIError is a non-2xx response or an unsuccessful envelope. Its message
// is the store's, verbatim.
type APIError struct {
	Status  int
	Message string
}

// PublicMessage returns the store's own message, which may be empty.
func (e *APIError) PublicMessage() string {
	return e.Message
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// BreakerConfig configures the circuit breaker around the store.
type BreakerConfig struct {
	MaxFailures uint32        `default:"5" usage:"Consecutive failures before the breaker opens"`
	OpenTimeout time.Duration `default:"30s" usage:"How long the breaker stays open before probing"`
}

// Config configures a Client.
type Config struct {
	BaseURL string        `default:"http://localhost:4000/api" usage:"Commerce API base URL"`
	Timeout time.Duration `default:"15s" usage:"Per-request timeout"`
	Breaker BreakerConfig
}

// envelope is the store's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	status int
	body   []byte
}

// Client talks to the store. Requests are never retried.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[reply]
}

// New creates a Client. transport may be nil.
func New(cfg Config, transport http.RoundTripper, opts ...otelhttp.Option) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 5
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport, opts...),
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:        "store-api",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.MaxFailures
		},
	})
	return c
}

// BreakerState returns the current state of the circuit breaker.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// successFunc decides whether a 2xx envelope is a success.
type successFunc func(env *envelope) bool

func flagged(env *envelope) bool {
	return env.Success || env.Status == "success"
}

// do sends a request and decodes the envelope's data into out. out may be
// nil. An envelope that is neither successful nor has status "success" is
// an *APIError carrying the store's message.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (*envelope, error) {
	return c.call(ctx, method, path, in, out, flagged)
}

// call is do with a custom success rule for 2xx responses.
func (c *Client) call(ctx context.Context, method, path string, in, out any, success successFunc) (*envelope, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	r, err := c.breaker.Execute(func() (reply, error) {
		return c.send(ctx, method, path, body, in != nil)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		return nil, err
	}

	var env envelope
	if len(r.body) > 0 {
		if jerr := json.Unmarshal(r.body, &env); jerr != nil && apiErr == nil {
			return nil, errors.Wrapf(jerr, "decode %s %s", method, path)
		}
	}
	ok := r.status < 300 && success(&env)
	if apiErr != nil || !ok {
		return &env, &APIError{Status: r.status, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, errors.Wrapf(err, "decode %s %s data", method, path)
		}
	}
	return &env, nil
}

// send performs one round trip. Transport failures and 5xx responses count
// against the breaker; other statuses are the caller's business.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, hasBody bool) (reply, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return reply{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key := idempotency.KeyFrom(ctx); key != "" && method != http.MethodGet {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return reply{}, errors.Wrap(err, "read response")
	}
	r := reply{status: resp.StatusCode, body: b}
	if resp.StatusCode >= 500 {
		zctx.From(ctx).Warn("Store API server error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return r, &APIError{Status: resp.StatusCode}
	}
	return r, nil
}

type tokenCtx struct{}

// WithToken attaches the caller's bearer token to ctx. It is forwarded on
// every store request.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtx{}, token)
}

// TokenFrom returns the token set by WithToken, or "".
func TokenFrom(ctx context.Context) string {
	if t, ok := ctx.Value(tokenCtx{}).(string); ok {
		return t
	}
	return ""
}
