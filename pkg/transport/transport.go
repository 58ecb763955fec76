// Package transport provides the http.RoundTripper shared by the directory
// and registry clients: fixed request headers plus client-side throttling.
package transport

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Transport sets headers on every request and waits on a token bucket before
// handing it to Base.
type Transport struct {
	Base    http.RoundTripper
	Header  http.Header
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHeader sets key on every outgoing request that does not already carry it.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		if value != "" {
			t.Header.Set(key, value)
		}
	}
}

// WithRateLimit throttles to perSecond requests with the given burst. A
// non-positive perSecond disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Transport) {
		if perSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		if base != nil {
			t.Base = base
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New returns a Transport over http.DefaultTransport.
func New(options ...Option) *Transport {
	t := &Transport{
		Base:   http.DefaultTransport,
		Header: make(http.Header),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		start := time.Now()
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
		if waited := time.Since(start); waited > time.Second {
			t.logger.Debug("throttled request", "url", req.URL.Redacted(), "waited", waited)
		}
	}
	if len(t.Header) > 0 {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		for key, values := range t.Header {
			if req.Header.Get(key) == "" {
				req.Header[key] = values
			}
		}
	}
	return t.Base.RoundTrip(req)
}

// Client returns an http.Client using t with the given timeout.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

var _ http.RoundTripper = (*Transport)(nil)
