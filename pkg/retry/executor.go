package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
)

// IdempotencyHeader carries Request.IdempotencyKey.
const IdempotencyHeader = "Idempotency-Key"

// DefaultMaxBodyBytes bounds how much of a response body is buffered.
const DefaultMaxBodyBytes int64 = 10 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one logical HTTP call. Body is buffered so each attempt
// can replay it.
type Request struct {
	Method         string
	URL            string
	Header         http.Header
	Body           []byte
	IdempotencyKey string
}

// Response is the buffered outcome of the final attempt.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Executor issues requests with bounded retry.
type Executor struct {
	client       Doer
	logger       logger.Logger
	metrics      metrics.Collector
	sleep        func(ctx context.Context, d time.Duration) error
	maxBodyBytes int64
}

// Option configures an Executor.
type Option func(*Executor)

func WithClient(client Doer) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(e *Executor) {
		if c != nil {
			e.metrics = c
		}
	}
}

// WithSleeper replaces the backoff wait. The function must return early with
// ctx.Err() when ctx ends.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxBodyBytes = n
		}
	}
}

// New builds an Executor. Without WithClient it uses a dedicated http.Client.
func New(opts ...Option) *Executor {
	e := &Executor{
		client:       &http.Client{},
		logger:       &logger.Nop{},
		metrics:      &metrics.Nop{},
		sleep:        sleepContext,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute sends req, retrying retryable statuses and network faults per
// policy. When retries are exhausted on a retryable status the last response
// is returned together with a response error.
func (e *Executor) Execute(ctx context.Context, req *Request, policy Policy) (*Response, error) {
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, apierror.New(apierror.KindRequest, "request url is required")
	}
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		return nil, apierror.Wrap(apierror.KindRequest, err, "invalid request url")
	}
	method := req.method()
	policy = policy.normalized()
	maxAttempts := policy.MaxAttempts
	if !req.replayable() {
		maxAttempts = 1
	}
	backoff := policy.Backoff()
	log := e.logger.With(
		logger.Field{Key: "method", Value: method},
		logger.Field{Key: "host", Value: target.Host},
		logger.Field{Key: "path", Value: target.Path},
	)

	var (
		lastResp *Response
		lastErr  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, timeoutError(ctx.Err(), attempt-1)
		}

		resp, err := e.attempt(ctx, method, req, policy.AttemptTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeoutError(ctx.Err(), attempt)
			}
			var reqErr *apierror.Error
			if errors.As(err, &reqErr) {
				return nil, reqErr.WithAttempts(attempt)
			}
			lastResp, lastErr = nil, err
			e.record(method, "fault", 0)
			log.Warn("request attempt failed",
				logger.Field{Key: "attempt", Value: attempt},
				logger.Field{Key: "error", Value: err.Error()},
			)
			if !transient(err) {
				return nil, apierror.Wrap(apierror.KindResponse, err, "network failure").
					WithAttempts(attempt)
			}
		} else {
			resp.Attempts = attempt
			e.record(method, "status", resp.StatusCode)
			if !policy.Retryable(resp.StatusCode) {
				if attempt > 1 {
					log.Debug("request succeeded after retry", logger.Field{Key: "attempt", Value: attempt})
				}
				return resp, nil
			}
			lastResp, lastErr = resp, nil
			log.Warn("request attempt returned retryable status",
				logger.Field{Key: "attempt", Value: attempt},
				logger.Field{Key: "status", Value: resp.StatusCode},
			)
		}

		if attempt < maxAttempts {
			if err := e.sleep(ctx, backoff.Next(attempt)); err != nil {
				return nil, timeoutError(err, attempt)
			}
		}
	}

	if lastResp != nil {
		return lastResp, apierror.New(apierror.KindResponse,
			"retries exhausted after %d attempts: status %d", maxAttempts, lastResp.StatusCode).
			WithStatus(lastResp.StatusCode).
			WithAttempts(maxAttempts)
	}
	return nil, apierror.Wrap(apierror.KindResponse, lastErr,
		"retries exhausted after %d attempts: network failure", maxAttempts).
		WithAttempts(maxAttempts)
}

func (e *Executor) attempt(ctx context.Context, method string, req *Request, timeout time.Duration) (*Response, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindRequest, err, "build request")
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, e.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}, nil
}

// transient reports whether err is a fault worth another attempt: timeouts
// (including the per-attempt deadline), refused or reset connections, and
// connections closed before a full response. TLS, scheme, and redirect
// policy failures are permanent.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (e *Executor) record(method, outcome string, status int) {
	e.metrics.Record("retry.attempt", map[string]string{
		"method":  method,
		"outcome": outcome,
		"status":  strconv.Itoa(status),
	})
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// replayable reports whether the request may be sent more than once.
func (r *Request) replayable() bool {
	switch r.method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return r.IdempotencyKey != ""
}

func timeoutError(cause error, attempts int) error {
	return apierror.Wrap(apierror.KindTimeout, cause, "request abandoned").WithAttempts(attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
