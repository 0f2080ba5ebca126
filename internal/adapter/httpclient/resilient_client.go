// Package httpclient provides the HTTP client used for every upstream call:
// the scan engine, VirusTotal and AbuseIPDB.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/adapter/metrics"
	"github.com/hive-corporation/sitescan/internal/config"
)

// ErrCircuitOpen is returned without contacting the upstream while its breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StatusError is returned for responses with status >= 400. The response
// body has already been closed.
type StatusError struct {
	Upstream   string
	StatusCode int
	Status     string
	RetryAfter time.Duration // from the Retry-After header, zero when absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %s", e.Upstream, e.Status)
}

// ResilientClient sends requests through a circuit breaker and retries
// transient failures with exponential backoff.
type ResilientClient struct {
	name    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	cfg     config.UpstreamConfig
	log     *zap.Logger
}

// New creates a client for the upstream called name.
func New(name string, cfg config.UpstreamConfig, logger *zap.Logger) *ResilientClient {
	c := &ResilientClient{
		name:   name,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    logger.Named("upstream").With(zap.String("upstream", name)),
	}

	if cfg.EnableCircuitBreaker {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			IsSuccessful: healthy,
			OnStateChange: func(_ string, from, to gobreaker.State) {
				c.log.Warn("Circuit breaker state changed",
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}

	return c
}

// healthy tells the breaker whether an outcome says the upstream is up.
// Client errors such as 404 or 401 do not count against it.
func healthy(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !retryableStatus(statusErr.StatusCode)
	}
	return err == nil
}

// Do sends req. Responses with status >= 400 are returned as *StatusError.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.send(req)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(req)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordError("circuit_open")
		return nil, fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	case err != nil:
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *ResilientClient) send(req *http.Request) (*http.Response, error) {
	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	var retryAfter time.Duration

	attempt := func() error {
		retryAfter = 0

		r := req
		if body != nil {
			rc, err := body()
			if err != nil {
				return backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = rc
		}

		res, err := c.client.Do(r)
		if err != nil {
			metrics.RecordError(transportErrorKind(err))
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if res.StatusCode < 400 {
			resp = res
			return nil
		}

		res.Body.Close()
		metrics.RecordError(statusErrorKind(res.StatusCode))
		statusErr := &StatusError{
			Upstream:   c.name,
			StatusCode: res.StatusCode,
			Status:     res.Status,
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After")),
		}
		if !retryableStatus(res.StatusCode) {
			return backoff.Permanent(statusErr)
		}
		retryAfter = statusErr.RetryAfter
		return statusErr
	}

	if c.cfg.MaxRetries <= 0 {
		if err := attempt(); err != nil {
			return nil, unwrapPermanent(err)
		}
		return resp, nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialInterval
	exp.MaxInterval = c.cfg.MaxInterval
	exp.MaxElapsedTime = 0 // bounded by MaxRetries

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&honorRetryAfter{BackOff: exp, hint: &retryAfter, limit: c.cfg.MaxInterval}, uint64(c.cfg.MaxRetries)),
		req.Context(),
	)

	notify := func(err error, wait time.Duration) {
		c.log.Debug("Retrying upstream request",
			zap.String("url", req.URL.Redacted()),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return nil, unwrapPermanent(err)
	}
	return resp, nil
}

// replayableBody returns a body factory so every attempt sends the full
// payload, or nil when the request has no body.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// honorRetryAfter waits at least as long as the upstream asked for, capped at limit.
type honorRetryAfter struct {
	backoff.BackOff
	hint  *time.Duration
	limit time.Duration
}

func (b *honorRetryAfter) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if wait := min(*b.hint, b.limit); wait > next {
		return wait
	}
	return next
}

// retryable reports whether a transport error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// statusErrorKind is the metrics label for a failed response.
func statusErrorKind(code int) string {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return "auth"
	case code == http.StatusTooManyRequests:
		return "rate_limit"
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return "timeout"
	case code >= 500:
		return "server_error"
	default:
		return "http_error"
	}
}

func transportErrorKind(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	return "connection"
}

// parseRetryAfter understands the delay-seconds form and HTTP dates.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
