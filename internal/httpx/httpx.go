package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/secrets"
)

// ErrRetriesExhausted is returned when every attempt failed at the transport level.
var ErrRetriesExhausted = errors.New("exhausted retries")

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return context error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// RequestFactory builds a fresh request per attempt so bodies can be replayed.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// Policy controls retry behavior for one outbound target.
type Policy struct {
	Target        string        // metrics label, e.g. "image" or "model"
	MaxAttempts   int           // total attempts including the first
	BaseDelay     time.Duration // linear backoff step
	MaxRetryAfter time.Duration // cap on server-requested waits
	LogRetries    bool
}

// PolicyFromConfig builds a Policy for target from HTTP_MAX_RETRIES,
// HTTP_RETRY_BASE_MS and LOG_HTTP_RETRIES.
func PolicyFromConfig(target string) Policy {
	cfg := config.Load()
	return Policy{
		Target:        target,
		MaxAttempts:   cfg.HTTPMaxRetries,
		BaseDelay:     cfg.HTTPRetryBase,
		MaxRetryAfter: 30 * time.Second,
		LogRetries:    cfg.LogHTTPRetries,
	}
}

// DoWithRetry wraps an HTTP request with lightweight retries on transport
// errors, 429 and 5xx, honoring Retry-After.
func DoWithRetry(ctx context.Context, client *http.Client, p Policy, build RequestFactory, pre PreAttempt) (*http.Response, error) {
	return DoWithRetryObs(ctx, client, p, build, pre, nil)
}

// DoWithRetryObs is like DoWithRetry but reports attempts to an observer.
func DoWithRetryObs(ctx context.Context, client *http.Client, p Policy, build RequestFactory, pre PreAttempt, obs Observer) (*http.Response, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if obs == nil {
		obs = func(AttemptInfo) {}
	}
	log := logger.WithComponent("httpx")

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pre != nil {
			if err := pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		logURL := secrets.MaskImageURL(req.URL.String())

		resp, err := client.Do(req)
		if err != nil {
			// Network or transport error
			metrics.OutboundHTTPRequests.WithLabelValues(p.Target, "error").Inc()
			obs(AttemptInfo{Attempt: attempt, Method: req.Method, URL: logURL, Err: err})
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if p.LogRetries {
					log.Info("no more retries", "attempt", attempt, "method", req.Method, "url", logURL, "error", err)
				}
				return nil, err
			}
			metrics.OutboundHTTPRetries.WithLabelValues(p.Target).Inc()
		} else {
			// success unless 429/5xx
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				metrics.OutboundHTTPRequests.WithLabelValues(p.Target, "success").Inc()
				if p.LogRetries && attempt > 1 {
					log.Info("succeeded after retry", "attempt", attempt, "method", req.Method, "url", logURL, "status", resp.StatusCode)
				}
				obs(AttemptInfo{Attempt: attempt, Method: req.Method, URL: logURL, Status: resp.StatusCode})
				return resp, nil
			}
			metrics.OutboundHTTPRequests.WithLabelValues(p.Target, "retry").Inc()
			if attempt == maxAttempts {
				if p.LogRetries {
					log.Info("giving up", "attempt", attempt, "method", req.Method, "url", logURL, "status", resp.StatusCode)
				}
				obs(AttemptInfo{Attempt: attempt, Method: req.Method, URL: logURL, Status: resp.StatusCode})
				return resp, nil
			}
			resp.Body.Close()
			metrics.OutboundHTTPRetries.WithLabelValues(p.Target).Inc()

			if wait, ok := retryAfter(resp.Header.Get("Retry-After"), p.MaxRetryAfter); ok {
				metrics.OutboundRetryAfterWaits.Observe(wait.Seconds())
				if p.LogRetries {
					log.Info("honoring Retry-After", "attempt", attempt, "status", resp.StatusCode, "wait", wait, "method", req.Method, "url", logURL)
				}
				obs(AttemptInfo{Attempt: attempt, Method: req.Method, URL: logURL, Status: resp.StatusCode, Wait: wait})
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
		}

		// backoff with jitter
		jitter := time.Duration(rand.Intn(200)) * time.Millisecond
		delay := p.BaseDelay*time.Duration(attempt) + jitter
		if p.LogRetries {
			log.Info("backing off", "attempt", attempt, "delay", delay, "method", req.Method, "url", logURL)
		}
		obs(AttemptInfo{Attempt: attempt, Method: req.Method, URL: logURL, Wait: delay})
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, ErrRetriesExhausted
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(header string, limit time.Duration) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	var wait time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		wait = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(header); err == nil {
		wait = time.Until(t)
		if wait <= 0 {
			return 0, false
		}
	} else {
		return 0, false
	}
	if limit > 0 && wait > limit {
		wait = limit
	}
	return wait, true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
