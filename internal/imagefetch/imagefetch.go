// Package imagefetch downloads and decodes images referenced by URL.
package imagefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"time"

	// Registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
	"golang.org/x/time/rate"

	"github.com/onnwee/imgclassify/internal/circuitbreaker"
	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/httpx"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/secrets"
	"github.com/onnwee/imgclassify/internal/utils"
)

var (
	// ErrBadStatus is matched by every non-2xx response error.
	ErrBadStatus = errors.New("unexpected status fetching image")
	// ErrTooLarge is returned when the body or the declared pixel count exceeds its limit.
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrUnsupportedURL is returned for anything other than absolute http(s) URLs.
	ErrUnsupportedURL = errors.New("image url must be an absolute http or https url")
	// ErrDecode wraps image decoding failures.
	ErrDecode = errors.New("failed to decode image")
)

// DefaultMaxPixels caps width*height of a decoded image.
const DefaultMaxPixels = 89478485

// StatusError carries the upstream status code of a failed fetch.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrBadStatus, e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == ErrBadStatus }

// Options configures a Client. Zero values fall back to config defaults.
type Options struct {
	HTTPClient *http.Client
	Retry      httpx.Policy
	Limiter    *rate.Limiter
	Breaker    *circuitbreaker.CircuitBreaker
	MaxBytes   int64
	MaxPixels  int64
	UserAgent  string
}

// Client fetches images over HTTP with retries, an outbound rate limit and
// a circuit breaker. It satisfies inference.Fetcher.
type Client struct {
	http      *http.Client
	retry     httpx.Policy
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	maxBytes  int64
	maxPixels int64
	userAgent string
}

// NewFromConfig builds a Client from the loaded configuration.
func NewFromConfig(cfg *config.Config) *Client {
	return New(Options{
		HTTPClient: &http.Client{Timeout: cfg.FetchTimeout},
		Retry:      httpx.PolicyFromConfig("image"),
		Limiter:    rate.NewLimiter(rate.Limit(cfg.FetchRPS), cfg.FetchBurst),
		Breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "image_fetch",
			FailureThreshold: cfg.BreakerFailureThreshold,
			Timeout:          cfg.BreakerTimeout,
			IsFailure:        IsUpstreamFailure,
		}),
		MaxBytes:  cfg.FetchMaxBytes,
		MaxPixels: cfg.FetchMaxPixels,
		UserAgent: cfg.UserAgent,
	})
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Target == "" {
		opts.Retry.Target = "image"
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.New(circuitbreaker.Config{Name: "image_fetch", IsFailure: IsUpstreamFailure})
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Client{
		http:      opts.HTTPClient,
		retry:     opts.Retry,
		limiter:   opts.Limiter,
		breaker:   opts.Breaker,
		maxBytes:  opts.MaxBytes,
		maxPixels: opts.MaxPixels,
		userAgent: opts.UserAgent,
	}
}

// IsUpstreamFailure reports whether err says something about the health of
// the upstream rather than about the particular image. 4xx responses,
// oversize bodies and undecodable payloads do not count.
func IsUpstreamFailure(err error) bool {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	case errors.Is(err, ErrTooLarge), errors.Is(err, ErrDecode), errors.Is(err, ErrUnsupportedURL):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Fetch downloads rawURL, decodes it and composites any transparency onto
// a white background.
func (c *Client) Fetch(ctx context.Context, rawURL string) (image.Image, error) {
	if !utils.IsHTTPURL(rawURL) {
		return nil, ErrUnsupportedURL
	}
	log := logger.ForContext(ctx, "imagefetch")
	masked := secrets.MaskImageURL(rawURL)

	var img image.Image
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		body, err := c.download(ctx, rawURL)
		if err != nil {
			return err
		}
		if err := c.checkDimensions(body); err != nil {
			return err
		}
		decoded, format, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		log.Debug("decoded image", "url", masked, "format", format, "bytes", len(body),
			"width", decoded.Bounds().Dx(), "height", decoded.Bounds().Dy())
		img = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hasAlpha(img) {
		img = flattenOnWhite(img)
		log.Debug("flattened image alpha channel", "url", masked)
	}
	return img, nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		req.Header.Set("Accept", "image/*")
		return req, nil
	}

	resp, err := httpx.DoWithRetry(ctx, c.http, c.retry, build, c.waitForToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: content-length %d > %d", ErrTooLarge, resp.ContentLength, c.maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}
	return body, nil
}

// checkDimensions reads only the image header so a small payload declaring
// huge dimensions is refused before the decoder allocates its pixel buffer.
func (c *Client) checkDimensions(body []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > c.maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, c.maxPixels)
	}
	return nil
}

// waitForToken is the httpx pre-attempt hook for the outbound limiter.
func (c *Client) waitForToken(ctx context.Context, attempt int) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.Allow() {
		return nil
	}
	metrics.FetchRateLimitWaits.Inc()
	return c.limiter.Wait(ctx)
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// flattenOnWhite composites img over an opaque white canvas of the same bounds.
func flattenOnWhite(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
