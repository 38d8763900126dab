// Package modelclient talks to a TorchServe-style model server.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"

	"github.com/onnwee/imgclassify/internal/circuitbreaker"
	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/httpx"
	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/secrets"
)

const (
	// Input geometry of the SqueezeNet models: shorter side scaled to
	// rescaleSize, then a centered cropSize square.
	rescaleSize = 256
	cropSize    = 224

	defaultJPEGQuality = 90
	maxResponseBytes   = 1 << 20
)

var (
	// ErrEmptyPrediction is returned when the server answers without any class scores.
	ErrEmptyPrediction = errors.New("model returned no predictions")
	// ErrBadStatus is returned for non-2xx responses from the model server.
	ErrBadStatus = errors.New("unexpected status from model server")
	// ErrBadResponse is returned when the response body cannot be parsed.
	ErrBadResponse = errors.New("malformed model response")
)

// Options configures a Client.
type Options struct {
	BaseURL        string // e.g. http://torchserve:8080
	ModelName      string // e.g. squeezenet1_1
	HTTPClient     *http.Client
	Retry          httpx.Policy
	Breaker        *circuitbreaker.CircuitBreaker
	MaxConcurrency int64
	// SkipPreprocess sends the image at its original size.
	SkipPreprocess bool
	JPEGQuality    int
}

// Client classifies images by POSTing JPEG bytes to
// {BaseURL}/predictions/{ModelName}. It satisfies inference.Classifier.
type Client struct {
	endpoint   string
	pingURL    string
	http       *http.Client
	retry      httpx.Policy
	breaker    *circuitbreaker.CircuitBreaker
	sem        *semaphore.Weighted
	preprocess bool
	quality    int
}

// NewFromConfig builds a Client from the loaded configuration.
func NewFromConfig(cfg *config.Config) *Client {
	return New(Options{
		BaseURL:    cfg.ModelURL,
		ModelName:  cfg.ModelName,
		HTTPClient: &http.Client{Timeout: cfg.ModelTimeout},
		Retry:      httpx.PolicyFromConfig("model"),
		Breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "model_server",
			FailureThreshold: cfg.BreakerFailureThreshold,
			Timeout:          cfg.BreakerTimeout,
			IsFailure:        isServerFailure,
		}),
		MaxConcurrency: int64(cfg.ModelMaxConcurrency),
	})
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Target == "" {
		opts.Retry.Target = "model"
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.New(circuitbreaker.Config{Name: "model_server", IsFailure: isServerFailure})
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		endpoint:   base + "/predictions/" + opts.ModelName,
		pingURL:    base + "/ping",
		http:       opts.HTTPClient,
		retry:      opts.Retry,
		breaker:    opts.Breaker,
		sem:        semaphore.NewWeighted(opts.MaxConcurrency),
		preprocess: !opts.SkipPreprocess,
		quality:    opts.JPEGQuality,
	}
}

// Endpoint returns the predictions URL with credentials masked.
func (c *Client) Endpoint() string {
	return secrets.MaskURL(c.endpoint)
}

// BreakerState reports the model breaker's state for status endpoints.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// Classify returns the top-scoring label and its probability for img.
func (c *Client) Classify(ctx context.Context, img image.Image) (string, float64, error) {
	if img == nil {
		return "", 0, errors.New("nil image")
	}
	if c.preprocess {
		img = resizeAndCrop(img, rescaleSize, cropSize)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return "", 0, fmt.Errorf("encode image: %w", err)
	}
	payload := buf.Bytes()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", 0, err
	}
	metrics.ModelInFlight.Inc()
	defer func() {
		metrics.ModelInFlight.Dec()
		c.sem.Release(1)
	}()

	var scores map[string]float64
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		build := func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "image/jpeg")
			req.Header.Set("Accept", "application/json")
			return req, nil
		}
		resp, err := httpx.DoWithRetry(ctx, c.http, c.retry, build, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read model response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%w: %d %s", ErrBadStatus, resp.StatusCode, truncate(string(body), 200))
		}
		scores, err = parseScores(body)
		return err
	})
	if err != nil {
		return "", 0, err
	}

	label, prob, ok := topClass(scores)
	if !ok {
		return "", 0, ErrEmptyPrediction
	}
	return label, prob, nil
}

// Ping checks the server's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pingURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return nil
}

// parseScores accepts either {"label": prob, ...} or a batch
// [{"label": prob, ...}], in which case the first element is used.
func parseScores(body []byte) (map[string]float64, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyPrediction
	}
	if trimmed[0] == '[' {
		var batch []map[string]float64
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if len(batch) == 0 {
			return nil, ErrEmptyPrediction
		}
		return batch[0], nil
	}
	var scores map[string]float64
	if err := json.Unmarshal(trimmed, &scores); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return scores, nil
}

// topClass picks the highest probability; equal scores resolve to the
// lexicographically smallest label.
func topClass(scores map[string]float64) (string, float64, bool) {
	if len(scores) == 0 {
		return "", 0, false
	}
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	best := labels[0]
	for _, l := range labels[1:] {
		if scores[l] > scores[best] {
			best = l
		}
	}
	return best, scores[best], true
}

// resizeAndCrop scales img so its shorter side is short, then takes the
// centered crop x crop square.
func resizeAndCrop(img image.Image, short, crop int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	var nw, nh int
	if w < h {
		nw, nh = short, h*short/w
	} else {
		nw, nh = w*short/h, short
	}
	scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	cw, ch := min(crop, nw), min(crop, nh)
	x0, y0 := (nw-cw)/2, (nh-ch)/2
	return scaled.SubImage(image.Rect(x0, y0, x0+cw, y0+ch))
}

func isServerFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBadResponse) || errors.Is(err, ErrEmptyPrediction) {
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
