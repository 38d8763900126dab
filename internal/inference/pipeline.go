// Package inference ties the result cache, the usage monitor and the
// fetch/classify collaborators into one request path.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/imgclassify/internal/cache"
	"github.com/onnwee/imgclassify/internal/errorreporting"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
	"github.com/onnwee/imgclassify/internal/models"
	"github.com/onnwee/imgclassify/internal/monitor"
	"github.com/onnwee/imgclassify/internal/secrets"
	"github.com/onnwee/imgclassify/internal/tracing"
)

// Fetcher retrieves and decodes the image behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// Classifier runs the model forward pass on a decoded image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (label string, confidence float64, err error)
}

// Outcome is what a caller gets back for one key.
type Outcome struct {
	Result  models.Result
	Elapsed time.Duration // wall clock around the cache-mediated computation
	Cached  bool          // served from a stored entry
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cache           *cache.ResultCache
	monitor         *monitor.Monitor
	fetcher         Fetcher
	classifier      Classifier
	fetchTimeout    time.Duration
	classifyTimeout time.Duration
	now             func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFetchTimeout bounds each image fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.fetchTimeout = d }
}

// WithClassifyTimeout bounds each classification, including time spent
// waiting for a model slot. Zero disables the bound.
func WithClassifyTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.classifyTimeout = d }
}

// WithClock overrides the clock used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New wires a pipeline from already-constructed dependencies.
func New(c *cache.ResultCache, m *monitor.Monitor, f Fetcher, cl Classifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:        c,
		monitor:      m,
		fetcher:      f,
		classifier:   cl,
		fetchTimeout: 15 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Infer classifies the image at key, consulting the cache first. Every
// collaborator error or panic becomes a failure result; Infer itself never
// fails. Successful results, cached or fresh, are recorded in the monitor
// with the measured latency.
func (p *Pipeline) Infer(ctx context.Context, key string) Outcome {
	masked := secrets.MaskImageURL(key)
	ctx, span := tracing.StartSpan(ctx, "inference.infer", trace.WithAttributes(tracing.KeyAttr(masked)))
	defer span.End()

	start := p.now()
	res, cached := p.cache.GetOrCompute(ctx, key, p.compute(key, masked))
	elapsed := p.now().Sub(start)

	cacheLabel := "miss"
	if cached {
		cacheLabel = "hit"
	}
	resultLabel := "failure"
	if res.OK() {
		resultLabel = "success"
		p.monitor.Record(key, elapsed)
	}
	metrics.InferenceRequestsTotal.WithLabelValues(resultLabel, cacheLabel).Inc()
	metrics.InferenceDuration.WithLabelValues(cacheLabel).Observe(elapsed.Seconds())

	span.SetAttributes(
		attribute.Bool("inference.cached", cached),
		attribute.Bool("inference.ok", res.OK()),
	)
	logger.ForContext(ctx, "inference").Debug("inference complete",
		"url", masked, "result", res.String(), "cached", cached, "elapsed", elapsed)

	return Outcome{Result: res, Elapsed: elapsed, Cached: cached}
}

// compute runs on a miss. It is detached from the triggering request's
// cancellation so one disconnecting client cannot store a failure that
// other waiters then receive.
func (p *Pipeline) compute(key, masked string) cache.ComputeFunc {
	return func(ctx context.Context) (res models.Result) {
		ctx = context.WithoutCancel(ctx)
		log := logger.ForContext(ctx, "inference")

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("collaborator panic: %v", r)
				p.recordFailure(ctx, "panic", masked, err)
				res = models.Failure()
			}
		}()

		img, err := p.fetch(ctx, key)
		if err != nil {
			p.recordFailure(ctx, "fetch", masked, err)
			return models.Failure()
		}

		label, confidence, err := p.classify(ctx, img)
		if err != nil {
			p.recordFailure(ctx, "classify", masked, err)
			return models.Failure()
		}

		log.Info("classified image", "url", masked, "label", label, "confidence", confidence)
		return models.Success(label, confidence)
	}
}

func (p *Pipeline) fetch(ctx context.Context, key string) (img image.Image, err error) {
	ctx, span := tracing.StartSpan(ctx, "inference.fetch")
	defer func() { tracing.EndWithError(span, err) }()
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}
	img, err = p.fetcher.Fetch(ctx, key)
	if err == nil && img == nil {
		err = errors.New("fetcher returned no image")
	}
	return img, err
}

func (p *Pipeline) classify(ctx context.Context, img image.Image) (label string, confidence float64, err error) {
	ctx, span := tracing.StartSpan(ctx, "inference.classify")
	defer func() { tracing.EndWithError(span, err) }()
	if p.classifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.classifyTimeout)
		defer cancel()
	}
	label, confidence, err = p.classifier.Classify(ctx, img)
	if err == nil && label == "" {
		err = errors.New("classifier returned an empty label")
	}
	if err == nil {
		span.SetAttributes(attribute.String("inference.label", label))
	}
	return label, confidence, err
}

func (p *Pipeline) recordFailure(ctx context.Context, stage, masked string, err error) {
	metrics.CollaboratorFailures.WithLabelValues(stage).Inc()
	logger.ForContext(ctx, "inference").Warn("inference failed", "stage", stage, "url", masked, "error", err)
	if errors.Is(err, context.Canceled) {
		return
	}
	errorreporting.CaptureErrorWithContext(err,
		map[string]string{"component": "inference", "stage": stage},
		map[string]interface{}{"image_url": masked},
	)
}
