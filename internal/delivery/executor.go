package delivery

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/netquality"
)

var tracer = otel.Tracer("delivery")

// maxResponseBody caps how much of a response we read back.
const maxResponseBody = 1 << 20

// defaultBaseTimeout applies when the target does not name one.
const defaultBaseTimeout = 10 * time.Second

// Target describes one outbound destination.
type Target struct {
	Name        string
	URL         string
	Method      string
	Headers     map[string]string
	BaseTimeout time.Duration
}

// Options tunes a single Execute call.
type Options struct {
	// TimeoutOverride replaces the quality-scaled per-attempt timeout.
	TimeoutOverride time.Duration
	// SkipCompression sends the shaped payload uncompressed.
	SkipCompression bool
	// Priority tags the action if it ends up on the offline queue.
	Priority string
	// QueueOnFailure hands the payload to the offline queue after the
	// retry policy is exhausted.
	QueueOnFailure bool
}

// Result is a successful delivery.
type Result struct {
	StatusCode int
	Body       []byte
	Attempts   int
	Quality    netquality.Quality
}

// Replayer triggers an offline-queue replay pass. Implementations must
// make a second trigger during a running pass a no-op.
type Replayer interface {
	TriggerReplay()
}

// FailureQueue accepts payloads whose delivery exhausted the retry
// policy.
type FailureQueue interface {
	QueueFailed(ctx context.Context, target string, payload []byte, priority string) error
}

// Executor performs one logical outbound call under a classified retry
// policy. Only one attempt is ever in flight per call.
type Executor struct {
	client     *http.Client
	classifier *netquality.Classifier
	shaper     *Shaper
	logger     *zap.Logger

	replayer Replayer
	queue    FailureQueue

	randFloat func() float64
	wait      func(ctx context.Context, d time.Duration) error
}

func NewExecutor(client *http.Client, classifier *netquality.Classifier, logger *zap.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{
		client:     client,
		classifier: classifier,
		shaper:     NewShaper(nil, nil),
		logger:     logger.Named("delivery"),
		randFloat:  rand.Float64,
		wait:       waitContext,
	}
}

// SetReplayer wires the offline queue's replay trigger. Called during
// startup wiring, before the executor serves traffic.
func (e *Executor) SetReplayer(r Replayer) { e.replayer = r }

// SetFailureQueue wires the offline queue's failure intake.
func (e *Executor) SetFailureQueue(q FailureQueue) { e.queue = q }

// Execute delivers payload to target, retrying transient failures per
// the link-quality policy. Client errors propagate immediately without
// a retry. Cancelling ctx aborts the in-flight attempt and prevents any
// further retry from being scheduled.
func (e *Executor) Execute(ctx context.Context, target Target, payload []byte, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "delivery.execute")
	defer span.End()

	quality := e.classify(ctx)
	policy := netquality.PolicyFor(quality)
	span.SetAttributes(
		attribute.String("delivery.target", target.Name),
		attribute.String("delivery.quality", string(quality)),
	)

	body, encoding := e.shapeBody(payload, quality, opts)
	timeout := attemptTimeout(target, policy, opts)

	started := time.Now()
	maxAttempts := policy.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := e.attempt(ctx, target, body, encoding, timeout)
		if err == nil {
			result.Attempts = attempt + 1
			result.Quality = quality
			deliveryAttempts.WithLabelValues(target.Name, "success").Inc()
			deliveryDuration.WithLabelValues(target.Name, "success").Observe(time.Since(started).Seconds())
			e.triggerReplay()
			return result, nil
		}
		lastErr = err

		if IsClientError(err) {
			deliveryAttempts.WithLabelValues(target.Name, "client_error").Inc()
			deliveryDuration.WithLabelValues(target.Name, "client_error").Observe(time.Since(started).Seconds())
			return nil, err
		}
		deliveryAttempts.WithLabelValues(target.Name, "transient").Inc()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := calculateRetryDelay(policy, attempt, e.randFloat())
		deliveryRetries.WithLabelValues(target.Name).Inc()
		e.logger.Debug("delivery attempt failed, retrying",
			zap.String("target", target.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := e.wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	deliveryDuration.WithLabelValues(target.Name, "exhausted").Observe(time.Since(started).Seconds())
	exhausted := &ExhaustedError{Target: target.Name, Attempts: maxAttempts, Last: lastErr}
	e.logger.Warn("delivery exhausted retry policy",
		zap.String("target", target.Name),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr))

	if opts.QueueOnFailure && e.queue != nil {
		if qErr := e.queue.QueueFailed(ctx, target.Name, payload, opts.Priority); qErr != nil {
			e.logger.Error("failed to queue undelivered payload",
				zap.String("target", target.Name),
				zap.Error(qErr))
		}
	}
	return nil, exhausted
}

func (e *Executor) classify(ctx context.Context) netquality.Quality {
	if e.classifier == nil {
		return netquality.QualityUnknown
	}
	return e.classifier.Classify(ctx)
}

// shapeBody applies shaping and compression on constrained links and
// returns the wire body with its Content-Encoding ("" for identity).
func (e *Executor) shapeBody(payload []byte, quality netquality.Quality, opts Options) ([]byte, string) {
	if !netquality.ShapePayload(quality) {
		return payload, ""
	}
	body := e.shaper.Shape(payload)
	if !opts.SkipCompression {
		if gz, err := Compress(body); err == nil && len(gz) < len(body) {
			if saved := len(payload) - len(gz); saved > 0 {
				payloadBytesSaved.Add(float64(saved))
			}
			return gz, "gzip"
		}
	}
	if saved := len(payload) - len(body); saved > 0 {
		payloadBytesSaved.Add(float64(saved))
	}
	return body, ""
}

func attemptTimeout(target Target, policy netquality.RetryPolicy, opts Options) time.Duration {
	if opts.TimeoutOverride > 0 {
		return opts.TimeoutOverride
	}
	base := target.BaseTimeout
	if base <= 0 {
		base = defaultBaseTimeout
	}
	return time.Duration(float64(base) * policy.TimeoutScale)
}

func (e *Executor) attempt(ctx context.Context, target Target, body []byte, encoding string, timeout time.Duration) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := target.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Target: target.Name, StatusCode: 0, Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &TransientError{Target: target.Name, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransientError{Target: target.Name, Cause: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{StatusCode: resp.StatusCode, Body: respBody}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &ClientError{Target: target.Name, StatusCode: resp.StatusCode, Body: string(respBody)}
	default:
		return nil, &TransientError{Target: target.Name, StatusCode: resp.StatusCode}
	}
}

func (e *Executor) triggerReplay() {
	if e.replayer == nil {
		return
	}
	go e.replayer.TriggerReplay()
}

// calculateRetryDelay returns the wait before retry number attempt+1:
// exponential backoff capped at the policy maximum, plus up to
// JitterFraction of random jitter on top.
func calculateRetryDelay(policy netquality.RetryPolicy, attempt int, rnd float64) time.Duration {
	backoff := float64(policy.BaseDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if backoff > float64(policy.MaxDelay) {
		backoff = float64(policy.MaxDelay)
	}
	jitter := backoff * policy.JitterFraction * rnd
	return time.Duration(backoff + jitter)
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
