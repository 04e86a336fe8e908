// Package netquality estimates the current link quality from whatever
// telemetry the transport exposes and binds each quality class to a
// retry policy for the delivery executor.
package netquality

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Quality is the coarse link-quality class.
type Quality string

const (
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
	QualityUnknown   Quality = "unknown"
)

var classifications = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "convoport",
		Subsystem: "netquality",
		Name:      "classifications_total",
		Help:      "Link quality classifications by resulting class",
	},
	[]string{"quality"},
)

// Telemetry is one link-quality sample. Zero DownlinkMbps and an empty
// Generation mean the field was not measurable.
type Telemetry struct {
	DownlinkMbps float64       `json:"downlink_mbps"`
	RTT          time.Duration `json:"rtt"`
	Generation   string        `json:"generation"`
	SampledAt    time.Time     `json:"sampled_at"`
}

// Provider supplies link telemetry. Implementations may probe the
// transport, read platform hints, or replay recorded samples.
type Provider interface {
	Sample(ctx context.Context) (*Telemetry, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (*Telemetry, error)

func (f ProviderFunc) Sample(ctx context.Context) (*Telemetry, error) { return f(ctx) }

// Classifier turns telemetry samples into a Quality. It remembers the
// last classification so callers can read it without re-sampling.
type Classifier struct {
	provider Provider
	logger   *zap.Logger

	mu   sync.RWMutex
	last Quality
}

func NewClassifier(provider Provider, logger *zap.Logger) *Classifier {
	return &Classifier{
		provider: provider,
		logger:   logger.Named("netquality"),
		last:     QualityUnknown,
	}
}

// Classify samples the provider and maps the telemetry onto a quality
// class. A nil provider, a sampling error, or a sample with no usable
// fields all yield QualityUnknown.
func (c *Classifier) Classify(ctx context.Context) Quality {
	quality := c.classifyOnce(ctx)

	c.mu.Lock()
	c.last = quality
	c.mu.Unlock()

	classifications.WithLabelValues(string(quality)).Inc()
	return quality
}

// Last returns the most recent classification, QualityUnknown before
// the first Classify call.
func (c *Classifier) Last() Quality {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Classifier) classifyOnce(ctx context.Context) Quality {
	if c.provider == nil {
		return QualityUnknown
	}
	sample, err := c.provider.Sample(ctx)
	if err != nil {
		c.logger.Debug("telemetry sampling failed", zap.Error(err))
		return QualityUnknown
	}
	if sample == nil {
		return QualityUnknown
	}
	return ClassifyTelemetry(sample)
}

// ClassifyTelemetry maps a single sample onto a quality class. The
// generation label and the downlink estimate are each sufficient on
// their own; the worse signal wins when both are present.
func ClassifyTelemetry(sample *Telemetry) Quality {
	generation := strings.ToLower(strings.TrimSpace(sample.Generation))
	hasDownlink := sample.DownlinkMbps > 0

	if !hasDownlink && generation == "" {
		return QualityUnknown
	}

	if generation == "2g" || (hasDownlink && sample.DownlinkMbps < 0.1) {
		return QualityPoor
	}
	if generation == "3g" || (hasDownlink && sample.DownlinkMbps < 0.5) {
		return QualityFair
	}
	if generation == "4g" || (hasDownlink && sample.DownlinkMbps < 2.0) {
		return QualityGood
	}
	return QualityExcellent
}
