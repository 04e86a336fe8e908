package netquality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestClassifyTelemetry(t *testing.T) {
	cases := []struct {
		name     string
		sample   Telemetry
		expected Quality
	}{
		{"2g label", Telemetry{Generation: "2G"}, QualityPoor},
		{"slow downlink", Telemetry{DownlinkMbps: 0.05}, QualityPoor},
		{"3g label", Telemetry{Generation: "3g"}, QualityFair},
		{"fair downlink", Telemetry{DownlinkMbps: 0.3}, QualityFair},
		{"4g label", Telemetry{Generation: "4g"}, QualityGood},
		{"good downlink", Telemetry{DownlinkMbps: 1.5}, QualityGood},
		{"wifi fast", Telemetry{Generation: "wifi", DownlinkMbps: 50}, QualityExcellent},
		{"fast unlabeled", Telemetry{DownlinkMbps: 10}, QualityExcellent},
		{"label dominates downlink", Telemetry{Generation: "2g", DownlinkMbps: 10}, QualityPoor},
		{"no telemetry", Telemetry{}, QualityUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClassifyTelemetry(&tc.sample))
		})
	}
}

func TestClassifierFallsBackToUnknown(t *testing.T) {
	failing := ProviderFunc(func(ctx context.Context) (*Telemetry, error) {
		return nil, errors.New("no telemetry source")
	})
	c := NewClassifier(failing, zap.NewNop())
	assert.Equal(t, QualityUnknown, c.Classify(context.Background()))

	c = NewClassifier(nil, zap.NewNop())
	assert.Equal(t, QualityUnknown, c.Classify(context.Background()))
}

func TestClassifierRemembersLast(t *testing.T) {
	c := NewClassifier(ProviderFunc(func(ctx context.Context) (*Telemetry, error) {
		return &Telemetry{DownlinkMbps: 10}, nil
	}), zap.NewNop())

	assert.Equal(t, QualityUnknown, c.Last())
	c.Classify(context.Background())
	assert.Equal(t, QualityExcellent, c.Last())
}

func TestPolicyForUnknownIsConservative(t *testing.T) {
	unknown := PolicyFor(QualityUnknown)
	poor := PolicyFor(QualityPoor)
	assert.Equal(t, poor, unknown, "unknown links assume poor conditions")

	assert.Equal(t, 3, poor.MaxRetries)
	assert.Equal(t, 5*time.Second, poor.BaseDelay)
	assert.Equal(t, 2.0, poor.Multiplier)
	assert.Equal(t, 0.3, poor.JitterFraction)
}

func TestShapePayload(t *testing.T) {
	assert.True(t, ShapePayload(QualityPoor))
	assert.True(t, ShapePayload(QualityFair))
	assert.True(t, ShapePayload(QualityUnknown))
	assert.False(t, ShapePayload(QualityGood))
	assert.False(t, ShapePayload(QualityExcellent))
}
