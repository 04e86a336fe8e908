package netquality

import "time"

// RetryPolicy parameterizes the delivery executor for one link-quality
// class: how many retries to attempt, how delays between them grow, and
// how much to stretch the per-attempt timeout.
type RetryPolicy struct {
	MaxRetries     int           `json:"max_retries"`
	BaseDelay      time.Duration `json:"base_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	Multiplier     float64       `json:"multiplier"`
	JitterFraction float64       `json:"jitter_fraction"`
	TimeoutScale   float64       `json:"timeout_scale"`
}

// policies binds each quality class to its retry policy. Unknown links
// get the poor-link policy: assume the worst and be patient.
var policies = map[Quality]RetryPolicy{
	QualityPoor: {
		MaxRetries:     3,
		BaseDelay:      5 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.3,
		TimeoutScale:   3.0,
	},
	QualityFair: {
		MaxRetries:     3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       15 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.3,
		TimeoutScale:   2.0,
	},
	QualityGood: {
		MaxRetries:     2,
		BaseDelay:      time.Second,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.3,
		TimeoutScale:   1.5,
	},
	QualityExcellent: {
		MaxRetries:     2,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.3,
		TimeoutScale:   1.0,
	},
}

// PolicyFor returns the retry policy bound to quality.
func PolicyFor(quality Quality) RetryPolicy {
	if policy, ok := policies[quality]; ok {
		return policy
	}
	return policies[QualityPoor]
}

// ShapePayload reports whether payload shaping (field stripping and
// compression) should run on the given link quality.
func ShapePayload(quality Quality) bool {
	switch quality {
	case QualityPoor, QualityFair, QualityUnknown:
		return true
	default:
		return false
	}
}
