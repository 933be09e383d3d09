package fetch

import (
	"math"
	"time"

	"github.com/qazdata/goszakup-etl/pkg/errors"
)

// RetryPolicy controls how a Fetcher schedules retries and paces
// successive requests. The zero value is not usable; start from
// DefaultRetryPolicy or call Validate on a hand-built one.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries for a single request,
	// including the first. Must be at least 1.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// Multiplier grows the wait for each further retry.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// MaxDelay caps the computed wait. Zero means no cap.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// PerRequestDelay is the fixed pacing delay between successive
	// successful requests.
	PerRequestDelay time.Duration `yaml:"per_request_delay" json:"per_request_delay"`
}

// DefaultRetryPolicy returns the policy used when none is configured:
// three attempts, one second base delay doubling per retry, capped at
// thirty seconds, with one second of pacing between requests.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		Multiplier:      2.0,
		MaxDelay:        30 * time.Second,
		PerRequestDelay: time.Second,
	}
}

// Validate checks the policy for usable values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.Newf(errors.ErrorTypeValidation, "retry policy: max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return errors.New(errors.ErrorTypeValidation, "retry policy: base_delay must not be negative")
	}
	if p.Multiplier < 1 {
		return errors.Newf(errors.ErrorTypeValidation, "retry policy: multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return errors.New(errors.ErrorTypeValidation, "retry policy: max_delay must not be below base_delay")
	}
	if p.PerRequestDelay < 0 {
		return errors.New(errors.ErrorTypeValidation, "retry policy: per_request_delay must not be negative")
	}
	return nil
}

// BackoffDelay returns the wait before retry n (1-based): BaseDelay for
// the first retry, multiplied by Multiplier for each one after, capped
// at MaxDelay.
func (p RetryPolicy) BackoffDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}
