package breaker

import (
	"errors"
	"time"

	"go.uber.org/multierr"
)

// Config holds the breaker thresholds. Zero values are replaced by defaults
// in New.
type Config struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		MaxRetries:       3,
		BackoffBase:      15 * time.Second,
		BackoffMax:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = d.BackoffMax
	}
	return c
}

// Validate rejects thresholds the state machine cannot honor.
func (c Config) Validate() error {
	var err error
	if c.FailureThreshold < 1 {
		err = multierr.Append(err, errors.New("breaker: failure_threshold must be >= 1"))
	}
	if c.ResetTimeout <= 0 {
		err = multierr.Append(err, errors.New("breaker: reset_timeout must be > 0"))
	}
	if c.MaxRetries < 1 {
		err = multierr.Append(err, errors.New("breaker: max_retries must be >= 1"))
	}
	if c.BackoffBase <= 0 {
		err = multierr.Append(err, errors.New("breaker: backoff_base must be > 0"))
	}
	if c.ResetTimeout > 0 && c.BackoffBase > c.ResetTimeout {
		// the first half-open trial waits max(reset_timeout, backoff_base)
		err = multierr.Append(err, errors.New("breaker: backoff_base must be <= reset_timeout"))
	}
	if c.BackoffMax < c.BackoffBase {
		err = multierr.Append(err, errors.New("breaker: backoff_max must be >= backoff_base"))
	}
	return err
}

// backoff returns BackoffBase * 2^attempt, capped at BackoffMax.
func (c Config) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.BackoffBase
	}
	if attempt >= 62 {
		return c.BackoffMax
	}
	factor := int64(1) << attempt
	if factor > int64(c.BackoffMax/c.BackoffBase) {
		return c.BackoffMax
	}
	return c.BackoffBase * time.Duration(factor)
}
