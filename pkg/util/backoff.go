package util

import (
	"flag"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// BackoffConfig configures a Backoff
type BackoffConfig struct {
	MinBackoff time.Duration `yaml:"min_period"`  // start backoff at this level
	MaxBackoff time.Duration `yaml:"max_period"`  // increase exponentially to this level
	MaxRetries int           `yaml:"max_retries"` // give up after this many; zero means infinite retries
}

// RegisterFlagsWithPrefix for BackoffConfig.
func (cfg *BackoffConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.MinBackoff, prefix+".backoff-min-period", 100*time.Millisecond, "Minimum delay when backing off.")
	f.DurationVar(&cfg.MaxBackoff, prefix+".backoff-max-period", time.Second, "Maximum delay when backing off.")
}

// Validate the config.
func (cfg *BackoffConfig) Validate() error {
	if cfg.MinBackoff <= 0 {
		return errors.New("min backoff must be positive")
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		return errors.New("max backoff must not be lower than min backoff")
	}
	return nil
}

// Backoff implements exponential backoff with randomized wait times
type Backoff struct {
	cfg        BackoffConfig
	done       <-chan struct{}
	numRetries int
	cancelled  bool
	duration   time.Duration
}

// NewBackoff creates a Backoff object. Pass a 'done' channel that can be closed to terminate the operation.
func NewBackoff(cfg BackoffConfig, done <-chan struct{}) *Backoff {
	return &Backoff{
		cfg:      cfg,
		done:     done,
		duration: cfg.MinBackoff,
	}
}

// Reset the Backoff back to its initial condition
func (b *Backoff) Reset() {
	b.numRetries = 0
	b.cancelled = false
	b.duration = b.cfg.MinBackoff
}

// Ongoing returns true if caller should keep going
func (b *Backoff) Ongoing() bool {
	return !b.cancelled && (b.cfg.MaxRetries == 0 || b.numRetries < b.cfg.MaxRetries)
}

// Cancelled is true once the done channel has been observed closed.
func (b *Backoff) Cancelled() bool {
	return b.cancelled
}

// NumRetries returns the number of retries so far
func (b *Backoff) NumRetries() int {
	return b.numRetries
}

// Wait sleeps for the backoff time then increases the retry count and backoff time.
// Returns immediately if done channel is closed.
func (b *Backoff) Wait() {
	b.numRetries++
	if b.Ongoing() {
		select {
		case <-b.done:
			b.cancelled = true
		case <-time.After(b.duration):
		}
	}
	b.duration = b.nextDelay()
}

// nextDelay follows the "Decorrelated Jitter" approach from https://www.awsarchitectureblog.com/2015/03/backoff.html
// sleep = min(cap, random_between(base, sleep * 3))
func (b *Backoff) nextDelay() time.Duration {
	if b.cfg.MinBackoff <= 0 {
		return 0
	}
	spread := int64(b.duration*3 - b.cfg.MinBackoff)
	next := b.cfg.MinBackoff
	if spread > 0 {
		next += time.Duration(rand.Int63n(spread))
	}
	if b.cfg.MaxBackoff > 0 && next > b.cfg.MaxBackoff {
		next = b.cfg.MaxBackoff
	}
	return next
}
