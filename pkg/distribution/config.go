package distribution

import (
	"flag"
	"time"

	"github.com/pkg/errors"

	"github.com/cortexproject/resultdist/pkg/util"
)

const DefaultPageSize = 500

// Config contains the configuration of the distribution layer.
type Config struct {
	PageSize      int                `yaml:"page_size"`
	MaxRetries    int                `yaml:"max_retries"`
	SendTimeout   time.Duration      `yaml:"send_timeout"`
	FinishTimeout time.Duration      `yaml:"finish_timeout"`
	AbortTimeout  time.Duration      `yaml:"abort_timeout"`
	SendWorkers   int                `yaml:"send_workers"`
	Backoff       util.BackoffConfig `yaml:"backoff"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.PageSize, "distribution.page-size", DefaultPageSize, "Rows per page sent to a downstream node. Larger pages amortize network overhead, smaller pages reduce tail latency and memory.")
	f.IntVar(&cfg.MaxRetries, "distribution.max-retries", 1, "How many times a page is resent after a transient failure before the stream fails.")
	f.DurationVar(&cfg.SendTimeout, "distribution.send-timeout", 10*time.Second, "Timeout of a single page send attempt.")
	f.DurationVar(&cfg.FinishTimeout, "distribution.finish-timeout", 0, "How long finishing a stream waits for the last pages to be acknowledged. 0 to wait forever.")
	f.DurationVar(&cfg.AbortTimeout, "distribution.abort-timeout", 5*time.Second, "Timeout of best-effort abort notices and kill broadcasts.")
	f.IntVar(&cfg.SendWorkers, "distribution.send-workers", 0, "Number of workers sending pages. 0 starts a goroutine per send.")
	cfg.Backoff.RegisterFlagsWithPrefix("distribution", f)
}

// Validate the config.
func (cfg *Config) Validate() error {
	if cfg.PageSize < 1 {
		return errors.New("page size must be at least 1")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if cfg.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	if cfg.FinishTimeout < 0 {
		return errors.New("finish timeout must not be negative")
	}
	if cfg.SendWorkers < 0 {
		return errors.New("send workers must not be negative")
	}
	return errors.Wrap(cfg.Backoff.Validate(), "invalid backoff config")
}

// backoffConfig returns the retry policy of a single page: one attempt plus
// MaxRetries retries.
func (cfg *Config) backoffConfig() util.BackoffConfig {
	b := cfg.Backoff
	b.MaxRetries = cfg.MaxRetries + 1
	return b
}
