package distribution

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
	assert.Equal(t, time.Duration(0), cfg.FinishTimeout)
	assert.Equal(t, 5*time.Second, cfg.AbortTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.MinBackoff)
	assert.Equal(t, time.Second, cfg.Backoff.MaxBackoff)
	require.NoError(t, cfg.Validate())

	// One attempt plus the configured retries.
	assert.Equal(t, 2, cfg.backoffConfig().MaxRetries)
}

func TestConfig_YAML(t *testing.T) {
	cfg := Config{}
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-distribution.page-size=10"}))

	input := `
max_retries: 3
send_timeout: 2s
backoff:
  min_period: 10ms
  max_period: 50ms
`
	require.NoError(t, yaml.UnmarshalStrict([]byte(input), &cfg))
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Backoff.MinBackoff)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]struct {
		setup       func(cfg *Config)
		expectedErr string
	}{
		"valid": {
			setup: func(*Config) {},
		},
		"zero page size": {
			setup:       func(cfg *Config) { cfg.PageSize = 0 },
			expectedErr: "page size must be at least 1",
		},
		"negative retries": {
			setup:       func(cfg *Config) { cfg.MaxRetries = -1 },
			expectedErr: "max retries must not be negative",
		},
		"no send timeout": {
			setup:       func(cfg *Config) { cfg.SendTimeout = 0 },
			expectedErr: "send timeout must be positive",
		},
		"negative send workers": {
			setup:       func(cfg *Config) { cfg.SendWorkers = -2 },
			expectedErr: "send workers must not be negative",
		},
		"invalid backoff": {
			setup:       func(cfg *Config) { cfg.Backoff.MaxBackoff = time.Nanosecond },
			expectedErr: "invalid backoff config: max backoff must not be lower than min backoff",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			tc.setup(&cfg)
			err := cfg.Validate()
			if tc.expectedErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.expectedErr, err.Error())
		})
	}
}
