package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.SchedulerTick)
	assert.Equal(t, 10*time.Minute, cfg.PhaseTimeout)
	assert.Equal(t, 90*time.Second, cfg.AgentStaleTimeout)
	assert.Equal(t, "breachline", cfg.ServiceName)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodyBytes)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BREACHLINE_PORT", "9000")
	t.Setenv("BREACHLINE_SCHEDULER_TICK", "5s")
	t.Setenv("BREACHLINE_LOG_LEVEL", "debug")
	t.Setenv("BREACHLINE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BREACHLINE_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.SchedulerTick)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BREACHLINE_PORT", "not-a-number")
	t.Setenv("BREACHLINE_SCHEDULER_TICK", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.SchedulerTick)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: "out of range",
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "non-positive tick",
			mutate:  func(c *Config) { c.SchedulerTick = 0 },
			wantErr: "SCHEDULER_TICK",
		},
		{
			name:    "mismatched jwt keys",
			mutate:  func(c *Config) { c.JWTPrivateKeyPath = "/tmp/key.pem" },
			wantErr: "JWT key paths",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
