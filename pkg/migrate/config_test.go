// Copyright 2024-2026 Aiku AI

package migrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Origin: ServerConfig{
			Homeserver: "https://origin.example",
			UserID:     "@admin:origin.example",
			Password:   "hunter2",
		},
		Destination: ServerConfig{
			Homeserver: "https://dest.example",
			UserID:     "@admin:dest.example",
			Token:      "syt_token",
		},
	}
}

func TestConfigValidateOK(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateMissingFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing origin homeserver", func(c *Config) { c.Origin.Homeserver = "" }, "origin: homeserver is required"},
		{"missing destination user", func(c *Config) { c.Destination.UserID = "" }, "destination: user_id is required"},
		{"no credentials", func(c *Config) { c.Origin.Password = ""; c.Origin.Token = "" }, "origin: either password or token is required"},
		{"invalid MXID", func(c *Config) { c.Origin.UserID = "not-an-mxid" }, "not a valid MXID"},
		{"crypto store without pickle key", func(c *Config) { c.Destination.CryptoStore = "crypto.db" }, "pickle_key is required"},
		{"bad unknown_sender", func(c *Config) { c.UnknownSender = "bogus" }, "unknown_sender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	t.Parallel()
	policy := RetryConfig{}.RetryPolicy()
	assert.Equal(t, DefaultRetryPolicy(), policy)

	tuned := RetryConfig{MaxAttempts: 10, InitialDelay: time.Second}.RetryPolicy()
	assert.Equal(t, 10, tuned.MaxAttempts)
	assert.Equal(t, time.Second, tuned.InitialDelay)
	assert.Equal(t, DefaultRetryPolicy().MaxDelay, tuned.MaxDelay)
}

func TestOrchestratorOptions(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.UnknownSender = "@bridge:dest.example"
	cfg.CopyMedia = true
	cfg.Rooms = []string{"!a:origin.example"}
	cfg.Users = map[string]string{"@a:origin.example": "@a:dest.example"}

	opts := cfg.OrchestratorOptions()
	assert.Equal(t, "@bridge:dest.example", opts.UnknownSender.String())
	assert.True(t, opts.CopyMedia)
	assert.Equal(t, cfg.Rooms, opts.Rooms)
	assert.Equal(t, cfg.Users, opts.Users)
	assert.Equal(t, DefaultRetryPolicy(), opts.Retry)
}
