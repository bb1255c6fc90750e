// Copyright 2024-2026 Aiku AI

package migrate

import (
	"fmt"
	"time"

	"maunium.net/go/mautrix/id"
)

// ServerConfig holds the resolved credentials for one homeserver. Password
// login is preferred when both a password and a token are present.
type ServerConfig struct {
	Homeserver string `mapstructure:"homeserver"`
	UserID     string `mapstructure:"user_id"`
	Password   string `mapstructure:"password"`
	Token      string `mapstructure:"token"`
	DeviceID   string `mapstructure:"device_id"`

	// CryptoStore is the path of the SQLite store holding the account's
	// encryption session state. Empty disables encrypted-room support for
	// this side.
	CryptoStore string `mapstructure:"crypto_store"`
	PickleKey   string `mapstructure:"pickle_key"`
}

// RetryConfig tunes the transient-send retry loop.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// Config is the resolved, validated configuration consumed by the engine.
// Loading and precedence (TOML file merged with CLI flags) happen in the
// command layer.
type Config struct {
	Origin      ServerConfig `mapstructure:"origin"`
	Destination ServerConfig `mapstructure:"destination"`

	UnknownSender string            `mapstructure:"unknown_sender"`
	CopyMedia     bool              `mapstructure:"copy_media"`
	Rooms         []string          `mapstructure:"rooms"`
	Users         map[string]string `mapstructure:"users"`
	Retry         RetryConfig       `mapstructure:"retry"`
}

// Validate checks that both server sections are usable.
func (c *Config) Validate() error {
	if err := c.Origin.validate("origin"); err != nil {
		return err
	}
	if err := c.Destination.validate("destination"); err != nil {
		return err
	}
	if c.UnknownSender != "" {
		if _, _, err := id.UserID(c.UnknownSender).Parse(); err != nil {
			return fmt.Errorf("unknown_sender %q is not a valid MXID: %w", c.UnknownSender, err)
		}
	}
	return nil
}

func (s *ServerConfig) validate(section string) error {
	if s.Homeserver == "" {
		return fmt.Errorf("%s: homeserver is required", section)
	}
	if s.UserID == "" {
		return fmt.Errorf("%s: user_id is required", section)
	}
	if _, _, err := id.UserID(s.UserID).Parse(); err != nil {
		return fmt.Errorf("%s: user_id %q is not a valid MXID: %w", section, s.UserID, err)
	}
	if s.Password == "" && s.Token == "" {
		return fmt.Errorf("%s: either password or token is required", section)
	}
	if s.CryptoStore != "" && s.PickleKey == "" {
		return fmt.Errorf("%s: pickle_key is required when crypto_store is set", section)
	}
	return nil
}

// RetryPolicy converts the config values into the engine's retry policy,
// filling defaults for unset fields.
func (r RetryConfig) RetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay > 0 {
		policy.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	return policy
}

// OrchestratorOptions maps the config onto run options.
func (c *Config) OrchestratorOptions() Options {
	return Options{
		UnknownSender: id.UserID(c.UnknownSender),
		Users:         c.Users,
		Rooms:         c.Rooms,
		CopyMedia:     c.CopyMedia,
		Retry:         c.Retry.RetryPolicy(),
	}
}
