package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultServiceName      = "treasury"
	DefaultVaultNamespace   = ""
	defaultLockTimeoutMilli = 5000
)

type ReplayConfig struct {
	TTLSeconds int `koanf:"ttl_seconds" mapstructure:"ttl_seconds"`
	MaxEntries int `koanf:"max_entries" mapstructure:"max_entries"`
}

func (c ReplayConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultReplayTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

type LockConfig struct {
	TimeoutMillis int `koanf:"timeout_ms" mapstructure:"timeout_ms"`
}

// Timeout bounds how long a handler waits for the vault lock. Zero waits
// until the caller's context is done.
func (c LockConfig) Timeout() time.Duration {
	if c.TimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// ProgramID is the base58 program identity vault addresses derive under.
	ProgramID        string       `koanf:"program_id" mapstructure:"program_id"`
	DefaultNamespace string       `koanf:"default_namespace" mapstructure:"default_namespace"`
	Replay           ReplayConfig `koanf:"replay" mapstructure:"replay"`
	Lock             LockConfig   `koanf:"lock" mapstructure:"lock"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      DefaultServiceName,
		DefaultNamespace: DefaultVaultNamespace,
		Replay: ReplayConfig{
			TTLSeconds: int(DefaultReplayTTL / time.Second),
			MaxEntries: DefaultReplayMaxEntries,
		},
		Lock: LockConfig{TimeoutMillis: defaultLockTimeoutMilli},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.ProgramID) != "" {
		if _, err := ParseAddress(c.ProgramID); err != nil {
			return fmt.Errorf("core: program_id is invalid: %w", err)
		}
	}
	if len(c.DefaultNamespace) > MaxDerivationSeedLength {
		return fmt.Errorf("core: default_namespace exceeds %d bytes", MaxDerivationSeedLength)
	}
	if c.Replay.TTLSeconds < 0 || c.Replay.MaxEntries < 0 {
		return fmt.Errorf("core: replay limits must not be negative")
	}
	if c.Lock.TimeoutMillis < 0 {
		return fmt.Errorf("core: lock timeout_ms must not be negative")
	}
	return nil
}

// Program returns the configured program identity, or the zero address when
// none is set.
func (c Config) Program() Address {
	addr, err := ParseAddress(c.ProgramID)
	if err != nil {
		return ZeroAddress
	}
	return addr
}
