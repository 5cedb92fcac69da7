package pool

import (
	"errors"
	"fmt"
	"time"
)

// Exported constants.
const (
	DefaultIdleCheckInterval = 3 * time.Second
)

// Config bounds the pool. It is copied by New and never changes afterwards.
type Config struct {
	// MinSize sessions are kept open even when idle.
	MinSize int
	// CoreSize is the number of sessions kept after release; beyond it a
	// released session is closed.
	CoreSize int
	// MaxSize caps free plus busy plus in-flight creations.
	MaxSize int
	// ConnectionTimeout bounds a single Take, including session creation.
	ConnectionTimeout time.Duration
	// MaxIdleTime is how long a free session beyond MinSize may sit unused.
	// Zero disables idle eviction.
	MaxIdleTime time.Duration
	// IdleCheckInterval defaults to DefaultIdleCheckInterval.
	IdleCheckInterval time.Duration
	// KeepAliveInterval defaults to half of ConnectionTimeout.
	KeepAliveInterval time.Duration
}

// Validate reports the first bound that does not hold.
func (c Config) Validate() error {
	switch {
	case c.MinSize < 0:
		return fmt.Errorf("min size must not be negative, got %d", c.MinSize) //nolint:err113,lll // Dynamic error for config validation
	case c.MaxSize < 1:
		return fmt.Errorf("max size must be at least 1, got %d", c.MaxSize) //nolint:err113,lll // Dynamic error for config validation
	case c.MinSize > c.CoreSize:
		return fmt.Errorf("min size (%d) must not exceed core size (%d)", c.MinSize, c.CoreSize) //nolint:err113,lll // Dynamic error for config validation
	case c.CoreSize > c.MaxSize:
		return fmt.Errorf("core size (%d) must not exceed max size (%d)", c.CoreSize, c.MaxSize) //nolint:err113,lll // Dynamic error for config validation
	case c.ConnectionTimeout <= 0:
		return errors.New("connection timeout must be positive")
	case c.MaxIdleTime < 0:
		return errors.New("max idle time must not be negative")
	case c.IdleCheckInterval < 0, c.KeepAliveInterval < 0:
		return errors.New("background intervals must not be negative")
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.IdleCheckInterval == 0 {
		c.IdleCheckInterval = DefaultIdleCheckInterval
	}

	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = c.ConnectionTimeout / 2 //nolint:mnd // Probe twice per timeout window
	}

	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = c.ConnectionTimeout
	}

	return c
}
