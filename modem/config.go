package modem

import (
	"log/slog"
	"time"

	"i4.energy/across/mqttgw/at"
)

const (
	// DefaultATTimeout bounds a command whose context carries no deadline.
	DefaultATTimeout = 5 * time.Second
	// DefaultEventBuffer is the capacity of the unsolicited event channel.
	DefaultEventBuffer = 16
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

type Config struct {
	Dialer       Dialer
	ATTimeout    time.Duration
	PollInterval time.Duration
	LineTimeout  time.Duration
	EventBuffer  int
	Logger       *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = DefaultATTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = at.DefaultPollInterval
	}
	if c.LineTimeout == 0 {
		c.LineTimeout = at.DefaultLineTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

// WithATTimeout sets the timeout applied to commands whose context has no
// deadline.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

// WithPollInterval sets how long the reader sleeps when the port has no data.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithLineTimeout(d time.Duration) *ConfigBuilder {
	b.config.LineTimeout = d
	return b
}

// WithEventBuffer sets the capacity of the unsolicited event channel. Events
// that do not fit are dropped.
func (b *ConfigBuilder) WithEventBuffer(n int) *ConfigBuilder {
	b.config.EventBuffer = n
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build applies defaults and validates the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
