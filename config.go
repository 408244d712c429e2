package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"i4.energy/across/mqttgw/mqtt"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP API listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB2")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// ATTimeout bounds AT commands issued without a deadline
	ATTimeout time.Duration
	// PollInterval is the pause between empty reads of the serial port
	PollInterval time.Duration

	// SessionID is the modem MQTT session (0-5) used by the gateway
	SessionID  int
	BrokerHost string
	BrokerPort int
	ClientID   string
	Username   string
	Password   string
	// KeepAlive is rounded down to whole seconds; zero keeps the modem setting
	KeepAlive    time.Duration
	CleanSession bool
	WillTopic    string
	WillPayload  string
	// Subscribe lists the topics subscribed after connecting
	Subscribe []string
	QoS       int

	// LocalBroker is the URL of the broker the session is bridged to; empty
	// disables the bridge
	LocalBroker string
	LocalPrefix string
}

// Configuration keys, shared by flags, environment variables (MQTTGW_ prefix,
// dashes replaced by underscores) and the config file.
const (
	keyBindAddress  = "bind-address"
	keySerialPort   = "serial-port"
	keyBaudRate     = "baud-rate"
	keyLogLevel     = "log-level"
	keyATTimeout    = "at-timeout"
	keyPollInterval = "poll-interval"
	keySessionID    = "session-id"
	keyBrokerHost   = "broker-host"
	keyBrokerPort   = "broker-port"
	keyClientID     = "client-id"
	keyUsername     = "username"
	keyPassword     = "password"
	keyKeepAlive    = "keepalive"
	keyCleanSession = "clean-session"
	keyWillTopic    = "will-topic"
	keyWillPayload  = "will-payload"
	keySubscribe    = "subscribe"
	keyQoS          = "qos"
	keyLocalBroker  = "local-broker"
	keyLocalPrefix  = "local-prefix"
)

const envPrefix = "MQTTGW"

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB2"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.BrokerPort = 1883
		c.KeepAlive = 120 * time.Second
		c.CleanSession = true
		c.QoS = 1
		c.LocalPrefix = "mqttgw"
		return nil
	}
}

// NewViper returns a viper instance reading MQTTGW_ environment variables
// and, when path is set, the given config file.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// WithViper overrides the configuration with every key set in v, whether
// by a changed flag, an environment variable or the config file
func WithViper(v *viper.Viper) ConfigOption {
	return func(c *Config) error {
		setString(v, keyBindAddress, &c.BindAddress)
		setString(v, keySerialPort, &c.SerialPort)
		setInt(v, keyBaudRate, &c.BaudRate)
		setString(v, keyLogLevel, &c.LogLevel)
		setDuration(v, keyATTimeout, &c.ATTimeout)
		setDuration(v, keyPollInterval, &c.PollInterval)

		setInt(v, keySessionID, &c.SessionID)
		setString(v, keyBrokerHost, &c.BrokerHost)
		setInt(v, keyBrokerPort, &c.BrokerPort)
		setString(v, keyClientID, &c.ClientID)
		setString(v, keyUsername, &c.Username)
		setString(v, keyPassword, &c.Password)
		setDuration(v, keyKeepAlive, &c.KeepAlive)
		if v.IsSet(keyCleanSession) {
			c.CleanSession = v.GetBool(keyCleanSession)
		}
		setString(v, keyWillTopic, &c.WillTopic)
		setString(v, keyWillPayload, &c.WillPayload)
		if v.IsSet(keySubscribe) {
			c.Subscribe = splitTopics(v.GetStringSlice(keySubscribe))
		}
		setInt(v, keyQoS, &c.QoS)

		setString(v, keyLocalBroker, &c.LocalBroker)
		setString(v, keyLocalPrefix, &c.LocalPrefix)
		return nil
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}

// splitTopics accepts both repeated values and comma separated lists.
func splitTopics(values []string) []string {
	var topics []string
	for _, value := range values {
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	return topics
}

// Validate checks the settings required to run a session.
func (c *Config) Validate() error {
	if c.BrokerHost == "" {
		return fmt.Errorf("%s is required", keyBrokerHost)
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("invalid %s %d", keyBrokerPort, c.BrokerPort)
	}
	if c.SessionID < 0 || c.SessionID >= mqtt.MaxSessions {
		return fmt.Errorf("invalid %s %d, want 0-%d", keySessionID, c.SessionID, mqtt.MaxSessions-1)
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("invalid %s %d", keyQoS, c.QoS)
	}
	return nil
}

// ConnectOptions returns the session options derived from the configuration.
func (c *Config) ConnectOptions() *mqtt.ConnectOptions {
	opts := &mqtt.ConnectOptions{
		Username:     c.Username,
		Password:     c.Password,
		KeepAlive:    c.KeepAlive,
		CleanSession: c.CleanSession,
	}
	if c.WillTopic != "" {
		opts.Will = &mqtt.Will{Topic: c.WillTopic, Message: c.WillPayload, QoS: c.QoS}
	}
	return opts
}
