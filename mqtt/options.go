package mqtt

import (
	"log/slog"
	"strconv"
	"time"
)

const (
	// MaxSessions is the number of MQTT sessions the modem multiplexes.
	MaxSessions = 6

	DefaultRetryBackoff   = 2 * time.Second
	DefaultPublishWait    = 5 * time.Second
	DefaultCommandTimeout = 15 * time.Second
)

// Will is the last will published by the broker when the link drops.
type Will struct {
	Topic   string
	Message string
	QoS     int
	Retain  bool
}

// AliAuth holds Alibaba Cloud IoT device credentials.
type AliAuth struct {
	ProductKey   string
	DeviceName   string
	DeviceSecret string
}

// ConnectOptions configures a session before it connects.
type ConnectOptions struct {
	Username string
	Password string
	// KeepAlive is sent in whole seconds; zero keeps the modem setting.
	KeepAlive    time.Duration
	CleanSession bool
	Will         *Will
	AliAuth      *AliAuth
}

// DefaultConnectOptions returns options for a clean session without
// credentials.
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{CleanSession: true}
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryBackoff sets the pause before the single connect retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.retryBackoff = d
	}
}

// WithPublishWait bounds the wait for each further delivery status while a
// publish is being retransmitted.
func WithPublishWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.publishWait = d
		}
	}
}

// WithCommandTimeout bounds every command the client issues.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.commandTimeout = d
		}
	}
}

func WithListener(l Listener) Option {
	return func(c *Client) {
		c.SetListener(l)
	}
}

// GenerateClientID returns a client id unique to the current millisecond.
func GenerateClientID() string {
	return "mqttgw" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}
