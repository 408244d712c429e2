// Package bridge connects a cellular MQTT session to a local broker.
//
// Publishes received by the modem are republished on <prefix>/<topic> of the
// local broker, messages arriving on <prefix>/out/<topic> are published
// through the cellular session on <topic>, and link state changes are
// reported on <prefix>/status.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"i4.energy/across/mqttgw/mqtt"
)

const (
	DefaultPublishTimeout = 30 * time.Second

	outSegment    = "out"
	statusSegment = "status"

	disconnectQuiesce = 250 // milliseconds
)

var (
	// ErrNoBroker is returned by New when no local broker is configured.
	ErrNoBroker = errors.New("bridge: broker is required")
	// ErrNoPrefix is returned by New when the topic prefix is empty.
	ErrNoPrefix = errors.New("bridge: topic prefix is required")
	// ErrTokenTimeout is reported when the local broker does not complete
	// an operation within PublishTimeout.
	ErrTokenTimeout = errors.New("bridge: local broker did not answer")
)

// Publisher publishes through the cellular session.
type Publisher interface {
	Publish(ctx context.Context, topic, message string, qos int, retained bool) (int, error)
}

var (
	_ Publisher     = (*mqtt.Client)(nil)
	_ mqtt.Listener = (*Bridge)(nil)
)

type Config struct {
	// Broker is the local broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte
	// PublishTimeout bounds each publish through the cellular session and
	// each wait on the local broker.
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// Status is the payload published on <prefix>/status.
type Status struct {
	State     string `json:"state"`
	ErrorCode int    `json:"error_code,omitempty"`
}

type Bridge struct {
	cfg     Config
	session Publisher
	client  paho.Client
	logger  *slog.Logger
}

// New creates a bridge publishing through session. The local broker
// connection is established by Run.
func New(cfg Config, session Publisher) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, ErrNoBroker
	}
	b, err := newBridge(cfg, session)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.logger.Warn("local broker connection lost", slog.Any("error", err))
	})
	opts.SetOnConnectHandler(b.onConnect)

	b.client = paho.NewClient(opts)
	return b, nil
}

func newBridge(cfg Config, session Publisher) (*Bridge, error) {
	if cfg.Prefix == "" {
		return nil, ErrNoPrefix
	}
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		session: session,
		logger:  cfg.Logger.With(slog.String("component", "bridge")),
	}, nil
}

// Run connects to the local broker and stays connected until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("connecting to local broker", slog.String("broker", b.cfg.Broker))
	token := b.client.Connect()
	select {
	case <-ctx.Done():
		b.client.Disconnect(disconnectQuiesce)
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return err
	}

	<-ctx.Done()
	b.logger.Info("disconnecting from local broker")
	b.client.Disconnect(disconnectQuiesce)
	return nil
}

func (b *Bridge) onConnect(c paho.Client) {
	filter := b.cfg.Prefix + "/" + outSegment + "/#"
	b.logger.Info("local broker connected, subscribing", slog.String("filter", filter))
	if err := b.wait(c.Subscribe(filter, b.cfg.QoS, b.handleOutbound)); err != nil {
		b.logger.Error("subscribe to local broker", slog.String("filter", filter), slog.Any("error", err))
	}
	b.publishStatus(Status{State: "online"})
}

// handleOutbound publishes a local broker message through the cellular
// session.
func (b *Bridge) handleOutbound(_ paho.Client, msg paho.Message) {
	topic, ok := OutboundTopic(b.cfg.Prefix, msg.Topic())
	if !ok {
		b.logger.Debug("ignoring message outside the outbound tree", slog.String("topic", msg.Topic()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PublishTimeout)
	defer cancel()

	id, err := b.session.Publish(ctx, topic, string(msg.Payload()), int(msg.Qos()), msg.Retained())
	if err != nil {
		b.logger.Error("publish through cellular session", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	b.logger.Debug("forwarded to cellular session", slog.String("topic", topic), slog.Int("msg_id", id))
}

// OnPublishDataArrived republishes a message received by the modem on the
// local broker.
func (b *Bridge) OnPublishDataArrived(msgID int, topic, payload string) {
	local := InboundTopic(b.cfg.Prefix, topic)
	if err := b.wait(b.client.Publish(local, b.cfg.QoS, false, payload)); err != nil {
		b.logger.Error("republish on local broker", slog.String("topic", local), slog.Any("error", err))
		return
	}
	b.logger.Debug("republished on local broker", slog.String("topic", local), slog.Int("msg_id", msgID))
}

func (b *Bridge) OnLinkLost(errorCode int) {
	b.publishStatus(Status{State: "link_lost", ErrorCode: errorCode})
}

func (b *Bridge) publishStatus(s Status) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Error("encode status", slog.Any("error", err))
		return
	}
	topic := b.cfg.Prefix + "/" + statusSegment
	if err := b.wait(b.client.Publish(topic, b.cfg.QoS, true, payload)); err != nil {
		b.logger.Warn("publish status", slog.Any("error", err))
	}
}

// wait blocks until token completes or PublishTimeout passes. The modem
// listener callbacks run on the event dispatcher and must not stall it.
func (b *Bridge) wait(token paho.Token) error {
	if !token.WaitTimeout(b.cfg.PublishTimeout) {
		return fmt.Errorf("%w after %s", ErrTokenTimeout, b.cfg.PublishTimeout)
	}
	return token.Error()
}

// InboundTopic maps a cellular topic onto the local broker.
func InboundTopic(prefix, topic string) string {
	return prefix + "/" + strings.TrimPrefix(topic, "/")
}

// OutboundTopic maps a local topic under <prefix>/out/ back to the cellular
// topic. It reports false for topics outside that tree.
func OutboundTopic(prefix, local string) (string, bool) {
	rest, ok := strings.CutPrefix(local, prefix+"/"+outSegment+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
