package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"i4.energy/across/mqttgw/at"
)

// Session states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	eventConnect     = "connect"
	eventConnectOK   = "connectOK"
	eventConnectFail = "connectFail"
	eventDisconnect  = "disconnect"
	eventLinkLost    = "linkLost"
)

const maxMsgID = 65535

// Listener receives the unsolicited events of one session.
type Listener interface {
	OnLinkLost(errorCode int)
	OnPublishDataArrived(msgID int, topic, payload string)
}

// Client is an MQTT session run by the modem's embedded MQTT stack.
type Client struct {
	dev      Device
	session  int
	server   string
	port     int
	clientID string
	logger   *slog.Logger

	retryBackoff   time.Duration
	publishWait    time.Duration
	commandTimeout time.Duration

	msgID atomic.Uint32
	state *fsm.FSM

	mu       sync.RWMutex
	listener Listener
}

func newClient(dev Device, session int, server string, port int, clientID string, opts ...Option) *Client {
	c := &Client{
		dev:            dev,
		session:        session,
		server:         server,
		port:           port,
		clientID:       clientID,
		logger:         slog.Default(),
		retryBackoff:   DefaultRetryBackoff,
		publishWait:    DefaultPublishWait,
		commandTimeout: DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "mqtt"), slog.Int("session", session))
	c.initFSM()
	return c
}

func (c *Client) initFSM() {
	c.state = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventConnectOK, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventConnectFail, Src: []string{StateConnecting}, Dst: StateDisconnected},
			{Name: eventDisconnect, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
			{Name: eventLinkLost, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				c.logger.Debug("session state changed",
					slog.String("from", e.Src), slog.String("to", e.Dst), slog.String("event", e.Event))
			},
		},
	)
}

// fire applies a state machine event. Events that are not valid in the
// current state are ignored.
func (c *Client) fire(event string) {
	if err := c.state.Event(event); err != nil {
		var noTransition fsm.NoTransitionError
		var invalid fsm.InvalidEventError
		if !errors.As(err, &noTransition) && !errors.As(err, &invalid) {
			c.logger.Warn("session state machine", slog.String("event", event), slog.Any("error", err))
		}
	}
}

func (c *Client) SessionID() int   { return c.session }
func (c *Client) ClientID() string { return c.clientID }

// State returns the current session state.
func (c *Client) State() string {
	return c.state.Current()
}

func (c *Client) Connected() bool {
	return c.state.Is(StateConnected)
}

// SetListener registers the receiver of this session's events.
func (c *Client) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

func (c *Client) getListener() Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}

// nextMsgID allocates the next message id, wrapping to 1 after 65535.
func (c *Client) nextMsgID() int {
	for {
		cur := c.msgID.Load()
		next := cur + 1
		if next > maxMsgID {
			next = 1
		}
		if c.msgID.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.commandTimeout)
}

// Connect opens the network link to the broker and logs the client in. A
// session that is connected, locally or according to the modem, is
// disconnected first. A failed attempt is retried once after the retry
// backoff.
func (c *Client) Connect(ctx context.Context, opts *ConnectOptions) error {
	if opts == nil {
		opts = DefaultConnectOptions()
	}

	if c.Connected() || c.remoteConnected(ctx) {
		c.logger.Info("session already connected, reconnecting")
		c.Disconnect(ctx)
	}

	c.fire(eventConnect)
	err := c.connect(ctx, opts)
	if err != nil {
		c.logger.Warn("connect failed, retrying", slog.Any("error", err), slog.Duration("backoff", c.retryBackoff))
		c.teardown(ctx)

		select {
		case <-ctx.Done():
			c.fire(eventConnectFail)
			return ctx.Err()
		case <-time.After(c.retryBackoff):
		}
		err = c.connect(ctx, opts)
	}
	if err != nil {
		c.fire(eventConnectFail)
		return err
	}

	c.fire(eventConnectOK)
	c.logger.Info("session connected", slog.String("server", c.server), slog.Int("port", c.port))
	return nil
}

// remoteConnected asks the modem whether the session is connected.
func (c *Client) remoteConnected(ctx context.Context) bool {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.dev.Send(cctx, at.CmdMQTTState)
	if err != nil {
		c.logger.Debug("query connection state", slog.Any("error", err))
		return false
	}
	for _, line := range resp.Lines {
		if !strings.HasPrefix(line, at.RspMQTTConn) {
			continue
		}
		st, err := at.ParseConnState(line)
		if err == nil && st.Session == c.session && st.State == at.StateConnected {
			return true
		}
	}
	return false
}

func (c *Client) connect(ctx context.Context, opts *ConnectOptions) error {
	cfg := []fmt.Stringer{
		at.ConfigRecvMode{Session: c.session, Buffered: false, WithLength: true},
	}
	if opts.KeepAlive > 0 {
		cfg = append(cfg, at.ConfigKeepAlive{Session: c.session, Seconds: int(opts.KeepAlive / time.Second)})
	}
	if w := opts.Will; w != nil {
		cfg = append(cfg, at.ConfigWill{Session: c.session, QoS: w.QoS, Retain: w.Retain, Topic: w.Topic, Message: w.Message})
	}
	cfg = append(cfg, at.ConfigSession{Session: c.session, Clean: opts.CleanSession})
	if a := opts.AliAuth; a != nil {
		cfg = append(cfg, at.ConfigAliAuth{Session: c.session, ProductKey: a.ProductKey, DeviceName: a.DeviceName, DeviceSecret: a.DeviceSecret})
	}

	for _, cmd := range cfg {
		if err := c.send(ctx, cmd.String()); err != nil {
			return fmt.Errorf("configure session: %w", err)
		}
	}

	open := at.Open{Session: c.session, Host: c.server, Port: c.port}
	if err := c.expectResult(ctx, "open", open.String(), at.RspMQTTOpen); err != nil {
		return err
	}

	conn := at.Connect{Session: c.session, ClientID: c.clientID, Username: opts.Username, Password: opts.Password}
	return c.expectResult(ctx, "connect", conn.String(), at.RspMQTTConn)
}

func (c *Client) send(ctx context.Context, cmd string) error {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.dev.Send(cctx, cmd)
	return err
}

// expectResult sends cmd and checks the result code carried in the last
// field of the keyword line.
func (c *Client) expectResult(ctx context.Context, op, cmd, keyword string) error {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.dev.SendExpecting(cctx, cmd, keyword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	code, err := at.LastInt(resp.Text(), keyword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if code != 0 {
		return &at.ResultCodeError{Op: op, Code: code}
	}
	return nil
}

// teardown disconnects and closes the network link, logging failures.
func (c *Client) teardown(ctx context.Context) {
	steps := []struct {
		cmd     string
		keyword string
	}{
		{at.Disconnect{Session: c.session}.String(), at.RspMQTTDisc},
		{at.Close{Session: c.session}.String(), at.RspMQTTClose},
	}
	for _, s := range steps {
		cctx, cancel := c.withTimeout(ctx)
		resp, err := c.dev.SendExpecting(cctx, s.cmd, s.keyword)
		cancel()
		if err != nil {
			c.logger.Debug("teardown step failed", slog.String("cmd", s.cmd), slog.Any("error", err))
			continue
		}
		c.logger.Debug("teardown step", slog.String("cmd", s.cmd), slog.String("result", resp.Text()))
	}
}

// Disconnect logs the client out and closes the network link. Both steps
// are best effort; only cancellation of ctx is reported.
func (c *Client) Disconnect(ctx context.Context) error {
	c.teardown(ctx)
	c.fire(eventDisconnect)
	return ctx.Err()
}

// Subscribe subscribes to topics with the given QoS and returns the message
// id of the request.
func (c *Client) Subscribe(ctx context.Context, qos int, topics ...string) (int, error) {
	if len(topics) == 0 {
		return 0, ErrNoTopics
	}
	if !c.Connected() {
		return 0, ErrNotConnected
	}

	id := c.nextMsgID()
	cmd := at.Subscribe{Session: c.session, MsgID: id, QoS: qos, Topics: topics}
	if err := c.expectAck(ctx, "subscribe", cmd.String(), at.RspMQTTSub, id); err != nil {
		return id, err
	}
	return id, nil
}

// Unsubscribe removes subscriptions and returns the message id of the
// request.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) (int, error) {
	if len(topics) == 0 {
		return 0, ErrNoTopics
	}
	if !c.Connected() {
		return 0, ErrNotConnected
	}

	id := c.nextMsgID()
	cmd := at.Unsubscribe{Session: c.session, MsgID: id, Topics: topics}
	if err := c.expectAck(ctx, "unsubscribe", cmd.String(), at.RspMQTTUnsub, id); err != nil {
		return id, err
	}
	return id, nil
}

// expectAck sends cmd and waits for the acknowledgement of message id on
// this session. Acks for other requests are skipped until the command
// deadline.
func (c *Client) expectAck(ctx context.Context, op, cmd, keyword string, id int) error {
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.dev.SendExpecting(cctx, cmd, keyword)
	for {
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		ack, perr := at.ParseAckResult(resp.Text(), keyword)
		if perr != nil {
			return fmt.Errorf("%s: %w", op, perr)
		}
		if ack.Session == c.session && ack.MsgID == id {
			if ack.Result != 0 {
				return &at.ResultCodeError{Op: op, Code: ack.Result}
			}
			return nil
		}
		c.logger.Debug("skipping unrelated ack", slog.String("op", op),
			slog.Int("session", ack.Session), slog.Int("msg_id", ack.MsgID))
		resp, err = c.dev.WaitFor(cctx, keyword)
	}
}

// Publish sends message on topic and waits until the modem reports the
// delivery outcome. Every publish takes the next id of the session, which is
// returned. QoS 0 publishes carry id 0 on the wire, as the modem requires.
func (c *Client) Publish(ctx context.Context, topic, message string, qos int, retained bool) (int, error) {
	if !c.Connected() {
		return 0, ErrNotConnected
	}

	id := c.nextMsgID()
	wireID := id
	if qos == 0 {
		wireID = 0
	}
	payload := []byte(message)

	cctx, cancel := c.withTimeout(ctx)
	defer cancel()

	setup := at.Publish{Session: c.session, MsgID: wireID, QoS: qos, Retain: retained, Topic: topic, Length: len(payload)}
	if _, err := c.dev.SendExpecting(cctx, setup.String(), at.Prompt); err != nil {
		return id, fmt.Errorf("publish: %w", err)
	}

	resp, err := c.dev.SendData(cctx, payload, at.RspMQTTPublish)
	for {
		if err != nil {
			return id, fmt.Errorf("publish: %w", err)
		}
		res, perr := at.ParsePublishResult(resp.Text())
		if perr != nil {
			return id, fmt.Errorf("publish: %w", perr)
		}

		if res.Session == c.session && res.MsgID == wireID {
			switch res.Status {
			case at.PublishSent:
				return id, nil
			case at.PublishFailed:
				return id, &at.ResultCodeError{Op: "publish", Code: res.Status}
			}
			c.logger.Debug("publish in progress", slog.Int("msg_id", id))
		}

		wctx, wcancel := context.WithTimeout(ctx, c.publishWait)
		resp, err = c.dev.WaitFor(wctx, at.RspMQTTPublish)
		wcancel()
	}
}

func (c *Client) handleLinkLost(code int) {
	c.logger.Warn("link lost", slog.Int("error_code", code))
	c.fire(eventLinkLost)
	if l := c.getListener(); l != nil {
		l.OnLinkLost(code)
	}
}

func (c *Client) handleData(msgID int, topic, payload string) {
	if l := c.getListener(); l != nil {
		l.OnPublishDataArrived(msgID, topic, payload)
		return
	}
	c.logger.Debug("publish received without listener", slog.String("topic", topic))
}
