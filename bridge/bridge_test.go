package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken never completes.
type pendingToken struct{}

func (pendingToken) Wait() bool { select {} }

func (pendingToken) WaitTimeout(d time.Duration) bool {
	time.Sleep(d)
	return false
}

func (pendingToken) Done() <-chan struct{} { return make(chan struct{}) }
func (pendingToken) Error() error          { return nil }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  any
}

// fakeClient records publishes and subscriptions. Methods not overridden
// panic through the nil embedded interface.
type fakeClient struct {
	paho.Client

	mu            sync.Mutex
	published     []published
	subscriptions []string
	publishErr    error
	stalled       bool
	disconnected  bool
}

func (c *fakeClient) Connect() paho.Token { return doneToken{} }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, payload})
	if c.stalled {
		return pendingToken{}
	}
	return doneToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions = append(c.subscriptions, topic)
	return doneToken{}
}

type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type sessionCall struct {
	topic    string
	message  string
	qos      int
	retained bool
}

type fakeSession struct {
	calls []sessionCall
	err   error
}

func (s *fakeSession) Publish(ctx context.Context, topic, message string, qos int, retained bool) (int, error) {
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("publish without deadline")
	}
	s.calls = append(s.calls, sessionCall{topic, message, qos, retained})
	return len(s.calls), s.err
}

func newTestBridge(t *testing.T, session Publisher) (*Bridge, *fakeClient) {
	t.Helper()
	b, err := newBridge(Config{Prefix: "gw/", QoS: 1, Logger: slog.New(slog.DiscardHandler)}, session)
	require.NoError(t, err)
	client := &fakeClient{}
	b.client = client
	return b, client
}

func TestNew(t *testing.T) {
	_, err := New(Config{Prefix: "gw"}, &fakeSession{})
	assert.ErrorIs(t, err, ErrNoBroker)

	_, err = New(Config{Broker: "tcp://localhost:1883"}, &fakeSession{})
	assert.ErrorIs(t, err, ErrNoPrefix)

	b, err := New(Config{Broker: "tcp://localhost:1883", Prefix: "gw", ClientID: "bridge"}, &fakeSession{})
	require.NoError(t, err)
	assert.NotNil(t, b.client)
	assert.Equal(t, DefaultPublishTimeout, b.cfg.PublishTimeout)
}

func TestTopicMapping(t *testing.T) {
	assert.Equal(t, "gw/sensors/t1", InboundTopic("gw", "sensors/t1"))
	assert.Equal(t, "gw/abs", InboundTopic("gw", "/abs"))

	tests := []struct {
		local string
		want  string
		ok    bool
	}{
		{"gw/out/cmd/reboot", "cmd/reboot", true},
		{"gw/out/x", "x", true},
		{"gw/out/", "", false},
		{"gw/status", "", false},
		{"other/out/x", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			got, ok := OutboundTopic("gw", tt.local)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInbound(t *testing.T) {
	b, client := newTestBridge(t, &fakeSession{})

	b.OnPublishDataArrived(3, "sensors/t1", "21.5")

	require.Len(t, client.published, 1)
	assert.Equal(t, published{"gw/sensors/t1", 1, false, "21.5"}, client.published[0])
}

func TestInboundPublishError(t *testing.T) {
	b, client := newTestBridge(t, &fakeSession{})
	client.publishErr = errors.New("not connected")

	assert.NotPanics(t, func() { b.OnPublishDataArrived(3, "t", "x") })
}

func TestStalledLocalBroker(t *testing.T) {
	b, client := newTestBridge(t, &fakeSession{})
	b.cfg.PublishTimeout = 20 * time.Millisecond
	client.stalled = true

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		b.OnPublishDataArrived(3, "t", "x")
		b.OnLinkLost(2)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("listener callbacks blocked on the local broker")
	}
	assert.Len(t, client.published, 2)
	assert.ErrorIs(t, b.wait(pendingToken{}), ErrTokenTimeout)
}

func TestOutbound(t *testing.T) {
	session := &fakeSession{}
	b, _ := newTestBridge(t, session)

	b.handleOutbound(nil, fakeMessage{topic: "gw/out/cmd", payload: []byte("reboot"), qos: 1, retained: true})
	b.handleOutbound(nil, fakeMessage{topic: "gw/elsewhere", payload: []byte("ignored")})

	assert.Equal(t, []sessionCall{{"cmd", "reboot", 1, true}}, session.calls)
}

func TestOutboundSessionError(t *testing.T) {
	session := &fakeSession{err: errors.New("not connected")}
	b, _ := newTestBridge(t, session)

	b.handleOutbound(nil, fakeMessage{topic: "gw/out/cmd", payload: []byte("x")})
	assert.Len(t, session.calls, 1)
}

func TestStatus(t *testing.T) {
	b, client := newTestBridge(t, &fakeSession{})

	b.onConnect(client)
	b.OnLinkLost(2)

	assert.Equal(t, []string{"gw/out/#"}, client.subscriptions)
	require.Len(t, client.published, 2)

	var online, lost Status
	require.NoError(t, json.Unmarshal(client.published[0].payload.([]byte), &online))
	require.NoError(t, json.Unmarshal(client.published[1].payload.([]byte), &lost))
	assert.Equal(t, Status{State: "online"}, online)
	assert.Equal(t, Status{State: "link_lost", ErrorCode: 2}, lost)
	assert.Equal(t, "gw/status", client.published[1].topic)
	assert.True(t, client.published[1].retained)
}

func TestRun(t *testing.T) {
	b, client := newTestBridge(t, &fakeSession{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.disconnected)
}
