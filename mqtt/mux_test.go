package mqtt_test

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/mqttgw/mqtt"
)

type received struct {
	msgID   int
	topic   string
	payload string
}

type recorder struct {
	mu       sync.Mutex
	lost     []int
	messages []received
}

func (r *recorder) OnLinkLost(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, code)
}

func (r *recorder) OnPublishDataArrived(msgID int, topic, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, received{msgID, topic, payload})
}

func TestMuxClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	mux := mqtt.NewMux(mqtt.NewMockDevice(ctrl), nil)

	for _, session := range []int{-1, mqtt.MaxSessions} {
		_, err := mux.Client(session, "broker", 1883, "gw")
		assert.ErrorIs(t, err, mqtt.ErrInvalidSession, "session %d", session)
	}

	c, err := mux.Client(5, "broker", 1883, "gw")
	require.NoError(t, err)
	assert.Equal(t, 5, c.SessionID())
	assert.Equal(t, "gw", c.ClientID())
	assert.Equal(t, mqtt.StateDisconnected, c.State())

	_, err = mux.Client(5, "broker", 1883, "other")
	assert.ErrorIs(t, err, mqtt.ErrInvalidSession)

	mux.Release(5)
	_, err = mux.Client(5, "broker", 1883, "other")
	assert.NoError(t, err)
}

func TestMuxRouting(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := mqtt.NewMockDevice(ctrl)
	mux := mqtt.NewMux(dev, nil)

	first, second := &recorder{}, &recorder{}
	c0, err := mux.Client(0, "broker", 1883, "gw", mqtt.WithListener(first))
	require.NoError(t, err)
	c1, err := mux.Client(1, "broker", 1883, "gw1")
	require.NoError(t, err)
	c1.SetListener(second)

	gomock.InOrder(slices.Concat([]any{stateQuery(dev)}, connectCalls(dev))...)
	require.NoError(t, c0.Connect(context.Background(), nil))

	mux.OnPublishDataArrived(0, 3, "a/b", "hello")
	mux.OnPublishDataArrived(1, 4, "c", "world")
	mux.OnPublishDataArrived(4, 5, "unbound", "dropped")
	mux.OnLinkLost(0, 2)
	mux.OnLinkLost(3, 1)

	assert.Equal(t, []received{{3, "a/b", "hello"}}, first.messages)
	assert.Equal(t, []received{{4, "c", "world"}}, second.messages)
	assert.Equal(t, []int{2}, first.lost)
	assert.Empty(t, second.lost)

	assert.Equal(t, mqtt.StateDisconnected, c0.State())
	_, err = c0.Publish(context.Background(), "t", "x", 1, false)
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
}
