package mqtt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextMsgID(t *testing.T) {
	c := newClient(nil, 0, "broker", 1883, "gw")

	assert.Equal(t, 1, c.nextMsgID())
	assert.Equal(t, 2, c.nextMsgID())

	c.msgID.Store(maxMsgID - 1)
	assert.Equal(t, maxMsgID, c.nextMsgID())
	assert.Equal(t, 1, c.nextMsgID(), "wraps to 1, never 0")
}

func TestNextMsgIDConcurrent(t *testing.T) {
	c := newClient(nil, 0, "broker", 1883, "gw")

	const n = 500
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]bool)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := c.nextMsgID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.False(t, seen[0])
}

func TestClientStateMachine(t *testing.T) {
	c := newClient(nil, 2, "broker", 1883, "gw")
	assert.Equal(t, StateDisconnected, c.State())

	c.fire(eventConnectOK)
	assert.Equal(t, StateDisconnected, c.State(), "invalid events are ignored")

	c.fire(eventConnect)
	assert.Equal(t, StateConnecting, c.State())
	c.fire(eventConnectOK)
	assert.True(t, c.Connected())

	c.handleLinkLost(1)
	assert.Equal(t, StateDisconnected, c.State())
}
