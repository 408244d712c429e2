package mqtt

import (
	"fmt"
	"log/slog"
	"sync"

	"i4.energy/across/mqttgw/modem"
)

// Mux binds MQTT sessions to one modem. It implements modem.Listener and
// forwards each unsolicited event to the client owning the session id.
type Mux struct {
	dev    Device
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[int]*Client
}

var _ modem.Listener = (*Mux)(nil)

func NewMux(dev Device, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		dev:     dev,
		logger:  logger,
		clients: make(map[int]*Client),
	}
}

// Client creates the client of session id. Each session id may be bound
// once.
func (x *Mux) Client(session int, server string, port int, clientID string, opts ...Option) (*Client, error) {
	if session < 0 || session >= MaxSessions {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSession, session)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.clients[session]; ok {
		return nil, fmt.Errorf("%w: %d already in use", ErrInvalidSession, session)
	}

	opts = append([]Option{WithLogger(x.logger)}, opts...)
	c := newClient(x.dev, session, server, port, clientID, opts...)
	x.clients[session] = c
	return c, nil
}

// Release unbinds session so that its id can be reused.
func (x *Mux) Release(session int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.clients, session)
}

func (x *Mux) lookup(session int) *Client {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.clients[session]
}

func (x *Mux) OnLinkLost(session, errorCode int) {
	c := x.lookup(session)
	if c == nil {
		x.logger.Debug("link lost on unbound session", slog.Int("session", session), slog.Int("error_code", errorCode))
		return
	}
	c.handleLinkLost(errorCode)
}

func (x *Mux) OnPublishDataArrived(session, msgID int, topic, payload string) {
	c := x.lookup(session)
	if c == nil {
		x.logger.Debug("publish on unbound session", slog.Int("session", session), slog.String("topic", topic))
		return
	}
	c.handleData(msgID, topic, payload)
}
