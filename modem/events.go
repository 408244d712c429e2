package modem

import (
	"context"
	"log/slog"
	"sync"
)

// Event is an unsolicited notification decoded by the Loop: either
// LinkStateChanged or DataArrived.
type Event interface {
	SessionID() int
}

// LinkStateChanged reports that the modem closed or lost the MQTT link of
// a session (+QMTSTAT).
type LinkStateChanged struct {
	Session   int
	ErrorCode int
}

func (e LinkStateChanged) SessionID() int { return e.Session }

// DataArrived carries a publish received on a session (+QMTRECV).
type DataArrived struct {
	Session int
	MsgID   int
	Topic   string
	Payload string
}

func (e DataArrived) SessionID() int { return e.Session }

// Listener receives unsolicited events. Calls are made from a single
// dispatcher goroutine, never from the reader, so a Listener may issue
// commands on the Modem.
type Listener interface {
	OnLinkLost(session, errorCode int)
	OnPublishDataArrived(session, msgID int, topic, payload string)
}

type listenerSlot struct {
	mu sync.RWMutex
	l  Listener
}

func (s *listenerSlot) set(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l = l
}

func (s *listenerSlot) get() Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l
}

// SetListener registers the receiver of unsolicited events, replacing any
// previous one. A nil Listener discards events.
func (m *Modem) SetListener(l Listener) {
	m.listener.set(l)
}

// emit queues an event without blocking the reader.
func (m *Modem) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event channel full, dropping event",
			slog.Int("session", ev.SessionID()), slog.String("event", eventName(ev)))
	}
}

// dispatch delivers queued events to the listener until ctx is done.
func (m *Modem) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			l := m.listener.get()
			if l == nil {
				m.logger.Debug("no listener, event discarded", slog.String("event", eventName(ev)))
				continue
			}
			switch e := ev.(type) {
			case LinkStateChanged:
				l.OnLinkLost(e.Session, e.ErrorCode)
			case DataArrived:
				l.OnPublishDataArrived(e.Session, e.MsgID, e.Topic, e.Payload)
			}
		}
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case LinkStateChanged:
		return "link_state"
	case DataArrived:
		return "data_arrived"
	default:
		return "unknown"
	}
}
