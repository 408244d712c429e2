package modem

import (
	"io"
	"strings"
	"sync"
)

// TestTransport is a scripted in-memory Transport for tests.
//
// Reads block until data is queued, like a serial port would. Data is queued
// either directly with SendData, simulating unsolicited output, or as the
// scripted reply to a write registered with Reply.
type TestTransport struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	pending []byte
	closed  bool

	replies map[string][][]string
	writes  []string
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	t := &TestTransport{replies: make(map[string][][]string)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Reply queues chunks to be read after the next write of cmd. Trailing CR and
// LF of the written bytes are ignored when matching, so cmd may be a command
// or a raw payload. Replies registered for the same cmd are used in order.
func (t *TestTransport) Reply(cmd string, chunks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = append(t.replies[cmd], chunks)
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enqueue(data)
}

func (t *TestTransport) enqueue(chunks ...string) {
	if t.closed {
		return
	}
	for _, c := range chunks {
		t.queue = append(t.queue, []byte(c))
	}
	t.cond.Broadcast()
}

// Writes returns everything written so far, one entry per Write call.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	t.writes = append(t.writes, string(p))

	key := strings.TrimRight(string(p), "\r\n")
	if scripted := t.replies[key]; len(scripted) > 0 {
		t.replies[key] = scripted[1:]
		t.enqueue(scripted[0]...)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.pending) == 0 && len(t.queue) == 0 && !t.closed {
		t.cond.Wait()
	}
	if len(t.pending) == 0 {
		if len(t.queue) == 0 {
			return 0, io.EOF
		}
		t.pending, t.queue = t.queue[0], t.queue[1:]
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return nil
}
