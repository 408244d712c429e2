package modem_test

import (
	"io"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/mqttgw/modem"
)

// MockSequenceBuilder scripts a MockTransport: every expected command write
// releases its canned reply to the reader, which blocks in between like a
// serial port would.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	output    chan string
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		output:    make(chan string, 16),
		calls:     []any{},
	}
}

func (b *MockSequenceBuilder) expect(cmd, resp string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r\n")
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			b.output <- resp
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.expect("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) ATNoAnswer() *MockSequenceBuilder {
	return b.expect("AT", "")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.expect("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOffError() *MockSequenceBuilder {
	return b.expect("ATE0", "ERROR\r\n")
}

// Reads installs the reader side of the sequence. Reads return EOF once the
// returned stop function has been called.
func (b *MockSequenceBuilder) Reads() (stop func()) {
	b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		resp, ok := <-b.output
		if !ok {
			return 0, io.EOF
		}
		return copy(p, resp), nil
	}).AnyTimes()
	return func() { close(b.output) }
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
