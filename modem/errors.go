package modem

import (
	"errors"
	"strconv"
	"strings"

	"i4.energy/across/mqttgw/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoPortName is returned by SerialDialer when no serial port is set.
	ErrNoPortName = errors.New("modem: serial port name is required")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no transport, for example when the Dialer returned none.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every command issued after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned by Loop when another Loop is already
	// serving the same Modem.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrLoopStopped is returned to a command that was in flight when the
	// Loop terminated because the transport failed or reached EOF.
	ErrLoopStopped = errors.New("modem loop stopped")

	// ErrTimeout is returned when no line satisfying a command arrived before
	// its deadline.
	//
	// It is distinct from a successful command that produced no output, which
	// is reported as an empty Response and a nil error.
	ErrTimeout = errors.New("modem: command timed out")
)

// ProviderError is the explicit failure reported by the modem: an ERROR,
// +CME ERROR or +CMS ERROR line. Text holds the raw line.
type ProviderError struct {
	Text string
}

func (e *ProviderError) Error() string {
	return "modem: " + e.Text
}

// Code returns the numeric code of a +CME ERROR or +CMS ERROR line.
func (e *ProviderError) Code() (int, bool) {
	for _, prefix := range []string{at.CmeError, at.CmsError} {
		if rest, ok := strings.CutPrefix(e.Text, prefix); ok {
			code, err := strconv.Atoi(strings.TrimSpace(rest))
			return code, err == nil
		}
	}
	return 0, false
}
