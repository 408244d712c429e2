package at

import (
	"io"
	"strings"
	"time"
)

const (
	// DefaultPollInterval is how long the Framer sleeps when the reader has
	// nothing available.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultLineTimeout bounds the wait for one complete line.
	DefaultLineTimeout = 4 * time.Second

	readBufferSize = 256
)

// Framer turns the raw byte stream of a modem into logical lines.
//
// A line is terminated by CR; the LF that usually follows is discarded, as is
// every other byte below 0x20. The data input prompt (">") is never terminated
// by the modem, so it is returned as a line of its own as soon as it is seen at
// the start of a line.
//
// The reader may be non-blocking (returning 0 bytes when nothing is ready) or
// blocking with a read timeout, as a serial port opened by SerialDialer is. In
// both cases the Framer sleeps PollInterval between empty reads and gives up
// after LineTimeout with ErrIdle.
type Framer struct {
	r            io.Reader
	pollInterval time.Duration
	lineTimeout  time.Duration

	buf     []byte
	pending []byte
	line    []byte
	err     error

	dropLF      bool
	afterPrompt bool
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithPollInterval sets the sleep between reads that returned no data.
func WithPollInterval(d time.Duration) FramerOption {
	return func(f *Framer) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithLineTimeout sets how long ReadLine waits for a complete line.
func WithLineTimeout(d time.Duration) FramerOption {
	return func(f *Framer) {
		if d > 0 {
			f.lineTimeout = d
		}
	}
}

// NewFramer returns a Framer reading from r.
func NewFramer(r io.Reader, opts ...FramerOption) *Framer {
	f := &Framer{
		r:            r,
		pollInterval: DefaultPollInterval,
		lineTimeout:  DefaultLineTimeout,
		buf:          make([]byte, readBufferSize),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ReadLine returns the next logical line without its terminator. Empty lines
// are returned as "" and should be skipped by the caller.
//
// ErrIdle is returned when no complete line arrived within the line timeout;
// any partial line is discarded in that case. Reader errors are returned once
// all bytes read before them have been framed. A partial line pending at
// io.EOF is returned as a final line.
func (f *Framer) ReadLine() (string, error) {
	start := time.Now()
	for {
		if line, ok := f.scan(); ok {
			return line, nil
		}

		if f.err != nil {
			err := f.err
			if err == io.EOF && len(f.line) > 0 {
				return f.take(), nil
			}
			return "", err
		}

		n, err := f.r.Read(f.buf)
		if n > 0 {
			f.pending = f.buf[:n]
		}
		if err != nil {
			f.err = err
			continue
		}
		if n > 0 {
			continue
		}

		if time.Since(start) >= f.lineTimeout {
			f.line = f.line[:0]
			f.dropLF = false
			return "", ErrIdle
		}
		time.Sleep(f.pollInterval)
	}
}

// scan consumes pending bytes until a line is complete.
func (f *Framer) scan() (string, bool) {
	for len(f.pending) > 0 {
		b := f.pending[0]
		f.pending = f.pending[1:]

		if f.dropLF {
			f.dropLF = false
			if b == LF {
				continue
			}
		}
		if f.afterPrompt {
			f.afterPrompt = false
			if b == ' ' {
				continue
			}
		}

		switch {
		case b == CR:
			f.dropLF = true
			return f.take(), true
		case b < 0x20:
			continue
		}

		f.line = append(f.line, b)
		if len(f.line) == 1 && b == Prompt[0] {
			if len(f.pending) == 0 || f.pending[0] == ' ' {
				f.afterPrompt = true
				return f.take(), true
			}
		}
	}
	return "", false
}

func (f *Framer) take() string {
	line := string(f.line)
	f.line = f.line[:0]
	return line
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	if line == OK {
		return TypeFinal
	}

	// Prefix matches
	switch {
	case IsError(line):
		return TypeError
	case strings.HasPrefix(line, UrcMQTTState), strings.HasPrefix(line, UrcMQTTRecv):
		return TypeURC
	default:
		return TypeData
	}
}

// IsError reports whether line is a final error result.
func IsError(line string) bool {
	return line == ERROR ||
		strings.HasPrefix(line, CmeError) ||
		strings.HasPrefix(line, CmsError)
}
