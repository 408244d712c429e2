package modem

import (
	"context"
	"errors"
	"strings"

	"i4.energy/across/mqttgw/at"
)

// Response is the text the modem returned for a command, one entry per
// logical line. A successful command without output has no lines.
type Response struct {
	Lines []string
}

// Empty reports whether the command succeeded without producing output.
func (r Response) Empty() bool {
	return len(r.Lines) == 0
}

// Text joins the lines with newlines.
func (r Response) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Line returns the first line that starts with prefix.
func (r Response) Line(prefix string) (string, bool) {
	for _, l := range r.Lines {
		if strings.HasPrefix(l, prefix) {
			return l, true
		}
	}
	return "", false
}

// request is one entry of the single-flight queue served by Loop.
type request struct {
	ctx context.Context
	// line is written followed by CRLF; empty for WaitFor.
	line string
	// data is written as is, after line if both are set.
	data []byte
	// keyword, when set, completes the request with the first line
	// containing it.
	keyword string
	done    chan result
	// cancel is set on requests issued by the Loop itself.
	cancel context.CancelFunc
}

type result struct {
	resp Response
	err  error
}

type verdict int

const (
	// notConsumed lines go on to the event router.
	notConsumed verdict = iota
	// swallowed lines belong to the exchange but do not complete it.
	swallowed
	completed
)

// exchange correlates the lines read from the modem with the request being
// served. It is owned by the Loop goroutine.
type exchange struct {
	req   *request
	lines []string
}

func newExchange(req *request) *exchange {
	return &exchange{req: req}
}

func (x *exchange) offer(line string) verdict {
	if at.IsError(line) {
		x.complete(Response{Lines: []string{line}}, &ProviderError{Text: line})
		return completed
	}

	if x.req.keyword != "" {
		if x.req.line != "" && line == x.req.line {
			return swallowed
		}
		if x.matches(line) {
			x.complete(Response{Lines: []string{line}}, nil)
			return completed
		}
		return notConsumed
	}

	if line == at.OK {
		x.complete(Response{Lines: x.lines}, nil)
		return completed
	}
	return notConsumed
}

// matches reports whether line answers the keyword. The data prompt is a
// line of its own and must match exactly, since payloads may contain '>'.
func (x *exchange) matches(line string) bool {
	if x.req.keyword == at.Prompt {
		return line == at.Prompt
	}
	return strings.Contains(line, x.req.keyword)
}

// accumulate records a line that nothing else claimed. Only exchanges
// without a keyword keep such lines.
func (x *exchange) accumulate(line string) bool {
	if x.req.keyword != "" {
		return false
	}
	x.lines = append(x.lines, line)
	return true
}

// expire completes the exchange once its context is done. Replies that are
// not followed by OK still count as success when the deadline passes.
func (x *exchange) expire() {
	err := x.req.ctx.Err()
	switch {
	case errors.Is(err, context.DeadlineExceeded) && x.req.keyword == "" && len(x.lines) > 0:
		x.complete(Response{Lines: x.lines}, nil)
	case errors.Is(err, context.DeadlineExceeded):
		x.complete(Response{}, ErrTimeout)
	default:
		x.complete(Response{}, err)
	}
}

func (x *exchange) complete(resp Response, err error) {
	x.req.done <- result{resp: resp, err: err}
}
