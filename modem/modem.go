package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"i4.energy/across/mqttgw/at"
)

// Modem represents a cellular modem driven through AT commands.
//
// All transport I/O happens on the goroutine running Loop: it writes queued
// commands one at a time, correlates the lines read back with the command in
// flight and routes every other line to the unsolicited event handling.
// Send and the other command methods may be called from any goroutine.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	config    Config
	logger    *slog.Logger

	closed      atomic.Bool
	loopRunning atomic.Bool

	// requests is the single-flight queue: Loop accepts a request only
	// when no other request is in flight.
	requests chan *request
	events   chan Event
	listener listenerSlot

	// reads is fed by a single reader goroutine per Modem that outlives
	// individual Loop calls. It is closed after the first read error.
	reads      chan readResult
	readerOnce sync.Once
	readerDone chan struct{}
	stop       chan struct{}

	mu         sync.Mutex
	loopCancel context.CancelFunc
}

type readResult struct {
	line string
	err  error
}

// loopState is the state owned by the Loop goroutine.
type loopState struct {
	cur *exchange
	// fetches holds buffered publishes announced by a short +QMTRECV and
	// not yet retrieved.
	fetches []at.Receive
}

// New creates a new Modem with the given configuration. It establishes the
// transport connection through the configured Dialer. The modem is usable
// once Loop runs; Init performs the basic handshake.
func New(ctx context.Context, config Config) (*Modem, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Modem{
		transport: transport,
		config:    config,
		logger:    config.Logger.With(slog.String("component", "modem")),
		requests:   make(chan *request),
		events:     make(chan Event, config.EventBuffer),
		reads:      make(chan readResult),
		readerDone: make(chan struct{}),
		stop:       make(chan struct{}),
	}, nil
}

// Init checks that the modem answers and turns command echo off.
func (m *Modem) Init(ctx context.Context) error {
	ready, err := m.IsReady(ctx)
	if err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	if !ready {
		return errors.New("modem not responding")
	}
	if err := m.EchoOff(ctx); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	return nil
}

// Loop is the main event loop that handles all transport I/O operations.
// It must be running for any command to complete.
//
// Loop runs until ctx is cancelled, Close is called or the transport fails.
// It returns ctx.Err() on cancellation, io.EOF when the transport is
// exhausted and the wrapped read error otherwise. A command in flight at
// that moment fails with the same cause.
//
// Usage:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//	resp, err := m.Send(ctx, "AT+CSQ")
func (m *Modem) Loop(ctx context.Context) error {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.loopCancel = cancel
	m.mu.Unlock()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		m.dispatch(ctx)
	}()
	defer func() {
		cancel()
		<-dispatched
	}()

	m.readerOnce.Do(func() {
		go func() {
			defer close(m.readerDone)
			m.read()
		}()
	})

	st := &loopState{}
	for {
		if st.cur == nil && len(st.fetches) > 0 {
			rcv := st.fetches[0]
			st.fetches = st.fetches[1:]
			st.cur = m.fetch(ctx, rcv)
			continue
		}

		var (
			queue   chan *request
			curDone <-chan struct{}
		)
		if st.cur == nil {
			queue = m.requests
		} else {
			curDone = st.cur.req.ctx.Done()
		}

		select {
		case <-ctx.Done():
			m.abort(st, ctx.Err())
			return ctx.Err()

		case req := <-queue:
			st.cur = m.start(req)

		case <-curDone:
			st.cur.expire()
			m.settle(st.cur)
			st.cur = nil

		case r, ok := <-m.reads:
			if !ok {
				m.abort(st, ErrLoopStopped)
				return ErrLoopStopped
			}
			if r.err == nil {
				m.route(st, r.line)
				continue
			}
			if ctx.Err() != nil {
				m.abort(st, ctx.Err())
				return ctx.Err()
			}
			m.abort(st, fmt.Errorf("%w: %w", ErrLoopStopped, r.err))
			if errors.Is(r.err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read: %w", r.err)
		}
	}
}

// read frames lines from the transport and hands them to whichever Loop is
// running. It stops after the first read error or once the modem is closed.
func (m *Modem) read() {
	defer close(m.reads)

	framer := at.NewFramer(m.transport,
		at.WithPollInterval(m.config.PollInterval),
		at.WithLineTimeout(m.config.LineTimeout))

	for {
		line, err := framer.ReadLine()
		if errors.Is(err, at.ErrIdle) || (err == nil && line == "") {
			select {
			case <-m.stop:
				return
			default:
			}
			continue
		}
		select {
		case m.reads <- readResult{line: line, err: err}:
		case <-m.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// start writes a request and returns the exchange correlating its answer.
// It returns nil when the request completed immediately.
func (m *Modem) start(req *request) *exchange {
	x := newExchange(req)
	if req.ctx.Err() != nil {
		x.expire()
		return nil
	}
	if req.line != "" {
		m.logger.Debug("tx", slog.String("cmd", req.line))
		if _, err := m.transport.Write([]byte(req.line + at.CRLF)); err != nil {
			x.complete(Response{}, fmt.Errorf("write command %q: %w", req.line, err))
			return nil
		}
	}
	if req.data != nil {
		m.logger.Debug("tx data", slog.Int("bytes", len(req.data)))
		if _, err := m.transport.Write(req.data); err != nil {
			x.complete(Response{}, fmt.Errorf("write data: %w", err))
			return nil
		}
	}
	return x
}

// fetch issues the retrieval of a buffered publish on behalf of the Loop.
// The inline +QMTRECV it produces is routed as an ordinary event.
func (m *Modem) fetch(ctx context.Context, rcv at.Receive) *exchange {
	fctx, cancel := context.WithTimeout(ctx, m.config.ATTimeout)
	req := &request{
		ctx:    fctx,
		line:   rcv.String(),
		done:   make(chan result, 1),
		cancel: cancel,
	}
	x := m.start(req)
	if x == nil {
		m.settle(newExchange(req))
	}
	return x
}

// settle releases a completed request issued by the Loop itself. Caller
// requests are released by the caller reading the result.
func (m *Modem) settle(x *exchange) {
	if x.req.cancel == nil {
		return
	}
	res := <-x.req.done
	x.req.cancel()
	if res.err != nil {
		m.logger.Warn("fetch of buffered publish failed",
			slog.String("cmd", x.req.line), slog.Any("error", res.err))
	}
}

func (m *Modem) abort(st *loopState, err error) {
	if st.cur == nil {
		return
	}
	st.cur.complete(Response{}, err)
	m.settle(st.cur)
	st.cur = nil
}

// route applies the classification order to one line: errors and the armed
// keyword first, then the known notifications, then the fallback response.
func (m *Modem) route(st *loopState, line string) {
	m.logger.Debug("rx", slog.String("line", line), slog.String("type", at.Classify(line).String()))

	if st.cur != nil {
		switch st.cur.offer(line) {
		case completed:
			m.settle(st.cur)
			st.cur = nil
			return
		case swallowed:
			return
		}
	}

	switch {
	case strings.HasPrefix(line, at.UrcMQTTState):
		ev, err := at.ParseStateEvent(line)
		if err != nil {
			m.logger.Warn("dropping malformed notification", slog.Any("error", err))
			return
		}
		m.emit(LinkStateChanged{Session: ev.Session, ErrorCode: ev.ErrorCode})

	case strings.HasPrefix(line, at.UrcMQTTRecv):
		ev, err := at.ParseRecvEvent(line)
		if err != nil {
			m.logger.Warn("dropping malformed notification", slog.Any("error", err))
			return
		}
		if !ev.Inline {
			st.fetches = append(st.fetches, at.Receive{Session: ev.Session, MsgID: ev.MsgID})
			return
		}
		m.emit(DataArrived{Session: ev.Session, MsgID: ev.MsgID, Topic: ev.Topic, Payload: ev.Payload})

	default:
		if st.cur == nil || !st.cur.accumulate(line) {
			m.logger.Debug("unclaimed line dropped", slog.String("line", line))
		}
	}
}

// do queues a request and waits for its result.
func (m *Modem) do(ctx context.Context, req *request) (Response, error) {
	if m.closed.Load() {
		return Response{}, ErrAlreadyClosed
	}
	if m.transport == nil {
		return Response{}, ErrNotInitialized
	}

	// Apply per-command timeout if context has none
	if _, ok := ctx.Deadline(); !ok && m.config.ATTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ATTimeout)
		defer cancel()
	}

	req.ctx = ctx
	req.done = make(chan result, 1)

	select {
	case m.requests <- req:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, ErrTimeout
		}
		return Response{}, ctx.Err()
	}

	res := <-req.done
	return res.resp, res.err
}

// Send writes cmd and waits for OK. The lines received before OK are
// returned; a reply without terminator is returned when the deadline passes.
func (m *Modem) Send(ctx context.Context, cmd string) (Response, error) {
	return m.do(ctx, &request{line: cmd})
}

// SendExpecting writes cmd and returns the first line containing keyword.
// Lines not containing it are left to the event router.
func (m *Modem) SendExpecting(ctx context.Context, cmd, keyword string) (Response, error) {
	return m.do(ctx, &request{line: cmd, keyword: keyword})
}

// WaitFor writes nothing and returns the next line containing keyword.
func (m *Modem) WaitFor(ctx context.Context, keyword string) (Response, error) {
	return m.do(ctx, &request{keyword: keyword})
}

// SendData writes payload as is, without line terminator, and returns the
// first line containing keyword. It follows a command answered by the data
// prompt.
func (m *Modem) SendData(ctx context.Context, payload []byte, keyword string) (Response, error) {
	if payload == nil {
		payload = []byte{}
	}
	return m.do(ctx, &request{data: payload, keyword: keyword})
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	close(m.stop)
	m.mu.Lock()
	cancel := m.loopCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	var err error
	if m.transport != nil {
		err = m.transport.Close()
	}
	// Closing the transport unblocks a pending read. A reader that never
	// started is marked as finished.
	m.readerOnce.Do(func() {
		close(m.reads)
		close(m.readerDone)
	})
	<-m.readerDone
	return err
}
