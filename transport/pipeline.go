package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mindfry/protocol"
)

var (
	ErrBackpressure      = errors.New("transport: pipeline backpressure")
	ErrPipelineDestroyed = errors.New("transport: pipeline destroyed")
	ErrRequestTimeout    = errors.New("transport: request timeout")
	ErrConnectionFailed  = errors.New("transport: connection failed")
	ErrConnectionClosed  = errors.New("transport: connection closed")
)

// State is the lifecycle position of a Pipeline.
type State int

const (
	StateIdle      State = iota // no requests in flight
	StateActive                 // at least one request in flight
	StateDestroyed              // terminal; every send fails
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option customises a Pipeline at construction.
type Option func(*Pipeline)

// WithLogger sets the logger used for anomalies and lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock replaces time.Now for request ageing.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics sets the collectors the pipeline reports to. nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline multiplexes concurrent requests over one Stream.
//
// MFBP carries no request identifier on the wire: the server answers in the
// order it received requests, so every response completes the oldest pending
// request. Sequence identities are local bookkeeping only.
//
// Thread safety: Send, Request, PendingCount and Destroy are safe for
// concurrent use. Stream events and the timeout sweep serialize on mu.
//
// Send holds sendMu across Stream.Write so that wire order always equals
// pending-table order. A Send therefore waits behind a slow write from another
// goroutine; the wait is bounded by the stream's write timeout. A write that
// fails after part of a frame reached the wire (ErrPartialWrite) leaves the
// stream misaligned, so it is terminal like a framing error on receive.
type Pipeline struct {
	id      string
	stream  Stream
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
	metrics *Metrics

	// sendMu orders allocate+insert+write so the pending table matches wire order.
	sendMu sync.Mutex

	mu       sync.Mutex // protects fields below
	seq      uint32
	pending  *pendingTable
	rbuf     []byte
	terminal error // set once; the error every later send fails with

	stopSweep   chan struct{}
	sweepDone   chan struct{}
	stopOnce    sync.Once
	destroyOnce sync.Once
}

// NewPipeline takes ownership of stream, subscribes to its events and starts
// the timeout sweep.
func NewPipeline(stream Stream, cfg Config, opts ...Option) *Pipeline {
	cfg.applyDefaults()

	p := &Pipeline{
		id:        uuid.NewString(),
		stream:    stream,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		now:       time.Now,
		metrics:   DefaultMetrics(),
		pending:   newPendingTable(),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().
		Str("pipeline", p.id).
		Str("remote", stream.RemoteAddr()).
		Logger()

	go p.sweepLoop()
	stream.Subscribe(pipelineEvents{p})
	return p
}

// ID returns the pipeline's instance identifier, used in log lines.
func (p *Pipeline) ID() string { return p.id }

// Config returns the effective configuration after defaults.
func (p *Pipeline) Config() Config { return p.cfg }

// Send queues an encoded frame and returns its future.
//
// The future is already rejected when the pipeline is destroyed, when
// MaxPending requests are in flight (ErrBackpressure), or when the stream
// refuses the write. op is recorded for diagnostics only.
func (p *Pipeline) Send(frame []byte, op protocol.OpCode) *Future {
	if len(frame) > p.cfg.MaxFrameSize {
		p.metrics.rejectedBeforeSend(op, outcomeWriteError)
		return rejectedFuture(fmt.Errorf("%w: %d bytes (max %d)", protocol.ErrFrameTooLarge, len(frame), p.cfg.MaxFrameSize))
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	if p.terminal != nil {
		err := p.terminal
		p.mu.Unlock()
		p.metrics.rejectedBeforeSend(op, outcomeDestroyed)
		return rejectedFuture(err)
	}
	if n := p.pending.len(); n >= p.cfg.MaxPending {
		p.mu.Unlock()
		p.metrics.rejectedBeforeSend(op, outcomeBackpressure)
		return rejectedFuture(fmt.Errorf("%w: %d pending requests", ErrBackpressure, n))
	}
	seq := p.nextSeqLocked()
	req := &pendingRequest{
		seq:        seq,
		fut:        newFuture(seq),
		op:         op,
		enqueuedAt: p.now(),
	}
	p.pending.pushBack(req)
	p.mu.Unlock()
	p.metrics.sent()

	if err := p.stream.Write(frame); err != nil {
		p.mu.Lock()
		removed := p.pending.removeBack(seq)
		p.mu.Unlock()
		// If another path already took the entry, its result stands.
		if removed != nil {
			removed.fut.reject(err)
			p.metrics.completed(op, outcomeWriteError, p.now().Sub(removed.enqueuedAt))
			p.logger.Debug().Err(err).Uint32("seq", seq).Stringer("op", op).Msg("write failed; request rolled back")
		}
		if errors.Is(err, ErrPartialWrite) {
			p.logger.Error().Err(err).Msg("frame cut off mid-write; closing connection")
			p.abort(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
		}
	}
	return req.fut
}

// Request encodes payload under op, sends it and waits for the response.
// A cancelled ctx ends the wait but not the request.
func (p *Pipeline) Request(ctx context.Context, op protocol.OpCode, payload []byte) ([]byte, error) {
	frame, err := protocol.EncodeFrameMax(op, payload, p.cfg.MaxFrameSize)
	if err != nil {
		return nil, err
	}
	return p.Send(frame, op).Wait(ctx)
}

// PendingCount returns the number of requests in flight.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.len()
}

// State reports the lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.terminal != nil:
		return StateDestroyed
	case p.pending.len() > 0:
		return StateActive
	default:
		return StateIdle
	}
}

// Err returns the error that moved the pipeline to StateDestroyed, or nil.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Destroy stops the sweep, rejects every pending request with
// ErrPipelineDestroyed and closes the stream. Safe to call more than once.
func (p *Pipeline) Destroy() {
	p.destroyOnce.Do(func() {
		n := p.fail(ErrPipelineDestroyed, outcomeDestroyed)
		p.stopSweeper()
		if err := p.stream.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("stream close")
		}
		p.logger.Debug().Int("rejected", n).Msg("pipeline destroyed")
	})
}

// nextSeqLocked allocates the next identity, wrapping at 2^32 and skipping
// any identity that is somehow still pending.
func (p *Pipeline) nextSeqLocked() uint32 {
	for {
		p.seq++
		if !p.pending.contains(p.seq) {
			return p.seq
		}
	}
}

func (p *Pipeline) onData(chunk []byte) {
	p.metrics.bytesReceived(len(chunk))

	p.mu.Lock()
	if p.terminal != nil {
		p.mu.Unlock()
		return
	}
	p.rbuf = append(p.rbuf, chunk...)

	var fatal error
	off := 0
	for {
		f, ok, err := protocol.ParseFrame(p.rbuf[off:], p.cfg.MaxFrameSize)
		if err != nil {
			fatal = err
			break
		}
		if !ok {
			break
		}
		p.dispatchLocked(f)
		off += f.Len
	}
	if off > 0 {
		n := copy(p.rbuf, p.rbuf[off:])
		p.rbuf = p.rbuf[:n]
	}
	p.mu.Unlock()

	if fatal != nil {
		p.logger.Error().Err(fatal).Msg("stream lost frame alignment; closing connection")
		p.abort(fmt.Errorf("%w: %w", ErrConnectionFailed, fatal))
	}
}

// abort fails the pipeline with cause and closes the stream. Used when the
// byte stream can no longer be trusted to be frame-aligned.
func (p *Pipeline) abort(cause error) {
	p.fail(cause, outcomeConnection)
	p.stopSweeper()
	if err := p.stream.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("stream close")
	}
}

// dispatchLocked completes the oldest pending request with f.
func (p *Pipeline) dispatchLocked(f protocol.Frame) {
	req := p.pending.popFront()
	if req == nil {
		p.metrics.unmatchedResponse()
		p.logger.Warn().Stringer("op", f.Op).Int("len", f.Len).Msg("received response with no pending request")
		return
	}
	elapsed := p.now().Sub(req.enqueuedAt)

	if f.Op != protocol.OpResponseError {
		req.fut.resolve(f.Payload)
		p.metrics.completed(req.op, outcomeOK, elapsed)
		return
	}

	perr, err := protocol.DecodeErrorPayload(f.Payload)
	if err != nil {
		req.fut.reject(fmt.Errorf("%s: %w", req.op, err))
	} else {
		req.fut.reject(perr)
	}
	p.metrics.completed(req.op, outcomeProtocolError, elapsed)
}

func (p *Pipeline) onTransportError(err error) {
	p.logger.Warn().Err(err).Msg("connection failed")
	p.fail(fmt.Errorf("%w: %w", ErrConnectionFailed, err), outcomeConnection)
	p.stopSweeper()
}

func (p *Pipeline) onTransportClose() {
	p.logger.Debug().Msg("connection closed")
	p.fail(ErrConnectionClosed, outcomeConnection)
	p.stopSweeper()
}

// fail moves the pipeline to its terminal state and rejects everything in
// flight with cause. Only the first call has any effect; it returns the
// number of requests rejected.
func (p *Pipeline) fail(cause error, outcome string) int {
	p.mu.Lock()
	if p.terminal != nil {
		p.mu.Unlock()
		return 0
	}
	p.terminal = cause
	drained := p.pending.drain()
	p.rbuf = nil
	p.mu.Unlock()

	now := p.now()
	for _, req := range drained {
		req.fut.reject(cause)
		p.metrics.completed(req.op, outcome, now.Sub(req.enqueuedAt))
	}
	return len(drained)
}

func (p *Pipeline) stopSweeper() {
	p.stopOnce.Do(func() {
		close(p.stopSweep)
	})
	<-p.sweepDone
}

func (p *Pipeline) sweepLoop() {
	defer close(p.sweepDone)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.sweepExpired()
		}
	}
}

// sweepExpired rejects every request older than the configured timeout.
func (p *Pipeline) sweepExpired() {
	now := p.now()
	timeout := p.cfg.Timeout

	p.mu.Lock()
	expired := p.pending.removeIf(func(req *pendingRequest) bool {
		return now.Sub(req.enqueuedAt) > timeout
	})
	p.mu.Unlock()

	for _, req := range expired {
		age := now.Sub(req.enqueuedAt)
		req.fut.reject(fmt.Errorf("%w after %s (%s, seq %d)", ErrRequestTimeout, timeout, req.op, req.seq))
		p.metrics.completed(req.op, outcomeTimeout, age)
		p.logger.Debug().Uint32("seq", req.seq).Stringer("op", req.op).Dur("age", age).Msg("request timed out")
	}
}

// pipelineEvents keeps the stream callbacks off the Pipeline's public API.
type pipelineEvents struct{ p *Pipeline }

func (e pipelineEvents) OnData(b []byte)   { e.p.onData(b) }
func (e pipelineEvents) OnError(err error) { e.p.onTransportError(err) }
func (e pipelineEvents) OnClose()          { e.p.onTransportClose() }
