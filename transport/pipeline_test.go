package transport

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindfry/protocol"
)

// fakeStream captures writes and lets tests push events the way a real
// stream's read goroutine would.
type fakeStream struct {
	mu       sync.Mutex
	h        Handler
	writes   [][]byte
	writeErr error
	closed   bool

	// beforeWrite, when set, runs outside mu at the start of every Write.
	beforeWrite func(p []byte)
}

func (s *fakeStream) Write(p []byte) error {
	if s.beforeWrite != nil {
		s.beforeWrite(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return nil
}

func (s *fakeStream) Subscribe(h Handler) { s.h = h }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) RemoteAddr() string { return "fake" }

func (s *fakeStream) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newTestPipeline(t *testing.T, cfg Config, opts ...Option) (*Pipeline, *fakeStream) {
	t.Helper()
	s := &fakeStream{}
	opts = append([]Option{WithMetrics(nil)}, opts...)
	p := NewPipeline(s, cfg, opts...)
	t.Cleanup(p.Destroy)
	return p, s
}

func mustFrame(t *testing.T, op protocol.OpCode, payload []byte) []byte {
	t.Helper()
	b, err := protocol.EncodeFrame(op, payload)
	require.NoError(t, err)
	return b
}

func mustErrorFrame(t *testing.T, code protocol.ErrorCode, msg string) []byte {
	t.Helper()
	payload, err := protocol.EncodeErrorPayload(code, msg)
	require.NoError(t, err)
	return mustFrame(t, protocol.OpResponseError, payload)
}

func waitFuture(t *testing.T, f *Future) ([]byte, error) {
	t.Helper()
	select {
	case <-f.Done():
		return f.Result()
	case <-time.After(2 * time.Second):
		t.Fatal("future did not complete")
		return nil, nil
	}
}

func isDone(f *Future) bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}

func TestPipeline_FIFOMatching(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	const n = 5
	futures := make([]*Future, n)
	for i := range futures {
		futures[i] = p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	}
	require.Equal(t, n, p.PendingCount())
	require.Equal(t, StateActive, p.State())
	require.Equal(t, n, s.writeCount())

	// All responses in one chunk, followed by the first bytes of a stray frame.
	var chunk []byte
	for i := 0; i < n; i++ {
		chunk = append(chunk, mustFrame(t, protocol.OpResponseOK, []byte(fmt.Sprintf("resp-%d", i)))...)
	}
	chunk = append(chunk, 0x09, 0x00)
	s.h.OnData(chunk)

	for i, f := range futures {
		payload, err := waitFuture(t, f)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("resp-%d", i), string(payload), "future %d", i)
	}
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, StateIdle, p.State())

	p.mu.Lock()
	assert.Equal(t, []byte{0x09, 0x00}, p.rbuf)
	p.mu.Unlock()
}

func TestPipeline_Backpressure(t *testing.T) {
	p, s := newTestPipeline(t, Config{MaxPending: 2})

	f1 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	f2 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)

	p.mu.Lock()
	seqBefore := p.seq
	p.mu.Unlock()

	f3 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	require.True(t, isDone(f3), "backpressure must reject immediately")
	_, err := f3.Result()
	require.ErrorIs(t, err, ErrBackpressure)

	p.mu.Lock()
	assert.Equal(t, seqBefore, p.seq, "sequence counter must not move")
	p.mu.Unlock()
	assert.Equal(t, 2, p.PendingCount())
	assert.Equal(t, 2, s.writeCount(), "rejected send must not touch the stream")
	assert.False(t, isDone(f1))
	assert.False(t, isDone(f2))

	// Space frees up once a response arrives.
	s.h.OnData(mustFrame(t, protocol.OpResponsePong, nil))
	_, err = waitFuture(t, f1)
	require.NoError(t, err)

	f4 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	assert.False(t, isDone(f4))
	assert.Equal(t, 2, p.PendingCount())
}

func TestPipeline_SplitFrameDelivery(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	f := p.Send(mustFrame(t, protocol.OpLineageGet, []byte("k")), protocol.OpLineageGet)
	resp := mustFrame(t, protocol.OpResponseLineage, []byte("abcdefghi"))

	s.h.OnData(resp[:protocol.HeaderSize])
	assert.False(t, isDone(f))
	s.h.OnData(resp[protocol.HeaderSize : protocol.HeaderSize+3])
	assert.False(t, isDone(f))
	s.h.OnData(resp[protocol.HeaderSize+3 : protocol.HeaderSize+6])
	assert.False(t, isDone(f))
	assert.Equal(t, 1, p.PendingCount())

	s.h.OnData(resp[protocol.HeaderSize+6:])
	payload, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghi", string(payload))
	assert.Equal(t, 0, p.PendingCount())

	p.mu.Lock()
	assert.Empty(t, p.rbuf)
	p.mu.Unlock()
}

func TestPipeline_SplitHeader(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	f := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	resp := mustFrame(t, protocol.OpResponsePong, []byte{1, 2})

	for _, b := range resp[:len(resp)-1] {
		s.h.OnData([]byte{b})
		require.False(t, isDone(f))
	}
	s.h.OnData(resp[len(resp)-1:])
	payload, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, payload)
}

func TestPipeline_ErrorResponse(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	f := p.Send(mustFrame(t, protocol.OpLineageGet, []byte("missing")), protocol.OpLineageGet)
	s.h.OnData(mustErrorFrame(t, 2, "not found"))

	_, err := waitFuture(t, f)
	require.Error(t, err)

	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, protocol.ErrorCode(2), perr.Code)
	assert.Equal(t, "not found", perr.Message)
	assert.True(t, protocol.IsCode(err, protocol.ErrCodeNotFound))
	assert.Equal(t, 0, p.PendingCount())
}

func TestPipeline_ErrorResponseUnknownCode(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	f := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	s.h.OnData(mustErrorFrame(t, 0xEE, "future failure"))

	_, err := waitFuture(t, f)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.ErrorCode(0xEE), perr.Code)
	assert.Equal(t, "future failure", perr.Message)
}

func TestPipeline_MalformedErrorResponse(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	f1 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	f2 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)

	// Code byte present, string length prefix truncated.
	s.h.OnData(mustFrame(t, protocol.OpResponseError, []byte{0x02, 0x05}))
	s.h.OnData(mustFrame(t, protocol.OpResponsePong, nil))

	_, err := waitFuture(t, f1)
	require.ErrorIs(t, err, protocol.ErrOutOfRange)

	_, err = waitFuture(t, f2)
	require.NoError(t, err, "later requests stay aligned")
}

func TestPipeline_DestroyRejectsPending(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	futures := make([]*Future, 3)
	for i := range futures {
		futures[i] = p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	}
	require.Equal(t, 3, p.PendingCount())

	p.Destroy()

	for i, f := range futures {
		_, err := waitFuture(t, f)
		assert.ErrorIs(t, err, ErrPipelineDestroyed, "future %d", i)
	}
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, StateDestroyed, p.State())
	assert.True(t, s.isClosed())

	_, err := waitFuture(t, p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing))
	assert.ErrorIs(t, err, ErrPipelineDestroyed)
	assert.Equal(t, 3, s.writeCount(), "post-destroy send must not write")

	// Idempotent.
	p.Destroy()
}

func TestPipeline_RequestTimeout(t *testing.T) {
	p, _ := newTestPipeline(t, Config{Timeout: 50 * time.Millisecond, SweepInterval: 10 * time.Millisecond})

	f := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)

	select {
	case <-f.Done():
	case <-time.After(150 * time.Millisecond):
		t.Fatal("request was not timed out within 150ms")
	}
	_, err := f.Result()
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, StateIdle, p.State(), "timeouts do not end the pipeline")
}

func TestPipeline_TimeoutSweepUsesClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	p, _ := newTestPipeline(t, Config{Timeout: time.Second}, WithClock(clock))

	old := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	advance(600 * time.Millisecond)
	young := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	advance(600 * time.Millisecond)

	p.sweepExpired()

	require.True(t, isDone(old))
	_, err := old.Result()
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.False(t, isDone(young))
	assert.Equal(t, 1, p.PendingCount())
}

func TestPipeline_SequenceWraps(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	p.mu.Lock()
	p.seq = 0xFFFFFFFE
	p.mu.Unlock()

	a := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	b := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	assert.Equal(t, uint32(0xFFFFFFFF), a.Seq())
	assert.Equal(t, uint32(0), b.Seq())

	// Force the counter back so the next candidate collides with b.
	p.mu.Lock()
	p.seq = 0xFFFFFFFF
	p.mu.Unlock()

	c := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	assert.Equal(t, uint32(1), c.Seq(), "pending identity 0 must be skipped")

	s.h.OnData(append(append(
		mustFrame(t, protocol.OpResponseOK, []byte("a")),
		mustFrame(t, protocol.OpResponseOK, []byte("b"))...),
		mustFrame(t, protocol.OpResponseOK, []byte("c"))...))

	for want, f := range map[string]*Future{"a": a, "b": b, "c": c} {
		payload, err := waitFuture(t, f)
		require.NoError(t, err)
		assert.Equal(t, want, string(payload))
	}
}

func TestPipeline_WriteFailureRollsBack(t *testing.T) {
	p, s := newTestPipeline(t, Config{})
	writeErr := errors.New("broken pipe")

	ok := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)

	s.mu.Lock()
	s.writeErr = writeErr
	s.mu.Unlock()

	failed := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	require.True(t, isDone(failed))
	_, err := failed.Result()
	require.ErrorIs(t, err, writeErr)
	assert.Equal(t, 1, p.PendingCount())

	// The next response belongs to the request that was actually written.
	s.h.OnData(mustFrame(t, protocol.OpResponsePong, []byte("pong")))
	payload, err := waitFuture(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(payload))
}

func TestPipeline_PartialWriteIsTerminal(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	written := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)

	s.mu.Lock()
	s.writeErr = fmt.Errorf("%w: 3 of 5 bytes", ErrPartialWrite)
	s.mu.Unlock()

	cut := p.Send(mustFrame(t, protocol.OpSysStats, nil), protocol.OpSysStats)
	_, err := waitFuture(t, cut)
	assert.ErrorIs(t, err, ErrPartialWrite)

	// Nothing after the cut frame can be matched reliably.
	_, err = waitFuture(t, written)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, ErrPartialWrite)

	assert.Equal(t, StateDestroyed, p.State())
	assert.Zero(t, p.PendingCount())
	assert.True(t, s.isClosed())

	_, err = waitFuture(t, p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestPipeline_SendsStayInWireOrderBehindSlowWrite(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	s.beforeWrite = func([]byte) {
		// Hold only the first frame on the wire.
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
	}

	frameA := mustFrame(t, protocol.OpSysPing, []byte("a"))
	frameB := mustFrame(t, protocol.OpSysPing, []byte("b"))

	var a *Future
	aSent := make(chan struct{})
	go func() {
		a = p.Send(frameA, protocol.OpSysPing)
		close(aSent)
	}()
	<-entered

	bSent := make(chan *Future, 1)
	go func() {
		bSent <- p.Send(frameB, protocol.OpSysPing)
	}()

	select {
	case <-bSent:
		t.Fatal("second send overtook a write still in progress")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, p.PendingCount(), "second request not queued before first write finishes")

	close(release)
	<-aSent
	var b *Future
	select {
	case b = <-bSent:
	case <-time.After(2 * time.Second):
		t.Fatal("second send never completed")
	}

	s.mu.Lock()
	require.Len(t, s.writes, 2)
	assert.Equal(t, byte('a'), s.writes[0][protocol.HeaderSize])
	assert.Equal(t, byte('b'), s.writes[1][protocol.HeaderSize])
	s.mu.Unlock()

	s.h.OnData(append(
		mustFrame(t, protocol.OpResponsePong, []byte("for-a")),
		mustFrame(t, protocol.OpResponsePong, []byte("for-b"))...))

	payload, err := waitFuture(t, a)
	require.NoError(t, err)
	assert.Equal(t, "for-a", string(payload))
	payload, err = waitFuture(t, b)
	require.NoError(t, err)
	assert.Equal(t, "for-b", string(payload))
}

func TestPipeline_UnmatchedResponseIsDropped(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	p, s := newTestPipeline(t, Config{}, WithMetrics(m))

	s.h.OnData(mustFrame(t, protocol.OpResponseEvent, []byte("out-of-band")))
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unmatched))

	f := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	s.h.OnData(mustFrame(t, protocol.OpResponsePong, nil))
	_, err := waitFuture(t, f)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(protocol.OpSysPing.String(), outcomeOK)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pending))
}

func TestPipeline_TransportError(t *testing.T) {
	p, s := newTestPipeline(t, Config{})
	cause := errors.New("connection reset by peer")

	f1 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	f2 := p.Send(mustFrame(t, protocol.OpSysStats, nil), protocol.OpSysStats)

	s.h.OnError(cause)

	for _, f := range []*Future{f1, f2} {
		_, err := waitFuture(t, f)
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.ErrorIs(t, err, cause)
	}
	assert.Equal(t, 0, p.PendingCount())
	assert.Equal(t, StateDestroyed, p.State())
	assert.ErrorIs(t, p.Err(), ErrConnectionFailed)

	_, err := waitFuture(t, p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing))
	assert.ErrorIs(t, err, ErrConnectionFailed)

	// Still destroyable.
	p.Destroy()
	assert.True(t, s.isClosed())
}

func TestPipeline_TransportClose(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	f := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	s.h.OnClose()

	_, err := waitFuture(t, f)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, StateDestroyed, p.State())
}

func TestPipeline_OversizedFrameIsFatal(t *testing.T) {
	p, s := newTestPipeline(t, Config{MaxFrameSize: 64})

	f1 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)
	f2 := p.Send(mustFrame(t, protocol.OpSysPing, nil), protocol.OpSysPing)

	// Header declaring 1 KiB against a 64 byte limit.
	s.h.OnData([]byte{0x00, 0x04, 0x00, 0x00, byte(protocol.OpResponseOK)})

	for _, f := range []*Future{f1, f2} {
		_, err := waitFuture(t, f)
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	}
	assert.Equal(t, StateDestroyed, p.State())
	assert.True(t, s.isClosed())
}

func TestPipeline_SendRejectsOversizedFrame(t *testing.T) {
	p, s := newTestPipeline(t, Config{MaxFrameSize: 16})

	frame := make([]byte, 17)
	_, err := waitFuture(t, p.Send(frame, protocol.OpSysPing))
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.Equal(t, 0, s.writeCount())
	assert.Equal(t, 0, p.PendingCount())
}

func TestPipeline_ConcurrentSendsAndResponses(t *testing.T) {
	p, s := newTestPipeline(t, Config{})

	const n = 200
	ping := mustFrame(t, protocol.OpSysPing, nil)
	var wg sync.WaitGroup
	futures := make(chan *Future, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			futures <- p.Send(ping, protocol.OpSysPing)
		}()
	}
	wg.Wait()
	close(futures)
	require.Equal(t, n, p.PendingCount())

	// The fake server echoes each written frame back in write order.
	s.mu.Lock()
	writes := s.writes
	s.mu.Unlock()
	for i := range writes {
		s.h.OnData(mustFrame(t, protocol.OpResponseOK, []byte(fmt.Sprintf("%d", i))))
	}

	seen := map[string]bool{}
	for f := range futures {
		payload, err := waitFuture(t, f)
		require.NoError(t, err)
		seen[string(payload)] = true
	}
	assert.Len(t, seen, n, "every response completes exactly one future")
	assert.Equal(t, 0, p.PendingCount())
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Equal(t, DefaultConfig(), c)

	c = Config{Timeout: 50 * time.Millisecond}
	c.applyDefaults()
	assert.Equal(t, 25*time.Millisecond, c.SweepInterval, "sweep runs at least twice per timeout")
}
