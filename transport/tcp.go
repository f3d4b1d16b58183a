package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const readBufferSize = 32 << 10

var (
	ErrStreamClosed = errors.New("transport: stream closed")
	// ErrPartialWrite means a frame was cut off mid-write; the peer can no
	// longer find frame boundaries on this stream.
	ErrPartialWrite = errors.New("transport: partial write")
)

// TCPStream implements Stream over a net.Conn.
//
// Thread safety: writes are serialized by writeMu; a single read goroutine,
// started by Subscribe, delivers every event.
type TCPStream struct {
	conn         net.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	subscribed   sync.Once
	closeMu      sync.Mutex
	closed       bool
}

// NewTCPStream creates a stream from an existing connection. A positive
// writeTimeout bounds every Write.
func NewTCPStream(conn net.Conn, writeTimeout time.Duration) *TCPStream {
	return &TCPStream{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Write transmits p. Thread-safe for concurrent goroutines.
func (t *TCPStream) Write(p []byte) error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return ErrStreamClosed
	}
	t.closeMu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if n, err := t.conn.Write(p); err != nil {
		if n > 0 {
			return fmt.Errorf("%w: %d of %d bytes to %s: %w", ErrPartialWrite, n, len(p), t.RemoteAddr(), err)
		}
		return fmt.Errorf("transport: write %s: %w", t.RemoteAddr(), err)
	}
	return nil
}

// Subscribe starts the read loop. Only the first call has any effect.
func (t *TCPStream) Subscribe(h Handler) {
	t.subscribed.Do(func() {
		go t.readLoop(h)
	})
}

func (t *TCPStream) readLoop(h Handler) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.OnData(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || t.isClosed() {
				h.OnClose()
			} else {
				h.OnError(err)
			}
			return
		}
	}
}

func (t *TCPStream) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// Close terminates the stream. Safe to call more than once.
func (t *TCPStream) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// RemoteAddr returns the remote address.
func (t *TCPStream) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
