package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Frame format:
//
//	[4 bytes totalLen LE][1 byte opcode][totalLen-5 bytes payload]
//
// totalLen counts the header, so the smallest legal frame is HeaderSize bytes.
const (
	HeaderSize = 5

	headerLenOff = 0
	headerOpOff  = 4
)

// DefaultMaxFrameSize is a safety limit to avoid unbounded allocations on malformed input.
const DefaultMaxFrameSize = 16 << 20 // 16 MiB

var (
	ErrFrameTooLarge  = errors.New("protocol: frame too large")
	ErrInvalidFrame   = errors.New("protocol: invalid frame")
	ErrInvalidTimeout = errors.New("protocol: invalid timeout")
	ErrNoDeadline     = errors.New("protocol: reader/writer does not support deadlines")
)

// Frame is one self-delimited MFBP message.
type Frame struct {
	Op      OpCode
	Payload []byte
	// Len is the total on-wire length including the header. Only set by ParseFrame.
	Len int
}

// EncodeFrame encodes op and payload using DefaultMaxFrameSize.
func EncodeFrame(op OpCode, payload []byte) ([]byte, error) {
	return EncodeFrameMax(op, payload, DefaultMaxFrameSize)
}

// EncodeFrameMax encodes op and payload into a single frame. It fails if the
// resulting frame would be larger than maxFrame bytes.
func EncodeFrameMax(op OpCode, payload []byte, maxFrame int) ([]byte, error) {
	total := HeaderSize + len(payload)
	if total > maxFrame || uint64(total) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, total, maxFrame)
	}
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[headerLenOff:], uint32(total))
	buf[headerOpOff] = byte(op)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// ParseFrame attempts to parse one frame from the front of buf.
//
// ok is false when buf does not yet hold a complete frame; nothing is consumed
// and the caller should wait for more bytes. A non-nil error means the stream
// is no longer frame-aligned and the connection must be torn down.
//
// The returned payload is a copy, so buf may be reused after the call.
func ParseFrame(buf []byte, maxFrame int) (f Frame, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Frame{}, false, nil
	}
	total := uint64(binary.LittleEndian.Uint32(buf[headerLenOff:]))
	if total > uint64(maxFrame) {
		return Frame{}, false, fmt.Errorf("%w: declared %d bytes (max %d)", ErrFrameTooLarge, total, maxFrame)
	}
	if total < HeaderSize {
		return Frame{}, false, fmt.Errorf("%w: declared length %d shorter than header", ErrInvalidFrame, total)
	}
	if uint64(len(buf)) < total {
		return Frame{}, false, nil
	}

	n := int(total)
	payload := make([]byte, n-HeaderSize)
	copy(payload, buf[HeaderSize:n])
	return Frame{Op: OpCode(buf[headerOpOff]), Payload: payload, Len: n}, true, nil
}

type deadlineReader interface{ SetReadDeadline(time.Time) error }
type deadlineWriter interface{ SetWriteDeadline(time.Time) error }

// Framer reads and writes whole frames on a blocking reader/writer pair.
//
// The pipeline does not use it (it parses incrementally from pushed bytes);
// it serves synchronous peers such as test servers and one-shot tools.
type Framer struct {
	r        *bufio.Reader
	w        *bufio.Writer
	maxFrame int
	readDL   deadlineReader
	writeDL  deadlineWriter
}

// NewConnFramer is a convenience for the common net.Conn case.
// It enables ReadWithTimeout/WriteWithTimeout.
func NewConnFramer(conn net.Conn) *Framer { return NewFramer(conn, conn) }

// NewFramer wraps r/w with buffering and enables optional per-call timeouts if r/w
// supports deadlines (typically net.Conn).
func NewFramer(r io.Reader, w io.Writer) *Framer {
	var readDL deadlineReader
	if v, ok := r.(deadlineReader); ok {
		readDL = v
	}
	var writeDL deadlineWriter
	if v, ok := w.(deadlineWriter); ok {
		writeDL = v
	}

	return &Framer{
		r:        bufio.NewReader(r),
		w:        bufio.NewWriter(w),
		maxFrame: DefaultMaxFrameSize,
		readDL:   readDL,
		writeDL:  writeDL,
	}
}

// SetMaxFrameSize sets the maximum permitted total frame size.
// If you set this too large, a peer can force large allocations.
func (f *Framer) SetMaxFrameSize(n int) { f.maxFrame = n }

// Read blocks until one whole frame has been read.
func (f *Framer) Read() (Frame, error) { return readFrameMax(f.r, f.maxFrame) }

// ReadWithTimeout reads one frame but fails if the read does not complete within timeout.
//
// Note: this sets a deadline on the underlying connection and clears it afterwards.
func (f *Framer) ReadWithTimeout(timeout time.Duration) (Frame, error) {
	if timeout < 0 {
		return Frame{}, ErrInvalidTimeout
	}
	if timeout == 0 {
		return f.Read()
	}
	if f.readDL == nil {
		return Frame{}, ErrNoDeadline
	}
	if err := f.readDL.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, err
	}
	defer f.readDL.SetReadDeadline(time.Time{})
	return f.Read()
}

// Write writes one frame and flushes it.
func (f *Framer) Write(op OpCode, payload []byte) error {
	buf, err := EncodeFrameMax(op, payload, f.maxFrame)
	if err != nil {
		return err
	}
	if _, err := f.w.Write(buf); err != nil {
		return err
	}
	return f.w.Flush()
}

// WriteWithTimeout writes one frame but fails if the write does not complete within timeout.
func (f *Framer) WriteWithTimeout(op OpCode, payload []byte, timeout time.Duration) error {
	if timeout < 0 {
		return ErrInvalidTimeout
	}
	if timeout == 0 {
		return f.Write(op, payload)
	}
	if f.writeDL == nil {
		return ErrNoDeadline
	}
	if err := f.writeDL.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer f.writeDL.SetWriteDeadline(time.Time{})
	return f.Write(op, payload)
}

// readFrameMax is the blocking counterpart of ParseFrame; io.ReadFull is the state machine.
func readFrameMax(r io.Reader, maxFrame int) (Frame, error) {
	if maxFrame < HeaderSize {
		return Frame{}, ErrInvalidFrame
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	total := uint64(binary.LittleEndian.Uint32(hdr[headerLenOff:]))
	if total > uint64(maxFrame) {
		return Frame{}, ErrFrameTooLarge
	}
	if total < HeaderSize {
		return Frame{}, ErrInvalidFrame
	}

	payload := make([]byte, int(total)-HeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Op: OpCode(hdr[headerOpOff]), Payload: payload, Len: int(total)}, nil
}
