package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var (
	ErrOutOfRange    = errors.New("protocol: read past end of payload")
	ErrInvalidString = errors.New("protocol: invalid string")
)

const (
	u8Size  = 1
	u16Size = 2
	u32Size = 4
	u64Size = 8

	// MaxStringLen is the largest string a u16 length prefix can describe.
	MaxStringLen = math.MaxUint16
)

// Reader is a sequential cursor over a payload. All integers are little-endian;
// strings are [len u16][utf-8 bytes].
type Reader struct {
	buf []byte
	off int
}

func NewReader(payload []byte) *Reader { return &Reader{buf: payload} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOutOfRange, n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(u8Size)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) I8() (int8, error) {
	v, err := r.U8()
	return int8(v), err
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(u16Size)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(u32Size)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(u64Size)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return math.Float64frombits(v), err
}

// Bytes reads exactly n raw bytes. The result aliases the payload.
func (r *Reader) Bytes(n int) ([]byte, error) { return r.take(n) }

// Str reads a length-prefixed UTF-8 string.
func (r *Reader) Str() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: not utf-8 at offset %d", ErrInvalidString, r.off-int(n))
	}
	return string(b), nil
}

// Builder appends fields to a payload in call order.
//
// Errors are sticky: the first failure is kept and reported by Err and Frame,
// so callers can chain writes and check once.
type Builder struct {
	buf []byte
	err error
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) U8(v uint8) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) I8(v int8) *Builder { return b.U8(uint8(v)) }

func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.U8(1)
	}
	return b.U8(0)
}

func (b *Builder) U16(v uint16) *Builder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *Builder) U32(v uint32) *Builder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) U64(v uint64) *Builder {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
	return b
}

func (b *Builder) F32(v float32) *Builder { return b.U32(math.Float32bits(v)) }

func (b *Builder) F64(v float64) *Builder { return b.U64(math.Float64bits(v)) }

// Raw appends p without a length prefix.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Str appends a length-prefixed string.
func (b *Builder) Str(s string) *Builder {
	if len(s) > MaxStringLen {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidString, len(s), MaxStringLen)
		}
		return b
	}
	b.U16(uint16(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// Len returns the number of bytes written so far.
func (b *Builder) Len() int { return len(b.buf) }

// Err returns the first error recorded by a write.
func (b *Builder) Err() error { return b.err }

// Bytes returns the payload built so far.
func (b *Builder) Bytes() []byte { return b.buf }

// Frame encodes the built payload as a frame with opcode op.
func (b *Builder) Frame(op OpCode) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return EncodeFrame(op, b.buf)
}
