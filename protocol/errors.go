package protocol

import (
	"errors"
	"fmt"
)

// ErrorCatalogueVersion is bumped whenever codes are added or their meaning changes.
const ErrorCatalogueVersion = 1

// ErrorCode is the one-byte code carried in an error-response frame.
type ErrorCode uint8

const (
	ErrCodeUnknown        ErrorCode = iota // Unclassified server failure
	ErrCodeInvalidOpCode                   // Server does not recognise the request opcode
	ErrCodeNotFound                        // Lineage, bond or snapshot does not exist
	ErrCodeAlreadyExists                   // Lineage or bond already exists
	ErrCodeInvalidPayload                  // Request payload failed to decode
	ErrCodeFrozen                          // Database is frozen; mutations rejected
	ErrCodeSnapshotFailed                  // Snapshot or restore failed
	ErrCodeInternal                        // Server-side bug or I/O failure
	ErrCodeCapacity                        // Server-side limit reached

	errCodeMaxKnown // Sentinel: update when adding new codes
)

var errorCatalogue = [errCodeMaxKnown]struct {
	name     string
	template string
}{
	ErrCodeUnknown:        {"UNKNOWN", "unknown error"},
	ErrCodeInvalidOpCode:  {"INVALID_OPCODE", "invalid opcode"},
	ErrCodeNotFound:       {"NOT_FOUND", "not found"},
	ErrCodeAlreadyExists:  {"ALREADY_EXISTS", "already exists"},
	ErrCodeInvalidPayload: {"INVALID_PAYLOAD", "malformed payload"},
	ErrCodeFrozen:         {"FROZEN", "database is frozen"},
	ErrCodeSnapshotFailed: {"SNAPSHOT_FAILED", "snapshot failed"},
	ErrCodeInternal:       {"INTERNAL", "internal server error"},
	ErrCodeCapacity:       {"CAPACITY", "capacity exceeded"},
}

// Known reports whether c is part of this catalogue version.
func (c ErrorCode) Known() bool { return c < errCodeMaxKnown }

func (c ErrorCode) String() string {
	if c.Known() {
		return errorCatalogue[c].name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(c))
}

// Template returns the default human-readable text for c.
func (c ErrorCode) Template() string {
	if c.Known() {
		return errorCatalogue[c].template
	}
	return errorCatalogue[ErrCodeUnknown].template
}

// Error is a server-reported failure decoded from an error-response frame.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mfbp: %s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, &protocol.Error{Code: protocol.ErrCodeNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsCode reports whether err carries a protocol error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == code
}

// DecodeErrorPayload decodes [code u8][message string] from an error-response payload.
// Unknown codes are kept as-is; an empty message falls back to the code's template.
func DecodeErrorPayload(payload []byte) (*Error, error) {
	r := NewReader(payload)
	code, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("decode error frame: %w", err)
	}
	msg, err := r.Str()
	if err != nil {
		return nil, fmt.Errorf("decode error frame: %w", err)
	}
	c := ErrorCode(code)
	if msg == "" {
		msg = c.Template()
	}
	return &Error{Code: c, Message: msg}, nil
}

// EncodeErrorPayload is the inverse of DecodeErrorPayload. Servers and test
// peers use it to build error responses.
func EncodeErrorPayload(code ErrorCode, msg string) ([]byte, error) {
	b := NewBuilder().U8(uint8(code)).Str(msg)
	if err := b.Err(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
