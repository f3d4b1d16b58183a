// Package transport carries MFBP frames over a single ordered byte stream.
//
// The Pipeline multiplexes many concurrent requests onto one Stream and matches
// responses back to callers in send order. Streams push bytes to the pipeline
// through a Handler instead of being read synchronously, so the pipeline never
// blocks a caller while it waits for the network.
package transport

// Handler receives stream events.
//
// Implementations of Stream must invoke a Handler serially from a single
// goroutine, and must stop delivering events after OnError or OnClose.
type Handler interface {
	// OnData delivers bytes in arrival order. The slice is owned by the handler.
	OnData(p []byte)

	// OnError reports a transport fault. No further events follow.
	OnError(err error)

	// OnClose reports an orderly end of stream. No further events follow.
	OnClose()
}

// Stream abstracts a bidirectional ordered byte stream.
//
// Thread safety: Write may be called concurrently with event delivery.
type Stream interface {
	// Write transmits p in full or reports why it could not.
	Write(p []byte) error

	// Subscribe registers the single event handler and starts delivery.
	// Calling it more than once is a programming error.
	Subscribe(h Handler)

	// Close terminates the stream. Subsequent writes return errors.
	Close() error

	// RemoteAddr returns the remote endpoint address (for logging/debugging).
	RemoteAddr() string
}
