package transport

import (
	"context"
	"sync"
)

// Future is the one-shot result of a pipelined request.
//
// It is completed exactly once, by whichever path removed the request from
// the pending table: a response, the timeout sweep, a transport failure, or
// Destroy.
type Future struct {
	seq     uint32
	done    chan struct{}
	once    sync.Once
	payload []byte
	err     error
}

func newFuture(seq uint32) *Future {
	return &Future{seq: seq, done: make(chan struct{})}
}

func rejectedFuture(err error) *Future {
	f := newFuture(0)
	f.reject(err)
	return f
}

// Seq returns the local sequence identity assigned at send time. Futures
// rejected before an identity was allocated report 0.
func (f *Future) Seq() uint32 { return f.seq }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the future completes.
func (f *Future) Result() ([]byte, error) {
	<-f.done
	return f.payload, f.err
}

// Wait blocks until the future completes or ctx is done. Giving up on the wait
// does not withdraw the request; it still occupies a pending slot until it is
// answered or swept.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(payload []byte) bool {
	return f.complete(payload, nil)
}

func (f *Future) reject(err error) bool {
	return f.complete(nil, err)
}

func (f *Future) complete(payload []byte, err error) bool {
	won := false
	f.once.Do(func() {
		f.payload = payload
		f.err = err
		close(f.done)
		won = true
	})
	return won
}
