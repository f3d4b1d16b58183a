// Package client is a thin MindFry client: each operation encodes its
// arguments, sends them through a pipelined connection and decodes the reply.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mindfry/config"
	"mindfry/protocol"
	"mindfry/transport"
)

var ErrNotConnected = errors.New("client: not connected")

// Client is safe for concurrent use. A zero or closed Client fails every
// operation with ErrNotConnected.
type Client struct {
	mu sync.RWMutex
	pl *transport.Pipeline

	Lineage Lineages
	Bond    Bonds
	Query   Queries
	System  System
}

// Dial connects to the server described by cfg.
func Dial(ctx context.Context, cfg config.Config, opts ...transport.Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stream, err := transport.Dial(ctx, cfg.DialOptions())
	if err != nil {
		return nil, err
	}
	return New(stream, cfg.TransportConfig(), opts...), nil
}

// New wraps an established stream. The client owns the stream from here on.
func New(stream transport.Stream, cfg transport.Config, opts ...transport.Option) *Client {
	c := &Client{}
	c.pl = transport.NewPipeline(stream, cfg, opts...)
	c.Lineage = Lineages{c}
	c.Bond = Bonds{c}
	c.Query = Queries{c}
	c.System = System{c}
	return c
}

// Close tears down the connection, failing any request still in flight.
// Later calls return ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	pl := c.pl
	c.pl = nil
	c.mu.Unlock()

	if pl == nil {
		return ErrNotConnected
	}
	pl.Destroy()
	return nil
}

// Connected reports whether the underlying pipeline can still accept requests.
func (c *Client) Connected() bool {
	pl := c.pipeline()
	return pl != nil && pl.State() != transport.StateDestroyed
}

// PendingRequests returns the number of requests awaiting a response.
func (c *Client) PendingRequests() int {
	if pl := c.pipeline(); pl != nil {
		return pl.PendingCount()
	}
	return 0
}

func (c *Client) pipeline() *transport.Pipeline {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pl
}

// do sends one request built by b and returns the response payload.
func (c *Client) do(ctx context.Context, op protocol.OpCode, b *protocol.Builder) ([]byte, error) {
	pl := c.pipeline()
	if pl == nil {
		return nil, ErrNotConnected
	}
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := pl.Request(ctx, op, b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// exec is do for operations whose reply carries nothing the caller needs.
func (c *Client) exec(ctx context.Context, op protocol.OpCode, b *protocol.Builder) error {
	_, err := c.do(ctx, op, b)
	return err
}
