package client

import (
	"context"

	"mindfry/protocol"
)

// Lineages groups the lineage operations.
type Lineages struct{ c *Client }

// Create adds a lineage with an initial energy.
func (l Lineages) Create(ctx context.Context, key string, energy float32) error {
	return l.c.exec(ctx, protocol.OpLineageCreate, protocol.NewBuilder().Str(key).F32(energy))
}

// Get fetches a lineage. flags is passed through to the server unchanged.
func (l Lineages) Get(ctx context.Context, key string, flags uint8) (LineageInfo, error) {
	resp, err := l.c.do(ctx, protocol.OpLineageGet, protocol.NewBuilder().Str(key).U8(flags))
	if err != nil {
		return LineageInfo{}, err
	}
	return decodeLineage(resp)
}

// Stimulate adds delta to the lineage's energy. The server propagates the
// change across bonds.
func (l Lineages) Stimulate(ctx context.Context, key string, delta float32) error {
	return l.c.exec(ctx, protocol.OpLineageStimulate, protocol.NewBuilder().Str(key).F32(delta))
}

func (l Lineages) Forget(ctx context.Context, key string) error {
	return l.c.exec(ctx, protocol.OpLineageForget, protocol.NewBuilder().Str(key))
}

// Touch refreshes the lineage's last-access time without changing its energy.
func (l Lineages) Touch(ctx context.Context, key string) error {
	return l.c.exec(ctx, protocol.OpLineageTouch, protocol.NewBuilder().Str(key))
}
