package client

import (
	"context"

	"mindfry/protocol"
)

// Polarity is the sign a bond applies to propagated energy.
type Polarity int8

const (
	Antagonism Polarity = -1
	Neutral    Polarity = 0
	Synergy    Polarity = 1
)

// Bonds groups the bond operations.
type Bonds struct{ c *Client }

// Connect creates a bond from one lineage to another.
func (b Bonds) Connect(ctx context.Context, from, to string, strength float32, polarity Polarity) error {
	return b.c.exec(ctx, protocol.OpBondConnect,
		protocol.NewBuilder().Str(from).Str(to).F32(strength).I8(int8(polarity)))
}

func (b Bonds) Reinforce(ctx context.Context, from, to string, delta float32) error {
	return b.c.exec(ctx, protocol.OpBondReinforce, protocol.NewBuilder().Str(from).Str(to).F32(delta))
}

func (b Bonds) Sever(ctx context.Context, from, to string) error {
	return b.c.exec(ctx, protocol.OpBondSever, protocol.NewBuilder().Str(from).Str(to))
}

// Neighbors lists the bonds leaving key.
func (b Bonds) Neighbors(ctx context.Context, key string) ([]NeighborInfo, error) {
	resp, err := b.c.do(ctx, protocol.OpBondNeighbors, protocol.NewBuilder().Str(key))
	if err != nil {
		return nil, err
	}
	return decodeNeighbors(resp)
}
