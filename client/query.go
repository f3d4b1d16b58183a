package client

import (
	"context"

	"mindfry/protocol"
)

// Queries groups the read-only lineage queries. Each returns a list of
// lineages in server order.
type Queries struct{ c *Client }

// Conscious returns lineages whose energy is at or above minEnergy.
func (q Queries) Conscious(ctx context.Context, minEnergy float32) ([]LineageInfo, error) {
	return q.list(ctx, protocol.OpQueryConscious, protocol.NewBuilder().F32(minEnergy))
}

// TopK returns the k most energetic lineages.
func (q Queries) TopK(ctx context.Context, k uint32) ([]LineageInfo, error) {
	return q.list(ctx, protocol.OpQueryTopK, protocol.NewBuilder().U32(k))
}

// Trauma returns lineages whose rigidity is at or above minRigidity.
func (q Queries) Trauma(ctx context.Context, minRigidity float32) ([]LineageInfo, error) {
	return q.list(ctx, protocol.OpQueryTrauma, protocol.NewBuilder().F32(minRigidity))
}

// Pattern returns lineages whose key starts with prefix.
func (q Queries) Pattern(ctx context.Context, prefix string) ([]LineageInfo, error) {
	return q.list(ctx, protocol.OpQueryPattern, protocol.NewBuilder().Str(prefix))
}

// Neighbors is Bonds.Neighbors, offered here for callers that browse the
// graph through queries.
func (q Queries) Neighbors(ctx context.Context, key string) ([]NeighborInfo, error) {
	return Bonds{q.c}.Neighbors(ctx, key)
}

func (q Queries) list(ctx context.Context, op protocol.OpCode, b *protocol.Builder) ([]LineageInfo, error) {
	resp, err := q.c.do(ctx, op, b)
	if err != nil {
		return nil, err
	}
	return decodeLineageList(resp)
}

// EncodeLineageList builds a lineage-list payload as returned by the queries.
func EncodeLineageList(ls []LineageInfo) ([]byte, error) {
	b := protocol.NewBuilder().U32(uint32(len(ls)))
	for _, li := range ls {
		AppendLineage(b, li)
	}
	return b.Bytes(), b.Err()
}
