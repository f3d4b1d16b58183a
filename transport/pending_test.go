package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillTable(t *pendingTable, seqs ...uint32) {
	for _, s := range seqs {
		t.pushBack(&pendingRequest{seq: s, fut: newFuture(s)})
	}
}

func seqsOf(reqs []*pendingRequest) []uint32 {
	out := make([]uint32, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.seq)
	}
	return out
}

func TestPendingTable_FIFO(t *testing.T) {
	tbl := newPendingTable()
	fillTable(tbl, 1, 2, 3)

	require.Equal(t, 3, tbl.len())
	assert.Equal(t, uint32(1), tbl.popFront().seq)
	assert.Equal(t, uint32(2), tbl.popFront().seq)
	assert.False(t, tbl.contains(1))
	assert.True(t, tbl.contains(3))
	assert.Equal(t, uint32(3), tbl.popFront().seq)
	assert.Nil(t, tbl.popFront())
	assert.Zero(t, tbl.len())
}

func TestPendingTable_RemoveBack(t *testing.T) {
	tbl := newPendingTable()
	fillTable(tbl, 1, 2)

	assert.Nil(t, tbl.removeBack(1), "only the newest entry can be rolled back")
	req := tbl.removeBack(2)
	require.NotNil(t, req)
	assert.Equal(t, uint32(2), req.seq)
	assert.Equal(t, 1, tbl.len())
	assert.False(t, tbl.contains(2))

	tbl.popFront()
	assert.Nil(t, tbl.removeBack(1))
}

func TestPendingTable_RemoveIfKeepsOrder(t *testing.T) {
	tbl := newPendingTable()
	fillTable(tbl, 1, 2, 3, 4, 5, 6)
	tbl.popFront()

	removed := tbl.removeIf(func(r *pendingRequest) bool { return r.seq%2 == 0 })
	assert.Equal(t, []uint32{2, 4, 6}, seqsOf(removed))
	assert.Equal(t, []uint32{3, 5}, seqsOf(tbl.drain()))
	assert.Zero(t, tbl.len())
	assert.False(t, tbl.contains(3))
}

func TestPendingTable_CompactsConsumedPrefix(t *testing.T) {
	tbl := newPendingTable()
	for i := uint32(1); i <= 200; i++ {
		fillTable(tbl, i)
	}
	for i := 0; i < 150; i++ {
		tbl.popFront()
	}

	assert.Equal(t, 50, tbl.len())
	assert.Less(t, tbl.head, 65, "consumed prefix reclaimed")
	assert.Equal(t, uint32(151), tbl.popFront().seq)
}
