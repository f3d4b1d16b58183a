package client

import (
	"fmt"

	"mindfry/protocol"
)

// LineageInfo is the server's view of one lineage.
type LineageInfo struct {
	ID           string
	Energy       float32
	Threshold    float32
	DecayRate    float32
	Rigidity     float32
	Conscious    bool
	LastAccessMs uint64
}

// NeighborInfo is one bond as seen from its source lineage.
type NeighborInfo struct {
	ID       string
	Strength float32
	Learned  bool
}

// StatsInfo is a snapshot of server-wide counters.
type StatsInfo struct {
	LineageCount   uint32
	BondCount      uint32
	ConsciousCount uint32
	TotalEnergy    float32
	Frozen         bool
	UptimeSecs     uint64
}

// maxListLen caps decoded list counts so a corrupt count cannot force a huge
// allocation before the reader runs out of bytes.
const maxListLen = 1 << 20

func readLineage(r *protocol.Reader) (LineageInfo, error) {
	var (
		li  LineageInfo
		err error
	)
	if li.ID, err = r.Str(); err != nil {
		return li, err
	}
	if li.Energy, err = r.F32(); err != nil {
		return li, err
	}
	if li.Threshold, err = r.F32(); err != nil {
		return li, err
	}
	if li.DecayRate, err = r.F32(); err != nil {
		return li, err
	}
	if li.Rigidity, err = r.F32(); err != nil {
		return li, err
	}
	if li.Conscious, err = r.Bool(); err != nil {
		return li, err
	}
	li.LastAccessMs, err = r.U64()
	return li, err
}

func decodeLineage(payload []byte) (LineageInfo, error) {
	li, err := readLineage(protocol.NewReader(payload))
	if err != nil {
		return LineageInfo{}, fmt.Errorf("decode lineage: %w", err)
	}
	return li, nil
}

func decodeLineageList(payload []byte) ([]LineageInfo, error) {
	r := protocol.NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("decode lineage list: %w", err)
	}
	if n > maxListLen {
		return nil, fmt.Errorf("decode lineage list: count %d exceeds %d", n, maxListLen)
	}
	out := make([]LineageInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		li, err := readLineage(r)
		if err != nil {
			return nil, fmt.Errorf("decode lineage list entry %d: %w", i, err)
		}
		out = append(out, li)
	}
	return out, nil
}

func decodeNeighbors(payload []byte) ([]NeighborInfo, error) {
	r := protocol.NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, fmt.Errorf("decode neighbors: %w", err)
	}
	if n > maxListLen {
		return nil, fmt.Errorf("decode neighbors: count %d exceeds %d", n, maxListLen)
	}
	out := make([]NeighborInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		var ni NeighborInfo
		if ni.ID, err = r.Str(); err != nil {
			return nil, fmt.Errorf("decode neighbor %d: %w", i, err)
		}
		if ni.Strength, err = r.F32(); err != nil {
			return nil, fmt.Errorf("decode neighbor %d: %w", i, err)
		}
		if ni.Learned, err = r.Bool(); err != nil {
			return nil, fmt.Errorf("decode neighbor %d: %w", i, err)
		}
		out = append(out, ni)
	}
	return out, nil
}

func decodeStats(payload []byte) (StatsInfo, error) {
	r := protocol.NewReader(payload)
	var (
		s   StatsInfo
		err error
	)
	if s.LineageCount, err = r.U32(); err != nil {
		return StatsInfo{}, fmt.Errorf("decode stats: %w", err)
	}
	if s.BondCount, err = r.U32(); err != nil {
		return StatsInfo{}, fmt.Errorf("decode stats: %w", err)
	}
	if s.ConsciousCount, err = r.U32(); err != nil {
		return StatsInfo{}, fmt.Errorf("decode stats: %w", err)
	}
	if s.TotalEnergy, err = r.F32(); err != nil {
		return StatsInfo{}, fmt.Errorf("decode stats: %w", err)
	}
	if s.Frozen, err = r.Bool(); err != nil {
		return StatsInfo{}, fmt.Errorf("decode stats: %w", err)
	}
	if s.UptimeSecs, err = r.U64(); err != nil {
		return StatsInfo{}, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}

// Encoders below are the server-side halves of the decoders. Test peers and
// tooling use them to build responses.

// AppendLineage writes li in the wire layout the decoders expect.
func AppendLineage(b *protocol.Builder, li LineageInfo) *protocol.Builder {
	return b.Str(li.ID).
		F32(li.Energy).
		F32(li.Threshold).
		F32(li.DecayRate).
		F32(li.Rigidity).
		Bool(li.Conscious).
		U64(li.LastAccessMs)
}

// EncodeNeighbors builds a neighbors-response payload.
func EncodeNeighbors(ns []NeighborInfo) ([]byte, error) {
	b := protocol.NewBuilder().U32(uint32(len(ns)))
	for _, n := range ns {
		b.Str(n.ID).F32(n.Strength).Bool(n.Learned)
	}
	return b.Bytes(), b.Err()
}

// EncodeStats builds a stats-response payload.
func EncodeStats(s StatsInfo) []byte {
	return protocol.NewBuilder().
		U32(s.LineageCount).
		U32(s.BondCount).
		U32(s.ConsciousCount).
		F32(s.TotalEnergy).
		Bool(s.Frozen).
		U64(s.UptimeSecs).
		Bytes()
}
