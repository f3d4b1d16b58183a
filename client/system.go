package client

import (
	"context"
	"fmt"

	"mindfry/protocol"
)

// TuneParam selects the physics parameter changed by System.Tune.
type TuneParam uint8

const (
	TuneDecayMultiplier TuneParam = 0x01
	TuneTraumaThreshold TuneParam = 0x02
)

// System groups the server-management operations.
type System struct{ c *Client }

func (s System) Ping(ctx context.Context) error {
	return s.c.exec(ctx, protocol.OpSysPing, protocol.NewBuilder())
}

func (s System) Stats(ctx context.Context) (StatsInfo, error) {
	resp, err := s.c.do(ctx, protocol.OpSysStats, protocol.NewBuilder())
	if err != nil {
		return StatsInfo{}, err
	}
	return decodeStats(resp)
}

// Snapshot asks the server to persist its state under name. The server may
// pick a different name; the one it used is returned.
func (s System) Snapshot(ctx context.Context, name string) (string, error) {
	resp, err := s.c.do(ctx, protocol.OpSysSnapshot, protocol.NewBuilder().Str(name))
	if err != nil {
		return "", err
	}
	got, err := protocol.NewReader(resp).Str()
	if err != nil {
		return "", fmt.Errorf("decode snapshot: %w", err)
	}
	return got, nil
}

func (s System) Restore(ctx context.Context, name string) error {
	return s.c.exec(ctx, protocol.OpSysRestore, protocol.NewBuilder().Str(name))
}

// Freeze stops decay and rejects mutations until Thaw.
func (s System) Freeze(ctx context.Context) error {
	return s.c.exec(ctx, protocol.OpSysFreeze, protocol.NewBuilder().Bool(true))
}

// Thaw is Freeze with the flag cleared; both share one opcode.
func (s System) Thaw(ctx context.Context) error {
	return s.c.exec(ctx, protocol.OpSysFreeze, protocol.NewBuilder().Bool(false))
}

func (s System) Tune(ctx context.Context, param TuneParam, value float32) error {
	return s.c.exec(ctx, protocol.OpSysTune, protocol.NewBuilder().U8(uint8(param)).F32(value))
}
