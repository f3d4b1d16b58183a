package protocol

import "fmt"

// OpCode is the one-byte operation tag carried in every frame header.
type OpCode uint8

// Request opcodes, grouped by namespace in the high nibble.
const (
	OpLineageCreate    OpCode = 0x10
	OpLineageGet       OpCode = 0x11
	OpLineageStimulate OpCode = 0x12
	OpLineageForget    OpCode = 0x13
	OpLineageTouch     OpCode = 0x14

	OpBondConnect   OpCode = 0x20
	OpBondReinforce OpCode = 0x21
	OpBondSever     OpCode = 0x22
	OpBondNeighbors OpCode = 0x23

	OpQueryConscious OpCode = 0x30
	OpQueryTopK      OpCode = 0x31
	OpQueryTrauma    OpCode = 0x32
	OpQueryPattern   OpCode = 0x33

	OpSysPing     OpCode = 0x40
	OpSysStats    OpCode = 0x41
	OpSysSnapshot OpCode = 0x42
	OpSysRestore  OpCode = 0x43
	OpSysFreeze   OpCode = 0x44
	OpSysTune     OpCode = 0x45

	OpStreamSubscribe   OpCode = 0x50
	OpStreamUnsubscribe OpCode = 0x51
)

// Response opcodes. Everything at or above responseBase is a server reply.
const (
	OpResponseOK        OpCode = 0xF0
	OpResponsePong      OpCode = 0xF1
	OpResponseLineage   OpCode = 0xF2
	OpResponseNeighbors OpCode = 0xF3
	OpResponseStats     OpCode = 0xF4
	OpResponseSnapshot  OpCode = 0xF5
	OpResponseEvent     OpCode = 0xFE
	OpResponseError     OpCode = 0xFF

	responseBase = OpResponseOK
)

var opNames = map[OpCode]string{
	OpLineageCreate:     "LINEAGE_CREATE",
	OpLineageGet:        "LINEAGE_GET",
	OpLineageStimulate:  "LINEAGE_STIMULATE",
	OpLineageForget:     "LINEAGE_FORGET",
	OpLineageTouch:      "LINEAGE_TOUCH",
	OpBondConnect:       "BOND_CONNECT",
	OpBondReinforce:     "BOND_REINFORCE",
	OpBondSever:         "BOND_SEVER",
	OpBondNeighbors:     "BOND_NEIGHBORS",
	OpQueryConscious:    "QUERY_CONSCIOUS",
	OpQueryTopK:         "QUERY_TOP_K",
	OpQueryTrauma:       "QUERY_TRAUMA",
	OpQueryPattern:      "QUERY_PATTERN",
	OpSysPing:           "SYS_PING",
	OpSysStats:          "SYS_STATS",
	OpSysSnapshot:       "SYS_SNAPSHOT",
	OpSysRestore:        "SYS_RESTORE",
	OpSysFreeze:         "SYS_FREEZE",
	OpSysTune:           "SYS_TUNE",
	OpStreamSubscribe:   "STREAM_SUBSCRIBE",
	OpStreamUnsubscribe: "STREAM_UNSUBSCRIBE",
	OpResponseOK:        "RESPONSE_OK",
	OpResponsePong:      "RESPONSE_PONG",
	OpResponseLineage:   "RESPONSE_LINEAGE",
	OpResponseNeighbors: "RESPONSE_NEIGHBORS",
	OpResponseStats:     "RESPONSE_STATS",
	OpResponseSnapshot:  "RESPONSE_SNAPSHOT",
	OpResponseEvent:     "RESPONSE_EVENT",
	OpResponseError:     "RESPONSE_ERROR",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OP(0x%02x)", uint8(op))
}

// IsResponse reports whether op is sent by the server.
func (op OpCode) IsResponse() bool { return op >= responseBase }
