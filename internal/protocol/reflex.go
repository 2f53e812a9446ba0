// Package protocol defines the typed command and telemetry packets
// exchanged with the reflex and face MCUs over internal/transport's
// framed link.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/0mdb/robot-buddy/internal/transport"
)

// Reflex MCU command packet types. 0x13 is reserved by the firmware
// and unused here.
const (
	CmdSetTwist     byte = 0x10
	CmdStop         byte = 0x11
	CmdEstop        byte = 0x12
	CmdClearFaults  byte = 0x14
	CmdSetConfig    byte = 0x15
	TelemetryState  byte = 0x80
)

// Fault bits reported by the reflex MCU's state telemetry.
const (
	FaultCmdTimeout uint16 = 1 << 0
	FaultEstop      uint16 = 1 << 1
	FaultTilt       uint16 = 1 << 2
	FaultStall      uint16 = 1 << 3
	FaultIMUFail    uint16 = 1 << 4
	FaultBrownout   uint16 = 1 << 5
	FaultObstacle   uint16 = 1 << 6
)

// RangeStatus values reported alongside range_mm in state telemetry.
type RangeStatus byte

const (
	RangeOK          RangeStatus = 0
	RangeTimeout     RangeStatus = 1
	RangeOutOfRange  RangeStatus = 2
	RangeNotReady    RangeStatus = 3
)

// StatePayload is the reflex MCU's periodic state telemetry (13 bytes,
// little-endian): speed_l, speed_r, gyro_z as i16; battery_mv,
// fault_flags, range_mm as u16; range_status as u8.
type StatePayload struct {
	SpeedLMMs    int16
	SpeedRMMs    int16
	GyroZMradS   int16
	BatteryMV    uint16
	FaultFlags   uint16
	RangeMM      uint16
	RangeStatus  RangeStatus
}

const statePayloadSize = 13

// UnpackState parses a reflex STATE telemetry payload.
func UnpackState(payload []byte) (StatePayload, error) {
	if len(payload) < statePayloadSize {
		return StatePayload{}, fmt.Errorf("protocol: STATE payload too short: %d < %d", len(payload), statePayloadSize)
	}
	return StatePayload{
		SpeedLMMs:   int16(binary.LittleEndian.Uint16(payload[0:2])),
		SpeedRMMs:   int16(binary.LittleEndian.Uint16(payload[2:4])),
		GyroZMradS:  int16(binary.LittleEndian.Uint16(payload[4:6])),
		BatteryMV:   binary.LittleEndian.Uint16(payload[6:8]),
		FaultFlags:  binary.LittleEndian.Uint16(payload[8:10]),
		RangeMM:     binary.LittleEndian.Uint16(payload[10:12]),
		RangeStatus: RangeStatus(payload[12]),
	}, nil
}

// HasFault reports whether any fault bit is set.
func (s StatePayload) HasFault() bool { return s.FaultFlags != 0 }

// BuildSetTwist encodes a SET_TWIST command: i16 v_mm_s, i16 w_mrad_s.
func BuildSetTwist(seq byte, vMMs, wMradS int16) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(vMMs))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(wMradS))
	return transport.EncodeFrame(CmdSetTwist, seq, payload)
}

// BuildStop encodes a STOP command: u8 reason.
func BuildStop(seq byte, reason byte) []byte {
	return transport.EncodeFrame(CmdStop, seq, []byte{reason})
}

// BuildEstop encodes an ESTOP command with no payload.
func BuildEstop(seq byte) []byte {
	return transport.EncodeFrame(CmdEstop, seq, nil)
}

// BuildClearFaults encodes a CLEAR_FAULTS command: u16 mask. A zero mask
// argument is treated as "clear everything" (0xFFFF).
func BuildClearFaults(seq byte, mask uint16) []byte {
	if mask == 0 {
		mask = 0xFFFF
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, mask)
	return transport.EncodeFrame(CmdClearFaults, seq, payload)
}

// BuildSetConfig encodes a SET_CONFIG command: u8 param_id, 4 bytes
// value (either f32 or i32 little-endian, opaque to this package).
func BuildSetConfig(seq byte, paramID byte, value [4]byte) []byte {
	payload := make([]byte, 5)
	payload[0] = paramID
	copy(payload[1:], value[:])
	return transport.EncodeFrame(CmdSetConfig, seq, payload)
}
