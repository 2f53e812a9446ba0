package transport

import (
	"encoding/binary"
	"fmt"
)

// Frame is a decoded packet: a one-byte type id, a one-byte producer-local
// sequence number (wraps at 256), and a variable-length payload. Sequence
// numbers are used only for logging and telemetry-age matching; there is
// no ARQ.
type Frame struct {
	Type    byte
	Seq     byte
	Payload []byte
}

// EncodeFrame builds a wire-ready frame: COBS-encode(type|seq|payload|
// crc16-LE) followed by the 0x00 delimiter. The checksum is CRC16-CCITT
// over type|seq|payload.
func EncodeFrame(pktType, seq byte, payload []byte) []byte {
	raw := make([]byte, 0, 2+len(payload)+2)
	raw = append(raw, pktType, seq)
	raw = append(raw, payload...)

	crc := crc16(raw)
	crcBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBuf, crc)
	raw = append(raw, crcBuf...)

	encoded := cobsEncode(raw)
	return append(encoded, 0x00)
}

// DecodeFrame parses a COBS-encoded frame with its trailing checksum,
// not including the 0x00 delimiter. Returns an error on a corrupt COBS
// stream, a short packet, or a checksum mismatch — callers treat all
// three as protocol corruption: log at debug and drop.
func DecodeFrame(encoded []byte) (Frame, error) {
	raw, err := cobsDecode(encoded)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	if len(raw) < 4 { // type + seq + crc16
		return Frame{}, fmt.Errorf("transport: frame too short: %d bytes", len(raw))
	}

	body := raw[:len(raw)-2]
	crcRecv := binary.LittleEndian.Uint16(raw[len(raw)-2:])
	crcCalc := crc16(body)
	if crcRecv != crcCalc {
		return Frame{}, fmt.Errorf("transport: crc mismatch: recv=0x%04X calc=0x%04X", crcRecv, crcCalc)
	}

	return Frame{
		Type:    body[0],
		Seq:     body[1],
		Payload: body[2:],
	}, nil
}
