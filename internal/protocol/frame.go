package protocol

import (
	"errors"
	"fmt"
)

const (
	FrameSize   = 20
	PayloadSize = 16
)

// Sync markers identify frame direction: FC for controller->station,
// GS for station->controller.
var (
	SyncFC = [2]byte{0x46, 0x43}
	SyncGS = [2]byte{0x47, 0x53}
)

// Message IDs. 0x00-0x05 double as the PID axis index; 0x10 is AHRS inbound
// and PID-gain-request outbound.
const (
	MsgPIDRollInner  = 0x00
	MsgPIDRollOuter  = 0x01
	MsgPIDPitchInner = 0x02
	MsgPIDPitchOuter = 0x03
	MsgPIDYawAngle   = 0x04
	MsgPIDYawRate    = 0x05
	MsgAHRS          = 0x10
	MsgGPS           = 0x11
	MsgBattery       = 0x12
	MsgESC           = 0x13
	MsgFlightMode    = 0x14
	MsgGPSEnhanced   = 0x15
)

var (
	ErrBadLength   = errors.New("frame: not 20 bytes")
	ErrBadSync     = errors.New("frame: bad sync marker")
	ErrBadChecksum = errors.New("frame: checksum mismatch")
)

// Frame is a validated inbound frame: the sync and checksum bytes have been
// checked and stripped.
type Frame struct {
	ID      byte
	Payload [PayloadSize]byte
}

// DecodeFrame validates a 20-byte inbound (FC-sync) frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w (got %d)", ErrBadLength, len(b))
	}
	if b[0] != SyncFC[0] || b[1] != SyncFC[1] {
		return Frame{}, fmt.Errorf("%w (got %02x%02x)", ErrBadSync, b[0], b[1])
	}
	if !ValidateChecksum(b) {
		return Frame{}, fmt.Errorf("%w (expected %02x, got %02x)", ErrBadChecksum, Checksum(b[:FrameSize-1]), b[FrameSize-1])
	}
	var f Frame
	f.ID = b[2]
	copy(f.Payload[:], b[3:FrameSize-1])
	return f, nil
}

// EncodeFrame builds an outbound (GS-sync) frame. Payload is zero-padded to
// 16 bytes; anything past 16 bytes is truncated (payload layout is fixed per
// message type by callers).
func EncodeFrame(id byte, payload []byte) [FrameSize]byte {
	var b [FrameSize]byte
	b[0] = SyncGS[0]
	b[1] = SyncGS[1]
	b[2] = id
	copy(b[3:3+PayloadSize], payload)
	b[FrameSize-1] = Checksum(b[:FrameSize-1])
	return b
}
