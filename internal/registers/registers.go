// Package registers defines the camera's control register map and the
// byte-level codec for register transactions on the control bus.
package registers

import (
	"encoding/binary"
	"fmt"
)

// Register is a 16-bit address naming a control or status slot on the camera.
// The map is fixed at build time; registers are never discovered dynamically.
type Register uint16

// Camera control registers.
const (
	Version         Register = 100
	Reset           Register = 101
	Width           Register = 102
	Height          Register = 103
	Run             Register = 104
	Watchdog        Register = 105
	FramesPerMinute Register = 106
	PixelFormat     Register = 107
	BayerFormat     Register = 108
	Initialize      Register = 199
)

// Wire sizes for encoded transactions. Register addresses are 2 bytes
// big-endian; values are 4 bytes big-endian. No other widths or byte
// orders exist on this bus.
const (
	AddressSize = 2
	ValueSize   = 4
)

var registerNames = map[Register]string{
	Version:         "VERSION",
	Reset:           "RESET",
	Width:           "WIDTH",
	Height:          "HEIGHT",
	Run:             "RUN",
	Watchdog:        "WATCHDOG",
	FramesPerMinute: "FRAMES_PER_MINUTE",
	PixelFormat:     "PIXEL_FORMAT",
	BayerFormat:     "BAYER_FORMAT",
	Initialize:      "INITIALIZE",
}

// String returns the register's symbolic name, or a numeric fallback for
// addresses outside the known map.
func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REG_%d", uint16(r))
}

// EncodeRead encodes an address-only read request: 2 bytes big-endian.
func EncodeRead(r Register) []byte {
	buf := make([]byte, AddressSize)
	binary.BigEndian.PutUint16(buf, uint16(r))
	return buf
}

// EncodeWrite encodes a write request: 2-byte address followed by the
// 4-byte value, both big-endian.
func EncodeWrite(r Register, value uint32) []byte {
	buf := make([]byte, AddressSize+ValueSize)
	binary.BigEndian.PutUint16(buf, uint16(r))
	binary.BigEndian.PutUint32(buf[AddressSize:], value)
	return buf
}

// DecodeValue interprets a read reply as an unsigned 32-bit big-endian
// integer. Replies shorter than 4 bytes are malformed.
func DecodeValue(reply []byte) (uint32, error) {
	if len(reply) < ValueSize {
		return 0, fmt.Errorf("short register reply: got %d bytes, want %d", len(reply), ValueSize)
	}
	return binary.BigEndian.Uint32(reply[:ValueSize]), nil
}
