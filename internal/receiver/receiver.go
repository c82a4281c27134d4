// Package receiver manages the lifecycle of the frame receiver: socket
// buffer provisioning, the dedicated receive thread, the queue-pair
// authentication handshake, and frame retrieval with metadata translation.
package receiver

import (
	"time"
)

// Metadata is the raw per-frame record produced by the receive engine.
// All fields are device-reported integers; timestamps are (seconds,
// nanoseconds) pairs.
type Metadata struct {
	FrameNumber          uint32
	FramePacketsReceived uint32
	FrameBytesReceived   uint32
	ReceivedS            uint64
	ReceivedNS           uint64
	TimestampS           uint64
	TimestampNS          uint64
	MetadataS            uint64
	MetadataNS           uint64
	PacketsDropped       uint32
	CRC                  uint32
	PSN                  uint32
}

// Frame is the application-facing record for one received frame, translated
// from the engine's raw metadata. Immutable after creation.
type Frame struct {
	FrameNumber     uint32
	PacketsReceived uint32
	BytesReceived   uint32
	PacketsDropped  uint32
	CRC             uint32
	PSN             uint32

	// ReceivedAt is the host receive time, DeviceTimestamp the sensor's
	// clock, MetadataAt the time the metadata block itself was stamped.
	ReceivedAt      time.Time
	DeviceTimestamp time.Time
	MetadataAt      time.Time
}

// translate converts raw engine metadata into the application record.
func translate(md Metadata) *Frame {
	return &Frame{
		FrameNumber:     md.FrameNumber,
		PacketsReceived: md.FramePacketsReceived,
		BytesReceived:   md.FrameBytesReceived,
		PacketsDropped:  md.PacketsDropped,
		CRC:             md.CRC,
		PSN:             md.PSN,
		ReceivedAt:      time.Unix(int64(md.ReceivedS), int64(md.ReceivedNS)),
		DeviceTimestamp: time.Unix(int64(md.TimestampS), int64(md.TimestampNS)),
		MetadataAt:      time.Unix(int64(md.MetadataS), int64(md.MetadataNS)),
	}
}

// Receiver is the opaque packet-reassembly engine that pulls frame data off
// the socket into the provisioned frame memory. Its lifetime is exactly one
// run/close cycle; a closed receiver is not reusable.
type Receiver interface {
	// Run is the blocking receive loop. It returns only after Close.
	Run()

	// Close signals the receive loop to exit, unblocking Run.
	Close()

	// GetNextFrame blocks up to timeout for a completed frame. ok is false
	// on timeout.
	GetNextFrame(timeout time.Duration) (md Metadata, ok bool)

	// QPNumber reports the receive queue pair number. Valid only while the
	// receive loop is live.
	QPNumber() uint32

	// RKey reports the remote memory access key. Valid only while the
	// receive loop is live.
	RKey() uint32

	// SetFrameReady installs the callback invoked as each frame completes.
	// Must be called before Run.
	SetFrameReady(func())
}

// Factory constructs a Receiver bound to the provisioned frame memory, the
// data socket, and the address offset frames are written at.
type Factory func(frameMemory []byte, frameSize int, fd int, addressOffset uint64) (Receiver, error)

// Channel is the control channel the receiver authenticates against.
type Channel interface {
	// ConfigureSocket prepares the data socket (binding, socket options)
	// before the receive loop starts.
	ConfigureSocket(fd int) error

	// Authenticate registers the queue pair number and remote key with the
	// remote sensor so it can address inbound frame writes. Only valid once
	// the receive path is live.
	Authenticate(qpNumber, rkey uint32) error

	// CSISize reports the frame/line start and end marker sizes in bytes.
	CSISize() (frameStart, frameEnd, lineStart, lineEnd uint32)
}
