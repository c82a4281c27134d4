// Package channel implements the control channel the receiver authenticates
// against: it prepares the data socket and registers the RDMA addressing
// tokens with the link bridge so the sensor can place inbound frame data.
package channel

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/meridian-sensing/framelink/internal/cambus"
	"github.com/meridian-sensing/framelink/internal/monitoring"
	"github.com/meridian-sensing/framelink/internal/registers"
)

// BridgeAddress is the link bridge's device address on the control bus.
const BridgeAddress = 0b00101000

// Link bridge registers. These live on the bridge device, not the camera.
const (
	regDestQP   registers.Register = 0x02
	regDestRKey registers.Register = 0x03
)

// CSI-2 frame and line marker sizes, in bytes.
const (
	csiFrameStartSize = 4
	csiFrameEndSize   = 4
	csiLineStartSize  = 4
	csiLineEndSize    = 2
)

// Bridge drives the data-plane side of the link: socket preparation and the
// queue-pair authentication handshake, both over the shared control bus.
type Bridge struct {
	client   *cambus.Client
	dataPort int
}

// NewBridge returns a Bridge speaking to the link bridge device over bus,
// binding data sockets to dataPort.
func NewBridge(bus cambus.Transactor, dataPort int) *Bridge {
	return &Bridge{
		client:   cambus.NewClient(bus, BridgeAddress),
		dataPort: dataPort,
	}
}

// ConfigureSocket binds the data socket to the configured ingest port on all
// interfaces. Must precede the receive loop start.
func (b *Bridge) ConfigureSocket(fd int) error {
	addr := &unix.SockaddrInet4{Port: b.dataPort}
	if err := unix.Bind(fd, addr); err != nil {
		return fmt.Errorf("failed to bind data socket to port %d: %w", b.dataPort, err)
	}
	return nil
}

// Authenticate registers the receive queue pair number and remote key with
// the bridge. Valid only while the receive path is live; the bridge forwards
// the tokens to the sensor so it can address inbound frame writes.
func (b *Bridge) Authenticate(qpNumber, rkey uint32) error {
	if err := b.client.Write(regDestQP, qpNumber); err != nil {
		return fmt.Errorf("failed to register queue pair number: %w", err)
	}
	if err := b.client.Write(regDestRKey, rkey); err != nil {
		return fmt.Errorf("failed to register remote key: %w", err)
	}
	monitoring.Logf("authenticated receive path: qp=0x%X rkey=0x%X", qpNumber, rkey)
	return nil
}

// CSISize reports the frame/line start and end marker sizes in bytes.
func (b *Bridge) CSISize() (frameStart, frameEnd, lineStart, lineEnd uint32) {
	return csiFrameStartSize, csiFrameEndSize, csiLineStartSize, csiLineEndSize
}
