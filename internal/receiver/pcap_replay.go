//go:build pcap

package receiver

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/meridian-sensing/framelink/internal/monitoring"
)

// PcapReceiver replays captured sensor traffic from a PCAP file as if it
// were arriving from the wire: UDP payloads accumulate into frame memory
// until one frame's worth of bytes has landed, then the frame completes.
// Useful for exercising the full ingestion path without hardware.
type PcapReceiver struct {
	file        string
	udpPort     int
	frameMemory []byte
	frameSize   int

	mu         sync.Mutex
	frameReady func()

	frames    chan Metadata
	closed    chan struct{}
	closeOnce sync.Once

	frameNumber uint32
}

// NewPcapReceiver returns a receiver replaying UDP payloads for udpPort
// from the capture at file.
func NewPcapReceiver(file string, udpPort int, frameMemory []byte, frameSize int) (*PcapReceiver, error) {
	if frameSize <= 0 || frameSize > len(frameMemory) {
		return nil, fmt.Errorf("frame size %d does not fit frame memory of %d bytes", frameSize, len(frameMemory))
	}
	return &PcapReceiver{
		file:        file,
		udpPort:     udpPort,
		frameMemory: frameMemory,
		frameSize:   frameSize,
		frames:      make(chan Metadata, 16),
		closed:      make(chan struct{}),
	}, nil
}

// SetFrameReady installs the frame completion callback.
func (r *PcapReceiver) SetFrameReady(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameReady = f
}

// QPNumber reports a fixed synthetic queue pair number.
func (r *PcapReceiver) QPNumber() uint32 { return 0x2001 }

// RKey reports a fixed synthetic remote key.
func (r *PcapReceiver) RKey() uint32 { return 0xBEEF }

// Run replays the capture until it is exhausted or Close is called.
func (r *PcapReceiver) Run() {
	handle, err := pcap.OpenOffline(r.file)
	if err != nil {
		monitoring.Logf("failed to open capture %s: %v", r.file, err)
		<-r.closed
		return
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", r.udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		monitoring.Logf("failed to set BPF filter %q: %v", filter, err)
		<-r.closed
		return
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	offset := 0
	packets := uint32(0)
	for packet := range source.Packets() {
		select {
		case <-r.closed:
			return
		default:
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		payload := udpLayer.(*layers.UDP).Payload
		if len(payload) == 0 {
			continue
		}

		n := copy(r.frameMemory[offset:r.frameSize], payload)
		offset += n
		packets++
		if offset < r.frameSize {
			continue
		}

		r.complete(packets, packet.Metadata().Timestamp)
		offset = 0
		packets = 0
	}

	// Capture exhausted; hold until closed like a quiet wire would.
	<-r.closed
}

func (r *PcapReceiver) complete(packets uint32, captured time.Time) {
	r.frameNumber++
	now := time.Now()
	md := Metadata{
		FrameNumber:          r.frameNumber,
		FramePacketsReceived: packets,
		FrameBytesReceived:   uint32(r.frameSize),
		ReceivedS:            uint64(now.Unix()),
		ReceivedNS:           uint64(now.Nanosecond()),
		TimestampS:           uint64(captured.Unix()),
		TimestampNS:          uint64(captured.Nanosecond()),
		MetadataS:            uint64(now.Unix()),
		MetadataNS:           uint64(now.Nanosecond()),
		PSN:                  r.frameNumber,
	}

	select {
	case r.frames <- md:
	default:
	}

	r.mu.Lock()
	ready := r.frameReady
	r.mu.Unlock()
	if ready != nil {
		ready()
	}
}

// GetNextFrame blocks up to timeout for the next replayed frame.
func (r *PcapReceiver) GetNextFrame(timeout time.Duration) (Metadata, bool) {
	select {
	case md := <-r.frames:
		return md, true
	case <-r.closed:
		return Metadata{}, false
	case <-time.After(timeout):
		return Metadata{}, false
	}
}

// Close unblocks Run and any pending GetNextFrame.
func (r *PcapReceiver) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}
