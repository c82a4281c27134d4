package receiver

import (
	"sync"
	"time"
)

// SimulatedReceiver is a Receiver that synthesizes frames on a fixed
// interval, writing a counting pattern into frame memory. It stands in for
// the hardware engine in dev mode and in tests; it honors the same ordering
// and blocking contracts.
type SimulatedReceiver struct {
	frameMemory []byte
	frameSize   int
	interval    time.Duration

	mu         sync.Mutex
	frameReady func()

	frames    chan Metadata
	closed    chan struct{}
	closeOnce sync.Once

	frameNumber uint32
}

// NewSimulatedReceiver returns a receiver emitting one frame per interval
// into frameMemory.
func NewSimulatedReceiver(frameMemory []byte, frameSize int, interval time.Duration) *SimulatedReceiver {
	return &SimulatedReceiver{
		frameMemory: frameMemory,
		frameSize:   frameSize,
		interval:    interval,
		frames:      make(chan Metadata, 16),
		closed:      make(chan struct{}),
	}
}

// SetFrameReady installs the frame completion callback.
func (r *SimulatedReceiver) SetFrameReady(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameReady = f
}

// QPNumber reports a fixed synthetic queue pair number.
func (r *SimulatedReceiver) QPNumber() uint32 { return 0x1001 }

// RKey reports a fixed synthetic remote key.
func (r *SimulatedReceiver) RKey() uint32 { return 0xCAFE }

// Run emits frames until Close.
func (r *SimulatedReceiver) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.closed:
			return
		case now := <-ticker.C:
			r.emit(now)
		}
	}
}

func (r *SimulatedReceiver) emit(now time.Time) {
	r.frameNumber++
	fill := byte(r.frameNumber)
	for i := 0; i < r.frameSize && i < len(r.frameMemory); i++ {
		r.frameMemory[i] = fill
	}

	md := Metadata{
		FrameNumber:          r.frameNumber,
		FramePacketsReceived: uint32(r.frameSize/1024 + 1),
		FrameBytesReceived:   uint32(r.frameSize),
		ReceivedS:            uint64(now.Unix()),
		ReceivedNS:           uint64(now.Nanosecond()),
		TimestampS:           uint64(now.Unix()),
		TimestampNS:          uint64(now.Nanosecond()),
		MetadataS:            uint64(now.Unix()),
		MetadataNS:           uint64(now.Nanosecond()),
		PSN:                  r.frameNumber,
	}

	// Drop the frame if the consumer is not keeping up; delivery stays in
	// arrival order either way.
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

// GetNextFrame blocks up to timeout for the next synthetic frame.
func (r *SimulatedReceiver) GetNextFrame(timeout time.Duration) (Metadata, bool) {
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
func (r *SimulatedReceiver) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}
