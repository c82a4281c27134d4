package receiver

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/meridian-sensing/framelink/internal/monitoring"
)

// State names a position in the receiver lifecycle. Transitions only move
// forward; Closed is terminal and a fresh Manager is required to restart.
type State int

const (
	StateIdle State = iota
	StateBufferValidated
	StateRunning
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBufferValidated:
		return "BufferValidated"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateClosed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// LifecycleError reports an operation attempted from the wrong state.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s is not valid in state %s", e.Op, e.State)
}

// DefaultAffinityCore is where the receive thread is pinned when no explicit
// affinity configuration is supplied. Isolating the receive loop on one core
// matters on low-core-count embedded hosts.
const DefaultAffinityCore = 2

// DataSocket is the data-plane socket the receive engine consumes from.
type DataSocket interface {
	Fd() int
	Close() error
}

// Config assembles the collaborators for a Manager. All dependencies are
// explicit: the notification hook is injected here, never set after
// construction.
type Config struct {
	Socket      DataSocket
	Channel     Channel
	NewReceiver Factory

	// FrameReady is invoked from the receive thread as each frame
	// completes. Optional.
	FrameReady func()

	// Affinity selects the CPU cores for the receive thread. Nil selects
	// the default (core 2); a pointer to an empty slice disables pinning.
	Affinity *[]int

	// AddressOffset is where inbound frame data lands within frame memory.
	AddressOffset uint64
}

// Manager supervises one acquire/run/close cycle of a frame receiver.
// Exactly two actors touch it: the caller (Start, GetNextFrame, Stop) and
// the one receive goroutine it spawns.
type Manager struct {
	channel       Channel
	socket        DataSocket
	newReceiver   Factory
	frameReady    func()
	affinity      []int
	addressOffset uint64
	sockops       sockopt
	stats         *FrameStats

	mu    sync.Mutex
	state State
	recv  Receiver
	done  chan struct{}
}

// NewManager validates the configuration and returns an Idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Socket == nil {
		return nil, fmt.Errorf("receiver manager requires a data socket")
	}
	if cfg.Channel == nil {
		return nil, fmt.Errorf("receiver manager requires a channel")
	}
	if cfg.NewReceiver == nil {
		return nil, fmt.Errorf("receiver manager requires a receiver factory")
	}
	return &Manager{
		channel:       cfg.Channel,
		socket:        cfg.Socket,
		newReceiver:   cfg.NewReceiver,
		frameReady:    cfg.FrameReady,
		affinity:      resolveAffinity(cfg.Affinity),
		addressOffset: cfg.AddressOffset,
		sockops:       unixSockopt{},
		stats:         NewFrameStats(),
		state:         StateIdle,
	}, nil
}

// resolveAffinity applies the default-unless-explicitly-disabled rule.
func resolveAffinity(affinity *[]int) []int {
	if affinity == nil {
		return []int{DefaultAffinityCore}
	}
	if len(*affinity) == 0 {
		return nil
	}
	cores := make([]int, len(*affinity))
	copy(cores, *affinity)
	return cores
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of the acquisition statistics.
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

// Start validates the socket receive buffer, spawns the receive thread
// bound to the provisioned frame memory, and performs the queue-pair
// authentication handshake. Authentication happens strictly after the
// receive goroutine has signalled readiness: the queue-pair and key values
// are only valid once the receive path is live.
func (m *Manager) Start(frameMemory []byte, frameSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return &LifecycleError{Op: "Start", State: m.state}
	}
	if len(frameMemory) < frameSize {
		return fmt.Errorf("frame memory holds %d bytes, frame size is %d", len(frameMemory), frameSize)
	}

	fd := m.socket.Fd()
	if _, err := validateReceiveBuffer(m.sockops, fd, frameSize); err != nil {
		return m.abortStartLocked(err)
	}
	m.state = StateBufferValidated

	if err := m.channel.ConfigureSocket(fd); err != nil {
		return m.abortStartLocked(fmt.Errorf("failed to configure data socket: %w", err))
	}

	recv, err := m.newReceiver(frameMemory, frameSize, fd, m.addressOffset)
	if err != nil {
		return m.abortStartLocked(fmt.Errorf("failed to construct receiver: %w", err))
	}
	recv.SetFrameReady(m.notifyFrameReady)

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		applyAffinity(m.affinity)
		close(ready)
		recv.Run()
	}()
	<-ready

	m.recv = recv
	m.done = done
	m.state = StateRunning

	if err := m.channel.Authenticate(recv.QPNumber(), recv.RKey()); err != nil {
		// The handshake failed after the thread came up; unwind in the
		// mandatory order before surfacing.
		monitoring.Logf("queue pair authentication failed, shutting receiver down: %v", err)
		m.shutdownLocked()
		return fmt.Errorf("queue pair authentication failed: %w", err)
	}

	monitoring.Logf("receiver running: frame_size=%d affinity=%v", frameSize, m.affinity)
	return nil
}

// abortStartLocked releases the data socket after a Start failure that
// happened before the receive thread existed. Nothing else will: the
// manager holds the only socket handle once Start has been called, and
// Stop is only valid from Running. The manager ends Closed.
func (m *Manager) abortStartLocked(err error) error {
	if closeErr := m.socket.Close(); closeErr != nil {
		monitoring.Logf("failed to close data socket after start failure: %v", closeErr)
	}
	m.state = StateClosed
	return err
}

func (m *Manager) notifyFrameReady() {
	if m.frameReady != nil {
		m.frameReady()
	}
}

// GetNextFrame blocks up to timeout for a completed frame and returns its
// translated metadata. A nil frame with nil error means no frame arrived in
// the window; that is a normal outcome, not a failure. Safe for a single
// consumer concurrent with the receive thread.
func (m *Manager) GetNextFrame(timeout time.Duration) (*Frame, error) {
	m.mu.Lock()
	if m.state != StateRunning {
		state := m.state
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "GetNextFrame", State: state}
	}
	recv := m.recv
	m.mu.Unlock()

	md, ok := recv.GetNextFrame(timeout)
	if !ok {
		return nil, nil
	}

	frame := translate(md)
	m.stats.AddFrame(int64(frame.BytesReceived), int64(frame.PacketsDropped), frame.ReceivedAt)
	return frame, nil
}

// Stop signals the receiver to close, joins the receive thread, then closes
// the socket, strictly in that order. The manager ends Closed and cannot be
// restarted.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return &LifecycleError{Op: "Stop", State: m.state}
	}
	m.state = StateStopping
	return m.shutdownLocked()
}

// shutdownLocked performs close → join → socket close. Callers hold m.mu.
func (m *Manager) shutdownLocked() error {
	m.recv.Close()
	<-m.done
	err := m.socket.Close()
	m.state = StateClosed
	if err != nil {
		return fmt.Errorf("failed to close data socket: %w", err)
	}
	return nil
}
