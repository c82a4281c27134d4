package receiver

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// UDPSocket owns the raw data-plane socket descriptor. The lifecycle manager
// owns it before Start and after Stop; the receive engine implicitly owns it
// while running.
type UDPSocket struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewUDPSocket creates an unbound UDP socket for the data plane. Binding is
// the channel's job during ConfigureSocket.
func NewUDPSocket() (*UDPSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create data socket: %w", err)
	}
	return &UDPSocket{fd: fd}, nil
}

// Fd returns the socket descriptor.
func (s *UDPSocket) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Close releases the descriptor. Safe to call once; later calls are no-ops.
func (s *UDPSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
