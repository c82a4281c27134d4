package receiver

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/meridian-sensing/framelink/internal/monitoring"
)

// rcvbufBoundary rounds receive-buffer requests up to a 64 KiB multiple.
const rcvbufBoundary = 0x10000

// sockopt abstracts the SO_RCVBUF syscalls so buffer validation is testable
// without a real socket.
type sockopt interface {
	GetRcvbuf(fd int) (int, error)
	SetRcvbuf(fd, size int) error
}

type unixSockopt struct{}

func (unixSockopt) GetRcvbuf(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
}

func (unixSockopt) SetRcvbuf(fd, size int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size)
}

// roundUpRcvbuf returns the smallest 64 KiB multiple >= size.
func roundUpRcvbuf(size int) int {
	return (size + rcvbufBoundary - 1) &^ (rcvbufBoundary - 1)
}

// validateReceiveBuffer checks that the socket's kernel receive buffer can
// hold one frame, raising it to the next 64 KiB boundary if not. A shortfall
// after the request is logged as a warning, not an error: buffer size is a
// kernel resource the process may lack privilege to raise, and acquisition
// can proceed degraded.
func validateReceiveBuffer(opt sockopt, fd, frameSize int) (int, error) {
	current, err := opt.GetRcvbuf(fd)
	if err != nil {
		return 0, fmt.Errorf("failed to query socket receive buffer: %w", err)
	}
	if current >= frameSize {
		return current, nil
	}

	request := roundUpRcvbuf(frameSize)
	if err := opt.SetRcvbuf(fd, request); err != nil {
		return 0, fmt.Errorf("failed to request receive buffer of %d bytes: %w", request, err)
	}

	current, err = opt.GetRcvbuf(fd)
	if err != nil {
		return 0, fmt.Errorf("failed to re-query socket receive buffer: %w", err)
	}
	monitoring.Logf("socket receive buffer size=%d", current)
	if current < frameSize {
		monitoring.Logf("warning: kernel receive buffer size %d is below the frame size %d; packet loss is likely", current, frameSize)
		monitoring.Logf("resolve this with \"echo %d | sudo tee /proc/sys/net/core/rmem_max\"", request)
	}
	return current, nil
}
