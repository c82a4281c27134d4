package cambus

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/meridian-sensing/framelink/internal/monitoring"
	"github.com/meridian-sensing/framelink/internal/timeutil"
)

// Request framing on the bridge UART: a fixed header followed by the
// register request bytes. The bridge board forwards the payload to the
// addressed device and returns a status byte followed by the reply.
//
//	request:  device(1) readCount(1) payloadLen(1) payload(N)
//	response: status(1) reply(readCount)
const (
	bridgeHeaderSize = 3
	bridgeStatusOK   = 0
)

// bridgePort is the slice of the serial port surface the bridge uses.
// go.bug.st/serial.Port satisfies it; tests substitute an in-memory fake.
type bridgePort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialBridge is a Transactor that carries bus transactions over a UART
// bridge board. One transaction is one framed request/response exchange;
// the port is serialized so concurrent callers cannot interleave frames.
type SerialBridge struct {
	mu    sync.Mutex
	port  bridgePort
	clock timeutil.Clock
}

// OpenSerialBridge opens the bridge UART at the given device path.
func OpenSerialBridge(portName string) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge port %s: %w", portName, err)
	}

	return &SerialBridge{port: port, clock: timeutil.RealClock{}}, nil
}

// NewSerialBridge wraps an already-open port; tests use it with a fake port
// and a MockClock.
func NewSerialBridge(port bridgePort, clock timeutil.Clock) *SerialBridge {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialBridge{port: port, clock: clock}
}

// Close closes the bridge port.
func (b *SerialBridge) Close() error {
	return b.port.Close()
}

// Transaction performs one request/response exchange. With a nil policy a
// single attempt is made under DefaultTimeout; with a policy the exchange
// is retried every RetryInterval until Timeout elapses in total.
func (b *SerialBridge) Transaction(deviceAddr uint8, writeBytes []byte, readByteCount int, policy *TimeoutPolicy) ([]byte, error) {
	if policy == nil {
		return b.attempt(deviceAddr, writeBytes, readByteCount, DefaultTimeout)
	}

	deadline := b.clock.Now().Add(policy.Timeout)
	var lastErr error
	for attempt := 0; ; attempt++ {
		reply, err := b.attempt(deviceAddr, writeBytes, readByteCount, policy.RetryInterval)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !b.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("transaction failed after %d attempts over %v: %w",
				attempt+1, policy.Timeout, lastErr)
		}
		monitoring.Logf("bridge transaction attempt %d failed, retrying in %v: %v",
			attempt+1, policy.RetryInterval, err)
		b.clock.Sleep(policy.RetryInterval)
	}
}

func (b *SerialBridge) attempt(deviceAddr uint8, writeBytes []byte, readByteCount int, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(writeBytes) > 0xFF {
		return nil, fmt.Errorf("request payload too large: %d bytes", len(writeBytes))
	}

	frame := make([]byte, bridgeHeaderSize+len(writeBytes))
	frame[0] = deviceAddr
	frame[1] = byte(readByteCount)
	frame[2] = byte(len(writeBytes))
	copy(frame[bridgeHeaderSize:], writeBytes)

	if _, err := b.port.Write(frame); err != nil {
		return nil, fmt.Errorf("bridge write failed: %w", err)
	}

	if err := b.port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	response := make([]byte, 1+readByteCount)
	if err := b.readFull(response); err != nil {
		return nil, err
	}
	if response[0] != bridgeStatusOK {
		return nil, fmt.Errorf("bridge reported bus error status 0x%02X", response[0])
	}
	return response[1:], nil
}

// readFull reads exactly len(buf) bytes. go.bug.st/serial returns n=0 with a
// nil error when the read timeout expires, so that case is mapped to an
// explicit timeout error instead of spinning.
func (b *SerialBridge) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := b.port.Read(buf[total:])
		if err != nil {
			return fmt.Errorf("bridge read failed: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("bridge read timed out after %d of %d bytes", total, len(buf))
		}
		total += n
	}
	return nil
}
