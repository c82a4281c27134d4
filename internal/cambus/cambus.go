// Package cambus drives the camera's I2C-like control bus: byte-level
// register transactions with per-call timeout and retry policy.
package cambus

import (
	"fmt"
	"time"

	"github.com/meridian-sensing/framelink/internal/registers"
)

// CameraAddress is the camera's fixed device address on the control bus.
const CameraAddress = 0b00110100

// DefaultTimeout bounds a single transaction round trip when no explicit
// policy is supplied. There is no retry at the default.
const DefaultTimeout = 500 * time.Millisecond

// TimeoutPolicy overrides the bus default for transactions known to be slow,
// such as device initialization. The transaction is retried every
// RetryInterval until Timeout has elapsed in total.
type TimeoutPolicy struct {
	Timeout       time.Duration
	RetryInterval time.Duration
}

// Transactor is the external transport that performs one atomic
// request/response exchange on the control bus. A nil policy selects the
// bus default timeout with no retry.
type Transactor interface {
	Transaction(deviceAddr uint8, writeBytes []byte, readByteCount int, policy *TimeoutPolicy) ([]byte, error)
}

// TransactionError reports a register transaction that did not complete:
// a bus error, a timeout, or a malformed reply.
type TransactionError struct {
	Op       string // "read" or "write"
	Register registers.Register
	Err      error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("register %s %s failed: %v", e.Op, e.Register, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// Client issues typed register reads and writes against a single device on
// the bus. Every call is one physical transaction; there is no caching and
// no batching.
type Client struct {
	bus    Transactor
	device uint8
}

// NewClient returns a Client bound to the given device bus address.
func NewClient(bus Transactor, device uint8) *Client {
	return &Client{bus: bus, device: device}
}

// Read fetches the 32-bit value of a register. Transport failures are not
// retried at this layer.
func (c *Client) Read(reg registers.Register) (uint32, error) {
	reply, err := c.bus.Transaction(c.device, registers.EncodeRead(reg), registers.ValueSize, nil)
	if err != nil {
		return 0, &TransactionError{Op: "read", Register: reg, Err: err}
	}
	value, err := registers.DecodeValue(reply)
	if err != nil {
		return 0, &TransactionError{Op: "read", Register: reg, Err: err}
	}
	return value, nil
}

// Write sets a register using the bus default timeout with no retry.
func (c *Client) Write(reg registers.Register, value uint32) error {
	return c.WriteTimeout(reg, value, nil)
}

// WriteTimeout sets a register under an explicit timeout/retry policy.
// A register write never has a reply payload.
func (c *Client) WriteTimeout(reg registers.Register, value uint32, policy *TimeoutPolicy) error {
	_, err := c.bus.Transaction(c.device, registers.EncodeWrite(reg, value), 0, policy)
	if err != nil {
		return &TransactionError{Op: "write", Register: reg, Err: err}
	}
	return nil
}
