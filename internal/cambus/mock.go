package cambus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/meridian-sensing/framelink/internal/registers"
)

// MockCall records one Transaction invocation against a MockBus.
type MockCall struct {
	Device    uint8
	Write     []byte
	ReadCount int
	Policy    *TimeoutPolicy
}

// MockBus is a Transactor backed by an in-memory register file. It behaves
// like a well-formed device: writes store the value, reads return it. Errors
// can be injected per register to exercise failure paths.
type MockBus struct {
	mu sync.Mutex

	// Values holds the simulated register file. Writes update it.
	Values map[registers.Register]uint32

	// FailOn injects an error for any transaction addressing the register.
	FailOn map[registers.Register]error

	// FailCount makes a register fail that many times before succeeding,
	// for exercising retry policies. Decremented on each failed attempt.
	FailCount map[registers.Register]int

	// Calls records every transaction in order.
	Calls []MockCall
}

// NewMockBus returns a MockBus with an empty register file.
func NewMockBus() *MockBus {
	return &MockBus{
		Values:    make(map[registers.Register]uint32),
		FailOn:    make(map[registers.Register]error),
		FailCount: make(map[registers.Register]int),
	}
}

// Transaction implements Transactor against the in-memory register file.
func (m *MockBus) Transaction(deviceAddr uint8, writeBytes []byte, readByteCount int, policy *TimeoutPolicy) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]byte, len(writeBytes))
	copy(recorded, writeBytes)
	m.Calls = append(m.Calls, MockCall{
		Device:    deviceAddr,
		Write:     recorded,
		ReadCount: readByteCount,
		Policy:    policy,
	})

	if len(writeBytes) < registers.AddressSize {
		return nil, fmt.Errorf("request too short: %d bytes", len(writeBytes))
	}
	reg := registers.Register(binary.BigEndian.Uint16(writeBytes))

	if err, ok := m.FailOn[reg]; ok {
		return nil, err
	}
	if n := m.FailCount[reg]; n > 0 {
		m.FailCount[reg] = n - 1
		return nil, fmt.Errorf("simulated bus error on %s (%d failures left)", reg, n-1)
	}

	if len(writeBytes) == registers.AddressSize+registers.ValueSize {
		m.Values[reg] = binary.BigEndian.Uint32(writeBytes[registers.AddressSize:])
	}
	if readByteCount == 0 {
		return nil, nil
	}

	reply := make([]byte, registers.ValueSize)
	binary.BigEndian.PutUint32(reply, m.Values[reg])
	return reply[:readByteCount], nil
}

// Value returns the current register file entry for reg.
func (m *MockBus) Value(reg registers.Register) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Values[reg]
}

// WriteOrder returns the register addressed by each recorded write, in call
// order, skipping reads.
func (m *MockBus) WriteOrder() []registers.Register {
	m.mu.Lock()
	defer m.mu.Unlock()

	var order []registers.Register
	for _, call := range m.Calls {
		if len(call.Write) == registers.AddressSize+registers.ValueSize {
			order = append(order, registers.Register(binary.BigEndian.Uint16(call.Write)))
		}
	}
	return order
}
