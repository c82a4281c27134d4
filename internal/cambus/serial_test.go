package cambus

import (
	"bytes"
	"testing"
	"time"

	"github.com/meridian-sensing/framelink/internal/monitoring"
	"github.com/meridian-sensing/framelink/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakePort is an in-memory bridgePort. Responses are queued per exchange.
type fakePort struct {
	written   bytes.Buffer
	responses [][]byte
	errs      []error
	exchanges int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.written.Write(b)
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	i := p.exchanges
	p.exchanges++
	if i < len(p.errs) && p.errs[i] != nil {
		return 0, p.errs[i]
	}
	if i >= len(p.responses) {
		return 0, nil // timeout: n=0, nil error, matching go.bug.st/serial
	}
	return copy(b, p.responses[i]), nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }

func TestSerialBridgeFraming(t *testing.T) {
	port := &fakePort{responses: [][]byte{{bridgeStatusOK, 0xDE, 0xAD, 0xBE, 0xEF}}}
	bridge := NewSerialBridge(port, nil)

	reply, err := bridge.Transaction(CameraAddress, []byte{0x00, 0x64}, 4, nil)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if !bytes.Equal(reply, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("reply = %v", reply)
	}

	wantFrame := []byte{CameraAddress, 4, 2, 0x00, 0x64}
	if !bytes.Equal(port.written.Bytes(), wantFrame) {
		t.Errorf("frame = %v, want %v", port.written.Bytes(), wantFrame)
	}
}

func TestSerialBridgeBusErrorStatus(t *testing.T) {
	port := &fakePort{responses: [][]byte{{0x05}}}
	bridge := NewSerialBridge(port, nil)

	_, err := bridge.Transaction(CameraAddress, []byte{0x00, 0x68, 0, 0, 0, 1}, 0, nil)
	if err == nil {
		t.Fatal("expected error for non-zero bridge status")
	}
}

func TestSerialBridgeReadTimeout(t *testing.T) {
	port := &fakePort{} // no responses queued: every read times out
	bridge := NewSerialBridge(port, nil)

	_, err := bridge.Transaction(CameraAddress, []byte{0x00, 0x64}, 4, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSerialBridgeRetriesUnderPolicy(t *testing.T) {
	// Two timed-out exchanges, then a success.
	port := &fakePort{responses: [][]byte{nil, nil, {bridgeStatusOK}}}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bridge := NewSerialBridge(port, clock)

	policy := &TimeoutPolicy{Timeout: 30 * time.Second, RetryInterval: 2 * time.Second}
	_, err := bridge.Transaction(CameraAddress, []byte{0x00, 0xC7, 0, 0, 0, 1}, 0, policy)
	if err != nil {
		t.Fatalf("Transaction failed despite retries: %v", err)
	}

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("retried %d times, want 2", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 2*time.Second {
			t.Errorf("retry interval = %v, want 2s", d)
		}
	}
}

func TestSerialBridgeGivesUpAtDeadline(t *testing.T) {
	port := &fakePort{} // never responds
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bridge := NewSerialBridge(port, clock)

	policy := &TimeoutPolicy{Timeout: 6 * time.Second, RetryInterval: 2 * time.Second}
	_, err := bridge.Transaction(CameraAddress, []byte{0x00, 0xC7, 0, 0, 0, 1}, 0, policy)
	if err == nil {
		t.Fatal("expected failure once the policy deadline passed")
	}

	// 6s budget with 2s retry interval allows a bounded number of attempts.
	if n := len(clock.Sleeps()); n != 3 {
		t.Errorf("slept %d times, want 3", n)
	}
}
