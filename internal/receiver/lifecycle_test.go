package receiver

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recorder collects lifecycle events across the test doubles in call order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) indexOf(event string) int {
	for i, e := range r.list() {
		if e == event {
			return i
		}
	}
	return -1
}

type mockSocket struct {
	rec *recorder
	fd  int
}

func (s *mockSocket) Fd() int { return s.fd }
func (s *mockSocket) Close() error {
	s.rec.add("socket_close")
	return nil
}

type mockChannel struct {
	rec        *recorder
	receiver   *mockReceiver
	cfgErr     error
	authErr    error
	authQP     uint32
	authRKey   uint32
	authCalled bool
}

func (c *mockChannel) ConfigureSocket(fd int) error {
	c.rec.add("configure_socket")
	return c.cfgErr
}

func (c *mockChannel) Authenticate(qp, rkey uint32) error {
	// The queue-pair values are only valid once the receive loop is live;
	// fail loudly if authentication beat the receive thread.
	if c.receiver != nil {
		select {
		case <-c.receiver.runEntered:
		case <-time.After(time.Second):
			c.rec.add("authenticate_before_run")
			return fmt.Errorf("receive loop not running at authentication time")
		}
	}
	c.rec.add("authenticate")
	c.authCalled = true
	c.authQP = qp
	c.authRKey = rkey
	return c.authErr
}

func (c *mockChannel) CSISize() (uint32, uint32, uint32, uint32) { return 4, 4, 4, 2 }

type mockReceiver struct {
	rec        *recorder
	frames     chan Metadata
	runEntered chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	readySet   bool
}

func newMockReceiver(rec *recorder) *mockReceiver {
	return &mockReceiver{
		rec:        rec,
		frames:     make(chan Metadata, 16),
		runEntered: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

func (r *mockReceiver) Run() {
	r.rec.add("run")
	close(r.runEntered)
	<-r.closed
	r.rec.add("run_exit")
}

func (r *mockReceiver) Close() {
	r.rec.add("close")
	r.closeOnce.Do(func() { close(r.closed) })
}

func (r *mockReceiver) GetNextFrame(timeout time.Duration) (Metadata, bool) {
	select {
	case md := <-r.frames:
		return md, true
	case <-time.After(timeout):
		return Metadata{}, false
	}
}

func (r *mockReceiver) QPNumber() uint32 { return 77 }

func (r *mockReceiver) RKey() uint32 { return 88 }

func (r *mockReceiver) SetFrameReady(func()) { r.readySet = true }

type fixture struct {
	rec      *recorder
	socket   *mockSocket
	channel  *mockChannel
	receiver *mockReceiver
	manager  *Manager
}

func newFixture(t *testing.T, affinity *[]int) *fixture {
	t.Helper()

	rec := &recorder{}
	recv := newMockReceiver(rec)
	ch := &mockChannel{rec: rec, receiver: recv}
	sock := &mockSocket{rec: rec, fd: 42}

	m, err := NewManager(Config{
		Socket:  sock,
		Channel: ch,
		NewReceiver: func(frameMemory []byte, frameSize int, fd int, addressOffset uint64) (Receiver, error) {
			return recv, nil
		},
		Affinity: affinity,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.sockops = &fakeSockopt{current: 8 * 1024 * 1024}

	return &fixture{rec: rec, socket: sock, channel: ch, receiver: recv, manager: m}
}

func noPinning() *[]int {
	empty := []int{}
	return &empty
}

func TestStartAuthenticatesAfterThreadStart(t *testing.T) {
	f := newFixture(t, noPinning())

	memory := make([]byte, 4096)
	if err := f.manager.Start(memory, 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.manager.Stop()

	if f.manager.State() != StateRunning {
		t.Errorf("state = %v, want Running", f.manager.State())
	}

	runIdx := f.rec.indexOf("run")
	authIdx := f.rec.indexOf("authenticate")
	if runIdx == -1 || authIdx == -1 {
		t.Fatalf("missing events, got %v", f.rec.list())
	}
	if runIdx > authIdx {
		t.Errorf("authenticate happened before the receive thread ran: %v", f.rec.list())
	}
	if f.channel.authQP != 77 || f.channel.authRKey != 88 {
		t.Errorf("authenticated with qp=%d rkey=%d, want the receiver's values", f.channel.authQP, f.channel.authRKey)
	}
	if !f.receiver.readySet {
		t.Error("frame-ready callback was never installed")
	}
}

func TestStopOrdering(t *testing.T) {
	f := newFixture(t, noPinning())

	memory := make([]byte, 4096)
	if err := f.manager.Start(memory, 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	closeIdx := f.rec.indexOf("close")
	exitIdx := f.rec.indexOf("run_exit")
	sockIdx := f.rec.indexOf("socket_close")
	if closeIdx == -1 || exitIdx == -1 || sockIdx == -1 {
		t.Fatalf("missing shutdown events: %v", f.rec.list())
	}
	if !(closeIdx < exitIdx && exitIdx < sockIdx) {
		t.Errorf("shutdown order wrong: %v", f.rec.list())
	}
	if f.manager.State() != StateClosed {
		t.Errorf("state = %v, want Closed", f.manager.State())
	}
}

func TestClosedManagerIsTerminal(t *testing.T) {
	f := newFixture(t, noPinning())
	memory := make([]byte, 4096)
	if err := f.manager.Start(memory, 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var lcErr *LifecycleError
	if err := f.manager.Start(memory, 4096); !errors.As(err, &lcErr) {
		t.Errorf("restart after Stop: err = %v, want LifecycleError", err)
	}
	if err := f.manager.Stop(); !errors.As(err, &lcErr) {
		t.Errorf("double Stop: err = %v, want LifecycleError", err)
	}
}

func TestLifecycleOrderingViolations(t *testing.T) {
	f := newFixture(t, noPinning())

	var lcErr *LifecycleError
	if err := f.manager.Stop(); !errors.As(err, &lcErr) {
		t.Errorf("Stop before Start: err = %v, want LifecycleError", err)
	}
	if _, err := f.manager.GetNextFrame(time.Millisecond); !errors.As(err, &lcErr) {
		t.Errorf("GetNextFrame before Start: err = %v, want LifecycleError", err)
	}
}

func TestStartRejectsUndersizedFrameMemory(t *testing.T) {
	f := newFixture(t, noPinning())
	if err := f.manager.Start(make([]byte, 100), 4096); err == nil {
		t.Error("Start accepted frame memory smaller than the frame size")
	}
}

func TestAuthenticationFailureUnwindsInOrder(t *testing.T) {
	f := newFixture(t, noPinning())
	f.channel.authErr = fmt.Errorf("device rejected key")

	err := f.manager.Start(make([]byte, 4096), 4096)
	if err == nil {
		t.Fatal("expected Start to fail when authentication fails")
	}
	if f.manager.State() != StateClosed {
		t.Errorf("state = %v, want Closed after failed handshake", f.manager.State())
	}

	closeIdx := f.rec.indexOf("close")
	exitIdx := f.rec.indexOf("run_exit")
	sockIdx := f.rec.indexOf("socket_close")
	if !(closeIdx != -1 && closeIdx < exitIdx && exitIdx < sockIdx) {
		t.Errorf("unwind order wrong: %v", f.rec.list())
	}
}

func TestStartSocketConfigureFailureReleasesSocket(t *testing.T) {
	f := newFixture(t, noPinning())
	f.channel.cfgErr = fmt.Errorf("bind rejected")

	if err := f.manager.Start(make([]byte, 4096), 4096); err == nil {
		t.Fatal("expected Start to fail when socket configuration fails")
	}
	if f.manager.State() != StateClosed {
		t.Errorf("state = %v, want Closed after failed socket configuration", f.manager.State())
	}
	if f.rec.indexOf("socket_close") == -1 {
		t.Errorf("data socket was never closed: %v", f.rec.list())
	}
}

func TestStartFactoryFailureReleasesSocket(t *testing.T) {
	rec := &recorder{}
	ch := &mockChannel{rec: rec}
	sock := &mockSocket{rec: rec, fd: 42}

	m, err := NewManager(Config{
		Socket:  sock,
		Channel: ch,
		NewReceiver: func(frameMemory []byte, frameSize int, fd int, addressOffset uint64) (Receiver, error) {
			return nil, fmt.Errorf("no receive engine available")
		},
		Affinity: noPinning(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.sockops = &fakeSockopt{current: 8 * 1024 * 1024}

	if err := m.Start(make([]byte, 4096), 4096); err == nil {
		t.Fatal("expected Start to fail when the receiver factory fails")
	}
	if m.State() != StateClosed {
		t.Errorf("state = %v, want Closed after failed factory", m.State())
	}
	if rec.indexOf("socket_close") == -1 {
		t.Errorf("data socket was never closed: %v", rec.list())
	}

	// The manager is spent; no operation may resurrect it.
	var lcErr *LifecycleError
	if err := m.Stop(); !errors.As(err, &lcErr) {
		t.Errorf("Stop after failed Start: err = %v, want LifecycleError", err)
	}
	if err := m.Start(make([]byte, 4096), 4096); !errors.As(err, &lcErr) {
		t.Errorf("restart after failed Start: err = %v, want LifecycleError", err)
	}
}

func TestGetNextFrameTimeoutIsNotAnError(t *testing.T) {
	f := newFixture(t, noPinning())
	if err := f.manager.Start(make([]byte, 4096), 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.manager.Stop()

	frame, err := f.manager.GetNextFrame(5 * time.Millisecond)
	if err != nil {
		t.Errorf("timeout surfaced as error: %v", err)
	}
	if frame != nil {
		t.Errorf("timeout returned a frame: %+v", frame)
	}
}

func TestGetNextFrameTranslatesMetadata(t *testing.T) {
	f := newFixture(t, noPinning())
	if err := f.manager.Start(make([]byte, 4096), 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.manager.Stop()

	f.receiver.frames <- Metadata{
		FrameNumber:          9,
		FramePacketsReceived: 12,
		FrameBytesReceived:   4096,
		ReceivedS:            1700000000,
		ReceivedNS:           500,
		TimestampS:           1700000001,
		TimestampNS:          600,
		MetadataS:            1700000002,
		MetadataNS:           700,
		PacketsDropped:       1,
		CRC:                  0xABCD,
		PSN:                  9,
	}

	frame, err := f.manager.GetNextFrame(time.Second)
	if err != nil {
		t.Fatalf("GetNextFrame failed: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a frame")
	}
	if frame.FrameNumber != 9 || frame.PacketsReceived != 12 || frame.BytesReceived != 4096 {
		t.Errorf("counter translation wrong: %+v", frame)
	}
	if frame.ReceivedAt != time.Unix(1700000000, 500) {
		t.Errorf("ReceivedAt = %v", frame.ReceivedAt)
	}
	if frame.DeviceTimestamp != time.Unix(1700000001, 600) {
		t.Errorf("DeviceTimestamp = %v", frame.DeviceTimestamp)
	}
	if frame.MetadataAt != time.Unix(1700000002, 700) {
		t.Errorf("MetadataAt = %v", frame.MetadataAt)
	}
}

func TestGetNextFrameNumbersIncrease(t *testing.T) {
	f := newFixture(t, noPinning())
	if err := f.manager.Start(make([]byte, 4096), 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.manager.Stop()

	for i := uint32(1); i <= 5; i++ {
		f.receiver.frames <- Metadata{FrameNumber: i, FrameBytesReceived: 4096}
	}

	var last uint32
	for i := 0; i < 5; i++ {
		frame, err := f.manager.GetNextFrame(time.Second)
		if err != nil || frame == nil {
			t.Fatalf("GetNextFrame #%d: frame=%v err=%v", i, frame, err)
		}
		if frame.FrameNumber <= last && last != 0 {
			t.Errorf("frame numbers not strictly increasing: %d after %d", frame.FrameNumber, last)
		}
		last = frame.FrameNumber
	}

	stats := f.manager.Stats()
	if stats.Frames != 5 {
		t.Errorf("stats.Frames = %d, want 5", stats.Frames)
	}
}

func TestResolveAffinity(t *testing.T) {
	if got := resolveAffinity(nil); len(got) != 1 || got[0] != DefaultAffinityCore {
		t.Errorf("resolveAffinity(nil) = %v, want [%d]", got, DefaultAffinityCore)
	}
	if got := resolveAffinity(noPinning()); got != nil {
		t.Errorf("resolveAffinity(&[]) = %v, want nil", got)
	}
	custom := []int{0, 4}
	if got := resolveAffinity(&custom); len(got) != 2 || got[0] != 0 || got[1] != 4 {
		t.Errorf("resolveAffinity(&[0,4]) = %v", got)
	}
}

func TestFrameReadyForwarded(t *testing.T) {
	rec := &recorder{}
	recv := newMockReceiver(rec)
	ch := &mockChannel{rec: rec, receiver: recv}
	sock := &mockSocket{rec: rec, fd: 42}

	notified := make(chan struct{}, 1)
	m, err := NewManager(Config{
		Socket:  sock,
		Channel: ch,
		NewReceiver: func(frameMemory []byte, frameSize int, fd int, addressOffset uint64) (Receiver, error) {
			return recv, nil
		},
		FrameReady: func() { notified <- struct{}{} },
		Affinity:   noPinning(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.sockops = &fakeSockopt{current: 8 * 1024 * 1024}

	if err := m.Start(make([]byte, 4096), 4096); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	m.notifyFrameReady()
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Error("frame-ready notification was not forwarded")
	}
}
