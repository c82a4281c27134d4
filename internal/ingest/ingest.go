// Package ingest ties the sensor sequencer and the frame receiver together
// into acquisition sessions: configure the sensor, bring up a receiver, pump
// delivered frames into the store, tear it all down in order.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-sensing/framelink/internal/db"
	"github.com/meridian-sensing/framelink/internal/monitoring"
	"github.com/meridian-sensing/framelink/internal/receiver"
	"github.com/meridian-sensing/framelink/internal/sensor"
)

// ManagerFactory builds a fresh receiver manager. Managers are single-use;
// every acquisition start constructs a new one.
type ManagerFactory func() (*receiver.Manager, error)

// ConfigureRequest carries the sensor settings for one acquisition setup.
type ConfigureRequest struct {
	Width       uint32
	Height      uint32
	PixelFormat sensor.PixelFormat
	BayerFormat sensor.BayerFormat

	// FrameRateS is the per-frame interval in seconds.
	FrameRateS float64
}

// Service owns the acquisition state machine. All entry points serialize on
// one mutex; the frame pump goroutine is the only concurrent actor and it
// never touches configuration state.
type Service struct {
	camera     *sensor.Camera
	newManager ManagerFactory
	store      *db.SessionStore // nil disables persistence

	// pollTimeout bounds each GetNextFrame wait in the pump loop.
	pollTimeout time.Duration

	mu          sync.Mutex
	configured  bool
	req         ConfigureRequest
	frameSize   int
	frameMemory []byte
	manager     *receiver.Manager
	session     *db.Session
	cancelPump  context.CancelFunc
	pumpDone    chan struct{}
}

// NewService returns an unconfigured Service. store may be nil when frame
// persistence is not wanted.
func NewService(camera *sensor.Camera, newManager ManagerFactory, store *db.SessionStore) *Service {
	return &Service{
		camera:      camera,
		newManager:  newManager,
		store:       store,
		pollTimeout: 200 * time.Millisecond,
	}
}

// Configure applies the sensor bring-up sequence and provisions frame memory
// for the resulting frame size. Not allowed while acquisition is running.
func (s *Service) Configure(req ConfigureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		return fmt.Errorf("cannot configure while acquisition is running")
	}

	err := s.camera.Configure(req.Height, req.Width, req.BayerFormat, req.PixelFormat, req.FrameRateS)
	if err != nil {
		return err
	}

	frameSize, err := s.camera.FrameSize()
	if err != nil {
		return err
	}

	s.req = req
	s.frameSize = int(frameSize)
	s.frameMemory = make([]byte, frameSize)
	s.configured = true
	return nil
}

// Start brings up a fresh receiver over the provisioned frame memory, opens
// a session, starts the frame pump, and finally tells the sensor to run.
// The receiver must be live and authenticated before the sensor starts
// publishing, so the order here is fixed.
func (s *Service) Start() (*db.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return nil, fmt.Errorf("sensor is not configured")
	}
	if s.manager != nil {
		return nil, fmt.Errorf("acquisition already running")
	}

	manager, err := s.newManager()
	if err != nil {
		return nil, fmt.Errorf("failed to construct receiver: %w", err)
	}
	if err := manager.Start(s.frameMemory, s.frameSize); err != nil {
		return nil, err
	}

	session := &db.Session{
		Width:       s.req.Width,
		Height:      s.req.Height,
		PixelFormat: s.req.PixelFormat.String(),
		BayerFormat: s.req.BayerFormat.String(),
		FrameRate:   s.req.FrameRateS,
	}
	if s.store != nil {
		if err := s.store.CreateSession(session); err != nil {
			manager.Stop()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go s.pumpFrames(ctx, done, manager, session.SessionID)

	if err := s.camera.Start(); err != nil {
		cancel()
		<-done
		manager.Stop()
		return nil, fmt.Errorf("failed to start sensor: %w", err)
	}

	s.manager = manager
	s.session = session
	s.cancelPump = cancel
	s.pumpDone = done

	monitoring.Logf("acquisition started: session=%s frame_size=%d", session.SessionID, s.frameSize)
	return session, nil
}

// pumpFrames drains completed frames from the manager until cancelled,
// recording each one when a store is attached.
func (s *Service) pumpFrames(ctx context.Context, done chan struct{}, manager *receiver.Manager, sessionID string) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := manager.GetNextFrame(s.pollTimeout)
		if err != nil {
			// The manager has left the Running state; the pump is over.
			return
		}
		if frame == nil {
			continue
		}

		if s.store != nil {
			record := &db.FrameRecord{
				SessionID:       sessionID,
				FrameNumber:     frame.FrameNumber,
				BytesReceived:   frame.BytesReceived,
				PacketsReceived: frame.PacketsReceived,
				PacketsDropped:  frame.PacketsDropped,
				CRC:             frame.CRC,
				PSN:             frame.PSN,
				ReceivedAt:      frame.ReceivedAt.UnixNano(),
				DeviceTimestamp: frame.DeviceTimestamp.UnixNano(),
			}
			if err := s.store.InsertFrame(record); err != nil {
				monitoring.Logf("failed to record frame %d: %v", frame.FrameNumber, err)
			}
		}
	}
}

// Stop halts the sensor, stops the frame pump, tears the receiver down, and
// closes the session.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager == nil {
		return fmt.Errorf("acquisition is not running")
	}

	var firstErr error
	if err := s.camera.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop sensor: %w", err)
	}

	s.cancelPump()
	<-s.pumpDone

	if err := s.manager.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.store != nil && s.session != nil {
		if err := s.store.CloseSession(s.session.SessionID, time.Now()); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	monitoring.Logf("acquisition stopped: session=%s", s.session.SessionID)
	s.manager = nil
	s.session = nil
	s.cancelPump = nil
	s.pumpDone = nil
	return firstErr
}

// Reset issues the sensor recovery action. Only valid while stopped; the
// sensor must be configured again afterwards.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manager != nil {
		return fmt.Errorf("cannot reset while acquisition is running")
	}
	if err := s.camera.Reset(); err != nil {
		return err
	}
	s.configured = false
	return nil
}

// TapWatchdog re-arms the sensor watchdog.
func (s *Service) TapWatchdog() error {
	return s.camera.TapWatchdog(sensor.DefaultWatchdogSeconds)
}

// Running reports whether an acquisition is in progress.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager != nil
}

// Session returns the active acquisition session, or nil.
func (s *Service) Session() *db.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Stats returns the live receiver statistics for the active acquisition.
func (s *Service) Stats() (receiver.StatsSnapshot, error) {
	s.mu.Lock()
	manager := s.manager
	s.mu.Unlock()

	if manager == nil {
		return receiver.StatsSnapshot{}, fmt.Errorf("acquisition is not running")
	}
	return manager.Stats(), nil
}
