// Package sensor brings the imaging sensor into a known streaming state by
// driving an ordered sequence of register writes over the control bus, and
// manages run/stop/reset and watchdog liveness during acquisition.
package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/meridian-sensing/framelink/internal/cambus"
	"github.com/meridian-sensing/framelink/internal/monitoring"
	"github.com/meridian-sensing/framelink/internal/registers"
	"github.com/meridian-sensing/framelink/internal/timeutil"
)

// SupportedVersion is the single firmware version this sequencer knows how
// to configure. Anything else aborts configuration before a single write.
const SupportedVersion = 12344312

// DefaultWatchdogSeconds is armed during configuration; the host must tap
// the watchdog faster than this or the device enters its fail-safe state.
const DefaultWatchdogSeconds = 20

// InitializePolicy is the extended timeout for the INITIALIZE write.
// Device-side initialization is slow and the device may not respond to the
// first attempts.
var InitializePolicy = &cambus.TimeoutPolicy{
	Timeout:       30 * time.Second,
	RetryInterval: 2 * time.Second,
}

// UnsupportedVersionError reports a device whose firmware this sequencer
// cannot safely configure.
type UnsupportedVersionError struct {
	Got uint32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported sensor firmware version %d (supported: %d)", e.Got, SupportedVersion)
}

// CSISizer reports the byte sizes of the frame/line start and end markers in
// the sensor's streaming protocol. The owning channel provides it.
type CSISizer interface {
	CSISize() (frameStart, frameEnd, lineStart, lineEnd uint32)
}

// Converter receives the frame geometry a downstream format converter needs.
type Converter interface {
	Configure(width, height uint32, pixel PixelFormat, frameStart, frameEnd, lineStart, lineEnd uint32)
}

// Camera owns the sensor's configuration state and is the only writer of its
// control registers. Configure is not reentrant; callers must serialize
// concurrent configuration attempts themselves.
type Camera struct {
	client *cambus.Client
	sizer  CSISizer
	clock  timeutil.Clock

	mu         sync.Mutex
	configured bool
	height     uint32
	width      uint32
	pixel      PixelFormat
	bayer      BayerFormat
	fpm        uint32
	running    bool
}

// NewCamera returns a Camera driving the device through client. The sizer
// supplies CSI marker sizes for ConfigureConverter and may be nil when no
// converter is attached.
func NewCamera(client *cambus.Client, sizer CSISizer, clock timeutil.Clock) *Camera {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Camera{client: client, sizer: sizer, clock: clock}
}

// FramesPerMinute converts a per-frame interval in seconds to the whole
// frames-per-minute value the device expects.
func FramesPerMinute(frameRateS float64) (uint32, error) {
	if frameRateS <= 0 || math.IsNaN(frameRateS) || math.IsInf(frameRateS, 0) {
		return 0, fmt.Errorf("invalid frame rate %v seconds", frameRateS)
	}
	return uint32(60.0 / frameRateS), nil
}

// Configure verifies the device firmware and applies the full bring-up
// sequence. The write order is firmware-mandated: dimensions and formats are
// validated incrementally on the device, and the watchdog must be armed
// before INITIALIZE. On any failure the in-memory configuration state is
// left untouched.
func (c *Camera) Configure(height, width uint32, bayer BayerFormat, pixel PixelFormat, frameRateS float64) error {
	fpm, err := FramesPerMinute(frameRateS)
	if err != nil {
		return err
	}
	if _, err := pixel.BitsPerPixel(); err != nil {
		return err
	}

	version, err := c.client.Read(registers.Version)
	if err != nil {
		return fmt.Errorf("failed to read sensor version: %w", err)
	}
	monitoring.Logf("sensor firmware version=%d", version)
	if version != SupportedVersion {
		return &UnsupportedVersionError{Got: version}
	}

	steps := []struct {
		reg    registers.Register
		value  uint32
		policy *cambus.TimeoutPolicy
	}{
		{registers.Width, width, nil},
		{registers.Height, height, nil},
		{registers.BayerFormat, uint32(bayer), nil},
		{registers.PixelFormat, uint32(pixel), nil},
		{registers.Watchdog, DefaultWatchdogSeconds, nil},
		{registers.FramesPerMinute, fpm, nil},
		{registers.Initialize, 1, InitializePolicy},
	}
	for _, step := range steps {
		if err := c.client.WriteTimeout(step.reg, step.value, step.policy); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.height = height
	c.width = width
	c.pixel = pixel
	c.bayer = bayer
	c.fpm = fpm
	c.configured = true
	c.mu.Unlock()

	monitoring.Logf("sensor configured: %dx%d %s/%s %d frames/min", width, height, pixel, bayer, fpm)
	return nil
}

// Start tells the camera to begin publishing frame data. The register write
// is the source of truth; the running flag is advisory state for callers.
func (c *Camera) Start() error {
	if err := c.client.Write(registers.Run, 1); err != nil {
		return err
	}
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

// Stop tells the camera to stop publishing frame data.
func (c *Camera) Stop() error {
	if err := c.client.Write(registers.Run, 0); err != nil {
		return err
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Reset triggers the device-defined recovery action. The device must be
// re-Configured before acquisition can resume; that is the caller's job.
func (c *Camera) Reset() error {
	return c.client.Write(registers.Reset, 1)
}

// TapWatchdog re-arms the device watchdog for timeoutS seconds.
func (c *Camera) TapWatchdog(timeoutS uint32) error {
	return c.client.Write(registers.Watchdog, timeoutS)
}

// RunWatchdog taps the watchdog every interval until ctx is cancelled. The
// interval must be comfortably below the armed watchdog timeout.
func (c *Camera) RunWatchdog(ctx context.Context, interval time.Duration) error {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := c.TapWatchdog(DefaultWatchdogSeconds); err != nil {
				monitoring.Logf("watchdog tap failed: %v", err)
			}
		}
	}
}

// ConfigureConverter forwards the applied frame geometry and the channel's
// CSI marker sizes to a downstream converter. No bus transaction happens
// here.
func (c *Camera) ConfigureConverter(conv Converter) error {
	c.mu.Lock()
	configured := c.configured
	width, height, pixel := c.width, c.height, c.pixel
	c.mu.Unlock()

	if !configured {
		return fmt.Errorf("sensor is not configured")
	}
	if c.sizer == nil {
		return fmt.Errorf("no channel attached for CSI sizes")
	}

	frameStart, frameEnd, lineStart, lineEnd := c.sizer.CSISize()
	conv.Configure(width, height, pixel, frameStart, frameEnd, lineStart, lineEnd)
	return nil
}

// Running reports the advisory running flag.
func (c *Camera) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// PixelFormat returns the last successfully applied pixel format.
func (c *Camera) PixelFormat() PixelFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pixel
}

// BayerFormat returns the last successfully applied bayer format.
func (c *Camera) BayerFormat() BayerFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bayer
}

// FrameSize returns the byte size of one frame under the applied
// configuration. The receiver provisions and validates its buffers with
// this value.
func (c *Camera) FrameSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured {
		return 0, fmt.Errorf("sensor is not configured")
	}
	return FrameSize(c.width, c.height, c.pixel)
}
