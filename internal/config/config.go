// Package config loads the ingest configuration from JSON. Fields are
// pointers so partial files are safe: anything omitted falls back to the
// Get* defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the root ingest configuration. The schema matches the
// /api/config endpoint so the same JSON serves startup and inspection.
type Config struct {
	// Control plane
	ListenAddr   *string `json:"listen_addr,omitempty"`
	SerialDevice *string `json:"serial_device,omitempty"`

	// Data plane
	DataPort *int `json:"data_port,omitempty"`

	// ReceiverAffinity lists the cores the receive thread may run on, as a
	// comma separated string like "2" or "2,3". An explicitly empty string
	// disables pinning entirely.
	ReceiverAffinity *string `json:"receiver_affinity,omitempty"`

	// Storage
	DatabasePath  *string `json:"database_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`

	// Sensor defaults applied when a configure request omits them
	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
	PixelFormat *string  `json:"pixel_format,omitempty"`
	BayerFormat *string  `json:"bayer_format,omitempty"`
	FrameRate   *float64 `json:"frame_rate,omitempty"`

	// WatchdogInterval is a duration string like "10s". Empty disables the
	// background watchdog keeper.
	WatchdogInterval *string `json:"watchdog_interval,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must have a .json extension
// and the file must be under the max size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.DataPort != nil {
		if *c.DataPort < 1 || *c.DataPort > 65535 {
			return fmt.Errorf("data_port must be between 1 and 65535, got %d", *c.DataPort)
		}
	}
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", *c.Height)
	}
	if c.FrameRate != nil && *c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %f", *c.FrameRate)
	}
	if c.WatchdogInterval != nil && *c.WatchdogInterval != "" {
		if _, err := time.ParseDuration(*c.WatchdogInterval); err != nil {
			return fmt.Errorf("invalid watchdog_interval '%s': %w", *c.WatchdogInterval, err)
		}
	}
	if c.ReceiverAffinity != nil && *c.ReceiverAffinity != "" {
		for _, part := range strings.Split(*c.ReceiverAffinity, ",") {
			core, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("invalid receiver_affinity entry %q: %w", part, err)
			}
			if core < 0 {
				return fmt.Errorf("receiver_affinity core must be non-negative, got %d", core)
			}
		}
	}
	return nil
}

// GetListenAddr returns the control API listen address or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetSerialDevice returns the control bus serial device or the default.
func (c *Config) GetSerialDevice() string {
	if c.SerialDevice == nil || *c.SerialDevice == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialDevice
}

// GetDataPort returns the frame ingest UDP port or the default.
func (c *Config) GetDataPort() int {
	if c.DataPort == nil {
		return 4840
	}
	return *c.DataPort
}

// GetReceiverAffinity returns the parsed affinity core list. nil means use
// the built-in default core; an empty slice means pinning is disabled.
func (c *Config) GetReceiverAffinity() *[]int {
	if c.ReceiverAffinity == nil {
		return nil
	}
	if *c.ReceiverAffinity == "" {
		cores := []int{}
		return &cores
	}
	var cores []int
	for _, part := range strings.Split(*c.ReceiverAffinity, ",") {
		core, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue // rejected by Validate; skip here
		}
		cores = append(cores, core)
	}
	return &cores
}

// GetDatabasePath returns the sqlite database path or the default.
func (c *Config) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "framelink.db"
	}
	return *c.DatabasePath
}

// GetMigrationsDir returns the migrations directory or the default.
func (c *Config) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "internal/db/migrations"
	}
	return *c.MigrationsDir
}

// GetWidth returns the default frame width.
func (c *Config) GetWidth() int {
	if c.Width == nil {
		return 640
	}
	return *c.Width
}

// GetHeight returns the default frame height.
func (c *Config) GetHeight() int {
	if c.Height == nil {
		return 480
	}
	return *c.Height
}

// GetPixelFormat returns the default pixel format name.
func (c *Config) GetPixelFormat() string {
	if c.PixelFormat == nil || *c.PixelFormat == "" {
		return "RAW8"
	}
	return *c.PixelFormat
}

// GetBayerFormat returns the default bayer pattern name.
func (c *Config) GetBayerFormat() string {
	if c.BayerFormat == nil || *c.BayerFormat == "" {
		return "BGGR"
	}
	return *c.BayerFormat
}

// GetFrameRate returns the default frame interval in seconds.
func (c *Config) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 1.0
	}
	return *c.FrameRate
}

// GetWatchdogInterval returns the watchdog keeper interval. Zero disables it.
func (c *Config) GetWatchdogInterval() time.Duration {
	if c.WatchdogInterval == nil {
		return 10 * time.Second
	}
	if *c.WatchdogInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.WatchdogInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
