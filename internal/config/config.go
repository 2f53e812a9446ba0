// Package config handles supervisor configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/robot-buddy/config.yaml, /config/config.yaml,
// /etc/robot-buddy/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "robot-buddy", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/robot-buddy/config.yaml")
	return paths
}

// searchPathsFunc is a variable indirection over DefaultSearchPaths so
// tests can override the search list without touching the real filesystem.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all supervisor configuration.
type Config struct {
	RobotID   string          `yaml:"robot_id"`
	Transport TransportConfig `yaml:"transport"`
	Planner   PlannerConfig   `yaml:"planner"`
	Converse  ConverseConfig  `yaml:"converse"`
	Audio     AudioConfig     `yaml:"audio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Memory    MemoryConfig    `yaml:"memory"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// TransportConfig defines the serial link to the reflex and face MCUs.
type TransportConfig struct {
	ReflexPort string `yaml:"reflex_port"` // e.g. /dev/ttyACM0
	FacePort   string `yaml:"face_port"`   // e.g. /dev/ttyACM1
	BaudRate   int    `yaml:"baud_rate"`
	// RawLogDir, if non-empty, enables the rotating raw packet logger.
	RawLogDir      string `yaml:"raw_log_dir"`
	RawLogMaxBytes int64  `yaml:"raw_log_max_bytes"`
	RawLogMaxFiles int    `yaml:"raw_log_max_files"`
}

// PlannerConfig defines how to reach the LLM planner backend.
type PlannerConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ConverseConfig defines the push-to-talk conversation websocket endpoint.
type ConverseConfig struct {
	URL               string `yaml:"url"`
	ReconnectDelaySec int    `yaml:"reconnect_delay_sec"`
}

// AudioConfig defines PCM playback and capture device settings.
type AudioConfig struct {
	SampleRateHz int    `yaml:"sample_rate_hz"`
	ChunkMs      int    `yaml:"chunk_ms"`
	Device       string `yaml:"device"` // ALSA device name, empty = default
}

// TelemetryConfig defines the operator-facing websocket broadcast server.
type TelemetryConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// MemoryConfig defines the tag-based tiered-decay personality memory store.
type MemoryConfig struct {
	File string `yaml:"file"`
}

// Configured reports whether a planner base URL has been set.
func (c PlannerConfig) Configured() bool {
	return c.BaseURL != ""
}

// Configured reports whether a converse websocket URL has been set.
func (c ConverseConfig) Configured() bool {
	return c.URL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${DATA_DIR}). This is a
	// convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.RobotID == "" {
		c.RobotID = "robot-001"
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = 115200
	}
	if c.Transport.RawLogMaxBytes == 0 {
		c.Transport.RawLogMaxBytes = 50 * 1024 * 1024
	}
	if c.Transport.RawLogMaxFiles == 0 {
		c.Transport.RawLogMaxFiles = 5
	}
	if c.Planner.TimeoutSec == 0 {
		c.Planner.TimeoutSec = 3
	}
	if c.Converse.ReconnectDelaySec == 0 {
		c.Converse.ReconnectDelaySec = 2
	}
	if c.Audio.SampleRateHz == 0 {
		c.Audio.SampleRateHz = 16000
	}
	if c.Audio.ChunkMs == 0 {
		c.Audio.ChunkMs = 10
	}
	if c.Telemetry.Port == 0 {
		c.Telemetry.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Memory.File == "" {
		c.Memory.File = filepath.Join(c.DataDir, "memory.json")
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Telemetry.Port < 1 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("telemetry.port %d out of range (1-65535)", c.Telemetry.Port)
	}
	if c.Transport.BaudRate < 1 {
		return fmt.Errorf("transport.baud_rate must be positive, got %d", c.Transport.BaudRate)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development
// against a mock reflex/face link. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Transport: TransportConfig{
			ReflexPort: "/dev/ttyACM0",
			FacePort:   "/dev/ttyACM1",
		},
		Planner: PlannerConfig{
			BaseURL: "http://localhost:8000",
		},
		Converse: ConverseConfig{
			URL: "ws://localhost:8000/converse",
		},
	}
	cfg.applyDefaults()
	return cfg
}
