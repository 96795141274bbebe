// Package ecuconfig is the YAML-backed runtime configuration for the
// engine core and its ambient surfaces, adapted from the dashboard's
// config layer: same YAML file + .env + environment-variable layering,
// generalized from dashboard-display settings to ECU tunables.
package ecuconfig

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime-tunable the ECU core, CLI, telemetry
// recorder, and dashboard need.
type Config struct {
	mu sync.RWMutex

	Wheel     WheelConfig     `yaml:"wheel" json:"wheel"`
	Ignition  IgnitionConfig  `yaml:"ignition" json:"ignition"`
	CLI       CLIConfig       `yaml:"cli" json:"cli"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Dash      DashConfig      `yaml:"dash" json:"dash"`
	Simulator SimulatorConfig `yaml:"simulator" json:"simulator"`

	path string
}

// WheelConfig selects and parameterizes the trigger-wheel decoder.
type WheelConfig struct {
	Pattern string `yaml:"pattern" json:"pattern"` // "subaru_36_2_2_2" or "hyundai_60_2"
}

// IgnitionConfig carries the mutable engine tunables the CLI adjusts
// at runtime — the original's global trim_flag/timing_advance/
// timing_advance_enabled/fuel_msec/record_mode.
type IgnitionConfig struct {
	FuelMsec              int  `yaml:"fuel_msec" json:"fuelMsec"`
	TimingAdvance         int  `yaml:"timing_advance" json:"timingAdvance"`
	TimingAdvanceEnabled  bool `yaml:"timing_advance_enabled" json:"timingAdvanceEnabled"`
	TrimFlag              bool `yaml:"trim_flag" json:"trimFlag"`
	RecordMode            bool `yaml:"record_mode" json:"recordMode"`
	DebugProbes           bool `yaml:"debug_probes" json:"debugProbes"`
	LoopTimingTrace       bool `yaml:"loop_timing_trace" json:"loopTimingTrace"`
}

// CLIConfig configures the management-task command surface.
type CLIConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"` // empty means stdin
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// TelemetryConfig configures the CSV flight recorder.
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	RotateSize int64  `yaml:"rotate_size_bytes" json:"rotateSizeBytes"`
}

// DashConfig configures the optional websocket dashboard.
type DashConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// SimulatorConfig parameterizes the offline crank-pulse generator used
// when no real trigger-wheel hardware is attached.
type SimulatorConfig struct {
	IdleRPM    int `yaml:"idle_rpm" json:"idleRpm"`
	CrankRPM   int `yaml:"crank_rpm" json:"crankRpm"`
	JitterPct  int `yaml:"jitter_pct" json:"jitterPct"`
}

// DefaultConfig returns a config with the original firmware's boot
// defaults (fuel_msec=6, trim/timing/record all off).
func DefaultConfig() *Config {
	return &Config{
		Wheel: WheelConfig{
			Pattern: "subaru_36_2_2_2",
		},
		Ignition: IgnitionConfig{
			FuelMsec:             6,
			TimingAdvance:        0,
			TimingAdvanceEnabled: false,
			TrimFlag:             false,
			RecordMode:           false,
			DebugProbes:          false,
			LoopTimingTrace:      false,
		},
		CLI: CLIConfig{
			PortPath: "",
			BaudRate: 115200,
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Path:       "ecucore.csv",
			RotateSize: 10 << 20,
		},
		Dash: DashConfig{
			Enabled:    false,
			ListenAddr: ":8088",
		},
		Simulator: SimulatorConfig{
			IdleRPM:   850,
			CrankRPM:  180,
			JitterPct: 2,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment-variable overrides. Falls back to defaults if the file
// is absent or unparsable.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: WHEEL_PATTERN, FUEL_MSEC, TIMING_ADVANCE,
// TIMING_ADVANCE_ENABLED, TRIM_FLAG, RECORD_MODE, CLI_PORT, CLI_BAUD,
// DASH_LISTEN_ADDR, DASH_ENABLED.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WHEEL_PATTERN"); v != "" {
		c.Wheel.Pattern = v
	}
	if v := os.Getenv("FUEL_MSEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ignition.FuelMsec = n
		}
	}
	if v := os.Getenv("TIMING_ADVANCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ignition.TimingAdvance = n
		}
	}
	if v := os.Getenv("TIMING_ADVANCE_ENABLED"); v != "" {
		c.Ignition.TimingAdvanceEnabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("TRIM_FLAG"); v != "" {
		c.Ignition.TrimFlag = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("RECORD_MODE"); v != "" {
		c.Ignition.RecordMode = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("CLI_PORT"); v != "" {
		c.CLI.PortPath = v
	}
	if v := os.Getenv("CLI_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CLI.BaudRate = n
		}
	}
	if v := os.Getenv("DASH_LISTEN_ADDR"); v != "" {
		c.Dash.ListenAddr = v
	}
	if v := os.Getenv("DASH_ENABLED"); v != "" {
		c.Dash.Enabled = v == "1" || v == "true" || v == "yes"
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "ecucore.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// Snapshot returns a copy of the config safe to read without holding
// the original's lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
