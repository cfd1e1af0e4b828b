package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PortEnvVar is the single environment variable the host honors; it
// overrides the HTTP listen port. Everything else is file-based.
const PortEnvVar = "FORGE3D_PORT"

// DefaultPort is the conventional localhost listen port.
const DefaultPort = 8686

// Config is the on-disk YAML configuration for the orchestrator host.
type Config struct {
	AssetRoot string          `yaml:"asset_root"`
	StorePath string          `yaml:"store_path"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// ListenPort is not part of the file; it comes from PortEnvVar.
	ListenPort int `yaml:"-"`
}

// BridgeConfig configures the inference worker supervisor.
type BridgeConfig struct {
	Command               string `yaml:"command"`
	PortRange             [2]int `yaml:"port_range"`
	StartupTimeoutS       int    `yaml:"startup_timeout_s"`
	SingleStageTimeoutS   int    `yaml:"single_stage_timeout_s"`
	FullTimeoutS          int    `yaml:"full_timeout_s"`
	HealthIntervalS       int    `yaml:"health_interval_s"`
	HealthFailuresToCrash int    `yaml:"health_failures_to_crash"`
	RestartBudget         int    `yaml:"restart_budget"`
}

// TelemetryConfig sizes the in-memory observability buffers.
type TelemetryConfig struct {
	RingSize      int `yaml:"ring_size"`
	LatencyWindow int `yaml:"latency_window"`
}

// Default returns a Config with every knob at its documented default.
func Default() Config {
	return Config{
		AssetRoot: "./forge3d-data/assets",
		StorePath: "./forge3d-data/store.db",
		Bridge: BridgeConfig{
			PortRange:             [2]int{8001, 8010},
			StartupTimeoutS:       30,
			SingleStageTimeoutS:   180,
			FullTimeoutS:          360,
			HealthIntervalS:       10,
			HealthFailuresToCrash: 3,
			RestartBudget:         3,
		},
		Telemetry: TelemetryConfig{
			RingSize:      100,
			LatencyWindow: 1000,
		},
		ListenPort: DefaultPort,
	}
}

// Load reads the YAML config at path, overlays it on the defaults, applies
// the port environment override, and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v := os.Getenv(PortEnvVar); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s value %q: %w", PortEnvVar, v, err)
		}
		cfg.ListenPort = port
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the host cannot run with.
func (c Config) Validate() error {
	if c.AssetRoot == "" {
		return fmt.Errorf("asset_root must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen port %d out of range", c.ListenPort)
	}
	lo, hi := c.Bridge.PortRange[0], c.Bridge.PortRange[1]
	if lo <= 0 || hi < lo {
		return fmt.Errorf("bridge.port_range [%d, %d] is not a valid range", lo, hi)
	}
	if c.Bridge.StartupTimeoutS <= 0 {
		return fmt.Errorf("bridge.startup_timeout_s must be positive")
	}
	if c.Bridge.SingleStageTimeoutS <= 0 || c.Bridge.FullTimeoutS <= 0 {
		return fmt.Errorf("bridge timeouts must be positive")
	}
	if c.Bridge.HealthIntervalS <= 0 {
		return fmt.Errorf("bridge.health_interval_s must be positive")
	}
	if c.Bridge.HealthFailuresToCrash <= 0 {
		return fmt.Errorf("bridge.health_failures_to_crash must be positive")
	}
	if c.Bridge.RestartBudget <= 0 {
		return fmt.Errorf("bridge.restart_budget must be positive")
	}
	if c.Telemetry.RingSize <= 0 || c.Telemetry.LatencyWindow <= 0 {
		return fmt.Errorf("telemetry buffer sizes must be positive")
	}
	return nil
}

// Duration accessors; the YAML file stores whole seconds.

func (c BridgeConfig) StartupTimeout() time.Duration { return secs(c.StartupTimeoutS) }
func (c BridgeConfig) SingleStageTimeout() time.Duration {
	return secs(c.SingleStageTimeoutS)
}
func (c BridgeConfig) FullTimeout() time.Duration    { return secs(c.FullTimeoutS) }
func (c BridgeConfig) HealthInterval() time.Duration { return secs(c.HealthIntervalS) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
