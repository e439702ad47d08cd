package engine

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the public configuration surface for the Engine facade: task
// periods, filter order, ring buffer capacity, watchdog timing, boundary
// paths and telemetry settings, with an optional YAML overlay on top of
// Defaults(). The navigation and route-planner constants are package
// constants and are not part of Config.
type Config struct {
	TruckID string `yaml:"truck_id"`

	SensorFilterPeriod  time.Duration `yaml:"sensor_filter_period"`
	FilterOrder         int           `yaml:"filter_order"`
	FaultDetectorPeriod time.Duration `yaml:"fault_detector_period"`
	CommandModePeriod   time.Duration `yaml:"command_mode_period"`
	NavigationPeriod    time.Duration `yaml:"navigation_period"`
	DataLoggerPeriod    time.Duration `yaml:"data_logger_period"`
	SnapshotPeriod      time.Duration `yaml:"snapshot_period"`
	WatchdogCheckPeriod time.Duration `yaml:"watchdog_check_period"`
	WatchdogTimeout     time.Duration `yaml:"watchdog_timeout"`

	RingBufferCapacity int `yaml:"ring_buffer_capacity"`

	// ForcedRefreshN is the number of Main iterations between forced
	// re-emissions of the actuator and state boundary outputs, written even
	// when they have not changed.
	ForcedRefreshN int `yaml:"forced_refresh_n"`

	InboundDir  string `yaml:"inbound_dir"`
	OutboundDir string `yaml:"outbound_dir"`
	LogPath     string `yaml:"log_path"`

	// MetricsBackend selects the telemetry Provider implementation.
	// Supported: "prom" (default), "otel", "noop".
	MetricsBackend       string `yaml:"metrics_backend"`
	PrometheusListenAddr string `yaml:"prometheus_listen_addr"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config populated with the core's documented defaults.
func Defaults() Config {
	return Config{
		TruckID: "1",

		SensorFilterPeriod:  20 * time.Millisecond,
		FilterOrder:         5,
		FaultDetectorPeriod: 20 * time.Millisecond,
		CommandModePeriod:   10 * time.Millisecond,
		NavigationPeriod:    10 * time.Millisecond,
		DataLoggerPeriod:    500 * time.Millisecond,
		SnapshotPeriod:      1000 * time.Millisecond,
		WatchdogCheckPeriod: 100 * time.Millisecond,
		WatchdogTimeout:     500 * time.Millisecond,

		RingBufferCapacity: 200,

		ForcedRefreshN: 4,

		InboundDir:  "boundary/in",
		OutboundDir: "boundary/out",
		LogPath:     "logs/truck_1_log.csv",

		MetricsBackend: "prom",
		LogLevel:       "INFO",
	}
}

// LoadOverlay reads a YAML file at path and merges its present fields onto
// a copy of c, returning the merged Config. A missing file is not an
// error — it returns c unchanged, matching the boundary contract's "missing
// directories/files are not fatal" posture.
func (c Config) LoadOverlay(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, err
	}
	merged := c
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return c, err
	}
	return merged, nil
}
