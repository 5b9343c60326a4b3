// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/rtt2udp/bridge"
	"github.com/bureau-foundation/rtt2udp/capture"
	"github.com/bureau-foundation/rtt2udp/devicelink"
	"github.com/bureau-foundation/rtt2udp/devicelink/openocd"
	"github.com/bureau-foundation/rtt2udp/forward"
	"github.com/bureau-foundation/rtt2udp/locator"
)

// EnvironmentVariable names the config file read by Load.
const EnvironmentVariable = "RTT2UDP_CONFIG"

// Backend selects the DeviceLink implementation.
type Backend string

const (
	// BackendOpenOCD drives a probe through a running OpenOCD server.
	BackendOpenOCD Backend = "openocd"
	// BackendMemory simulates a target in process, for dry runs.
	BackendMemory Backend = "memory"
)

// Config is the rtt2udp configuration file.
type Config struct {
	// Probe selects the debug probe and the backend driving it.
	Probe ProbeConfig `yaml:"probe"`

	// Target describes the device behind the probe.
	Target TargetConfig `yaml:"target"`

	// RTT configures control block acquisition and the buffer index.
	RTT RTTConfig `yaml:"rtt"`

	// UDP configures the socket on the host side.
	UDP UDPConfig `yaml:"udp"`

	// Forward tunes the forwarding engine.
	Forward ForwardConfig `yaml:"forward"`

	// Monitor tunes link liveness polling.
	Monitor MonitorConfig `yaml:"monitor"`

	// SettleDelay is waited after connecting to the target.
	// Default: 1s
	SettleDelay string `yaml:"settle_delay"`

	// Capture optionally records the session's traffic.
	Capture CaptureConfig `yaml:"capture"`

	// Log configures diagnostics.
	Log LogConfig `yaml:"log"`
}

// ProbeConfig selects the debug probe.
type ProbeConfig struct {
	// Backend is "openocd" or "memory".
	// Default: openocd
	Backend Backend `yaml:"backend"`

	// Serial picks one probe when several are attached. Empty selects
	// the default probe.
	Serial string `yaml:"serial"`

	OpenOCD OpenOCDConfig `yaml:"openocd"`
	Memory  MemoryConfig  `yaml:"memory"`
}

// OpenOCDConfig locates the OpenOCD server.
type OpenOCDConfig struct {
	// RPCAddress is OpenOCD's TCL RPC endpoint.
	// Default: 127.0.0.1:6666
	RPCAddress string `yaml:"rpc_address"`

	// DataPortBase is the TCP port for buffer 0 data.
	// Default: 9090
	DataPortBase int `yaml:"data_port_base"`

	// CommandTimeout bounds each RPC round trip.
	// Default: 5s
	CommandTimeout string `yaml:"command_timeout"`
}

// MemoryConfig describes the simulated target of the memory backend.
type MemoryConfig struct {
	// ControlBlock is where the simulated control block lives.
	// Default: 0x20000000
	ControlBlock string `yaml:"control_block"`

	// Loopback echoes writes back to the up buffer.
	// Default: true
	Loopback bool `yaml:"loopback"`
}

// TargetConfig describes the target device.
type TargetConfig struct {
	// Device is the target identifier passed to the probe, such as
	// "STM32F407VG". Required.
	Device string `yaml:"device"`

	// Interface is "SWD" or "JTAG".
	// Default: SWD
	Interface string `yaml:"interface"`

	// Speed is "auto", "adaptive", or a clock in kHz.
	// Default: auto
	Speed string `yaml:"speed"`
}

// RTTConfig configures control block acquisition.
type RTTConfig struct {
	// Mode is "direct", "search", or "derived" ("map" is accepted as a
	// synonym for derived).
	// Default: search
	Mode string `yaml:"mode"`

	// Address is the control block for direct mode.
	Address string `yaml:"address"`

	// BufferIndex selects the up and down buffers.
	// Default: 0
	BufferIndex int `yaml:"buffer_index"`

	// Search is the window scanned in search mode.
	Search SearchConfig `yaml:"search"`

	// MapFile is the linker map for derived mode.
	MapFile string `yaml:"map_file"`

	// Symbol is the control block symbol looked up in MapFile.
	// Default: _SEGGER_RTT
	Symbol string `yaml:"symbol"`

	// Rederive re-reads MapFile on every reconnect instead of reusing
	// the address derived for the first session.
	Rederive bool `yaml:"rederive"`
}

// SearchConfig is the search window.
type SearchConfig struct {
	// Start is the first address scanned.
	// Default: 0x20000000
	Start string `yaml:"start"`

	// Length is the window size in bytes.
	// Default: 0x1000
	Length string `yaml:"length"`

	// Step is the scan stride in bytes.
	// Default: 4
	Step int `yaml:"step"`
}

// UDPConfig configures the UDP socket.
type UDPConfig struct {
	// RemoteIP and RemotePort are the destination.
	// Default: 127.0.0.1:8888
	RemoteIP   string `yaml:"remote_ip"`
	RemotePort int    `yaml:"remote_port"`

	// LocalAddress is the bind address.
	// Default: 0.0.0.0
	LocalAddress string `yaml:"local_address"`

	// LocalPort is the bind port; 0 picks an ephemeral port.
	LocalPort int `yaml:"local_port"`
}

// ForwardConfig tunes the forwarding engine.
type ForwardConfig struct {
	// PollingInterval is the sleep after an empty device read.
	// Default: 1ms
	PollingInterval string `yaml:"polling_interval"`

	// FlushThreshold is the byte count that triggers an immediate send.
	// Default: 8192
	FlushThreshold int `yaml:"flush_threshold"`

	// FlushInterval is the longest buffered bytes wait.
	// Default: 5ms
	FlushInterval string `yaml:"flush_interval"`
}

// MonitorConfig tunes liveness polling.
type MonitorConfig struct {
	// Interval is the time between liveness checks.
	// Default: 1s
	Interval string `yaml:"interval"`
}

// CaptureConfig configures traffic capture.
type CaptureConfig struct {
	// Path is the capture file. Empty disables capture.
	Path string `yaml:"path"`

	// Compression is "none", "zstd", or "lz4".
	// Default: zstd
	Compression string `yaml:"compression"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// Default returns the default configuration. It is the base every
// file is loaded over, so a file only names what it changes.
func Default() *Config {
	forwardDefaults := forward.DefaultConfig()
	return &Config{
		Probe: ProbeConfig{
			Backend: BackendOpenOCD,
			OpenOCD: OpenOCDConfig{
				RPCAddress:     openocd.DefaultRPCAddress,
				DataPortBase:   openocd.DefaultDataPortBase,
				CommandTimeout: openocd.DefaultCommandTimeout.String(),
			},
			Memory: MemoryConfig{
				ControlBlock: "0x20000000",
				Loopback:     true,
			},
		},
		Target: TargetConfig{
			Interface: "SWD",
			Speed:     "auto",
		},
		RTT: RTTConfig{
			Mode: "search",
			Search: SearchConfig{
				Start:  "0x20000000",
				Length: "0x1000",
				Step:   4,
			},
			Symbol: locator.DefaultSymbol,
		},
		UDP: UDPConfig{
			RemoteIP:     "127.0.0.1",
			RemotePort:   8888,
			LocalAddress: "0.0.0.0",
		},
		Forward: ForwardConfig{
			PollingInterval: forwardDefaults.PollInterval.String(),
			FlushThreshold:  forwardDefaults.FlushThreshold,
			FlushInterval:   forwardDefaults.FlushInterval.String(),
		},
		Monitor: MonitorConfig{
			Interval: "1s",
		},
		SettleDelay: "1s",
		Capture: CaptureConfig{
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the file named by RTT2UDP_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your rtt2udp.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path over the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.RTT.MapFile = expandVars(c.RTT.MapFile, vars)
	c.Capture.Path = expandVars(c.Capture.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Options is the typed form of a Config.
type Options struct {
	Backend Backend
	Bridge  bridge.Options
	OpenOCD openocd.Config
	Memory  devicelink.MemoryConfig
	Debug   bool
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	_, err := c.Options()
	return err
}

// Options parses every field into typed values. All problems are
// reported together.
func (c *Config) Options() (Options, error) {
	var errs []error
	fail := func(field string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", field, err))
	}
	duration := func(field, text string) time.Duration {
		if text == "" {
			return 0
		}
		value, err := time.ParseDuration(text)
		if err != nil {
			fail(field, err)
			return 0
		}
		if value < 0 {
			fail(field, fmt.Errorf("must not be negative, got %s", text))
			return 0
		}
		return value
	}
	address := func(field, text string) devicelink.Address {
		value, err := devicelink.ParseAddress(text)
		if err != nil {
			fail(field, err)
		}
		return value
	}

	options := Options{
		Backend: c.Probe.Backend,
		Debug:   c.Log.Debug,
	}
	switch c.Probe.Backend {
	case BackendOpenOCD:
		options.OpenOCD = openocd.Config{
			RPCAddress:     c.Probe.OpenOCD.RPCAddress,
			DataPortBase:   c.Probe.OpenOCD.DataPortBase,
			CommandTimeout: duration("probe.openocd.command_timeout", c.Probe.OpenOCD.CommandTimeout),
		}
		if port := c.Probe.OpenOCD.DataPortBase; port < 0 || port > 65535 {
			fail("probe.openocd.data_port_base", fmt.Errorf("port %d out of range", port))
		}
	case BackendMemory:
		options.Memory = devicelink.MemoryConfig{
			ControlBlock: address("probe.memory.control_block", c.Probe.Memory.ControlBlock),
			Loopback:     c.Probe.Memory.Loopback,
		}
	default:
		fail("probe.backend", fmt.Errorf("unknown backend %q (want openocd or memory)", c.Probe.Backend))
	}

	if c.Target.Device == "" {
		fail("target.device", errors.New("is required"))
	}
	debugInterface, err := devicelink.ParseInterface(c.Target.Interface)
	if err != nil {
		fail("target.interface", err)
	}
	speed, err := devicelink.ParseSpeed(c.Target.Speed)
	if err != nil {
		fail("target.speed", err)
	}

	acquisition, err := c.acquisition(address)
	if err != nil {
		fail("rtt", err)
	}

	forwardConfig := forward.DefaultConfig()
	forwardConfig.BufferIndex = c.RTT.BufferIndex
	if value := duration("forward.polling_interval", c.Forward.PollingInterval); value > 0 {
		forwardConfig.PollInterval = value
	}
	if value := duration("forward.flush_interval", c.Forward.FlushInterval); value > 0 {
		forwardConfig.FlushInterval = value
	}
	if c.Forward.FlushThreshold > 0 {
		forwardConfig.FlushThreshold = c.Forward.FlushThreshold
	}
	if err := forwardConfig.Validate(); err != nil {
		fail("forward", err)
	}

	if c.UDP.RemoteIP == "" {
		fail("udp.remote_ip", errors.New("is required"))
	}
	if c.UDP.RemotePort <= 0 || c.UDP.RemotePort > 65535 {
		fail("udp.remote_port", fmt.Errorf("port %d out of range", c.UDP.RemotePort))
	}
	if c.UDP.LocalPort < 0 || c.UDP.LocalPort > 65535 {
		fail("udp.local_port", fmt.Errorf("port %d out of range", c.UDP.LocalPort))
	}

	compression := capture.CompressionNone
	if c.Capture.Path != "" {
		compression, err = capture.ParseCompression(c.Capture.Compression)
		if err != nil {
			fail("capture.compression", err)
		}
	}

	options.Bridge = bridge.Options{
		ProbeSerial:        c.Probe.Serial,
		Target:             c.Target.Device,
		Interface:          debugInterface,
		Speed:              speed,
		Acquisition:        acquisition,
		Forward:            forwardConfig,
		RemoteAddress:      bridge.RemoteAddress(c.UDP.RemoteIP, c.UDP.RemotePort),
		LocalAddress:       c.UDP.LocalAddress,
		LocalPort:          c.UDP.LocalPort,
		MonitorInterval:    duration("monitor.interval", c.Monitor.Interval),
		SettleDelay:        duration("settle_delay", c.SettleDelay),
		CapturePath:        c.Capture.Path,
		CaptureCompression: compression,
	}

	if len(errs) > 0 {
		return Options{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return options, nil
}

// acquisition builds the locator spec for the configured mode.
func (c *Config) acquisition(address func(field, text string) devicelink.Address) (locator.Spec, error) {
	mode, err := locator.ParseMode(c.RTT.Mode)
	if err != nil {
		return locator.Spec{}, err
	}

	var spec locator.Spec
	switch mode {
	case locator.ModeDirect:
		spec = locator.Direct(address("rtt.address", c.RTT.Address))
	case locator.ModeSearch:
		length := address("rtt.search.length", c.RTT.Search.Length)
		if c.RTT.Search.Step <= 0 {
			return locator.Spec{}, fmt.Errorf("search step must be positive, got %d", c.RTT.Search.Step)
		}
		spec = locator.Search(devicelink.SearchRange{
			Start:  address("rtt.search.start", c.RTT.Search.Start),
			Length: uint32(length),
			Step:   uint32(c.RTT.Search.Step),
		})
	case locator.ModeDerived:
		spec = locator.Derived(c.RTT.MapFile, c.RTT.Rederive)
		spec.Symbol = c.RTT.Symbol
	}
	if err := spec.Validate(); err != nil {
		return locator.Spec{}, err
	}
	return spec, nil
}
