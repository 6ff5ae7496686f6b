// Package config manages magicd daemon configuration using koanf/v2.
//
// Supports INI files, environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/ini"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete magicd configuration, one struct per INI
// section named in the configuration file contract.
type Config struct {
	General   GeneralConfig   `koanf:"general"`
	Interface InterfaceConfig `koanf:"interface"`
	Bandwidth BandwidthConfig `koanf:"bandwidth"`
	Latency   LatencyConfig   `koanf:"latency"`
	Signal    SignalConfig    `koanf:"signal"`
	Cost      CostConfig      `koanf:"cost"`
	Network   NetworkConfig   `koanf:"network"`
	Timing    TimingConfig    `koanf:"timing"`
	Socket    SocketConfig    `koanf:"socket"`
	Links     LinksConfig     `koanf:"links"`
}

// GeneralConfig holds top-level daemon settings.
type GeneralConfig struct {
	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
	// HostBackend selects the Host Configurator backend: "subprocess",
	// "ovsdb", or "memory" (test-only).
	HostBackend string `koanf:"host_backend"`
}

// InterfaceConfig names the host network interfaces the engine manages.
type InterfaceConfig struct {
	// Ingress is the interface traffic arrives on before classification.
	Ingress string `koanf:"ingress"`
}

// BandwidthConfig holds default bandwidth admission parameters. They are
// loaded but not applied to requests: a request's min/req rates are used
// exactly as given.
type BandwidthConfig struct {
	DefaultMinFwdKbps uint32 `koanf:"default_min_fwd_kbps"`
	DefaultMinRevKbps uint32 `koanf:"default_min_rev_kbps"`
}

// LatencyConfig holds a default max-delay bound. It is loaded but not
// applied to requests: a request that omits a max delay places no
// latency bound on link selection.
type LatencyConfig struct {
	DefaultMaxDelayMs uint32 `koanf:"default_max_delay_ms"`
}

// SignalConfig holds the RSSI range magicd assigns to every link it
// attaches, used to derive signal quality.
type SignalConfig struct {
	DefaultRSSIMin int32 `koanf:"default_rssi_min"`
	DefaultRSSIMax int32 `koanf:"default_rssi_max"`
}

// CostConfig holds the cost-per-MB magicd assigns to every link it
// attaches.
type CostConfig struct {
	DefaultCostPerMB float64 `koanf:"default_cost_per_mb"`
}

// NetworkConfig holds the fixed address information handed to every
// allocated session by the static address assigner.
type NetworkConfig struct {
	Gateway      string `koanf:"gateway"`
	DNSPrimary   string `koanf:"dns_primary"`
	DNSSecondary string `koanf:"dns_secondary"`
}

// TimingConfig holds cache TTLs, health-check intervals, and flap
// dampening parameters.
type TimingConfig struct {
	// AccountingCacheTTL is loaded but not applied: the accounting
	// subsystem uses its own fixed 2-second cache TTL.
	AccountingCacheTTL   time.Duration `koanf:"accounting_cache_ttl"`
	DriverPingInterval   time.Duration `koanf:"driver_ping_interval"`
	FlapDampeningEnabled bool          `koanf:"flap_dampening_enabled"`
	FlapSuppressThreshold float64      `koanf:"flap_suppress_threshold"`
	FlapReuseThreshold    float64      `koanf:"flap_reuse_threshold"`
	FlapHalfLife          time.Duration `koanf:"flap_half_life"`
	FlapMaxSuppressTime   time.Duration `koanf:"flap_max_suppress_time"`
}

// SocketConfig holds the listen addresses for the control-plane HTTP
// API and the Prometheus metrics endpoint.
type SocketConfig struct {
	ControlAddr string `koanf:"control_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	MetricsPath string `koanf:"metrics_path"`
}

// LinksConfig enables and parameterizes the concrete Link Drivers
// magicd attaches at startup. Each driver is independently optional; a
// deployment with no radios attached (CI, a ground-rig demo) leaves all
// three disabled and relies on internal/driver.Simulated instead.
type LinksConfig struct {
	SatcomEnabled    bool   `koanf:"satcom_enabled"`
	SatcomService    string `koanf:"satcom_service"`
	SatcomObjectPath string `koanf:"satcom_object_path"`
	SatcomInterface  string `koanf:"satcom_interface"`

	CellularEnabled    bool   `koanf:"cellular_enabled"`
	CellularService    string `koanf:"cellular_service"`
	CellularObjectPath string `koanf:"cellular_object_path"`
	CellularInterface  string `koanf:"cellular_interface"`

	WiFiEnabled   bool   `koanf:"wifi_enabled"`
	WiFiEndpoint  string `koanf:"wifi_endpoint"`
	WiFiInterface string `koanf:"wifi_interface"`

	// OVSDBEndpoint is also used by the "ovsdb" general.host_backend
	// setting, so the Host Configurator and the WiFi driver agree on
	// which management database they are both talking to by default.
	OVSDBEndpoint string `koanf:"ovsdb_endpoint"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			HostBackend: "subprocess",
		},
		Interface: InterfaceConfig{
			Ingress: "mgmt0",
		},
		Bandwidth: BandwidthConfig{
			DefaultMinFwdKbps: 0,
			DefaultMinRevKbps: 0,
		},
		Latency: LatencyConfig{
			DefaultMaxDelayMs: 1000,
		},
		Signal: SignalConfig{
			DefaultRSSIMin: -100,
			DefaultRSSIMax: -40,
		},
		Cost: CostConfig{
			DefaultCostPerMB: 0,
		},
		Network: NetworkConfig{
			Gateway:      "",
			DNSPrimary:   "",
			DNSSecondary: "",
		},
		Timing: TimingConfig{
			AccountingCacheTTL:    2 * time.Second,
			DriverPingInterval:    10 * time.Second,
			FlapDampeningEnabled:  false,
			FlapSuppressThreshold: 3,
			FlapReuseThreshold:    2,
			FlapHalfLife:          15 * time.Second,
			FlapMaxSuppressTime:   60 * time.Second,
		},
		Socket: SocketConfig{
			ControlAddr: ":8080",
			MetricsAddr: ":9100",
			MetricsPath: "/metrics",
		},
		Links: LinksConfig{
			SatcomEnabled:      false,
			SatcomService:      "com.skyline.avionics.Satcom.Modem",
			SatcomObjectPath:   "/com/skyline/avionics/Satcom/Modem0",
			SatcomInterface:    "sat0",
			CellularEnabled:    false,
			CellularService:    "com.skyline.avionics.Cellular.Modem",
			CellularObjectPath: "/com/skyline/avionics/Cellular/Modem0",
			CellularInterface:  "wwan0",
			WiFiEnabled:        false,
			WiFiEndpoint:       "unix:/var/run/openvswitch/db.sock",
			WiFiInterface:      "wlan0",
			OVSDBEndpoint:      "unix:/var/run/openvswitch/db.sock",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for MAGIC configuration.
// Variables are named MAGIC_<section>_<key>, e.g. MAGIC_SOCKET_CONTROL_ADDR.
const envPrefix = "MAGIC_"

// Load reads configuration from an INI file at path, overlays
// environment variable overrides (MAGIC_ prefix), and merges on top of
// DefaultConfig(). Missing keys inherit defaults. Unknown keys in the
// file are logged at warn level and otherwise ignored.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}
	known := make(map[string]bool)
	for _, key := range k.Keys() {
		known[key] = true
	}

	if err := k.Load(file.Provider(path), ini.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	for _, key := range k.Keys() {
		if !known[key] {
			slog.Warn("ignoring unknown configuration key", slog.String("key", key))
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MAGIC_SOCKET_CONTROL_ADDR -> socket.control_addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"general.log_level":                defaults.General.LogLevel,
		"general.log_format":               defaults.General.LogFormat,
		"general.host_backend":             defaults.General.HostBackend,
		"interface.ingress":                defaults.Interface.Ingress,
		"bandwidth.default_min_fwd_kbps":   defaults.Bandwidth.DefaultMinFwdKbps,
		"bandwidth.default_min_rev_kbps":   defaults.Bandwidth.DefaultMinRevKbps,
		"latency.default_max_delay_ms":     defaults.Latency.DefaultMaxDelayMs,
		"signal.default_rssi_min":          defaults.Signal.DefaultRSSIMin,
		"signal.default_rssi_max":          defaults.Signal.DefaultRSSIMax,
		"cost.default_cost_per_mb":         defaults.Cost.DefaultCostPerMB,
		"network.gateway":                  defaults.Network.Gateway,
		"network.dns_primary":              defaults.Network.DNSPrimary,
		"network.dns_secondary":            defaults.Network.DNSSecondary,
		"timing.accounting_cache_ttl":      defaults.Timing.AccountingCacheTTL.String(),
		"timing.driver_ping_interval":      defaults.Timing.DriverPingInterval.String(),
		"timing.flap_dampening_enabled":    defaults.Timing.FlapDampeningEnabled,
		"timing.flap_suppress_threshold":   defaults.Timing.FlapSuppressThreshold,
		"timing.flap_reuse_threshold":      defaults.Timing.FlapReuseThreshold,
		"timing.flap_half_life":            defaults.Timing.FlapHalfLife.String(),
		"timing.flap_max_suppress_time":    defaults.Timing.FlapMaxSuppressTime.String(),
		"socket.control_addr":              defaults.Socket.ControlAddr,
		"socket.metrics_addr":              defaults.Socket.MetricsAddr,
		"socket.metrics_path":              defaults.Socket.MetricsPath,
		"links.satcom_enabled":             defaults.Links.SatcomEnabled,
		"links.satcom_service":             defaults.Links.SatcomService,
		"links.satcom_object_path":         defaults.Links.SatcomObjectPath,
		"links.satcom_interface":           defaults.Links.SatcomInterface,
		"links.cellular_enabled":           defaults.Links.CellularEnabled,
		"links.cellular_service":           defaults.Links.CellularService,
		"links.cellular_object_path":       defaults.Links.CellularObjectPath,
		"links.cellular_interface":         defaults.Links.CellularInterface,
		"links.wifi_enabled":               defaults.Links.WiFiEnabled,
		"links.wifi_endpoint":              defaults.Links.WiFiEndpoint,
		"links.wifi_interface":             defaults.Links.WiFiInterface,
		"links.ovsdb_endpoint":             defaults.Links.OVSDBEndpoint,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrEmptyControlAddr  = errors.New("socket.control_addr must not be empty")
	ErrEmptyIngress      = errors.New("interface.ingress must not be empty")
	ErrInvalidRSSIRange  = errors.New("signal.default_rssi_min must be < signal.default_rssi_max")
	ErrInvalidHostBackend = errors.New("general.host_backend must be subprocess, ovsdb, or memory")
)

// ValidHostBackends lists the recognized host_backend strings.
var ValidHostBackends = map[string]bool{
	"subprocess": true,
	"ovsdb":      true,
	"memory":     true,
}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Socket.ControlAddr == "" {
		return ErrEmptyControlAddr
	}
	if cfg.Interface.Ingress == "" {
		return ErrEmptyIngress
	}
	if cfg.Signal.DefaultRSSIMin >= cfg.Signal.DefaultRSSIMax {
		return ErrInvalidRSSIRange
	}
	if !ValidHostBackends[cfg.General.HostBackend] {
		return fmt.Errorf("%q: %w", cfg.General.HostBackend, ErrInvalidHostBackend)
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
