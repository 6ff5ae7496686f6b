package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyline-avionics/magic/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.General.LogLevel != "info" {
		t.Errorf("General.LogLevel = %q, want %q", cfg.General.LogLevel, "info")
	}
	if cfg.General.HostBackend != "subprocess" {
		t.Errorf("General.HostBackend = %q, want %q", cfg.General.HostBackend, "subprocess")
	}
	if cfg.Interface.Ingress != "mgmt0" {
		t.Errorf("Interface.Ingress = %q, want %q", cfg.Interface.Ingress, "mgmt0")
	}
	if cfg.Signal.DefaultRSSIMin != -100 || cfg.Signal.DefaultRSSIMax != -40 {
		t.Errorf("Signal range = [%d,%d], want [-100,-40]", cfg.Signal.DefaultRSSIMin, cfg.Signal.DefaultRSSIMax)
	}
	if cfg.Timing.AccountingCacheTTL != 2*time.Second {
		t.Errorf("Timing.AccountingCacheTTL = %v, want 2s", cfg.Timing.AccountingCacheTTL)
	}
	if cfg.Socket.ControlAddr != ":8080" {
		t.Errorf("Socket.ControlAddr = %q, want %q", cfg.Socket.ControlAddr, ":8080")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromINI(t *testing.T) {
	t.Parallel()

	iniContent := `
[general]
log_level = debug
log_format = text
host_backend = ovsdb

[interface]
ingress = eth0

[signal]
default_rssi_min = -95
default_rssi_max = -35

[socket]
control_addr = :9090
metrics_addr = :9200
metrics_path = /custom-metrics
`
	path := writeTemp(t, iniContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.General.LogLevel != "debug" {
		t.Errorf("General.LogLevel = %q, want %q", cfg.General.LogLevel, "debug")
	}
	if cfg.General.HostBackend != "ovsdb" {
		t.Errorf("General.HostBackend = %q, want %q", cfg.General.HostBackend, "ovsdb")
	}
	if cfg.Interface.Ingress != "eth0" {
		t.Errorf("Interface.Ingress = %q, want %q", cfg.Interface.Ingress, "eth0")
	}
	if cfg.Signal.DefaultRSSIMin != -95 || cfg.Signal.DefaultRSSIMax != -35 {
		t.Errorf("Signal range = [%d,%d], want [-95,-35]", cfg.Signal.DefaultRSSIMin, cfg.Signal.DefaultRSSIMax)
	}
	if cfg.Socket.ControlAddr != ":9090" {
		t.Errorf("Socket.ControlAddr = %q, want %q", cfg.Socket.ControlAddr, ":9090")
	}
	if cfg.Socket.MetricsPath != "/custom-metrics" {
		t.Errorf("Socket.MetricsPath = %q, want %q", cfg.Socket.MetricsPath, "/custom-metrics")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial INI: only override general.log_level and socket.control_addr.
	iniContent := `
[general]
log_level = warn

[socket]
control_addr = :7777
`
	path := writeTemp(t, iniContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.General.LogLevel != "warn" {
		t.Errorf("General.LogLevel = %q, want %q", cfg.General.LogLevel, "warn")
	}
	if cfg.Socket.ControlAddr != ":7777" {
		t.Errorf("Socket.ControlAddr = %q, want %q", cfg.Socket.ControlAddr, ":7777")
	}

	// Everything else should inherit defaults.
	if cfg.General.LogFormat != "json" {
		t.Errorf("General.LogFormat = %q, want default %q", cfg.General.LogFormat, "json")
	}
	if cfg.Interface.Ingress != "mgmt0" {
		t.Errorf("Interface.Ingress = %q, want default %q", cfg.Interface.Ingress, "mgmt0")
	}
	if cfg.Socket.MetricsAddr != ":9100" {
		t.Errorf("Socket.MetricsAddr = %q, want default %q", cfg.Socket.MetricsAddr, ":9100")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty control addr",
			modify: func(cfg *config.Config) {
				cfg.Socket.ControlAddr = ""
			},
			wantErr: config.ErrEmptyControlAddr,
		},
		{
			name: "empty ingress interface",
			modify: func(cfg *config.Config) {
				cfg.Interface.Ingress = ""
			},
			wantErr: config.ErrEmptyIngress,
		},
		{
			name: "inverted rssi range",
			modify: func(cfg *config.Config) {
				cfg.Signal.DefaultRSSIMin = -30
				cfg.Signal.DefaultRSSIMax = -90
			},
			wantErr: config.ErrInvalidRSSIRange,
		},
		{
			name: "unknown host backend",
			modify: func(cfg *config.Config) {
				cfg.General.HostBackend = "bogus"
			},
			wantErr: config.ErrInvalidHostBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/magic.ini")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv via t.Setenv).
	iniContent := `
[general]
log_level = info
`
	path := writeTemp(t, iniContent)

	t.Setenv("MAGIC_GENERAL_LOG_LEVEL", "debug")
	t.Setenv("MAGIC_SOCKET_CONTROL_ADDR", ":6000")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.General.LogLevel != "debug" {
		t.Errorf("General.LogLevel = %q, want %q (from env)", cfg.General.LogLevel, "debug")
	}
	if cfg.Socket.ControlAddr != ":6000" {
		t.Errorf("Socket.ControlAddr = %q, want %q (from env)", cfg.Socket.ControlAddr, ":6000")
	}
}

// writeTemp creates a temporary INI file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "magic.ini")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
