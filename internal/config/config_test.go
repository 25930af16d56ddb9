package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uartboot.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.Baud != 115200 {
		t.Errorf("Baud = %d, want 115200", cfg.Baud)
	}
	if cfg.Port != "" {
		t.Errorf("Port = %q, want empty", cfg.Port)
	}
	if cfg.Image != "uartboot.img" {
		t.Errorf("Image = %q", cfg.Image)
	}
	if cfg.IDCode != 0x10076413 {
		t.Errorf("IDCode = 0x%08X, want 0x10076413", cfg.IDCode)
	}
	if cfg.EraseTime != 20*time.Millisecond {
		t.Errorf("EraseTime = %v, want 20ms", cfg.EraseTime)
	}
	if !cfg.ProtectBootloader {
		t.Error("ProtectBootloader = false, want true")
	}
	if !cfg.EnterBootloader {
		t.Error("EnterBootloader = false, want true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	def, _ := Default()
	if cfg != def {
		t.Errorf("Load(\"\") = %+v, want defaults %+v", cfg, def)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
[serial]
port = " /dev/ttyUSB1 "

[device]
protect_bootloader = false
erase_time = "0s"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "/dev/ttyUSB1" {
		t.Errorf("Port = %q, want /dev/ttyUSB1", cfg.Port)
	}
	if cfg.ProtectBootloader {
		t.Error("ProtectBootloader = true, want false")
	}
	if cfg.EraseTime != 0 {
		t.Errorf("EraseTime = %v, want 0", cfg.EraseTime)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Baud != 115200 {
		t.Errorf("Baud = %d, want 115200", cfg.Baud)
	}
	if !cfg.EnterBootloader {
		t.Error("EnterBootloader = false, want default true")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad duration", "[device]\nerase_time = \"soon\"\n", "erase_time"},
		{"bad baud", "[serial]\nbaud = 0\n", "baud"},
		{"unknown key", "[serial]\nparity = \"even\"\n", "serial.parity"},
		{"syntax", "[serial\n", "load config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load(missing) error = nil")
	}
}

func TestWriteTOML_RoundTrip(t *testing.T) {
	cfg, _ := Default()
	cfg.Port = "/dev/ttyACM0"
	cfg.EraseTime = 150 * time.Millisecond
	cfg.EnterBootloader = false

	var buf bytes.Buffer
	if err := cfg.WriteTOML(&buf); err != nil {
		t.Fatalf("WriteTOML() error = %v", err)
	}

	got, err := Load(writeConfig(t, buf.String()))
	if err != nil {
		t.Fatalf("Load(written) error = %v\n%s", err, buf.String())
	}
	if got != cfg {
		t.Errorf("Load(written) = %+v, want %+v", got, cfg)
	}
}
