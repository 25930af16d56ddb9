// Package config loads uartboot settings: the embedded defaults, then an
// optional TOML file on top.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bigbag/uartboot/embedded"
)

// Config holds every runtime setting.
type Config struct {
	Port string
	Baud int

	Image             string
	IDCode            uint32
	EraseTime         time.Duration
	ProtectBootloader bool
	AppBinary         string

	EnterBootloader bool

	LogLevel string
}

type fileConfig struct {
	Serial struct {
		Port string `toml:"port"`
		Baud int    `toml:"baud"`
	} `toml:"serial"`
	Device struct {
		Image             string `toml:"image"`
		IDCode            uint32 `toml:"id_code"`
		EraseTime         string `toml:"erase_time"`
		ProtectBootloader bool   `toml:"protect_bootloader"`
		AppBinary         string `toml:"app_binary"`
	} `toml:"device"`
	Boot struct {
		EnterBootloader bool `toml:"enter_bootloader"`
	} `toml:"boot"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Default returns the embedded defaults.
func Default() (Config, error) {
	var cfg Config
	if err := apply(&cfg, string(embedded.DefaultConfig())); err != nil {
		return Config{}, fmt.Errorf("embedded config: %w", err)
	}
	return cfg, nil
}

// Load returns the defaults overridden by the keys set in path. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := merge(&cfg, &raw, meta); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, data string) error {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return err
	}
	return merge(cfg, &raw, meta)
}

// merge copies the keys defined in meta from raw to cfg.
func merge(cfg *Config, raw *fileConfig, meta toml.MetaData) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("serial", "port") {
		cfg.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud") {
		if raw.Serial.Baud <= 0 {
			return fmt.Errorf("invalid baud rate %d", raw.Serial.Baud)
		}
		cfg.Baud = raw.Serial.Baud
	}

	if meta.IsDefined("device", "image") {
		cfg.Image = strings.TrimSpace(raw.Device.Image)
	}
	if meta.IsDefined("device", "id_code") {
		cfg.IDCode = raw.Device.IDCode
	}
	if meta.IsDefined("device", "erase_time") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Device.EraseTime))
		if err != nil {
			return fmt.Errorf("parse erase_time: %w", err)
		}
		cfg.EraseTime = d
	}
	if meta.IsDefined("device", "protect_bootloader") {
		cfg.ProtectBootloader = raw.Device.ProtectBootloader
	}
	if meta.IsDefined("device", "app_binary") {
		cfg.AppBinary = strings.TrimSpace(raw.Device.AppBinary)
	}

	if meta.IsDefined("boot", "enter_bootloader") {
		cfg.EnterBootloader = raw.Boot.EnterBootloader
	}

	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	return nil
}

// WriteTOML writes cfg in the config file format.
func (c Config) WriteTOML(w io.Writer) error {
	var raw fileConfig
	raw.Serial.Port = c.Port
	raw.Serial.Baud = c.Baud
	raw.Device.Image = c.Image
	raw.Device.IDCode = c.IDCode
	raw.Device.EraseTime = c.EraseTime.String()
	raw.Device.ProtectBootloader = c.ProtectBootloader
	raw.Device.AppBinary = c.AppBinary
	raw.Boot.EnterBootloader = c.EnterBootloader
	raw.Log.Level = c.LogLevel
	return toml.NewEncoder(w).Encode(raw)
}
