package embedded

import (
	_ "embed"
)

//go:embed uartboot.toml
var defaultConfig []byte

// DefaultConfig returns the embedded default configuration file.
func DefaultConfig() []byte {
	return defaultConfig
}
