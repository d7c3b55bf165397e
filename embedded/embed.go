package embedded

import (
	_ "embed"
)

//go:embed config.yaml
var defaultConfig []byte

// DefaultConfig returns the embedded default configuration as YAML.
func DefaultConfig() []byte {
	return defaultConfig
}
