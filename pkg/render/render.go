// Package render serializes generated engine configurations to the YAML
// document the routing engine reads.
package render

import (
	"bytes"
	"fmt"

	"github.com/cuemby/proxyworld/pkg/types"
	"gopkg.in/yaml.v3"
)

const indent = 2

// Render encodes cfg as YAML. Field order follows EngineConfig, so equal
// configs always render to equal bytes.
func Render(cfg *types.EngineConfig) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(indent)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a rendered config
func Parse(data []byte) (*types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
