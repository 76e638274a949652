// Package subscription decodes remote node lists and rule provider documents
// into the types the generator consumes.
package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/proxyworld/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedType is returned for subscription formats without a decoder
var ErrUnsupportedType = errors.New("unsupported subscription type")

// ErrNoNodes is returned when a payload decodes but holds no usable node
var ErrNoNodes = errors.New("subscription has no usable nodes")

// Metadata is provider information smuggled in as pseudo-nodes
type Metadata struct {
	RemainingData  string `json:"remainingData,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	Domain         string `json:"domain,omitempty"`
}

// Empty reports whether no metadata was found
func (m Metadata) Empty() bool {
	return m == Metadata{}
}

// Content is a decoded node list
type Content struct {
	Nodes    []types.ProxyConfig
	Metadata Metadata
	// Skipped counts entries that failed to decode
	Skipped int
}

var metadataPrefixes = []struct {
	prefix string
	field  func(*Metadata) *string
}{
	{"剩余流量", func(m *Metadata) *string { return &m.RemainingData }},
	{"过期时间", func(m *Metadata) *string { return &m.ExpirationDate }},
	{"最新域名", func(m *Metadata) *string { return &m.Domain }},
}

// Decode parses a node subscription payload of the given type and strips
// metadata pseudo-nodes. A payload without any usable node returns ErrNoNodes.
func Decode(kind types.SubscriptionType, data []byte) (*Content, error) {
	var (
		nodes   []types.ProxyConfig
		skipped int
		err     error
	)
	switch kind {
	case types.SubscriptionClash:
		nodes, skipped, err = decodeClash(data)
	case types.SubscriptionJSON:
		nodes, skipped, err = decodeJSON(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, kind)
	}
	if err != nil {
		return nil, err
	}

	content := &Content{Skipped: skipped}
	for _, node := range nodes {
		if extractMetadata(node.Name(), &content.Metadata) {
			continue
		}
		if node.Name() == "" {
			content.Skipped++
			continue
		}
		content.Nodes = append(content.Nodes, node)
	}
	if len(content.Nodes) == 0 {
		return content, ErrNoNodes
	}
	return content, nil
}

func extractMetadata(name string, m *Metadata) bool {
	for _, p := range metadataPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			*p.field(m) = strings.Trim(strings.TrimPrefix(name, p.prefix), ":： \n\r")
			return true
		}
	}
	return false
}

type clashDocument struct {
	Proxies []yaml.Node `yaml:"proxies"`
	// older documents use a capitalized key
	LegacyProxies []yaml.Node `yaml:"Proxy"`
}

func decodeClash(data []byte) ([]types.ProxyConfig, int, error) {
	var doc clashDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("failed to parse clash subscription: %w", err)
	}
	entries := doc.Proxies
	if len(entries) == 0 {
		entries = doc.LegacyProxies
	}

	nodes := make([]types.ProxyConfig, 0, len(entries))
	skipped := 0
	for i := range entries {
		var p types.ProxyConfig
		if err := entries[i].Decode(&p); err != nil {
			skipped++
			continue
		}
		nodes = append(nodes, p)
	}
	return nodes, skipped, nil
}

func decodeJSON(data []byte) ([]types.ProxyConfig, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, fmt.Errorf("failed to parse json subscription: %w", err)
	}

	nodes := make([]types.ProxyConfig, 0, len(entries))
	skipped := 0
	for _, raw := range entries {
		var p types.ProxyConfig
		if err := json.Unmarshal(raw, &p); err != nil {
			skipped++
			continue
		}
		nodes = append(nodes, p)
	}
	return nodes, skipped, nil
}

// DecodeRuleProvider parses and validates a rule provider document. JSON
// documents are accepted since they are valid YAML.
func DecodeRuleProvider(data []byte) (*types.RuleProvider, error) {
	var provider types.RuleProvider
	if err := yaml.Unmarshal(data, &provider); err != nil {
		return nil, fmt.Errorf("failed to parse rule provider: %w", err)
	}
	if err := provider.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule provider: %w", err)
	}
	return &provider, nil
}
