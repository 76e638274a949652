package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Spec is the on-disk spec document: shared data plus the instances built from it
type Spec struct {
	Shared    SharedData       `json:"shared"`
	Instances []InstanceConfig `json:"instances"`
}

// SharedData holds everything instances may reference
type SharedData struct {
	Rules             []RuleCollection   `json:"rules"`
	RuleSubscriptions []RuleSubscription `json:"ruleSubscriptions"`
	Proxies           []UserProxy        `json:"proxies"`
	Subscriptions     []NodeSubscription `json:"subscriptions"`
}

// GroupKind is an auxiliary proxy group a subscription or user proxy may generate
type GroupKind string

const (
	GroupKindSelect   GroupKind = "select"
	GroupKindURLTest  GroupKind = "url-test"
	GroupKindFallback GroupKind = "fallback"
)

// GroupKinds is the declared auto-generation set
type GroupKinds []GroupKind

// Has reports whether kind is part of the set
func (g GroupKinds) Has(kind GroupKind) bool {
	for _, k := range g {
		if k == kind {
			return true
		}
	}
	return false
}

// SubscriptionType identifies the payload format of a node subscription
type SubscriptionType string

const (
	SubscriptionClash SubscriptionType = "clash" // YAML document with a top-level proxies list
	SubscriptionJSON  SubscriptionType = "json"  // JSON array of proxies
)

// NodeSubscription is a remote proxy-list feed
type NodeSubscription struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	URL        string           `json:"url"`
	Type       SubscriptionType `json:"type"`
	AutoGroups GroupKinds       `json:"autoGroups,omitempty"`
}

// RuleSubscription references a remote or local rule provider document
type RuleSubscription struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	URL              string           `json:"url"`
	IsLocalFile      bool             `json:"isLocalFile"`
	OverridePolicies []PolicyOverride `json:"overridePolicies,omitempty"`
}

// PolicyOverride replaces the recommended policy of one named collection
type PolicyOverride struct {
	Name   string         `json:"name"`
	Policy AbstractPolicy `json:"policy"`
}

// Overrides returns the override table keyed by collection name, or nil when empty
func (r *RuleSubscription) Overrides() map[string]AbstractPolicy {
	if len(r.OverridePolicies) == 0 {
		return nil
	}
	out := make(map[string]AbstractPolicy, len(r.OverridePolicies))
	for _, o := range r.OverridePolicies {
		out[o.Name] = o.Policy
	}
	return out
}

// UserProxy is a proxy declared directly in the spec file
type UserProxy struct {
	ID         uuid.UUID   `json:"id"`
	Proxy      ProxyConfig `json:"proxy"`
	AlterHosts []string    `json:"alterHosts,omitempty"`
	AutoGroups GroupKinds  `json:"autoGroups,omitempty"`
}

// InstanceConfig describes one routing engine process
type InstanceConfig struct {
	ID     uuid.UUID    `json:"id"`
	Name   string       `json:"name"`
	DNS    DNSConfig    `json:"dns"`
	Normal NormalConfig `json:"normal"`

	// Enabled sources; inline collections are referenced by name
	Rules             []string    `json:"rules,omitempty"`
	RuleSubscriptions []uuid.UUID `json:"ruleSubscriptions,omitempty"`
	Proxies           []uuid.UUID `json:"proxies,omitempty"`
	Subscriptions     []uuid.UUID `json:"subscriptions,omitempty"`
}

// DisplayName returns the instance name, falling back to its id
func (i *InstanceConfig) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID.String()
}

// NormalConfig holds per-instance engine settings
type NormalConfig struct {
	MainProxyGroupName string `json:"mainProxyGroupName"`
	UserProxyGroupName string `json:"userProxyGroupName,omitempty"`

	// OmitDirect drops the DIRECT policy from the main group
	OmitDirect  bool `json:"omitDirect,omitempty"`
	FinalDirect bool `json:"finalDirect"`

	LogLevel       LogLevel `json:"logLevel"`
	AllowLAN       bool     `json:"allowLan"`
	HTTPPort       *int     `json:"httpPort,omitempty"`
	SocksPort      *int     `json:"socksPort,omitempty"`
	MixedPort      *int     `json:"mixedPort,omitempty"`
	APIPort        int      `json:"apiPort"`
	APIBindAddress string   `json:"apiBindAddress,omitempty"`

	ServerCheckURL      string `json:"serverCheckUrl,omitempty"`
	ServerCheckInterval int    `json:"serverCheckInterval,omitempty"`
}

// LoadSpec reads and validates a spec file
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec decodes and validates a spec document
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks references, ids and settings across the whole spec
func (s *Spec) Validate() error {
	collections := make(map[string]bool, len(s.Shared.Rules))
	for i, c := range s.Shared.Rules {
		if c.Name == "" {
			return fmt.Errorf("shared.rules[%d]: empty collection name", i)
		}
		if collections[c.Name] {
			return fmt.Errorf("shared.rules: duplicate collection name %q", c.Name)
		}
		collections[c.Name] = true
		if !c.RecommendedPolicy.Valid() {
			return fmt.Errorf("shared.rules[%q]: unknown policy %q", c.Name, c.RecommendedPolicy)
		}
	}

	ids := make(map[uuid.UUID]string)
	claim := func(id uuid.UUID, what string) error {
		if id == uuid.Nil {
			return fmt.Errorf("%s: missing id", what)
		}
		if prev, ok := ids[id]; ok {
			return fmt.Errorf("%s: id %s already used by %s", what, id, prev)
		}
		ids[id] = what
		return nil
	}

	for i, sub := range s.Shared.Subscriptions {
		what := fmt.Sprintf("shared.subscriptions[%d]", i)
		if err := claim(sub.ID, what); err != nil {
			return err
		}
		if sub.URL == "" {
			return fmt.Errorf("%s: empty url", what)
		}
		switch sub.Type {
		case SubscriptionClash, SubscriptionJSON:
		default:
			return fmt.Errorf("%s: unsupported subscription type %q", what, sub.Type)
		}
		if err := validateGroupKinds(sub.AutoGroups); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	for i, rs := range s.Shared.RuleSubscriptions {
		what := fmt.Sprintf("shared.ruleSubscriptions[%d]", i)
		if err := claim(rs.ID, what); err != nil {
			return err
		}
		if rs.URL == "" {
			return fmt.Errorf("%s: empty url", what)
		}
		for _, o := range rs.OverridePolicies {
			if !o.Policy.Valid() {
				return fmt.Errorf("%s: unknown policy %q for %q", what, o.Policy, o.Name)
			}
		}
	}
	for i, p := range s.Shared.Proxies {
		what := fmt.Sprintf("shared.proxies[%d]", i)
		if err := claim(p.ID, what); err != nil {
			return err
		}
		if p.Proxy.Proxy == nil {
			return fmt.Errorf("%s: missing proxy", what)
		}
		if ProxyName(p.Proxy) == "" {
			return fmt.Errorf("%s: proxy has no name", what)
		}
		if err := validateGroupKinds(p.AutoGroups); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
	}

	instances := make(map[uuid.UUID]bool, len(s.Instances))
	for i := range s.Instances {
		inst := &s.Instances[i]
		what := fmt.Sprintf("instances[%d]", i)
		if inst.ID == uuid.Nil {
			return fmt.Errorf("%s: missing id", what)
		}
		if instances[inst.ID] {
			return fmt.Errorf("%s: duplicate instance id %s", what, inst.ID)
		}
		instances[inst.ID] = true
		if err := inst.Normal.validate(); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		for _, name := range inst.Rules {
			if !collections[name] {
				return fmt.Errorf("%s: unknown rule collection %q", what, name)
			}
		}
		refs := [][]uuid.UUID{inst.RuleSubscriptions, inst.Proxies, inst.Subscriptions}
		for _, list := range refs {
			for _, id := range list {
				if _, ok := ids[id]; !ok {
					return fmt.Errorf("%s: unknown reference %s", what, id)
				}
			}
		}
	}
	return nil
}

func (n *NormalConfig) validate() error {
	if n.MainProxyGroupName == "" {
		return fmt.Errorf("normal.mainProxyGroupName is required")
	}
	if !n.LogLevel.Valid() {
		return fmt.Errorf("normal.logLevel: unknown level %q", n.LogLevel)
	}
	if n.APIPort < 1 || n.APIPort > 65535 {
		return fmt.Errorf("normal.apiPort out of range: %d", n.APIPort)
	}
	for name, p := range map[string]*int{"httpPort": n.HTTPPort, "socksPort": n.SocksPort, "mixedPort": n.MixedPort} {
		if p != nil && (*p < 1 || *p > 65535) {
			return fmt.Errorf("normal.%s out of range: %d", name, *p)
		}
	}
	return nil
}

func validateGroupKinds(kinds GroupKinds) error {
	for _, k := range kinds {
		switch k {
		case GroupKindSelect, GroupKindURLTest, GroupKindFallback:
		default:
			return fmt.Errorf("unknown group kind %q", k)
		}
	}
	return nil
}

// SpecChange classifies the difference between two loaded specs
type SpecChange int

const (
	SpecUnchanged SpecChange = iota
	SpecInstancesChanged
	SpecSharedChanged
)

func (c SpecChange) String() string {
	switch c {
	case SpecUnchanged:
		return "unchanged"
	case SpecInstancesChanged:
		return "instances-changed"
	case SpecSharedChanged:
		return "shared-changed"
	default:
		return "unknown"
	}
}

// Diff reports how next differs from s. Shared changes dominate.
func (s *Spec) Diff(next *Spec) SpecChange {
	if !jsonEqual(s.Shared, next.Shared) {
		return SpecSharedChanged
	}
	if !jsonEqual(s.Instances, next.Instances) {
		return SpecInstancesChanged
	}
	return SpecUnchanged
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// ProxyCache maps a node subscription id to its last decoded node list
type ProxyCache map[uuid.UUID][]ProxyConfig

// RuleCache maps a rule subscription id to its last validated provider
type RuleCache map[uuid.UUID]RuleProvider
