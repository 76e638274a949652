package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// RuleType is the match kind of a routing rule
type RuleType string

const (
	RuleDomain        RuleType = "DOMAIN"
	RuleDomainSuffix  RuleType = "DOMAIN-SUFFIX"
	RuleDomainKeyword RuleType = "DOMAIN-KEYWORD"
	RuleIPCIDR        RuleType = "IP-CIDR"
	RuleIPCIDR6       RuleType = "IP-CIDR6"
	RuleGeoIP         RuleType = "GEOIP"
	RuleFinal         RuleType = "FINAL"
	RuleUserAgent     RuleType = "USER-AGENT"
	RuleURLRegex      RuleType = "URL-REGEX"
	RuleProcessName   RuleType = "PROCESS-NAME"
	RuleDestPort      RuleType = "DEST-PORT"
	RuleSrcIPCIDR     RuleType = "SRC-IP-CIDR"
	RuleSrcPort       RuleType = "SRC-PORT"
)

var ruleTypes = []RuleType{
	RuleDomain, RuleDomainSuffix, RuleDomainKeyword,
	RuleIPCIDR, RuleIPCIDR6, RuleGeoIP, RuleFinal,
	RuleUserAgent, RuleURLRegex, RuleProcessName,
	RuleDestPort, RuleSrcIPCIDR, RuleSrcPort,
}

// spellings used by other clients
var ruleTypeAliases = map[string]RuleType{
	"MATCH":        RuleFinal,
	"DST-PORT":     RuleDestPort,
	"HOST":         RuleDomain,
	"HOST-SUFFIX":  RuleDomainSuffix,
	"HOST-KEYWORD": RuleDomainKeyword,
	"IP6-CIDR":     RuleIPCIDR6,
}

// ParseRuleType accepts any known client spelling, case-insensitively.
// camelCase spellings such as "domainSuffix" are accepted too.
func ParseRuleType(s string) (RuleType, error) {
	key := normalizeRuleType(s)
	for _, t := range ruleTypes {
		if string(t) == key {
			return t, nil
		}
	}
	if t, ok := ruleTypeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown rule type %q", s)
}

func normalizeRuleType(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range strings.TrimSpace(s) {
		if r == '_' {
			r = '-'
		}
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToUpper(r))
		prev = r
	}
	return b.String()
}

// EngineName returns the rule keyword understood by the routing engine
// and whether the engine supports the type at all.
func (t RuleType) EngineName() (string, bool) {
	switch t {
	case RuleUserAgent, RuleURLRegex:
		return "", false
	case RuleFinal:
		return "MATCH", true
	case RuleDestPort:
		return "DST-PORT", true
	default:
		return string(t), true
	}
}

// SupportsNoResolve reports whether the engine accepts the no-resolve flag for t
func (t RuleType) SupportsNoResolve() bool {
	switch t {
	case RuleGeoIP, RuleIPCIDR, RuleIPCIDR6:
		return true
	default:
		return false
	}
}

func (t RuleType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *RuleType) UnmarshalText(text []byte) error {
	parsed, err := ParseRuleType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AbstractPolicy is a routing intent not yet bound to a concrete policy name
type AbstractPolicy string

const (
	PolicyDirect         AbstractPolicy = "direct"
	PolicyProxy          AbstractPolicy = "proxy"
	PolicyReject         AbstractPolicy = "reject"
	PolicySelect         AbstractPolicy = "select"
	PolicySelectProxy    AbstractPolicy = "selectProxy"
	PolicySelectIPRegion AbstractPolicy = "selectIpRegion"
)

// Valid reports whether p is a known policy
func (p AbstractPolicy) Valid() bool {
	switch p {
	case PolicyDirect, PolicyProxy, PolicyReject, PolicySelect, PolicySelectProxy, PolicySelectIPRegion:
		return true
	}
	return false
}

// Concrete policy names understood by the engine
const (
	DirectPolicy = "DIRECT"
	RejectPolicy = "REJECT"
)

// RuleInfo is one rule kind with its matchers
type RuleInfo struct {
	RuleType  RuleType `json:"ruleType" yaml:"ruleType"`
	Matchers  []string `json:"matchers" yaml:"matchers"`
	NoResolve bool     `json:"noResolve,omitempty" yaml:"noResolve,omitempty"`
}

// RuleCollection is a named group of rules sharing a recommended policy
type RuleCollection struct {
	Name              string         `json:"name" yaml:"name"`
	Description       string         `json:"description,omitempty" yaml:"description,omitempty"`
	Rules             []RuleInfo     `json:"rules" yaml:"rules"`
	RecommendedPolicy AbstractPolicy `json:"recommendedPolicy" yaml:"recommendedPolicy"`
}

// RuleProvider is the document served by a rule subscription
type RuleProvider struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Collections []RuleCollection `json:"collections" yaml:"collections"`
}

// Rule provider validation failures
var (
	ErrEmptyProviderName   = errors.New("rule provider has no name")
	ErrEmptyCollectionName = errors.New("rule collection has no name")
	ErrDuplicateCollection = errors.New("duplicate rule collection name")
)

// RuleProviderError wraps one of the provider validation sentinels with context
type RuleProviderError struct {
	Index int
	Name  string
	Err   error
}

func (e *RuleProviderError) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("%v: %q", e.Err, e.Name)
	case e.Index >= 0:
		return fmt.Sprintf("%v at index %d", e.Err, e.Index)
	default:
		return e.Err.Error()
	}
}

func (e *RuleProviderError) Unwrap() error { return e.Err }

// Validate checks the provider name and its collection names
func (p *RuleProvider) Validate() error {
	if p.Name == "" {
		return &RuleProviderError{Index: -1, Err: ErrEmptyProviderName}
	}
	seen := make(map[string]bool, len(p.Collections))
	for i, c := range p.Collections {
		if c.Name == "" {
			return &RuleProviderError{Index: i, Err: ErrEmptyCollectionName}
		}
		if seen[c.Name] {
			return &RuleProviderError{Index: i, Name: c.Name, Err: ErrDuplicateCollection}
		}
		seen[c.Name] = true
		if !c.RecommendedPolicy.Valid() {
			return fmt.Errorf("collection %q: unknown policy %q", c.Name, c.RecommendedPolicy)
		}
	}
	return nil
}

// Rule is one concrete rule line bound to a policy name
type Rule struct {
	Type      RuleType
	Matcher   string
	Policy    string
	NoResolve bool
}

// String renders the engine rule line, e.g. "GEOIP,CN,DIRECT,no-resolve"
func (r Rule) String() string {
	name, _ := r.Type.EngineName()
	var parts []string
	if r.Type == RuleFinal {
		parts = []string{name, r.Policy}
	} else {
		parts = []string{name, r.Matcher, r.Policy}
	}
	if r.NoResolve && r.Type.SupportsNoResolve() {
		parts = append(parts, "no-resolve")
	}
	return strings.Join(parts, ",")
}

// ParseRule parses an engine rule line
func ParseRule(line string) (Rule, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 {
		return Rule{}, fmt.Errorf("malformed rule %q", line)
	}
	t, err := ParseRuleType(parts[0])
	if err != nil {
		return Rule{}, err
	}
	if t == RuleFinal {
		return Rule{Type: t, Policy: parts[1]}, nil
	}
	if len(parts) < 3 {
		return Rule{}, fmt.Errorf("malformed rule %q", line)
	}
	r := Rule{Type: t, Matcher: parts[1], Policy: parts[2]}
	if len(parts) > 3 && parts[3] == "no-resolve" {
		r.NoResolve = true
	}
	return r, nil
}

func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rule) UnmarshalText(text []byte) error {
	parsed, err := ParseRule(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Rule) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	var line string
	if err := node.Decode(&line); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(line))
}
