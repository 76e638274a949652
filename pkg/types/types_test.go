package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRuleType(t *testing.T) {
	tests := []struct {
		in      string
		want    RuleType
		wantErr bool
	}{
		{"DOMAIN-SUFFIX", RuleDomainSuffix, false},
		{"domain-suffix", RuleDomainSuffix, false},
		{"domainSuffix", RuleDomainSuffix, false},
		{"MATCH", RuleFinal, false},
		{"DST-PORT", RuleDestPort, false},
		{"destPort", RuleDestPort, false},
		{"ipCIDR6", RuleIPCIDR6, false},
		{"ip_cidr", RuleIPCIDR, false},
		{"HOST-KEYWORD", RuleDomainKeyword, false},
		{"geoip", RuleGeoIP, false},
		{"PROTOCOL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRuleType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleTypeEngineName(t *testing.T) {
	name, ok := RuleFinal.EngineName()
	assert.True(t, ok)
	assert.Equal(t, "MATCH", name)

	name, ok = RuleDestPort.EngineName()
	assert.True(t, ok)
	assert.Equal(t, "DST-PORT", name)

	_, ok = RuleUserAgent.EngineName()
	assert.False(t, ok)
	_, ok = RuleURLRegex.EngineName()
	assert.False(t, ok)
}

func TestRuleString(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"geoip", Rule{Type: RuleGeoIP, Matcher: "CN", Policy: DirectPolicy}, "GEOIP,CN,DIRECT"},
		{"no-resolve", Rule{Type: RuleIPCIDR, Matcher: "10.0.0.0/8", Policy: DirectPolicy, NoResolve: true}, "IP-CIDR,10.0.0.0/8,DIRECT,no-resolve"},
		{"no-resolve unsupported", Rule{Type: RuleDomain, Matcher: "a.com", Policy: "Proxy", NoResolve: true}, "DOMAIN,a.com,Proxy"},
		{"final", Rule{Type: RuleFinal, Policy: "Proxy"}, "MATCH,Proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.String())
			parsed, err := ParseRule(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.want, parsed.String())
		})
	}
}

func TestParseRuleMalformed(t *testing.T) {
	for _, line := range []string{"", "DOMAIN", "DOMAIN,a.com", "NOPE,a,b"} {
		_, err := ParseRule(line)
		assert.Error(t, err, line)
	}
}

func TestProxyConfigJSON(t *testing.T) {
	id := uuid.MustParse("b831381d-6324-4d53-ad4f-8cda48b30811")
	p := NewProxyConfig(VMess{
		Endpoint: Endpoint{Name: "hk", Server: "hk.example.com", Port: 443},
		UUID:     id,
		Cipher:   "auto",
		TLS:      true,
		Network:  "ws",
		WSOpts:   &WSOptions{Path: "/v"},
	})

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "vmess", fields["type"])
	assert.Equal(t, "hk", fields["name"])
	assert.Equal(t, id.String(), fields["uuid"])

	var back ProxyConfig
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindVMess, back.Kind())
	assert.Equal(t, p.Proxy, back.Proxy)
}

func TestProxyConfigYAML(t *testing.T) {
	doc := `
name: jp
type: ss
server: jp.example.com
port: 8388
cipher: aes-256-gcm
password: pw
udp: true
`
	var p ProxyConfig
	require.NoError(t, yaml.Unmarshal([]byte(doc), &p))
	assert.Equal(t, KindShadowsocks, p.Kind())
	assert.Equal(t, "jp", p.Name())
	assert.Equal(t, "jp.example.com", p.Server())

	out, err := yaml.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), "type: ss\n")
	assert.Contains(t, string(out), "cipher: aes-256-gcm\n")

	var again ProxyConfig
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, p.Proxy, again.Proxy)
}

func TestProxyConfigUnknownType(t *testing.T) {
	var p ProxyConfig
	err := json.Unmarshal([]byte(`{"type":"wireguard","name":"x"}`), &p)
	assert.Error(t, err)
}

func TestProxyConfigCopyHelpers(t *testing.T) {
	orig := NewProxyConfig(Trojan{
		Endpoint: Endpoint{Name: "a", Server: "one.example.com", Port: 443},
		Password: "pw",
	})

	moved := orig.WithServer("two.example.com").WithName("a@two.example.com")
	assert.Equal(t, "a@two.example.com", moved.Name())
	assert.Equal(t, "two.example.com", moved.Server())
	assert.Equal(t, "pw", moved.Proxy.(Trojan).Password)

	// original untouched
	assert.Equal(t, "a", orig.Name())
	assert.Equal(t, "one.example.com", orig.Server())
}

func TestRuleProviderValidate(t *testing.T) {
	good := RuleProvider{
		Name: "p",
		Collections: []RuleCollection{
			{Name: "a", RecommendedPolicy: PolicyDirect},
			{Name: "b", RecommendedPolicy: PolicyProxy},
		},
	}
	assert.NoError(t, good.Validate())

	tests := []struct {
		name     string
		provider RuleProvider
		want     error
	}{
		{"empty name", RuleProvider{}, ErrEmptyProviderName},
		{"empty collection", RuleProvider{Name: "p", Collections: []RuleCollection{{RecommendedPolicy: PolicyDirect}}}, ErrEmptyCollectionName},
		{"duplicate", RuleProvider{Name: "p", Collections: []RuleCollection{
			{Name: "a", RecommendedPolicy: PolicyDirect},
			{Name: "a", RecommendedPolicy: PolicyDirect},
		}}, ErrDuplicateCollection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var perr *RuleProviderError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func validSpecJSON() string {
	return `{
  "shared": {
    "rules": [
      {"name": "cn", "rules": [{"ruleType": "GEOIP", "matchers": ["CN"]}], "recommendedPolicy": "direct"}
    ],
    "ruleSubscriptions": [],
    "proxies": [
      {"id": "0b0f4c1e-0d0e-4f37-9c9b-1b8fd7c9e3a1",
       "proxy": {"type": "socks5", "name": "home", "server": "10.0.0.1", "port": 1080}}
    ],
    "subscriptions": [
      {"id": "4d5f0a52-2a0e-4f0c-8d4a-1f3b1c5e9a10", "name": "S", "url": "https://example.com/s", "type": "clash", "autoGroups": ["select", "url-test"]}
    ]
  },
  "instances": [
    {
      "id": "f3e1c2b4-7a9d-4e8f-b6c5-2d1a0e9f8b7c",
      "name": "main",
      "dns": {"enable": false, "ipv6": false, "nameserver": []},
      "normal": {"mainProxyGroupName": "Proxy", "finalDirect": false, "logLevel": "info", "allowLan": false, "mixedPort": 7890, "apiPort": 9090},
      "rules": ["cn"],
      "proxies": ["0b0f4c1e-0d0e-4f37-9c9b-1b8fd7c9e3a1"],
      "subscriptions": ["4d5f0a52-2a0e-4f0c-8d4a-1f3b1c5e9a10"]
    }
  ]
}`
}

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec([]byte(validSpecJSON()))
	require.NoError(t, err)

	require.Len(t, spec.Instances, 1)
	inst := spec.Instances[0]
	assert.Equal(t, "main", inst.DisplayName())
	require.NotNil(t, inst.Normal.MixedPort)
	assert.Equal(t, 7890, *inst.Normal.MixedPort)
	assert.Equal(t, "home", spec.Shared.Proxies[0].Proxy.Name())
	assert.True(t, spec.Shared.Subscriptions[0].AutoGroups.Has(GroupKindURLTest))
	assert.False(t, spec.Shared.Subscriptions[0].AutoGroups.Has(GroupKindFallback))
}

func TestSpecValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Spec)
	}{
		{"missing main group", func(s *Spec) { s.Instances[0].Normal.MainProxyGroupName = "" }},
		{"bad api port", func(s *Spec) { s.Instances[0].Normal.APIPort = 0 }},
		{"bad log level", func(s *Spec) { s.Instances[0].Normal.LogLevel = "loud" }},
		{"unknown collection", func(s *Spec) { s.Instances[0].Rules = []string{"nope"} }},
		{"unknown reference", func(s *Spec) { s.Instances[0].Subscriptions = []uuid.UUID{uuid.New()} }},
		{"duplicate instance", func(s *Spec) { s.Instances = append(s.Instances, s.Instances[0]) }},
		{"bad subscription type", func(s *Spec) { s.Shared.Subscriptions[0].Type = "surge" }},
		{"shared id reuse", func(s *Spec) { s.Shared.Proxies[0].ID = s.Shared.Subscriptions[0].ID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpec([]byte(validSpecJSON()))
			require.NoError(t, err)
			tt.mutate(spec)
			assert.Error(t, spec.Validate())
		})
	}
}

func TestSpecDiff(t *testing.T) {
	a, err := ParseSpec([]byte(validSpecJSON()))
	require.NoError(t, err)
	b, err := ParseSpec([]byte(validSpecJSON()))
	require.NoError(t, err)

	assert.Equal(t, SpecUnchanged, a.Diff(b))

	b.Instances[0].Normal.LogLevel = LogLevelDebug
	assert.Equal(t, SpecInstancesChanged, a.Diff(b))

	b.Shared.Subscriptions[0].URL = "https://example.com/other"
	assert.Equal(t, SpecSharedChanged, a.Diff(b))
}

func TestEngineConfigListenersAndEqual(t *testing.T) {
	a := &EngineConfig{MixedPort: 7890, LogLevel: LogLevelInfo, ExternalController: "127.0.0.1:9090"}
	b := &EngineConfig{MixedPort: 7890, LogLevel: LogLevelDebug, ExternalController: "127.0.0.1:9090"}

	assert.False(t, a.Equal(b))
	assert.Equal(t, a.Listeners(), b.Listeners())

	b.MixedPort = 7891
	assert.NotEqual(t, a.Listeners(), b.Listeners())

	c := &EngineConfig{MixedPort: 7890, LogLevel: LogLevelInfo, ExternalController: "127.0.0.1:9090"}
	assert.True(t, a.Equal(c))
}

func TestControllerURL(t *testing.T) {
	c := &EngineConfig{ExternalController: "0.0.0.0:9090"}
	u, err := c.ControllerURL()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9090", u)

	c.ExternalController = "192.168.1.2:9091"
	u, err = c.ControllerURL()
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.2:9091", u)

	c.ExternalController = "nonsense"
	_, err = c.ControllerURL()
	assert.Error(t, err)
}
