package subscription

import (
	"errors"
	"testing"

	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clashPayload = `
port: 7890
proxies:
  - name: "剩余流量：120 GB"
    type: ss
    server: info.example.com
    port: 1
    cipher: aes-128-gcm
    password: x
  - name: "过期时间: 2026-12-31"
    type: ss
    server: info.example.com
    port: 1
    cipher: aes-128-gcm
    password: x
  - name: hk-01
    type: vmess
    server: hk.example.com
    port: 443
    uuid: b831381d-6324-4d53-ad4f-8cda48b30811
    alterId: 0
    cipher: auto
    tls: true
  - name: jp-01
    type: trojan
    server: jp.example.com
    port: 443
    password: secret
    sni: jp.example.com
  - name: broken
    type: hysteria
    server: x.example.com
    port: 1
`

func TestDecodeClash(t *testing.T) {
	content, err := Decode(types.SubscriptionClash, []byte(clashPayload))
	require.NoError(t, err)

	require.Len(t, content.Nodes, 2)
	assert.Equal(t, "hk-01", content.Nodes[0].Name())
	assert.Equal(t, types.KindVMess, content.Nodes[0].Kind())
	assert.Equal(t, "jp-01", content.Nodes[1].Name())
	assert.Equal(t, 1, content.Skipped)

	assert.Equal(t, "120 GB", content.Metadata.RemainingData)
	assert.Equal(t, "2026-12-31", content.Metadata.ExpirationDate)
	assert.Empty(t, content.Metadata.Domain)
	assert.False(t, content.Metadata.Empty())
}

func TestDecodeClashLegacyKey(t *testing.T) {
	payload := `
Proxy:
  - {name: a, type: socks5, server: 10.0.0.1, port: 1080}
`
	content, err := Decode(types.SubscriptionClash, []byte(payload))
	require.NoError(t, err)
	require.Len(t, content.Nodes, 1)
	assert.Equal(t, types.KindSocks5, content.Nodes[0].Kind())
}

func TestDecodeJSON(t *testing.T) {
	payload := `[
  {"type": "http", "name": "office", "server": "10.1.1.1", "port": 3128},
  {"type": "snell", "name": "sg", "server": "sg.example.com", "port": 443, "psk": "k", "version": 3},
  {"type": "unknown", "name": "x"}
]`
	content, err := Decode(types.SubscriptionJSON, []byte(payload))
	require.NoError(t, err)
	require.Len(t, content.Nodes, 2)
	assert.Equal(t, "sg", content.Nodes[1].Name())
	assert.Equal(t, 1, content.Skipped)
	assert.True(t, content.Metadata.Empty())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("surge", []byte("x"))
	assert.True(t, errors.Is(err, ErrUnsupportedType))

	_, err = Decode(types.SubscriptionJSON, []byte("{not json"))
	assert.Error(t, err)

	_, err = Decode(types.SubscriptionClash, []byte("proxies: []\n"))
	assert.True(t, errors.Is(err, ErrNoNodes))

	// only metadata is still empty
	_, err = Decode(types.SubscriptionJSON, []byte(`[{"type":"ss","name":"最新域名: new.example.com","server":"s","port":1,"cipher":"c","password":"p"}]`))
	assert.True(t, errors.Is(err, ErrNoNodes))
}

func TestDecodeRuleProvider(t *testing.T) {
	doc := `
name: Market
description: curated lists
collections:
  - name: ads
    recommendedPolicy: reject
    rules:
      - ruleType: domain-suffix
        matchers: [ads.example.com, track.example.com]
  - name: lan
    recommendedPolicy: direct
    rules:
      - ruleType: IP-CIDR
        matchers: [10.0.0.0/8]
        noResolve: true
`
	provider, err := DecodeRuleProvider([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Market", provider.Name)
	require.Len(t, provider.Collections, 2)
	assert.Equal(t, types.RuleDomainSuffix, provider.Collections[0].Rules[0].RuleType)
	assert.Equal(t, types.PolicyReject, provider.Collections[0].RecommendedPolicy)
	assert.True(t, provider.Collections[1].Rules[0].NoResolve)
}

func TestDecodeRuleProviderJSON(t *testing.T) {
	doc := `{"name":"p","collections":[{"name":"a","recommendedPolicy":"proxy","rules":[{"ruleType":"GEOIP","matchers":["US"]}]}]}`
	provider, err := DecodeRuleProvider([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, types.RuleGeoIP, provider.Collections[0].Rules[0].RuleType)
}

func TestDecodeRuleProviderInvalid(t *testing.T) {
	_, err := DecodeRuleProvider([]byte("name: p\ncollections:\n  - name: a\n    recommendedPolicy: direct\n    rules: []\n  - name: a\n    recommendedPolicy: direct\n    rules: []\n"))
	assert.True(t, errors.Is(err, types.ErrDuplicateCollection))

	_, err = DecodeRuleProvider([]byte("name: p\ncollections:\n  - name: a\n    recommendedPolicy: direct\n    rules:\n      - ruleType: PROTOCOL\n        matchers: [x]\n"))
	assert.Error(t, err)
}
