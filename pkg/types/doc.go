/*
Package types defines the data model shared by every proxyworld package.

It covers three layers:

  - The spec document: Spec, SharedData, InstanceConfig, subscriptions, user
    proxies and inline rule collections, decoded from the JSON spec file.
  - The proxy model: a closed set of proxy kinds (ss, ssr, vmess, socks5, http,
    trojan, snell) behind the Proxy interface, carried by ProxyConfig.
  - The engine output: EngineConfig, ProxyGroup and Rule, which render directly
    to the routing engine's YAML configuration.

# Proxies

Proxy is sealed: only kinds declared in this package implement it. Generic
code works with ProxyConfig and reads the name and server through it:

	p := types.NewProxyConfig(types.Trojan{
		Endpoint: types.Endpoint{Name: "tokyo", Server: "a.example.com", Port: 443},
		Password: "secret",
	})
	alt := p.WithServer("b.example.com").WithName("tokyo@b.example.com")

ProxyConfig encodes to a mapping discriminated by its `type` key, in JSON for
the spec and the cache and in YAML for engine configs and subscriptions.

# Rules

RuleType accepts any client spelling of a rule keyword (MATCH, DST-PORT,
HOST-SUFFIX, domainSuffix) and renders the engine keyword through EngineName.
USER-AGENT and URL-REGEX are parsed but not supported by the engine.

AbstractPolicy values are resolved to concrete policy names by the generator.

# Validation

Spec.Validate checks id uniqueness, references from instances to shared data,
port ranges and known enum values. A spec that fails validation is rejected
at load time; nothing downstream re-validates it.

Spec.Diff classifies a reload as unchanged, instance-only, or shared, which
decides whether caches must be refreshed before reconciling.
*/
package types
