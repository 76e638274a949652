package generator

import (
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"

	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
)

// Result is the generation outcome for one instance. Exactly one of Config and
// Err is set.
type Result struct {
	Instance    types.InstanceConfig
	Config      *types.EngineConfig
	Err         error
	Diagnostics []string
}

// Generate builds one engine config per instance of spec. It performs no I/O
// and returns identical results for identical inputs.
func Generate(spec *types.Spec, proxies types.ProxyCache, rules types.RuleCache, opts Options) []Result {
	results := make([]Result, 0, len(spec.Instances))
	for _, inst := range spec.Instances {
		results = append(results, GenerateInstance(&spec.Shared, inst, proxies, rules, opts))
	}
	return results
}

// GenerateInstance builds the engine config of a single instance
func GenerateInstance(shared *types.SharedData, inst types.InstanceConfig, proxies types.ProxyCache, rules types.RuleCache, opts Options) Result {
	b := newBuilder(shared, inst, opts)
	b.materializeSubscriptions(proxies)
	b.materializeUserProxies()
	b.assembleMainGroup()

	if err := b.resolveRules(rules); err != nil {
		return Result{Instance: inst, Err: err, Diagnostics: b.diags}
	}
	return Result{Instance: inst, Config: b.config(), Diagnostics: b.diags}
}

type builder struct {
	shared *types.SharedData
	inst   types.InstanceConfig
	opts   Options
	names  *Allocator
	diags  []string

	checkURL      string
	checkInterval int

	proxies    []types.ProxyConfig
	selects    []types.ProxyGroup
	urlTests   []types.ProxyGroup
	fallbacks  []types.ProxyGroup
	ruleGroups []types.ProxyGroup
	rules      []types.Rule

	userNames        []string
	userDefaultGroup bool

	main        types.ProxyGroup
	ruleMembers []string
}

func newBuilder(shared *types.SharedData, inst types.InstanceConfig, opts Options) *builder {
	b := &builder{
		shared:        shared,
		inst:          inst,
		opts:          opts,
		names:         NewAllocator(inst.Normal.MainProxyGroupName, types.DirectPolicy, types.RejectPolicy),
		checkURL:      DefaultCheckURL,
		checkInterval: DefaultCheckInterval,
		proxies:       []types.ProxyConfig{},
		rules:         []types.Rule{},
	}
	if inst.Normal.ServerCheckURL != "" {
		b.checkURL = inst.Normal.ServerCheckURL
	}
	if inst.Normal.ServerCheckInterval > minCheckInterval {
		b.checkInterval = inst.Normal.ServerCheckInterval
	}
	return b
}

func (b *builder) diagf(format string, args ...any) {
	b.diags = append(b.diags, fmt.Sprintf(format, args...))
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (b *builder) materializeSubscriptions(cache types.ProxyCache) {
	enabled := idSet(b.inst.Subscriptions)
	for _, sub := range b.shared.Subscriptions {
		if !enabled[sub.ID] {
			continue
		}
		label := sub.Name
		if label == "" {
			label = sub.ID.String()
		}

		var members []string
		for _, node := range cache[sub.ID] {
			if node.Proxy == nil || node.Name() == "" {
				continue
			}
			name := b.names.Allocate(node.Name())
			b.proxies = append(b.proxies, node.WithName(name))
			members = append(members, name)
		}
		if len(members) == 0 {
			b.diagf("subscription %q has no usable nodes, skipped", label)
			continue
		}
		b.addGroups(label, members, sub.AutoGroups)
	}
}

func (b *builder) materializeUserProxies() {
	enabled := idSet(b.inst.Proxies)
	for _, up := range b.shared.Proxies {
		if !enabled[up.ID] || up.Proxy.Proxy == nil {
			continue
		}
		name := b.names.Allocate(up.Proxy.Name())
		b.proxies = append(b.proxies, up.Proxy.WithName(name))
		expanded := []string{name}

		for _, host := range up.AlterHosts {
			if host == "" || host == up.Proxy.Server() {
				continue
			}
			alt := b.names.Allocate(name + "@" + host)
			b.proxies = append(b.proxies, up.Proxy.WithServer(host).WithName(alt))
			expanded = append(expanded, alt)
		}

		b.userNames = append(b.userNames, expanded...)
		b.addGroups(name, expanded, up.AutoGroups)
	}

	if len(b.userNames) > 0 && b.inst.Normal.UserProxyGroupName != "" {
		b.selects = append(b.selects, types.ProxyGroup{
			Name:    b.names.Allocate(b.inst.Normal.UserProxyGroupName),
			Type:    types.GroupSelect,
			Proxies: slices.Clone(b.userNames),
		})
		b.userDefaultGroup = true
	}
}

// addGroups synthesizes the declared auxiliary groups over members
func (b *builder) addGroups(label string, members []string, kinds types.GroupKinds) {
	if kinds.Has(types.GroupKindSelect) {
		b.selects = append(b.selects, types.ProxyGroup{
			Name:    b.names.Allocate(format(b.opts.SelectGroupFormat, label)),
			Type:    types.GroupSelect,
			Proxies: slices.Clone(members),
		})
	}
	if kinds.Has(types.GroupKindURLTest) {
		b.urlTests = append(b.urlTests, types.ProxyGroup{
			Name:     b.names.Allocate(format(b.opts.URLTestGroupFormat, label)),
			Type:     types.GroupURLTest,
			Proxies:  slices.Clone(members),
			URL:      b.checkURL,
			Interval: b.checkInterval,
		})
	}
	if kinds.Has(types.GroupKindFallback) {
		b.fallbacks = append(b.fallbacks, types.ProxyGroup{
			Name:     b.names.Allocate(format(b.opts.FallbackGroupFormat, label)),
			Type:     types.GroupFallback,
			Proxies:  slices.Clone(members),
			URL:      b.checkURL,
			Interval: b.checkInterval,
		})
	}
}

func sortedNames(groups []types.ProxyGroup) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names
}

func (b *builder) assembleMainGroup() {
	members := []string{}
	if !b.inst.Normal.OmitDirect {
		members = append(members, types.DirectPolicy)
	}
	members = append(members, sortedNames(b.selects)...)
	members = append(members, sortedNames(b.urlTests)...)
	members = append(members, sortedNames(b.fallbacks)...)
	if !b.userDefaultGroup {
		members = append(members, b.userNames...)
	}

	b.main = types.ProxyGroup{
		Name:    b.inst.Normal.MainProxyGroupName,
		Type:    types.GroupSelect,
		Proxies: members,
	}
	b.ruleMembers = append([]string{b.main.Name}, members...)
}

func (b *builder) resolveRules(cache types.RuleCache) error {
	enabled := make(map[string]bool, len(b.inst.Rules))
	for _, name := range b.inst.Rules {
		enabled[name] = true
	}
	for _, c := range b.shared.Rules {
		if !enabled[c.Name] {
			continue
		}
		if err := b.resolveCollection("", c, nil); err != nil {
			return err
		}
	}

	subs := idSet(b.inst.RuleSubscriptions)
	for _, rs := range b.shared.RuleSubscriptions {
		if !subs[rs.ID] {
			continue
		}
		provider, ok := cache[rs.ID]
		if !ok {
			b.diagf("rule subscription %q has no cached rules, skipped", rs.Name)
			continue
		}
		prefix := rs.Name
		if prefix == "" {
			prefix = provider.Name
		}
		if prefix != "" {
			prefix += " - "
		}
		overrides := rs.Overrides()
		for _, c := range provider.Collections {
			if err := b.resolveCollection(prefix, c, overrides); err != nil {
				return err
			}
		}
	}

	final := types.Rule{Type: types.RuleFinal, Policy: b.main.Name}
	if b.inst.Normal.FinalDirect {
		final.Policy = types.DirectPolicy
	}
	b.rules = append(b.rules, final)
	return nil
}

// resolveCollection emits the rules of one collection. Usable rules are
// collected first so a select group is only allocated when something routes to it.
func (b *builder) resolveCollection(prefix string, c types.RuleCollection, overrides map[string]types.AbstractPolicy) error {
	policy := c.RecommendedPolicy
	if p, ok := overrides[c.Name]; ok {
		policy = p
	}

	var usable []types.RuleInfo
	for _, info := range c.Rules {
		if len(info.Matchers) == 0 {
			continue
		}
		if info.RuleType == types.RuleFinal {
			b.diagf("collection %q: %s rule skipped, the catch-all is generated", c.Name, info.RuleType)
			continue
		}
		if _, ok := info.RuleType.EngineName(); !ok {
			b.diagf("collection %q: rule type %s is not supported by the engine, skipped", c.Name, info.RuleType)
			continue
		}
		usable = append(usable, info)
	}
	if len(usable) == 0 {
		return nil
	}

	var target string
	switch policy {
	case types.PolicyDirect:
		target = types.DirectPolicy
	case types.PolicyReject:
		target = types.RejectPolicy
	case types.PolicyProxy:
		target = b.main.Name
	case types.PolicySelect:
		target = b.names.Allocate(format(b.opts.RuleGroupFormat, prefix+c.Name))
		b.ruleGroups = append(b.ruleGroups, types.ProxyGroup{
			Name:    target,
			Type:    types.GroupSelect,
			Proxies: slices.Clone(b.ruleMembers),
		})
	default:
		return &PolicyError{Collection: prefix + c.Name, Policy: policy}
	}

	for _, info := range usable {
		for _, m := range info.Matchers {
			b.rules = append(b.rules, types.Rule{
				Type:      info.RuleType,
				Matcher:   m,
				Policy:    target,
				NoResolve: info.NoResolve && info.RuleType.SupportsNoResolve(),
			})
		}
	}
	return nil
}

func (b *builder) config() *types.EngineConfig {
	n := b.inst.Normal
	bind := n.APIBindAddress
	if bind == "" {
		bind = "127.0.0.1"
	}
	level := n.LogLevel
	if level == "" {
		level = types.LogLevelInfo
	}

	groups := make([]types.ProxyGroup, 0, 1+len(b.selects)+len(b.urlTests)+len(b.fallbacks)+len(b.ruleGroups))
	groups = append(groups, b.main)
	groups = append(groups, b.selects...)
	groups = append(groups, b.urlTests...)
	groups = append(groups, b.fallbacks...)
	groups = append(groups, b.ruleGroups...)

	cfg := &types.EngineConfig{
		Port:               deref(n.HTTPPort),
		SocksPort:          deref(n.SocksPort),
		MixedPort:          deref(n.MixedPort),
		AllowLAN:           n.AllowLAN,
		Mode:               "rule",
		LogLevel:           level,
		IPv6:               b.inst.DNS.IPv6,
		ExternalController: net.JoinHostPort(bind, strconv.Itoa(n.APIPort)),
		Profile:            &types.EngineProfile{StoreSelected: true},
		Proxies:            b.proxies,
		ProxyGroups:        groups,
		Rules:              b.rules,
	}
	if b.inst.DNS.Enable {
		dns := b.inst.DNS
		dns.Nameserver = slices.Clone(dns.Nameserver)
		dns.Fallback = slices.Clone(dns.Fallback)
		if dns.FallbackFilter != nil {
			ff := *dns.FallbackFilter
			ff.IPCIDR = slices.Clone(ff.IPCIDR)
			dns.FallbackFilter = &ff
		}
		cfg.DNS = &dns
	}
	return cfg
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
