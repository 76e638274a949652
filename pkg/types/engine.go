package types

import (
	"fmt"
	"strings"
)

// LogLevel is the engine log verbosity
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelSilent  LogLevel = "silent"
)

// Valid reports whether l is a level the engine knows. The empty level is valid
// and means "info".
func (l LogLevel) Valid() bool {
	switch l {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelSilent:
		return true
	}
	return false
}

// DNSConfig is the engine DNS block
type DNSConfig struct {
	Enable         bool            `json:"enable" yaml:"enable"`
	IPv6           bool            `json:"ipv6" yaml:"ipv6"`
	Listen         string          `json:"listen,omitempty" yaml:"listen,omitempty"`
	EnhancedMode   string          `json:"enhanced-mode,omitempty" yaml:"enhanced-mode,omitempty"`
	Nameserver     []string        `json:"nameserver" yaml:"nameserver"`
	Fallback       []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	FallbackFilter *FallbackFilter `json:"fallback-filter,omitempty" yaml:"fallback-filter,omitempty"`
}

// FallbackFilter decides when fallback nameservers are consulted
type FallbackFilter struct {
	GeoIP  bool     `json:"geoip" yaml:"geoip"`
	IPCIDR []string `json:"ipcidr,omitempty" yaml:"ipcidr,omitempty"`
}

// ProxyGroupType is the selection strategy of a proxy group
type ProxyGroupType string

const (
	GroupSelect   ProxyGroupType = "select"
	GroupURLTest  ProxyGroupType = "url-test"
	GroupFallback ProxyGroupType = "fallback"
)

// ProxyGroup is one engine proxy group
type ProxyGroup struct {
	Name     string         `json:"name" yaml:"name"`
	Type     ProxyGroupType `json:"type" yaml:"type"`
	Proxies  []string       `json:"proxies" yaml:"proxies"`
	URL      string         `json:"url,omitempty" yaml:"url,omitempty"`
	Interval int            `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// EngineProfile holds engine profile persistence flags
type EngineProfile struct {
	StoreSelected bool `json:"store-selected" yaml:"store-selected"`
}

// EngineConfig is a generated routing engine configuration. It is built once by
// the generator and never mutated afterwards.
type EngineConfig struct {
	Port               int            `json:"port,omitempty" yaml:"port,omitempty"`
	SocksPort          int            `json:"socks-port,omitempty" yaml:"socks-port,omitempty"`
	MixedPort          int            `json:"mixed-port,omitempty" yaml:"mixed-port,omitempty"`
	AllowLAN           bool           `json:"allow-lan" yaml:"allow-lan"`
	Mode               string         `json:"mode" yaml:"mode"`
	LogLevel           LogLevel       `json:"log-level" yaml:"log-level"`
	IPv6               bool           `json:"ipv6" yaml:"ipv6"`
	ExternalController string         `json:"external-controller" yaml:"external-controller"`
	Profile            *EngineProfile `json:"profile,omitempty" yaml:"profile,omitempty"`
	DNS                *DNSConfig     `json:"dns,omitempty" yaml:"dns,omitempty"`
	Proxies            []ProxyConfig  `json:"proxies" yaml:"proxies"`
	ProxyGroups        []ProxyGroup   `json:"proxy-groups" yaml:"proxy-groups"`
	Rules              []Rule         `json:"rules" yaml:"rules"`
}

// Listeners are the settings whose change requires rebinding a socket
type Listeners struct {
	Port               int
	SocksPort          int
	MixedPort          int
	AllowLAN           bool
	ExternalController string
	DNSListen          string
}

// Listeners extracts the socket-binding settings of c
func (c *EngineConfig) Listeners() Listeners {
	l := Listeners{
		Port:               c.Port,
		SocksPort:          c.SocksPort,
		MixedPort:          c.MixedPort,
		AllowLAN:           c.AllowLAN,
		ExternalController: c.ExternalController,
	}
	if c.DNS != nil && c.DNS.Enable {
		l.DNSListen = c.DNS.Listen
	}
	return l
}

// Equal reports whether a and b encode to the same document
func (c *EngineConfig) Equal(other *EngineConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return jsonEqual(c, other)
}

// ControllerURL returns the http base URL of the external controller,
// rewriting a wildcard bind address to loopback.
func (c *EngineConfig) ControllerURL() (string, error) {
	addr := c.ExternalController
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", fmt.Errorf("invalid controller address %q", addr)
	}
	host, port := addr[:idx], addr[idx+1:]
	switch host {
	case "", "0.0.0.0", "[::]", "::":
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + port, nil
}
