package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ProxyKind is the engine's `type` discriminator for a proxy
type ProxyKind string

const (
	KindShadowsocks  ProxyKind = "ss"
	KindShadowsocksR ProxyKind = "ssr"
	KindVMess        ProxyKind = "vmess"
	KindSocks5       ProxyKind = "socks5"
	KindHTTP         ProxyKind = "http"
	KindTrojan       ProxyKind = "trojan"
	KindSnell        ProxyKind = "snell"
)

// Endpoint holds the fields every proxy kind shares
type Endpoint struct {
	Name   string `json:"name" yaml:"name"`
	Server string `json:"server" yaml:"server"`
	Port   int    `json:"port" yaml:"port"`
}

// Proxy is implemented only by the proxy kinds in this package. Generic code
// reads the name and server through it and never inspects kind-specific fields.
type Proxy interface {
	Kind() ProxyKind
	endpoint() Endpoint
	withEndpoint(Endpoint) Proxy
}

// Shadowsocks proxy
type Shadowsocks struct {
	Endpoint   `yaml:",inline"`
	Cipher     string         `json:"cipher" yaml:"cipher"`
	Password   string         `json:"password" yaml:"password"`
	Plugin     string         `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	PluginOpts map[string]any `json:"plugin-opts,omitempty" yaml:"plugin-opts,omitempty"`
	UDP        bool           `json:"udp,omitempty" yaml:"udp,omitempty"`
}

// ShadowsocksR proxy
type ShadowsocksR struct {
	Endpoint      `yaml:",inline"`
	Cipher        string `json:"cipher" yaml:"cipher"`
	Password      string `json:"password" yaml:"password"`
	Obfs          string `json:"obfs" yaml:"obfs"`
	ObfsParam     string `json:"obfs-param,omitempty" yaml:"obfs-param,omitempty"`
	Protocol      string `json:"protocol" yaml:"protocol"`
	ProtocolParam string `json:"protocol-param,omitempty" yaml:"protocol-param,omitempty"`
	UDP           bool   `json:"udp,omitempty" yaml:"udp,omitempty"`
}

// WSOptions are websocket transport settings
type WSOptions struct {
	Path    string            `json:"path,omitempty" yaml:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// VMess proxy
type VMess struct {
	Endpoint       `yaml:",inline"`
	UUID           uuid.UUID  `json:"uuid" yaml:"uuid"`
	AlterID        int        `json:"alterId" yaml:"alterId"`
	Cipher         string     `json:"cipher" yaml:"cipher"`
	TLS            bool       `json:"tls,omitempty" yaml:"tls,omitempty"`
	SkipCertVerify bool       `json:"skip-cert-verify,omitempty" yaml:"skip-cert-verify,omitempty"`
	ServerName     string     `json:"servername,omitempty" yaml:"servername,omitempty"`
	Network        string     `json:"network,omitempty" yaml:"network,omitempty"`
	WSOpts         *WSOptions `json:"ws-opts,omitempty" yaml:"ws-opts,omitempty"`
	UDP            bool       `json:"udp,omitempty" yaml:"udp,omitempty"`
}

// Socks5 proxy
type Socks5 struct {
	Endpoint       `yaml:",inline"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	TLS            bool   `json:"tls,omitempty" yaml:"tls,omitempty"`
	SkipCertVerify bool   `json:"skip-cert-verify,omitempty" yaml:"skip-cert-verify,omitempty"`
	UDP            bool   `json:"udp,omitempty" yaml:"udp,omitempty"`
}

// HTTP proxy
type HTTP struct {
	Endpoint       `yaml:",inline"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	TLS            bool   `json:"tls,omitempty" yaml:"tls,omitempty"`
	SkipCertVerify bool   `json:"skip-cert-verify,omitempty" yaml:"skip-cert-verify,omitempty"`
}

// Trojan proxy
type Trojan struct {
	Endpoint       `yaml:",inline"`
	Password       string   `json:"password" yaml:"password"`
	SNI            string   `json:"sni,omitempty" yaml:"sni,omitempty"`
	ALPN           []string `json:"alpn,omitempty" yaml:"alpn,omitempty"`
	SkipCertVerify bool     `json:"skip-cert-verify,omitempty" yaml:"skip-cert-verify,omitempty"`
	UDP            bool     `json:"udp,omitempty" yaml:"udp,omitempty"`
}

// Snell proxy
type Snell struct {
	Endpoint `yaml:",inline"`
	PSK      string            `json:"psk" yaml:"psk"`
	Version  int               `json:"version,omitempty" yaml:"version,omitempty"`
	ObfsOpts map[string]string `json:"obfs-opts,omitempty" yaml:"obfs-opts,omitempty"`
}

func (Shadowsocks) Kind() ProxyKind  { return KindShadowsocks }
func (ShadowsocksR) Kind() ProxyKind { return KindShadowsocksR }
func (VMess) Kind() ProxyKind        { return KindVMess }
func (Socks5) Kind() ProxyKind       { return KindSocks5 }
func (HTTP) Kind() ProxyKind         { return KindHTTP }
func (Trojan) Kind() ProxyKind       { return KindTrojan }
func (Snell) Kind() ProxyKind        { return KindSnell }

func (p Shadowsocks) endpoint() Endpoint  { return p.Endpoint }
func (p ShadowsocksR) endpoint() Endpoint { return p.Endpoint }
func (p VMess) endpoint() Endpoint        { return p.Endpoint }
func (p Socks5) endpoint() Endpoint       { return p.Endpoint }
func (p HTTP) endpoint() Endpoint         { return p.Endpoint }
func (p Trojan) endpoint() Endpoint       { return p.Endpoint }
func (p Snell) endpoint() Endpoint        { return p.Endpoint }

func (p Shadowsocks) withEndpoint(e Endpoint) Proxy  { p.Endpoint = e; return p }
func (p ShadowsocksR) withEndpoint(e Endpoint) Proxy { p.Endpoint = e; return p }
func (p VMess) withEndpoint(e Endpoint) Proxy        { p.Endpoint = e; return p }
func (p Socks5) withEndpoint(e Endpoint) Proxy       { p.Endpoint = e; return p }
func (p HTTP) withEndpoint(e Endpoint) Proxy         { p.Endpoint = e; return p }
func (p Trojan) withEndpoint(e Endpoint) Proxy       { p.Endpoint = e; return p }
func (p Snell) withEndpoint(e Endpoint) Proxy        { p.Endpoint = e; return p }

// ProxyConfig carries one proxy of any kind and encodes it as an engine proxy
// mapping discriminated by `type`.
type ProxyConfig struct {
	Proxy
}

// NewProxyConfig wraps p
func NewProxyConfig(p Proxy) ProxyConfig {
	return ProxyConfig{Proxy: p}
}

// Name returns the proxy name
func (c ProxyConfig) Name() string {
	if c.Proxy == nil {
		return ""
	}
	return c.endpoint().Name
}

// Server returns the proxy server address
func (c ProxyConfig) Server() string {
	if c.Proxy == nil {
		return ""
	}
	return c.endpoint().Server
}

// WithName returns a copy renamed to name
func (c ProxyConfig) WithName(name string) ProxyConfig {
	e := c.endpoint()
	e.Name = name
	return ProxyConfig{Proxy: c.withEndpoint(e)}
}

// WithServer returns a copy pointing at server, credentials unchanged
func (c ProxyConfig) WithServer(server string) ProxyConfig {
	e := c.endpoint()
	e.Server = server
	return ProxyConfig{Proxy: c.withEndpoint(e)}
}

// ProxyName is a nil-safe shorthand for c.Name()
func ProxyName(c ProxyConfig) string {
	return c.Name()
}

type proxyKindProbe struct {
	Type ProxyKind `json:"type" yaml:"type"`
}

// newProxy returns a zero proxy of the given kind
func newProxy(kind ProxyKind) (Proxy, error) {
	switch kind {
	case KindShadowsocks:
		return Shadowsocks{}, nil
	case KindShadowsocksR:
		return ShadowsocksR{}, nil
	case KindVMess:
		return VMess{}, nil
	case KindSocks5:
		return Socks5{}, nil
	case KindHTTP:
		return HTTP{}, nil
	case KindTrojan:
		return Trojan{}, nil
	case KindSnell:
		return Snell{}, nil
	default:
		return nil, fmt.Errorf("unsupported proxy type %q", kind)
	}
}

// tagged returns a value whose encoding is the proxy fields preceded by `type`
func (c ProxyConfig) tagged() (any, error) {
	switch p := c.Proxy.(type) {
	case Shadowsocks:
		return struct {
			Type        ProxyKind `json:"type" yaml:"type"`
			Shadowsocks `yaml:",inline"`
		}{p.Kind(), p}, nil
	case ShadowsocksR:
		return struct {
			Type         ProxyKind `json:"type" yaml:"type"`
			ShadowsocksR `yaml:",inline"`
		}{p.Kind(), p}, nil
	case VMess:
		return struct {
			Type  ProxyKind `json:"type" yaml:"type"`
			VMess `yaml:",inline"`
		}{p.Kind(), p}, nil
	case Socks5:
		return struct {
			Type   ProxyKind `json:"type" yaml:"type"`
			Socks5 `yaml:",inline"`
		}{p.Kind(), p}, nil
	case HTTP:
		return struct {
			Type ProxyKind `json:"type" yaml:"type"`
			HTTP `yaml:",inline"`
		}{p.Kind(), p}, nil
	case Trojan:
		return struct {
			Type   ProxyKind `json:"type" yaml:"type"`
			Trojan `yaml:",inline"`
		}{p.Kind(), p}, nil
	case Snell:
		return struct {
			Type  ProxyKind `json:"type" yaml:"type"`
			Snell `yaml:",inline"`
		}{p.Kind(), p}, nil
	case nil:
		return nil, fmt.Errorf("empty proxy")
	default:
		return nil, fmt.Errorf("unsupported proxy %T", p)
	}
}

func (c ProxyConfig) MarshalJSON() ([]byte, error) {
	v, err := c.tagged()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (c *ProxyConfig) UnmarshalJSON(data []byte) error {
	var probe proxyKindProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	p, err := newProxy(probe.Type)
	if err != nil {
		return err
	}
	// decode into a pointer to the concrete zero value
	switch v := p.(type) {
	case Shadowsocks:
		err = json.Unmarshal(data, &v)
		p = v
	case ShadowsocksR:
		err = json.Unmarshal(data, &v)
		p = v
	case VMess:
		err = json.Unmarshal(data, &v)
		p = v
	case Socks5:
		err = json.Unmarshal(data, &v)
		p = v
	case HTTP:
		err = json.Unmarshal(data, &v)
		p = v
	case Trojan:
		err = json.Unmarshal(data, &v)
		p = v
	case Snell:
		err = json.Unmarshal(data, &v)
		p = v
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s proxy: %w", probe.Type, err)
	}
	c.Proxy = p
	return nil
}

func (c ProxyConfig) MarshalYAML() (interface{}, error) {
	return c.tagged()
}

func (c *ProxyConfig) UnmarshalYAML(node *yaml.Node) error {
	var probe proxyKindProbe
	if err := node.Decode(&probe); err != nil {
		return err
	}
	p, err := newProxy(probe.Type)
	if err != nil {
		return err
	}
	switch v := p.(type) {
	case Shadowsocks:
		err = node.Decode(&v)
		p = v
	case ShadowsocksR:
		err = node.Decode(&v)
		p = v
	case VMess:
		err = node.Decode(&v)
		p = v
	case Socks5:
		err = node.Decode(&v)
		p = v
	case HTTP:
		err = node.Decode(&v)
		p = v
	case Trojan:
		err = node.Decode(&v)
		p = v
	case Snell:
		err = node.Decode(&v)
		p = v
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s proxy: %w", probe.Type, err)
	}
	c.Proxy = p
	return nil
}
