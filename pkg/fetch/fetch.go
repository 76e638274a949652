package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuemby/proxyworld/pkg/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

const (
	DefaultRetries      = 2
	DefaultTimeout      = 20 * time.Second
	DefaultMaxBytes     = 10 * 1024 * 1024
	defaultMaxRedirects = 5
	userAgent           = "proxyworld"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	errTooManyRedirects = errors.New("too many redirects")
	errBodyTooLarge     = errors.New("response body exceeds size limit")
)

// Options configures retries, timeouts and client selection
type Options struct {
	// Retries is the number of attempts per fetch, each trying every client
	Retries int
	// TryDirect tries a client that ignores proxy environment variables first
	TryDirect bool
	Timeout   time.Duration
	MaxBytes  int64
}

// DefaultOptions returns the defaults used by the CLI
func DefaultOptions() Options {
	return Options{
		Retries:   DefaultRetries,
		TryDirect: true,
		Timeout:   DefaultTimeout,
		MaxBytes:  DefaultMaxBytes,
	}
}

// FetchError is returned once every attempt with every client has failed
type FetchError struct {
	URL      string
	Attempts int
	Status   int
	Cause    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempts: status %d", e.URL, e.Attempts, e.Status)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

type client struct {
	name string
	http *http.Client
}

// Fetcher downloads subscription and rule payloads
type Fetcher struct {
	opts    Options
	clients []client
	logger  zerolog.Logger
}

// New builds a fetcher. The environment client is only added when a proxy is
// configured through the usual environment variables.
func New(opts Options) *Fetcher {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	f := &Fetcher{opts: opts, logger: log.WithComponent("fetch")}
	if opts.TryDirect {
		f.clients = append(f.clients, client{name: "direct", http: newHTTPClient(opts.Timeout, directTransport())})
	}
	if envProxyConfigured() {
		f.clients = append(f.clients, client{name: "env", http: newHTTPClient(opts.Timeout, environmentTransport())})
	}
	if len(f.clients) == 0 {
		f.clients = append(f.clients, client{name: "direct", http: newHTTPClient(opts.Timeout, directTransport())})
	}
	return f
}

// Clients returns the client names in the order they are tried
func (f *Fetcher) Clients() []string {
	names := make([]string, 0, len(f.clients))
	for _, c := range f.clients {
		names = append(names, c.name)
	}
	return names
}

// Fetch downloads rawURL, trying each client per attempt and stopping at the
// first success. Worst-case latency is Retries × clients × Timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &FetchError{URL: rawURL, Cause: fmt.Errorf("only http and https urls are supported")}
	}

	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for retry := 0; retry < f.opts.Retries; retry++ {
		for _, c := range f.clients {
			if err := ctx.Err(); err != nil {
				return nil, &FetchError{URL: rawURL, Attempts: attempts, Cause: err}
			}
			attempts++
			body, status, err := f.do(ctx, c.http, rawURL)
			if err == nil {
				return body, nil
			}
			lastErr, lastStatus = err, status
			f.logger.Debug().
				Str("url", rawURL).
				Str("client", c.name).
				Int("attempt", retry+1).
				Err(err).
				Msg("Fetch attempt failed")
		}
	}
	return nil, &FetchError{URL: rawURL, Attempts: attempts, Status: lastStatus, Cause: lastErr}
}

func (f *Fetcher) do(ctx context.Context, c *http.Client, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := readLimited(resp.Body, f.opts.MaxBytes)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	body, err = decodeBody(resp.Header.Get("Content-Encoding"), body, f.opts.MaxBytes)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody undoes the content encoding. zstd bodies are also recognized by
// their magic number since some feeds serve .zst files without a header.
func decodeBody(encoding string, body []byte, max int64) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	switch {
	case encoding == "zstd" || (encoding == "" && bytes.HasPrefix(body, zstdMagic)):
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		return readLimited(dec, max)
	case encoding == "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return readLimited(zr, max)
	case encoding == "" || encoding == "identity":
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func newHTTPClient(timeout time.Duration, tr *http.Transport) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > defaultMaxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

func baseTransport() *http.Transport {
	return &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 15 * time.Second,
		DisableCompression:  true,
	}
}

func directTransport() *http.Transport {
	return baseTransport()
}

// environmentTransport honours HTTP(S)_PROXY, and ALL_PROXY for socks5 proxies
func environmentTransport() *http.Transport {
	tr := baseTransport()
	tr.Proxy = http.ProxyFromEnvironment

	allProxy := getenvAny("ALL_PROXY", "all_proxy")
	if allProxy == "" {
		return tr
	}
	u, err := url.Parse(allProxy)
	if err != nil || !strings.HasPrefix(u.Scheme, "socks5") {
		return tr
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return tr
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		tr.Proxy = nil
		tr.DialContext = cd.DialContext
	}
	return tr
}

func envProxyConfigured() bool {
	return getenvAny("HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy") != ""
}

func getenvAny(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
