/*
Package fetch downloads subscription and rule payloads over HTTP.

Each Fetch makes up to Options.Retries attempts. Every attempt tries the
direct client first (when TryDirect is set) and then a client that honours
the proxy environment variables, stopping at the first 2xx response. SOCKS5
proxies given in ALL_PROXY are dialed through golang.org/x/net/proxy.

Bodies are capped at Options.MaxBytes before and after decompression. gzip
and zstd content encodings are decoded; a zstd body without a header is
detected by its magic number.

A failed fetch returns a *FetchError carrying the attempt count, the last HTTP
status if any, and the last underlying error.
*/
package fetch
