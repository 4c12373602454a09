package proxyenv

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// FromEnvironment returns the proxy URL to use for the given scheme/host,
// as indicated by http_proxy/https_proxy/no_proxy. A nil URL and nil error
// mean "no proxy". host may include a port; it is always treated as
// already canonical (scheme's default port assumed absent).
func FromEnvironment(scheme, host string) (*url.URL, error) {
	var proxy string
	if strings.EqualFold(scheme, "https") {
		proxy = httpsProxyEnv.Get()
	}
	if proxy == "" {
		proxy = httpProxyEnv.Get()
	}
	if proxy == "" {
		return nil, nil
	}
	if !UseProxy(host) {
		return nil, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil || (proxyURL.Scheme != "http" && proxyURL.Scheme != "https" && proxyURL.Scheme != "socks5") {
		if proxyURL2, err2 := url.Parse("http://" + proxy); err2 == nil {
			return proxyURL2, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("proxyenv: invalid proxy address %q: %w", proxy, err)
	}
	return proxyURL, nil
}

// UseProxy reports whether requests to addr (host, optionally "host:port")
// should use a proxy, per the no_proxy environment variable. Ported from
// the classic net/http useProxy algorithm (see
// other_examples/.../transport.go.go): hostnames match exactly, and a
// leading "." in a no_proxy entry matches any subdomain.
func UseProxy(addr string) bool {
	if addr == "" {
		return true
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "localhost" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return false
	}

	noProxy := noProxyEnv.Get()
	if noProxy == "*" {
		return false
	}

	host = strings.ToLower(strings.TrimSpace(host))
	for _, p := range strings.Split(noProxy, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if h, _, err := net.SplitHostPort(p); err == nil {
			p = h
		}
		if host == p || (strings.HasPrefix(p, ".") && (strings.HasSuffix(host, p) || host == p[1:])) {
			return false
		}
	}
	return true
}
