// Package proxyenv resolves the effective proxy for a request from the
// http_proxy/https_proxy/no_proxy environment variables (spec.md §6). It is
// grounded on the teacher's tport/env_once.go (envOnce, cached once-per
// process) and the useProxy/ProxyFromEnvironment pair reconstructed from
// other_examples/.../transport.go.go (the only retrieved copy of useProxy's
// body; the teacher tree itself kept only envOnce and the call site).
package proxyenv

import (
	"os"
	"sync"
)

// envOnce caches the first non-empty value among a set of env var names,
// read at most once per process (reset only for tests).
type envOnce struct {
	names []string
	once  sync.Once
	val   string
}

func (e *envOnce) Get() string {
	e.once.Do(e.init)
	return e.val
}

func (e *envOnce) init() {
	for _, n := range e.names {
		e.val = os.Getenv(n)
		if e.val != "" {
			return
		}
	}
}

func (e *envOnce) reset() {
	e.once = sync.Once{}
	e.val = ""
}

var (
	httpProxyEnv  = &envOnce{names: []string{"http_proxy", "HTTP_PROXY"}}
	httpsProxyEnv = &envOnce{names: []string{"https_proxy", "HTTPS_PROXY"}}
	noProxyEnv    = &envOnce{names: []string{"no_proxy", "NO_PROXY"}}
)

// ResetForTests clears the cached environment lookups. Tests that mutate
// process environment variables must call this before re-resolving.
func ResetForTests() {
	httpProxyEnv.reset()
	httpsProxyEnv.reset()
	noProxyEnv.reset()
}
