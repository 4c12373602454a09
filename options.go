package httpipe

import (
	"net"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/badu/httpipe/connpool"
)

// Synchronization selects how many requests a Connection may have in
// flight at once (spec.md §4.1 "synchronization: sync | pipeline(n)").
type Synchronization struct {
	depth int
}

// Sync restricts every Connection to strict request/response turn-taking
// (depth 1, no pipelining).
func Sync() Synchronization { return Synchronization{depth: 1} }

// PipelineDepth allows up to n requests in flight per Connection. n is
// clamped to [1, 8] per spec.md §4.2's stated pipelining depth bound.
func PipelineDepth(n int) Synchronization {
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return Synchronization{depth: n}
}

// Depth reports the configured pipelining depth (1 for Sync()).
func (s Synchronization) Depth() int {
	if s.depth == 0 {
		return 5
	}
	return s.depth
}

// Dialer is the transport-level external collaborator spec.md §1 names
// ("raw byte-stream connection establishment"). The default is net.Dialer.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type netDialer struct{ d net.Dialer }

func (n netDialer) Dial(network, addr string) (net.Conn, error) {
	return n.d.Dial(network, addr)
}

// Resolver is the name-resolution external collaborator spec.md §1 names.
// Resolve must not block its caller: it runs the lookup and invokes done
// exactly once, from any goroutine.
type Resolver interface {
	Resolve(host string, done func(addrs []string, err error))
}

type goResolver struct{}

func (goResolver) Resolve(host string, done func(addrs []string, err error)) {
	go func() {
		addrs, err := net.LookupHost(host)
		done(addrs, err)
	}()
}

// Options configures a Pipeline. The zero value is not ready to use;
// construct with DefaultOptions and override fields, matching the
// teacher's net/http.Transport struct-of-fields convention.
type Options struct {
	Synchronization Synchronization

	// MaximumConnectionFailures bounds consecutive connect/handshake
	// failures to one origin before its queue's Calls fail outright
	// (spec.md §4.4).
	MaximumConnectionFailures int
	// MaximumMessageErrors bounds how many times a single Call is resent
	// after its Connection failed; past that it terminates with ErrNoReply
	// (spec.md §4.4).
	MaximumMessageErrors int
	// InhibitPersistency forces "Connection: close" on every request,
	// disabling both pipelining and the connection cache for calls routed
	// through this Pipeline (spec.md §4.1).
	InhibitPersistency bool
	// ConnectionTimeout bounds how long an open Connection may stay Idle
	// with no queued or in-flight Calls before it is closed. Connect,
	// handshake, read and write steps are not bounded by it.
	ConnectionTimeout time.Duration
	// NumberOfParallelConnections bounds concurrently open Connections per
	// origin (spec.md §4.1, §4.4).
	NumberOfParallelConnections int
	// MaximumRedirections bounds the redirect chain length of a single
	// logical request (spec.md §4.4).
	MaximumRedirections int
	// HandshakeTimeout bounds a TLS Connection's handshake step
	// (spec.md §4.2's Connecting state); a handshake that exceeds it fails
	// with HandshakeTimeoutError.
	HandshakeTimeout time.Duration

	Dialer   Dialer
	Resolver Resolver

	// CacheMode selects the connection cache's eviction discipline
	// (spec.md §4.5).
	CacheMode connpool.Mode

	// EnableAuthInAdvance attaches a previously-established session's
	// Authorization header to matching requests before any challenge is
	// seen for them (spec.md §4.3 step 4).
	EnableAuthInAdvance bool

	// Proxy configures an explicit upstream proxy; nil means consult
	// http_proxy/https_proxy/no_proxy via the proxyenv package.
	Proxy *ProxyConfig

	Logger hclog.Logger
}

// ProxyConfig names an explicit upstream proxy, bypassing environment
// discovery (spec.md §6 "Routing").
type ProxyConfig struct {
	Host string
	Port int
}

// DefaultOptions returns the Options spec.md §4.1 lists as defaults:
// pipeline(5), maximum_connection_failures=2, maximum_message_errors=2,
// inhibit_persistency=false, connection_timeout=300s,
// number_of_parallel_connections=2, maximum_redirections=5,
// handshake_timeout=1s.
func DefaultOptions() Options {
	return Options{
		Synchronization:             PipelineDepth(5),
		MaximumConnectionFailures:   2,
		MaximumMessageErrors:        2,
		InhibitPersistency:          false,
		ConnectionTimeout:           300 * time.Second,
		NumberOfParallelConnections: 2,
		MaximumRedirections:         5,
		HandshakeTimeout:            1 * time.Second,
		Dialer:                      netDialer{},
		Resolver:                    goResolver{},
		CacheMode:                   connpool.Restrictive,
		Logger:                      hclog.NewNullLogger(),
	}
}

func (o *Options) fillDefaults() {
	d := DefaultOptions()
	if o.Synchronization.depth == 0 {
		o.Synchronization = d.Synchronization
	}
	if o.MaximumConnectionFailures == 0 {
		o.MaximumConnectionFailures = d.MaximumConnectionFailures
	}
	if o.MaximumMessageErrors == 0 {
		o.MaximumMessageErrors = d.MaximumMessageErrors
	}
	if o.ConnectionTimeout == 0 {
		o.ConnectionTimeout = d.ConnectionTimeout
	}
	if o.NumberOfParallelConnections == 0 {
		o.NumberOfParallelConnections = d.NumberOfParallelConnections
	}
	if o.MaximumRedirections == 0 {
		o.MaximumRedirections = d.MaximumRedirections
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.Dialer == nil {
		o.Dialer = d.Dialer
	}
	if o.Resolver == nil {
		o.Resolver = d.Resolver
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
}
