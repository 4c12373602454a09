// Package auth implements the authentication orchestration of spec.md §4.3:
// a key ring that resolves credentials, and Basic/Digest session objects
// that compute per-call Authorization headers for a protection space. No
// example repo in the retrieval pack implements HTTP Digest auth, so the
// algorithm here is taken directly from RFC 2617 (and RFC 2069 for the
// legacy non-qop form spec.md §4.3 asks for); Basic is adapted from the
// teacher's cli/utils.go basicAuth helper.
package auth

import "net/url"

// Key is a resolved credential plus the protection space it is valid for.
type Key struct {
	User     string
	Password string
	Realm    string
	Domain   []*url.URL // RFC 2617 domain URIs; empty means "the whole realm"
}

// KeyHandler resolves credentials the key ring doesn't already have
// cached, per spec.md §4.3/§6 ("Key handler interface").
type KeyHandler interface {
	// InquireKey returns the credential for the given protection space, or
	// ok=false if none is available.
	InquireKey(domain []*url.URL, realms []string, scheme string) (key Key, ok bool)
	// InvalidateKey is called when a key handed out by InquireKey turned
	// out to be wrong (the server rejected it again after a fresh
	// challenge round).
	InvalidateKey(key Key)
}

type ringKey struct {
	host, scheme, realm string
	port                int
}

// KeyRing caches Keys by (host, port, scheme, realm) and delegates misses
// to an optional uplink KeyHandler.
type KeyRing struct {
	uplink KeyHandler
	cache  map[ringKey]Key
}

// NewKeyRing returns a KeyRing backed by uplink. uplink may be nil, in
// which case every lookup not already cached fails.
func NewKeyRing(uplink KeyHandler) *KeyRing {
	return &KeyRing{uplink: uplink, cache: make(map[ringKey]Key)}
}

// Lookup resolves the credential for (host, port, scheme, realm),
// consulting the uplink handler on a cache miss.
func (r *KeyRing) Lookup(host string, port int, scheme string, realms []string, domain []*url.URL) (Key, bool) {
	realm := ""
	if len(realms) > 0 {
		realm = realms[0]
	}
	rk := ringKey{host: host, port: port, scheme: scheme, realm: realm}
	if k, ok := r.cache[rk]; ok {
		return k, true
	}
	if r.uplink == nil {
		return Key{}, false
	}
	k, ok := r.uplink.InquireKey(domain, realms, scheme)
	if !ok {
		return Key{}, false
	}
	k.Realm = realm
	r.cache[rk] = k
	return k, true
}

// Invalidate evicts the cached key for (host, port, scheme, realm) and
// reports the failure to the uplink handler, per spec.md §4.3 step 3 /
// §4.3 key ring description ("When a key handler reports failure for a
// Call, the Call terminates without retry").
func (r *KeyRing) Invalidate(host string, port int, scheme, realm string) {
	rk := ringKey{host: host, port: port, scheme: scheme, realm: realm}
	k, ok := r.cache[rk]
	if !ok {
		return
	}
	delete(r.cache, rk)
	if r.uplink != nil {
		r.uplink.InvalidateKey(k)
	}
}
