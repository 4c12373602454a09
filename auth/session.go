package auth

import (
	"net/url"
	"strings"
)

// Space identifies the protection space a Session answers for, per
// spec.md GLOSSARY ("Protection space: set of URIs sharing a credential,
// defined by (scheme, host, port, realm) plus RFC 2617 domain URIs").
type Space struct {
	Scheme string
	Host   string
	Port   int
	Realm  string
	Domain []*url.URL // empty means the whole origin
}

// Covers reports whether reqURI falls within this protection space by the
// prefix-match rule spec.md §4.3 step 4 describes for auth-in-advance.
func (s Space) Covers(reqURI *url.URL) bool {
	if !strings.EqualFold(reqURI.Hostname(), s.Host) {
		return false
	}
	if len(s.Domain) == 0 {
		return true
	}
	for _, d := range s.Domain {
		if strings.EqualFold(d.Hostname(), reqURI.Hostname()) && strings.HasPrefix(reqURI.Path, d.Path) {
			return true
		}
	}
	return false
}

// Session is the per-protection-space capability set spec.md §9 calls for:
// create once per challenge, reused (and its in-advance header attached)
// across every subsequent Call in its protection space.
type Session interface {
	Scheme() string
	Space() Space
	// InAdvance reports whether this session's headers should be attached
	// to matching requests before a challenge is seen (spec.md §4.3 step 4).
	InAdvance() bool
	// Authenticate computes the Authorization (or Proxy-Authorization)
	// header value for one request. method and uri identify the request
	// being signed (Digest's response= depends on both).
	Authenticate(method, uri string) (string, error)
	// Invalidate is called on a repeat 401/407 for a Call that already
	// carried this session's header. It reports whether the session can
	// retry with fresh state (Digest stale=true) or whether the Call must
	// terminate as client_error.
	Invalidate(challengeHeader string) bool
}
