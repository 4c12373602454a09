package auth

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func mustParseURLs(t *testing.T, raw ...string) []*url.URL {
	t.Helper()
	out := make([]*url.URL, 0, len(raw))
	for _, r := range raw {
		out = append(out, mustParseURL(t, r))
	}
	return out
}

func TestParseChallengesDigest(t *testing.T) {
	challenges := ParseChallenges(`Digest realm="x", nonce="abc", qop="auth"`)
	require.Len(t, challenges, 1)
	assert.Equal(t, "digest", challenges[0].Scheme)
	assert.Equal(t, "x", challenges[0].Params["realm"])
	assert.Equal(t, "abc", challenges[0].Params["nonce"])
	assert.Equal(t, "auth", challenges[0].Params["qop"])
}

func TestParseChallengesMultiple(t *testing.T) {
	challenges := ParseChallenges(`Digest realm="x", nonce="abc", Basic realm="y"`)
	require.Len(t, challenges, 2)
	basic, ok := Find(challenges, "basic")
	require.True(t, ok)
	assert.Equal(t, "y", basic.Params["realm"])
}

// Scenario 2: Digest auth round trip produces the header shape spec.md §8
// scenario 2 describes.
func TestDigestSessionAuthenticate(t *testing.T) {
	challenges := ParseChallenges(`Digest realm="x", nonce="abc", qop="auth"`)
	ch, ok := Find(challenges, "digest")
	require.True(t, ok)

	var h DigestHandler
	sess, err := h.CreateSession(ch, Space{Scheme: "digest", Host: "example.com", Realm: "x"}, Key{User: "alice", Password: "secret"}, false)
	require.NoError(t, err)

	header, err := sess.Authenticate("GET", "/protected")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(header, "Digest "))
	assert.Contains(t, header, `username="alice"`)
	assert.Contains(t, header, `realm="x"`)
	assert.Contains(t, header, `nonce="abc"`)
	assert.Contains(t, header, "nc=00000001")
	assert.Contains(t, header, "qop=auth")
	assert.Contains(t, header, `response="`)

	// nc increments per call on the same session.
	header2, err := sess.Authenticate("GET", "/protected")
	require.NoError(t, err)
	assert.Contains(t, header2, "nc=00000002")
}

func TestDigestSessionInvalidateStale(t *testing.T) {
	challenges := ParseChallenges(`Digest realm="x", nonce="abc", qop="auth"`)
	ch, _ := Find(challenges, "digest")
	var h DigestHandler
	sess, _ := h.CreateSession(ch, Space{}, Key{User: "a", Password: "b"}, false)

	_, _ = sess.Authenticate("GET", "/x")

	stale := `Digest realm="x", nonce="def", qop="auth", stale=true`
	assert.True(t, sess.Invalidate(stale))

	header, _ := sess.Authenticate("GET", "/x")
	assert.Contains(t, header, `nonce="def"`)
	assert.Contains(t, header, "nc=00000001") // counter reset on fresh nonce
}

func TestDigestSessionInvalidateWrongCredential(t *testing.T) {
	challenges := ParseChallenges(`Digest realm="x", nonce="abc", qop="auth"`)
	ch, _ := Find(challenges, "digest")
	var h DigestHandler
	sess, _ := h.CreateSession(ch, Space{}, Key{}, false)

	assert.False(t, sess.Invalidate(`Digest realm="x", nonce="abc", qop="auth"`))
}

func TestBasicSessionAuthenticate(t *testing.T) {
	var h BasicHandler
	sess, err := h.CreateSession(Challenge{Scheme: "basic"}, Space{}, Key{User: "alice", Password: "s3cret"}, false)
	require.NoError(t, err)

	header, err := sess.Authenticate("GET", "/x")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Basic %s", basicToken("alice", "s3cret")), header)
	assert.False(t, sess.Invalidate(""))
}

func TestRegistrySelectsStrongest(t *testing.T) {
	r := NewRegistry()
	challenges := ParseChallenges(`Basic realm="x", Digest realm="x", nonce="abc", qop="auth"`)
	h, ch, ok := r.Select(challenges)
	require.True(t, ok)
	assert.Equal(t, "digest", h.Scheme())
	assert.Equal(t, "x", ch.Params["realm"])
}

func TestProtectionSpaceCovers(t *testing.T) {
	domain := mustParseURLs(t, "http://example.com/secure/")
	space := Space{Host: "example.com", Domain: domain}

	assert.True(t, space.Covers(mustParseURL(t, "http://example.com/secure/data")))
	assert.False(t, space.Covers(mustParseURL(t, "http://example.com/public/data")))
	assert.False(t, space.Covers(mustParseURL(t, "http://other.com/secure/data")))
}
