package auth

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DigestHandler implements RFC 2617 Digest ("auth" qop), with an RFC 2069
// compatible fallback when the challenge carries no qop param, and the MD5
// / MD5-sess algorithms, per spec.md §4.3.
type DigestHandler struct{}

func (DigestHandler) Scheme() string { return "digest" }

// Strength ranks Digest above Basic.
func (DigestHandler) Strength() int { return 2 }

func (DigestHandler) CreateSession(ch Challenge, space Space, key Key, inAdvance bool) (Session, error) {
	realm := ch.Params["realm"]
	nonce := ch.Params["nonce"]
	if nonce == "" {
		return nil, fmt.Errorf("auth: digest challenge missing nonce")
	}
	algorithm := ch.Params["algorithm"]
	if algorithm == "" {
		algorithm = "MD5"
	}
	qop := pickQop(ch.Params["qop"])
	return &digestSession{
		space:     space,
		key:       key,
		realm:     realm,
		nonce:     nonce,
		opaque:    ch.Params["opaque"],
		algorithm: algorithm,
		qop:       qop,
		inAdvance: inAdvance,
	}, nil
}

// pickQop selects "auth" when offered (spec.md explicitly scopes out
// auth-int); an empty result means RFC 2069 compatibility mode.
func pickQop(offered string) string {
	for _, q := range strings.Split(offered, ",") {
		if strings.TrimSpace(q) == "auth" {
			return "auth"
		}
	}
	return ""
}

type digestSession struct {
	mu sync.Mutex

	space     Space
	key       Key
	realm     string
	nonce     string
	opaque    string
	algorithm string
	qop       string
	inAdvance bool
	nc        uint32
}

func (s *digestSession) Scheme() string  { return "digest" }
func (s *digestSession) Space() Space    { return s.space }
func (s *digestSession) InAdvance() bool { return s.inAdvance }

func (s *digestSession) Authenticate(method, uri string) (string, error) {
	s.mu.Lock()
	s.nc++
	nc := s.nc
	s.mu.Unlock()

	cnonce := uuid.New().String()
	ha1 := s.ha1(cnonce)
	ha2 := md5hex(method + ":" + uri)

	var response, ncField string
	if s.qop == "auth" {
		ncField = fmt.Sprintf("%08x", nc)
		response = md5hex(strings.Join([]string{ha1, s.nonce, ncField, cnonce, s.qop, ha2}, ":"))
	} else {
		// RFC 2069 compatible: no qop/nc/cnonce in the response hash.
		response = md5hex(strings.Join([]string{ha1, s.nonce, ha2}, ":"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		s.key.User, s.realm, s.nonce, uri, response)
	if s.algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, s.algorithm)
	}
	if s.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, s.opaque)
	}
	if s.qop == "auth" {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s"`, ncField, cnonce)
	}
	return b.String(), nil
}

func (s *digestSession) ha1(cnonce string) string {
	base := md5hex(s.key.User + ":" + s.realm + ":" + s.key.Password)
	if strings.EqualFold(s.algorithm, "MD5-sess") {
		return md5hex(base + ":" + s.nonce + ":" + cnonce)
	}
	return base
}

// Invalidate re-reads the fresh challenge that provoked a repeat 401/407.
// A stale=true challenge means the nonce merely expired: the session
// rotates in the new nonce/opaque, resets its nc counter, and the caller
// should retry. Anything else means the credential itself was rejected.
func (s *digestSession) Invalidate(challengeHeader string) bool {
	challenges := ParseChallenges(challengeHeader)
	ch, ok := Find(challenges, "digest")
	if !ok {
		return false
	}
	if !strings.EqualFold(ch.Params["stale"], "true") {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = ch.Params["nonce"]
	s.opaque = ch.Params["opaque"]
	s.nc = 0
	return true
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}
