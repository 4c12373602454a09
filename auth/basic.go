package auth

import "encoding/base64"

// BasicHandler implements the single-round-trip Basic scheme (spec.md
// §4.3). Adapted from the teacher's cli/utils.go basicAuth helper.
type BasicHandler struct{}

func (BasicHandler) Scheme() string { return "basic" }

// Strength ranks Basic below Digest when the engine must pick the
// strongest offered scheme (spec.md §4.3 step 1).
func (BasicHandler) Strength() int { return 1 }

func (BasicHandler) CreateSession(ch Challenge, space Space, key Key, inAdvance bool) (Session, error) {
	return &basicSession{space: space, key: key, inAdvance: inAdvance}, nil
}

type basicSession struct {
	space     Space
	key       Key
	inAdvance bool
}

func (s *basicSession) Scheme() string    { return "basic" }
func (s *basicSession) Space() Space      { return s.space }
func (s *basicSession) InAdvance() bool   { return s.inAdvance }

func (s *basicSession) Authenticate(method, uri string) (string, error) {
	return "Basic " + basicToken(s.key.User, s.key.Password), nil
}

// Invalidate: Basic carries no server-issued freshness state, so a repeat
// 401 always means the credential itself is wrong (spec.md §4.3 step 3).
func (s *basicSession) Invalidate(challengeHeader string) bool { return false }

func basicToken(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}
