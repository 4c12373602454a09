package httpipe

import (
	"strconv"

	"github.com/badu/httpipe/auth"
	"github.com/badu/httpipe/codec"
)

type sessionKey struct {
	scheme, host string
	port         int
	realm        string
}

// attachAuthInAdvance sets the Authorization header for call if a prior
// session in its protection space allows in-advance attachment (spec.md
// §4.3 step 4). A no-op when Options.EnableAuthInAdvance is false.
func (p *Pipeline) attachAuthInAdvance(call *Call) {
	if !p.opts.EnableAuthInAdvance {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sess := range p.sessions {
		if !sess.InAdvance() {
			continue
		}
		if !sess.Space().Covers(call.URL) {
			continue
		}
		header, err := sess.Authenticate(call.Method.Name, call.URL.RequestURI())
		if err != nil {
			continue
		}
		headerName := "Authorization"
		call.Header.Set(headerName, header)
		call.authSession = sess
		return
	}
}

// handleChallenge responds to a 401/407 by selecting a registered auth
// handler, resolving a credential through the key ring, and requeuing call
// with the computed Authorization/Proxy-Authorization header, per spec.md
// §4.3. Returns true if call was requeued.
func (p *Pipeline) handleChallenge(call *Call, head *codec.ResponseHead, body BodyStorage) bool {
	var headerName, challengeHeaderName string
	switch head.StatusCode {
	case 401:
		headerName, challengeHeaderName = "Authorization", "WWW-Authenticate"
	case 407:
		headerName, challengeHeaderName = "Proxy-Authorization", "Proxy-Authenticate"
	default:
		return false
	}

	challengeHeader := head.Header.Get(challengeHeaderName)
	if challengeHeader == "" {
		return false
	}

	// Repeat challenge for a call that already carried credentials: give
	// the existing session a chance to refresh (Digest stale=true),
	// otherwise the credential itself was rejected and the 401/407
	// response is delivered verbatim as client_error (spec.md §4.3 step 3),
	// not synthesized as a protocol error.
	if call.authSession != nil {
		if call.authSession.Invalidate(challengeHeader) {
			p.reauthenticate(call, call.authSession, headerName)
			return true
		}
		p.invalidateSession(call.authSession)
		status := classifyStatusCode(head.StatusCode)
		call.finish(status, head.StatusCode, head.Status, head.Proto, head.Header, body, nil)
		p.callTerminated(call)
		return true
	}

	challenges := auth.ParseChallenges(challengeHeader)
	handler, ch, ok := p.authRegistry.Select(challenges)
	if !ok {
		p.terminateCall(call, wrapProtocolError(auth.ErrNoCredential))
		return true
	}

	host := call.URL.Hostname()
	port := defaultPort(call.URL.Scheme)
	if pp := call.URL.Port(); pp != "" {
		if n, err := strconv.Atoi(pp); err == nil {
			port = n
		}
	}
	realm := ch.Params["realm"]

	key, ok := p.keyring.Lookup(host, port, handler.Scheme(), []string{realm}, nil)
	if !ok {
		p.terminateCall(call, wrapProtocolError(auth.ErrNoCredential))
		return true
	}

	space := auth.Space{Scheme: handler.Scheme(), Host: host, Port: port, Realm: realm}
	sess, err := handler.CreateSession(ch, space, key, p.opts.EnableAuthInAdvance)
	if err != nil {
		p.terminateCall(call, wrapProtocolError(err))
		return true
	}

	p.mu.Lock()
	p.sessions[sessionKey{scheme: handler.Scheme(), host: host, port: port, realm: realm}] = sess
	p.mu.Unlock()

	p.reauthenticate(call, sess, headerName)
	return true
}

func (p *Pipeline) reauthenticate(call *Call, sess auth.Session, headerName string) {
	header, err := sess.Authenticate(call.Method.Name, call.URL.RequestURI())
	if err != nil {
		p.terminateCall(call, wrapProtocolError(err))
		return
	}
	call.mu.Lock()
	call.Header.Set(headerName, header)
	call.authSession = sess
	call.mu.Unlock()
	p.enqueueRouted(call)
}

func (p *Pipeline) invalidateSession(sess auth.Session) {
	sp := sess.Space()
	p.keyring.Invalidate(sp.Host, sp.Port, sp.Scheme, sp.Realm)
	p.mu.Lock()
	delete(p.sessions, sessionKey{scheme: sp.Scheme, host: sp.Host, port: sp.Port, realm: sp.Realm})
	p.mu.Unlock()
}
