package httpipe

import "github.com/badu/httpipe/codec"

// completeCall is the single funnel every successfully-read response
// passes through: it intercepts 401/407 (auth) and 3xx (redirect) per
// spec.md §4.3/§4.4 before handing anything else to the Call's final
// condensed status.
func (p *Pipeline) completeCall(call *Call, head *codec.ResponseHead, body BodyStorage) {
	if head.StatusCode == 401 || head.StatusCode == 407 {
		if p.handleChallenge(call, head, body) {
			return
		}
	}
	if p.followRedirect(call, head) {
		return
	}

	status := classifyStatusCode(head.StatusCode)
	call.finish(status, head.StatusCode, head.Status, head.Proto, head.Header, body, nil)
	p.callTerminated(call)
}

// terminateCall finishes call as StatusProtocolError with err and accounts
// for it against the Pipeline's drain count.
func (p *Pipeline) terminateCall(call *Call, err error) {
	call.finish(StatusProtocolError, 0, "", "", nil, call.Options.Body, err)
	p.callTerminated(call)
}
