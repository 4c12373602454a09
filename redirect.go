package httpipe

import (
	"net/url"

	"github.com/badu/httpipe/codec"
)

// redirectable reports whether head's status code is one of the 3xx codes
// spec.md §4.4 names for automatic redirect handling.
func redirectable(statusCode int) bool {
	switch statusCode {
	case 301, 302, 303, 307:
		return true
	default:
		return false
	}
}

// followRedirect reroutes call to Location, per spec.md §4.4: loop
// protection via MaximumRedirections, cross-origin re-routing, and the
// historical 303 "always GET" / 301-302 "GET stays GET, POST becomes GET
// only for 303" nuance collapsed here into RedirectMode.
//
// Returns true if call was requeued (the caller must not also terminate
// it), false if the redirect could not be followed and the caller should
// deliver the 3xx response verbatim.
func (p *Pipeline) followRedirect(call *Call, head *codec.ResponseHead) bool {
	if !redirectable(head.StatusCode) {
		return false
	}
	if call.Options.Redirect == RedirectNever {
		return false
	}
	if call.Options.Redirect == RedirectIdempotentOnly && !call.Method.Idempotent {
		return false
	}

	loc := head.Header.Get("Location")
	if loc == "" {
		return false
	}
	target, err := resolveReference(call.URL, loc)
	if err != nil {
		p.terminateCall(call, wrapProtocolError(&URLSyntaxError{URL: loc}))
		return true
	}

	call.mu.Lock()
	call.redirectCount++
	exceeded := call.redirectCount > p.opts.MaximumRedirections
	call.mu.Unlock()
	if exceeded {
		p.terminateCall(call, wrapProtocolError(ErrTooManyRedirections))
		return true
	}

	method := call.Method
	if head.StatusCode == 303 && method.Name != "GET" && method.Name != "HEAD" {
		method = MethodGET
	}

	call.mu.Lock()
	call.URL = target
	call.Method = method
	call.mu.Unlock()

	p.enqueueRouted(call)
	return true
}

func resolveReference(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(u), nil
}
