package httpipe

import (
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/badu/httpipe/auth"
)

// Method is a per-verb descriptor, replacing the class-hierarchy shape of
// spec.md §9's "Object-identity-heavy request class" with a small registry
// of data: idempotence (drives redirect-following in redirect.go),
// resend-safety (drives the send_again_if_idem retry policy of spec.md
// §4.4, which names GET/HEAD only — a narrower set than general HTTP
// idempotence), whether a request/response body is expected, and a fixup
// hook run just before the request line is framed.
type Method struct {
	Name             string
	Idempotent       bool
	ResendSafe       bool
	HasRequestBody   bool
	HasResponseBody  bool
	EmptyPathDefault string
	Fixup            func(*Call)
}

var (
	MethodGET     = Method{Name: "GET", Idempotent: true, ResendSafe: true, HasResponseBody: true, EmptyPathDefault: "/"}
	MethodHEAD    = Method{Name: "HEAD", Idempotent: true, ResendSafe: true, EmptyPathDefault: "/"}
	MethodPOST    = Method{Name: "POST", Idempotent: false, HasRequestBody: true, HasResponseBody: true, EmptyPathDefault: "/"}
	MethodPUT     = Method{Name: "PUT", Idempotent: true, HasRequestBody: true, HasResponseBody: true, EmptyPathDefault: "/"}
	MethodDELETE  = Method{Name: "DELETE", Idempotent: true, HasResponseBody: true, EmptyPathDefault: "/"}
	MethodOPTIONS = Method{Name: "OPTIONS", Idempotent: true, HasResponseBody: true, EmptyPathDefault: "*"}
	MethodTRACE   = Method{Name: "TRACE", Idempotent: true, HasResponseBody: true, EmptyPathDefault: "/"}
	MethodPATCH   = Method{Name: "PATCH", Idempotent: false, HasRequestBody: true, HasResponseBody: true, EmptyPathDefault: "/"}
)

// Status is the condensed outcome of a Call, per spec.md §3.
type Status int

const (
	StatusUnserved Status = iota
	StatusProtocolError
	StatusSuccessful
	StatusRedirection
	StatusClientError
	StatusServerError
)

func (s Status) String() string {
	switch s {
	case StatusUnserved:
		return "unserved"
	case StatusProtocolError:
		return "protocol_error"
	case StatusSuccessful:
		return "successful"
	case StatusRedirection:
		return "redirection"
	case StatusClientError:
		return "client_error"
	case StatusServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

func classifyStatusCode(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusSuccessful
	case code >= 300 && code < 400:
		return StatusRedirection
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500 && code < 600:
		return StatusServerError
	default:
		return StatusProtocolError
	}
}

// ReconnectMode selects the per-Call resend policy of spec.md §4.4.
type ReconnectMode int

const (
	// ReconnectSendAgainIfIdempotent is the default: resend only Calls whose
	// Method.ResendSafe is set (GET/HEAD), up to
	// Options.MaximumMessageErrors times.
	ReconnectSendAgainIfIdempotent ReconnectMode = iota
	// ReconnectSendAgain always resends on a transport-level failure,
	// regardless of idempotence.
	ReconnectSendAgain
	// ReconnectRequestFails never resends; the first transport-level
	// failure terminates the Call as protocol_error.
	ReconnectRequestFails
	// ReconnectInquire defers the decision to CallOptions.Inquire.
	ReconnectInquire
)

// RedirectMode selects how a Call reacts to a 3xx response (spec.md §4.4).
type RedirectMode int

const (
	// RedirectIdempotentOnly follows 301/302/303/307 only for idempotent
	// methods, per HTTP's historical caution around re-POSTing. This is
	// the default.
	RedirectIdempotentOnly RedirectMode = iota
	RedirectAlways
	RedirectNever
)

// CallOptions configures a single Call, layered over the Pipeline's
// Options.
type CallOptions struct {
	Reconnect ReconnectMode
	// Inquire is consulted when Reconnect == ReconnectInquire; it reports
	// whether the failed Call should be resent.
	Inquire func(call *Call, err error) bool

	Redirect RedirectMode

	// Proxy overrides whether this Call is routed through a configured
	// proxy; nil means "use the Pipeline's routing decision".
	Proxy *bool

	// Body selects where the response body lands. Nil defaults to a fresh
	// MemoryBody.
	Body BodyStorage

	// Expect100Continue requests the 100-Continue handshake of spec.md
	// §4.2 before the request body is sent.
	Expect100Continue bool
}

var nextCallID int64

// Call is one logical HTTP exchange submitted to a Pipeline. Per spec.md
// §3, its identity survives redirects and retries; Reload produces a fresh
// Call sharing the same request description for deliberate resubmission.
type Call struct {
	id int64

	Method Method
	URL    *url.URL
	Header http.Header

	RequestBody       io.Reader
	RequestBodyLength int64 // -1 means unknown/chunked

	Options CallOptions

	mu          sync.Mutex
	status      Status
	statusCode  int
	statusText  string
	proto       string
	respHeader  http.Header
	body        BodyStorage
	protocolErr error

	redirectCount int
	retryCount    int
	authSession   auth.Session

	callback func(*Call)
	done     chan struct{}
}

// NewCall builds a Call against an absolute URL. header may be nil. body
// may be nil for methods without a request body; bodyLength is -1 for an
// unknown/streamed length (framed with Transfer-Encoding: chunked).
func NewCall(method Method, rawURL string, header http.Header, body io.Reader, bodyLength int64, opts CallOptions) (*Call, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &URLSyntaxError{URL: rawURL}
	}
	if !u.IsAbs() {
		return nil, &URLSyntaxError{URL: rawURL}
	}
	if header == nil {
		header = make(http.Header)
	}
	if u.Path == "" {
		u.Path = method.EmptyPathDefault
	}
	c := &Call{
		id:                atomic.AddInt64(&nextCallID, 1),
		Method:            method,
		URL:               u,
		Header:            header,
		RequestBody:       body,
		RequestBodyLength: bodyLength,
		Options:           opts,
		done:              make(chan struct{}),
	}
	if c.Options.Body == nil {
		c.Options.Body = NewMemoryBody()
	}
	if method.Fixup != nil {
		method.Fixup(c)
	}
	return c, nil
}

// requestSnapshot returns the fields Connection needs to frame a request,
// taken under the Call's lock so a concurrent redirect's mutation of URL/
// Method (between one Connection's ownership of the Call and the next) is
// never observed half-applied.
func (c *Call) requestSnapshot() (method Method, u *url.URL, header http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Method, c.URL, c.Header
}

// ID uniquely identifies this Call within the process.
func (c *Call) ID() int64 { return c.id }

// IsTerminal reports whether the Call has reached a final condensed
// status.
func (c *Call) IsTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status != StatusUnserved
}

// Status returns the condensed outcome, StatusUnserved if still in flight.
func (c *Call) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StatusCode and StatusText return the raw HTTP status line, valid once
// Status() is no longer StatusUnserved or StatusProtocolError.
func (c *Call) StatusCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCode
}

func (c *Call) StatusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusText
}

// Proto returns the response's HTTP version string (e.g. "HTTP/1.1").
func (c *Call) Proto() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proto
}

// ResponseHeader returns the parsed response header, nil if none was ever
// received.
func (c *Call) ResponseHeader() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.respHeader
}

// Body returns the BodyStorage the response body was drained into.
func (c *Call) Body() BodyStorage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

// Err returns the protocol-level error when Status() == StatusProtocolError,
// wrapped in *HTTPProtocolError per spec.md §7.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolErr
}

// Done returns a channel closed when the Call reaches a terminal status.
func (c *Call) Done() <-chan struct{} { return c.done }

// finish records the terminal outcome exactly once and invokes the
// registered callback, if any. Safe to call from any goroutine; only the
// first call has effect.
func (c *Call) finish(status Status, code int, text, proto string, header http.Header, body BodyStorage, err error) {
	c.mu.Lock()
	if c.status != StatusUnserved {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.statusCode = code
	c.statusText = text
	c.proto = proto
	c.respHeader = header
	c.body = body
	c.protocolErr = err
	cb := c.callback
	c.mu.Unlock()

	close(c.done)
	if cb != nil {
		cb(c)
	}
}

// Reload returns a fresh Call describing the same request (method, URL,
// header, body, options), per spec.md §3's "reloading via 'same call'
// yields a fresh Call sharing the request description but none of the
// response state". RequestBody, if non-nil and non-seekable, is the
// caller's responsibility to make re-readable.
func (c *Call) Reload() *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	headerCopy := c.Header.Clone()
	opts := c.Options
	opts.Body = nil // fresh destination; the original's body is already spent
	n := &Call{
		id:                atomic.AddInt64(&nextCallID, 1),
		Method:            c.Method,
		URL:               c.URL,
		Header:            headerCopy,
		RequestBody:       c.RequestBody,
		RequestBodyLength: c.RequestBodyLength,
		Options:           opts,
		done:              make(chan struct{}),
	}
	if n.Options.Body == nil {
		n.Options.Body = NewMemoryBody()
	}
	return n
}
