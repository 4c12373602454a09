package httpipe

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy of spec.md §7. Every Call that terminates with condensed
// status StatusProtocolError carries one of these (possibly wrapped by
// HTTPProtocolError) in Call.Err().
var (
	// ErrClosed is returned by an operation on a torn-down resource.
	ErrClosed = errors.New("httpipe: closed")
	// ErrNoReply marks a Call abandoned with no response forthcoming: either
	// its resends were used up (more than Options.MaximumMessageErrors), or
	// the Pipeline was reset out from under it. A Call on a failed
	// Connection that its reconnect mode does not resend terminates with the
	// Connection's own error, not with ErrNoReply.
	ErrNoReply = errors.New("httpipe: no reply (earlier pipelined call failed)")
	// ErrTooManyRedirections marks a Call whose redirect counter exceeded
	// Options.MaximumRedirections.
	ErrTooManyRedirections = errors.New("httpipe: too many redirections")
	// ErrWouldBlock is returned by a nonblocking operation with no
	// data/space currently available.
	ErrWouldBlock = errors.New("httpipe: would block")
	// ErrInterrupted marks an I/O operation that a signal interrupted
	// mid-flight; retrying the operation is valid.
	ErrInterrupted = errors.New("httpipe: interrupted")
)

// BadMessageError wraps an unparseable server response
// (bad_message(reason) in spec.md §7).
type BadMessageError struct{ Reason string }

func (e *BadMessageError) Error() string { return fmt.Sprintf("httpipe: bad message: %s", e.Reason) }

// NameResolutionError marks a failed DNS resolution
// (name_resolution_error(name)).
type NameResolutionError struct{ Name string }

func (e *NameResolutionError) Error() string {
	return fmt.Sprintf("httpipe: name resolution failed for %q", e.Name)
}

// URLSyntaxError marks a post-redirect URI that failed to parse
// (url_syntax_error(url)).
type URLSyntaxError struct{ URL string }

func (e *URLSyntaxError) Error() string {
	return fmt.Sprintf("httpipe: malformed URL %q", e.URL)
}

// HandshakeTimeoutError marks a TLS handshake that did not complete within
// Options.HandshakeTimeout. Grounded on the teacher's
// tport/tls_handshake_timeout_error.go (tlsHandshakeTimeoutError).
type HandshakeTimeoutError struct{}

func (HandshakeTimeoutError) Error() string   { return "httpipe: TLS handshake timeout" }
func (HandshakeTimeoutError) Timeout() bool   { return true }
func (HandshakeTimeoutError) Temporary() bool { return true }

// ReadFromServerError wraps a transport-level failure (reset, refused,
// broken pipe) encountered while waiting for a response, as distinct from
// a response that arrived but failed to parse (BadMessageError). Grounded
// on the teacher's tport/transport_read_from_server_error.go
// (transportReadFromServerError).
type ReadFromServerError struct{ Err error }

func (e *ReadFromServerError) Error() string {
	return fmt.Sprintf("httpipe: failed to read from server: %v", e.Err)
}

func (e *ReadFromServerError) Unwrap() error { return e.Err }

// HTTPProtocolError surfaces any of the above through a Call's response
// accessors (http_protocol(inner)).
type HTTPProtocolError struct{ Inner error }

func (e *HTTPProtocolError) Error() string {
	return fmt.Sprintf("httpipe: http protocol error: %v", e.Inner)
}

func (e *HTTPProtocolError) Unwrap() error { return e.Inner }

func wrapProtocolError(inner error) error {
	if inner == nil {
		return nil
	}
	if _, ok := inner.(*HTTPProtocolError); ok {
		return inner
	}
	return &HTTPProtocolError{Inner: inner}
}
