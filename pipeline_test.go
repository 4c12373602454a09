package httpipe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpipe/auth"
)

func startServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func readRequestLine(r *bufio.Reader) (string, []string) {
	requestLine, _ := r.ReadString('\n')
	var headers []string
	for {
		line, err := r.ReadString('\n')
		if err != nil || line == "\r\n" {
			break
		}
		headers = append(headers, line)
	}
	return strings.TrimSpace(requestLine), headers
}

func runPipeline(t *testing.T, pl *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pl.Run(ctx))
}

// Scenario 1 (spec.md §8): a single GET completes with the body the server
// sent.
func TestPipelineSimpleGet(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readRequestLine(r)
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")
	})

	pl := NewPipeline(DefaultOptions(), nil)
	call, err := NewCall(MethodGET, "http://"+addr+"/", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	assert.Equal(t, StatusSuccessful, call.Status())
	assert.Equal(t, 200, call.StatusCode())
	mb, ok := call.Body().(*MemoryBody)
	require.True(t, ok)
	assert.Equal(t, "hello", string(mb.Bytes()))
}

// Scenario 3 (spec.md §8): a 301 redirect is followed to a fresh URL and
// the Call's final status reflects the target resource.
func TestPipelineFollowsRedirect(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		requestLine, _ := readRequestLine(r)
		if strings.Contains(requestLine, "/old") {
			fmt.Fprintf(conn, "HTTP/1.1 301 Moved Permanently\r\nLocation: /new\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
			return
		}
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	})

	pl := NewPipeline(DefaultOptions(), nil)
	call, err := NewCall(MethodGET, "http://"+addr+"/old", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	assert.Equal(t, StatusSuccessful, call.Status())
	assert.Equal(t, 200, call.StatusCode())
	assert.Equal(t, "/new", call.URL.Path)
}

// Too many redirects terminates the Call as protocol_error rather than
// looping forever (spec.md §4.4 maximum_redirections).
func TestPipelineTooManyRedirects(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readRequestLine(r)
		fmt.Fprintf(conn, "HTTP/1.1 302 Found\r\nLocation: /loop\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	})

	opts := DefaultOptions()
	opts.MaximumRedirections = 2
	pl := NewPipeline(opts, nil)
	call, err := NewCall(MethodGET, "http://"+addr+"/loop", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	assert.Equal(t, StatusProtocolError, call.Status())
	assert.ErrorIs(t, call.Err(), ErrTooManyRedirections)
}

// Two Calls pipelined over a single, capacity-limited Connection both
// complete with their own response bodies in order (spec.md §8 scenario 1).
func TestPipelineTwoCallsShareConnection(t *testing.T) {
	bodies := []string{"first", "second"}
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for i, body := range bodies {
			readRequestLine(r)
			connHeader := "Keep-Alive"
			if i == len(bodies)-1 {
				connHeader = "close"
			}
			fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: %s\r\n\r\n%s",
				len(body), connHeader, body)
		}
	})

	opts := DefaultOptions()
	opts.NumberOfParallelConnections = 1
	pl := NewPipeline(opts, nil)

	call1, err := NewCall(MethodGET, "http://"+addr+"/a", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	call2, err := NewCall(MethodGET, "http://"+addr+"/b", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call1))
	require.NoError(t, pl.Add(call2))
	runPipeline(t, pl)

	assert.Equal(t, StatusSuccessful, call1.Status())
	assert.Equal(t, StatusSuccessful, call2.Status())
	mb1, ok := call1.Body().(*MemoryBody)
	require.True(t, ok)
	assert.Equal(t, "first", string(mb1.Bytes()))
	mb2, ok := call2.Body().(*MemoryBody)
	require.True(t, ok)
	assert.Equal(t, "second", string(mb2.Bytes()))
}

type staticKeyHandler struct {
	user, password string
}

func (s staticKeyHandler) InquireKey(domain []*url.URL, realms []string, scheme string) (auth.Key, bool) {
	return auth.Key{User: s.user, Password: s.password}, true
}

func (staticKeyHandler) InvalidateKey(auth.Key) {}

// Scenario 2 (spec.md §8): a 401 challenge triggers a Digest round trip
// that succeeds on resend.
func TestPipelineDigestAuthRoundTrip(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, headers := readRequestLine(r)
		hasAuth := false
		for _, h := range headers {
			if strings.HasPrefix(strings.ToLower(h), "authorization:") {
				hasAuth = true
			}
		}
		if !hasAuth {
			fmt.Fprintf(conn, "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Digest realm=\"r\", nonce=\"abc\", qop=\"auth\"\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
			return
		}
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	})

	pl := NewPipeline(DefaultOptions(), staticKeyHandler{user: "alice", password: "secret"})
	call, err := NewCall(MethodGET, "http://"+addr+"/secure", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	assert.Equal(t, StatusSuccessful, call.Status())
	assert.Equal(t, 200, call.StatusCode())
}

// A POST is not retried after a connection crash mid-pipeline, because
// POST is not idempotent and the default reconnect mode is
// send_again_if_idem (spec.md §8 scenario 5, §4.4).
func TestPipelinePostNotRetriedOnCrash(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		// Accept the TCP connection, read nothing, then hang up without a
		// response: simulates a mid-pipeline crash.
		conn.Close()
	})

	pl := NewPipeline(DefaultOptions(), nil)
	call, err := NewCall(MethodPOST, "http://"+addr+"/submit", nil, strings.NewReader("x"), 1, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	assert.Equal(t, StatusProtocolError, call.Status())
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 5, o.Synchronization.Depth())
	assert.Equal(t, 2, o.MaximumConnectionFailures)
	assert.Equal(t, 2, o.MaximumMessageErrors)
	assert.False(t, o.InhibitPersistency)
	assert.Equal(t, 2, o.NumberOfParallelConnections)
	assert.Equal(t, 5, o.MaximumRedirections)
	assert.Equal(t, 300*time.Second, o.ConnectionTimeout)
	assert.Equal(t, 1*time.Second, o.HandshakeTimeout)
}

func TestMethodDescriptorsIdempotence(t *testing.T) {
	idempotent := map[string]bool{
		"GET": true, "HEAD": true, "PUT": true, "DELETE": true,
		"OPTIONS": true, "TRACE": true, "POST": false, "PATCH": false,
	}
	for _, m := range []Method{MethodGET, MethodHEAD, MethodPUT, MethodDELETE, MethodOPTIONS, MethodTRACE, MethodPOST, MethodPATCH} {
		assert.Equal(t, idempotent[m.Name], m.Idempotent, m.Name)
	}
}

// send_again_if_idem resends GET/HEAD only (spec.md §4.4, Testable
// Property P4): general HTTP idempotence is not enough, so PUT/DELETE
// must not be marked resend-safe even though they're Method.Idempotent.
func TestMethodDescriptorsResendSafety(t *testing.T) {
	resendSafe := map[string]bool{
		"GET": true, "HEAD": true,
		"PUT": false, "DELETE": false, "OPTIONS": false, "TRACE": false,
		"POST": false, "PATCH": false,
	}
	for _, m := range []Method{MethodGET, MethodHEAD, MethodPUT, MethodDELETE, MethodOPTIONS, MethodTRACE, MethodPOST, MethodPATCH} {
		assert.Equal(t, resendSafe[m.Name], m.ResendSafe, m.Name)
	}
}

// A PUT interrupted by a connection failure is not auto-resent under the
// default reconnect mode, even though PUT is Method.Idempotent (spec.md
// §4.4 "send_again_if_idem resends for GET/HEAD only").
func TestPipelinePutNotRetriedOnCrash(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		conn.Close()
	})

	pl := NewPipeline(DefaultOptions(), nil)
	call, err := NewCall(MethodPUT, "http://"+addr+"/resource", nil, strings.NewReader("x"), 1, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	assert.Equal(t, StatusProtocolError, call.Status())
}

func TestPipelineEventsNotifiesCompletion(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readRequestLine(r)
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")
	})

	pl := NewPipeline(DefaultOptions(), nil)
	call, err := NewCall(MethodGET, "http://"+addr+"/", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	require.NoError(t, pl.Add(call))
	runPipeline(t, pl)

	events := pl.Events()
	got, ok, err := events.Read(true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, call.ID(), got.ID())
}

func TestCallReloadSharesRequestNotResponse(t *testing.T) {
	call, err := NewCall(MethodGET, "http://example.com/", nil, nil, 0, CallOptions{})
	require.NoError(t, err)
	call.finish(StatusSuccessful, 200, "OK", "HTTP/1.1", nil, NewMemoryBody(), nil)

	fresh := call.Reload()
	assert.Equal(t, StatusUnserved, fresh.Status())
	assert.Equal(t, call.URL, fresh.URL)
	assert.NotEqual(t, call.ID(), fresh.ID())
}
