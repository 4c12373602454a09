package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrMalformedResponse is wrapped by bad_message(reason) at the engine
// layer (spec.md §7) whenever the status line or header block cannot be
// parsed.
var ErrMalformedResponse = errors.New("codec: malformed response")

// ResponseHead is a parsed status line plus header block.
type ResponseHead struct {
	Proto      string
	ProtoMajor int
	ProtoMinor int
	StatusCode int
	Status     string
	Header     http.Header
}

// ReadResponseHead parses the status line and header block off r. The
// connection-level caller is responsible for then calling NewBodyReader to
// obtain a correctly framed body reader.
func ReadResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	tp := textproto.NewReader(r)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}
	proto, status, ok := cut(line, " ")
	if !ok {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}
	statusCode, statusText, _ := cut(status, " ")
	code, err := strconv.Atoi(statusCode)
	if err != nil || code < 100 || code > 999 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformedResponse, statusCode)
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return nil, fmt.Errorf("%w: protocol %q", ErrMalformedResponse, proto)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &ResponseHead{
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
		StatusCode: code,
		Status:     strings.TrimSpace(statusText),
		Header:     http.Header(mimeHeader),
	}, nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	rest := proto[len(prefix):]
	maj, min, found := cut(rest, ".")
	if !found {
		return 0, 0, false
	}
	major, err := strconv.Atoi(maj)
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(min)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func cut(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

// NewBodyReader returns a ReadCloser correctly framed for head: chunked
// Transfer-Encoding, fixed Content-Length, or (for a connection that will be
// closed) read-until-EOF. isHeadRequest and statusCode suppress a body
// entirely per RFC 7230 §3.3.3 (HEAD responses, 1xx/204/304).
func NewBodyReader(r *bufio.Reader, head *ResponseHead, isHeadRequest bool, closeDelimited bool) (io.ReadCloser, int64, error) {
	if isHeadRequest || noResponseBody(head.StatusCode) {
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	if isChunked(head.Header) {
		return io.NopCloser(newChunkedReader(r)), -1, nil
	}
	if cl := head.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, 0, fmt.Errorf("%w: content-length %q", ErrMalformedResponse, cl)
		}
		return io.NopCloser(io.LimitReader(r, n)), n, nil
	}
	if closeDelimited {
		return io.NopCloser(r), -1, nil
	}
	return io.NopCloser(strings.NewReader("")), 0, nil
}

func noResponseBody(statusCode int) bool {
	return statusCode >= 100 && statusCode < 200 || statusCode == 204 || statusCode == 304
}

func isChunked(h http.Header) bool {
	te := h.Get("Transfer-Encoding")
	return strings.EqualFold(te, "chunked")
}
