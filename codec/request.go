// Package codec is the narrow byte-level collaborator spec.md §1 calls for:
// it serializes request lines/headers/bodies onto a connection and parses
// response status lines/headers/bodies back off one. It knows nothing about
// pipelining, retries, or call routing — those live in the engine package.
package codec

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
)

// RequestHead is everything needed to write a request line and header
// block. Target is the request-URI exactly as it should appear on the wire
// (origin-form for a direct request, absolute-form when routed through a
// proxy, per spec.md §4.1 Routing).
type RequestHead struct {
	Method string
	Target string
	Header http.Header
}

// WriteRequest writes the request line, header block, and body to w. If
// contentLength is negative the body is written in chunked framing;
// otherwise exactly contentLength bytes of it are copied. This function does
// not add or mutate the Content-Length/Transfer-Encoding headers: callers
// set the matching one on Header. body may be nil for bodyless requests.
func WriteRequest(w *bufio.Writer, head RequestHead, body io.Reader, contentLength int64) error {
	if err := WriteRequestHead(w, head); err != nil {
		return err
	}
	return WriteRequestBody(w, body, contentLength)
}

// WriteRequestHead writes the request line and header block (including the
// blank line terminating it), with no body. Split out from WriteRequest so
// a caller can pause between the header and the body — the
// "Expect: 100-continue" handshake of spec.md §4.2 sends the header,
// waits, then writes the body separately via WriteRequestBody.
func WriteRequestHead(w *bufio.Writer, head RequestHead) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", head.Method, head.Target); err != nil {
		return err
	}
	if err := writeSortedHeader(w, head.Header); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// WriteRequestBody writes body (nil is a no-op), framed per contentLength
// exactly as WriteRequest would.
func WriteRequestBody(w *bufio.Writer, body io.Reader, contentLength int64) error {
	if body == nil {
		return nil
	}
	if contentLength < 0 {
		cw := newChunkedWriter(w)
		if _, err := io.Copy(cw, body); err != nil {
			return err
		}
		return cw.Close()
	}
	_, err := io.CopyN(w, body, contentLength)
	if err == io.EOF {
		err = nil
	}
	return err
}

// writeSortedHeader writes header fields in sorted key order, the way the
// teacher's header_sorter.go keeps request framing deterministic (and test
// friendly): one "Key: v1\r\nKey: v2\r\n" pair per value.
func writeSortedHeader(w *bufio.Writer, h http.Header) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// FormatContentLength renders n the way the Content-Length header expects.
func FormatContentLength(n int64) string {
	return strconv.FormatInt(n, 10)
}
