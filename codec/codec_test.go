package codec

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRequestFixedLength(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h := http.Header{"Host": {"example.com"}, "Content-Length": {"5"}}
	err := WriteRequest(w, RequestHead{Method: "POST", Target: "/x", Header: h}, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "POST /x HTTP/1.1\r\n"))
	assert.Contains(t, out, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nhello"))
}

func TestWriteRequestChunked(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	h := http.Header{"Host": {"example.com"}}
	err := WriteRequest(w, RequestHead{Method: "POST", Target: "/x", Header: h}, strings.NewReader("abc"), -1)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	assert.Contains(t, buf.String(), "3\r\nabc\r\n0\r\n\r\n")
}

func TestReadResponseHeadAndFixedBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 4\r\nX-Foo: bar\r\n\r\ntest"
	r := bufio.NewReader(strings.NewReader(raw))
	head, err := ReadResponseHead(r)
	require.NoError(t, err)
	assert.Equal(t, 200, head.StatusCode)
	assert.Equal(t, "OK", head.Status)
	assert.Equal(t, 1, head.ProtoMajor)
	assert.Equal(t, 1, head.ProtoMinor)
	assert.Equal(t, "bar", head.Header.Get("X-Foo"))

	body, n, err := NewBodyReader(r, head, false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "test", string(data))
}

func TestReadResponseChunkedBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	head, err := ReadResponseHead(r)
	require.NoError(t, err)

	body, n, err := NewBodyReader(r, head, false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia", string(data))
}

func TestReadResponseHeadMalformed(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("not a response\r\n\r\n"))
	_, err := ReadResponseHead(r)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestValidateHeaderRejectsBadValue(t *testing.T) {
	h := http.Header{"X-Bad": {"line1\r\nline2"}}
	assert.Error(t, ValidateHeader(h))
}
