package httpipe

import (
	"bytes"
	"io"
	"os"
)

// BodyStorage is the response-body destination a Call selects up front
// (spec.md §3: "response body (storage chosen per Call: memory, file, or
// opaque sink)"). Open is called once the response header has been parsed
// and returns the io.Writer the engine drains the body into; Close runs
// once draining finishes, successfully or not.
type BodyStorage interface {
	Open() (io.Writer, error)
	Close() error
}

// MemoryBody buffers the response body in memory. It is the default
// storage for a Call that does not specify one.
type MemoryBody struct {
	buf bytes.Buffer
}

// NewMemoryBody returns an empty in-memory body destination.
func NewMemoryBody() *MemoryBody { return &MemoryBody{} }

func (m *MemoryBody) Open() (io.Writer, error) { return &m.buf, nil }
func (m *MemoryBody) Close() error             { return nil }

// Bytes returns the buffered body. Valid only after the owning Call has
// terminated.
func (m *MemoryBody) Bytes() []byte { return m.buf.Bytes() }

// FileBody streams the response body to a file, named by a callback
// invoked once at Open time so the path can depend on request state not
// known until the response starts arriving.
type FileBody struct {
	path func() (string, error)
	f    *os.File
}

// NewFileBody returns a FileBody whose destination path is produced by
// path, called exactly once.
func NewFileBody(path func() (string, error)) *FileBody {
	return &FileBody{path: path}
}

func (f *FileBody) Open() (io.Writer, error) {
	p, err := f.path()
	if err != nil {
		return nil, err
	}
	file, err := os.Create(p)
	if err != nil {
		return nil, err
	}
	f.f = file
	return file, nil
}

func (f *FileBody) Close() error {
	if f.f == nil {
		return nil
	}
	return f.f.Close()
}

// Name returns the path handed to the underlying file, valid once Open
// has run.
func (f *FileBody) Name() string {
	if f.f == nil {
		return ""
	}
	return f.f.Name()
}

// SinkBody hands the response body to a caller-supplied io.WriteCloser,
// acquired lazily at Open time (spec.md §3 "opaque sink").
type SinkBody struct {
	acquire func() (io.WriteCloser, error)
	w       io.WriteCloser
}

// NewSinkBody returns a SinkBody backed by acquire, called exactly once.
func NewSinkBody(acquire func() (io.WriteCloser, error)) *SinkBody {
	return &SinkBody{acquire: acquire}
}

func (s *SinkBody) Open() (io.Writer, error) {
	w, err := s.acquire()
	if err != nil {
		return nil, err
	}
	s.w = w
	return w, nil
}

func (s *SinkBody) Close() error {
	if s.w == nil {
		return nil
	}
	return s.w.Close()
}
