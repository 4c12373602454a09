package httpipe

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/badu/httpipe/codec"
	"github.com/badu/httpipe/connpool"
	"github.com/badu/httpipe/reactor"
)

// connState is the Connection state machine of spec.md §4.2:
// Unconnected -> Resolving -> Connecting -> Idle -> Sending -> Awaiting ->
// Reading -> Closing -> Closed, with a parallel Error(kind) sideband that
// fail() transitions into from any state.
type connState int32

const (
	stateUnconnected connState = iota
	stateResolving
	stateConnecting
	stateIdle
	stateSending
	stateAwaiting
	stateReading
	stateClosing
	stateClosed
	stateError
)

func (s connState) String() string {
	switch s {
	case stateUnconnected:
		return "unconnected"
	case stateResolving:
		return "resolving"
	case stateConnecting:
		return "connecting"
	case stateIdle:
		return "idle"
	case stateSending:
		return "sending"
	case stateAwaiting:
		return "awaiting"
	case stateReading:
		return "reading"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// Connection is one TCP (or TLS) byte stream to a single origin, carrying
// zero or more Calls pipelined per spec.md §4.2. It is never used directly
// by callers; Pipeline owns Connections keyed by origin.
type Connection struct {
	id   int64
	pl   *Pipeline
	key  connpool.Key
	host string
	port int

	absoluteForm bool // true when this Connection routes through a proxy

	mu                 sync.Mutex
	state              connState
	raw                net.Conn
	bw                 *bufio.Writer
	br                 *bufio.Reader
	sendQueue          []*Call
	inflight           []*Call
	pipeliningDisabled bool
	sawFirstResponse   bool // false until the first response is read; see canSendLocked
	closing            bool
	idleTimer          reactor.Timer
	lastErr            error

	wake       chan struct{}
	continueCh chan struct{} // signaled by readLoop when a "100 Continue" interim is read
	closed     chan struct{}
	closeOnce  sync.Once
}

func newConnection(pl *Pipeline, id int64, key connpool.Key, host string, port int, absoluteForm bool) *Connection {
	return &Connection{
		id:           id,
		pl:           pl,
		key:          key,
		host:         host,
		port:         port,
		absoluteForm: absoluteForm,
		wake:         make(chan struct{}, 1),
		continueCh:   make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

func (c *Connection) setStateLocked(s connState) {
	c.state = s
	if s == stateIdle && len(c.sendQueue) == 0 && len(c.inflight) == 0 {
		c.armIdleTimerLocked()
	} else if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Connection) armIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = c.pl.reactor.AddTimer(c.pl.opts.ConnectionTimeout, c.onIdleTimeout)
}

func (c *Connection) onIdleTimeout() {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.mu.Unlock()

	if c.raw != nil {
		c.raw.Close()
	}
	c.closeOnce.Do(func() { close(c.closed) })
	c.pl.counters.recordTimedOut()
	c.pl.connectionRetired(c)
}

// start launches the Connection's lifetime as a single unit of work on the
// Pipeline's reactor: resolve, connect, then run the write/read loop pair.
// Only the outer entry point is reactor-managed; the inner reader/writer
// pairing uses a plain goroutine since both must run concurrently to
// pipeline, a simplification noted in DESIGN.md.
func (c *Connection) start() {
	c.pl.reactor.Spawn(func(stop <-chan struct{}) {
		c.run(stop)
	})
}

func (c *Connection) run(stop <-chan struct{}) {
	c.mu.Lock()
	c.state = stateResolving
	c.mu.Unlock()

	if _, err := c.resolve(); err != nil {
		c.failDial(&NameResolutionError{Name: c.host})
		return
	}

	c.mu.Lock()
	c.state = stateConnecting
	c.mu.Unlock()

	conn, err := c.dial()
	if err != nil {
		c.failDial(err)
		return
	}

	c.mu.Lock()
	c.raw = conn
	c.bw = bufio.NewWriter(conn)
	c.br = bufio.NewReader(conn)
	c.setStateLocked(stateIdle)
	c.mu.Unlock()
	c.pl.counters.recordNew()
	c.pl.connectionReady(c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(stop)
	}()
	c.readLoop(stop)
	wg.Wait()
}

type resolveResult struct {
	addrs []string
	err   error
}

func (c *Connection) resolve() ([]string, error) {
	ch := make(chan resolveResult, 1)
	c.pl.opts.Resolver.Resolve(c.host, func(addrs []string, err error) {
		ch <- resolveResult{addrs, err}
	})
	r := <-ch
	return r.addrs, r.err
}

func (c *Connection) dial() (net.Conn, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := c.pl.opts.Dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if c.key.Transport == "tls" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: c.host})
		if err := c.handshake(tlsConn); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}

// handshake bounds the TLS handshake by Options.HandshakeTimeout, per the
// teacher's Transport.dialConn (transport.go): a goroutine races the
// handshake against a timer, reporting HandshakeTimeoutError if the timer
// wins.
func (c *Connection) handshake(tlsConn *tls.Conn) error {
	timeout := c.pl.opts.HandshakeTimeout
	if timeout <= 0 {
		return tlsConn.Handshake()
	}
	errc := make(chan error, 2)
	timer := time.AfterFunc(timeout, func() {
		errc <- HandshakeTimeoutError{}
	})
	defer timer.Stop()
	go func() {
		errc <- tlsConn.Handshake()
	}()
	return <-errc
}

// failDial is called for a Connection that never reached Idle: nothing is
// in flight yet, and the Calls already handed to its sendQueue are passed
// back to the Pipeline (dialFailed) to resend or terminate.
func (c *Connection) failDial(err error) {
	c.mu.Lock()
	c.state = stateError
	c.lastErr = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	c.pl.counters.recordFailed()
	c.pl.logger.Warn("connection dial failed", "id", c.id, "host", c.host, "port", c.port, "err", err)
	c.pl.dialFailed(c, err)
}

func (c *Connection) enqueue(call *Call) {
	c.mu.Lock()
	c.sendQueue = append(c.sendQueue, call)
	if c.state == stateIdle && c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Connection) canSendLocked() bool {
	if c.closing || len(c.sendQueue) == 0 {
		return false
	}
	// Pipelining permission is false until the first response is read
	// (spec.md §3 "|inflight| <= 1 until first response", §4.2 "pipelining
	// permission: false until first 1.1 response received; true
	// thereafter unless downgraded"): a freshly-dialed Connection may not
	// have more than one outstanding request yet.
	if !c.sawFirstResponse && len(c.inflight) >= 1 {
		return false
	}
	depth := c.pl.opts.Synchronization.Depth()
	if c.pl.opts.InhibitPersistency {
		depth = 1
	}
	if len(c.inflight) >= depth {
		return false
	}
	if c.pipeliningDisabled && len(c.inflight) >= 1 {
		return false
	}
	return true
}

func (c *Connection) writeLoop(stop <-chan struct{}) {
	for {
		c.mu.Lock()
		for !c.canSendLocked() {
			if c.state == stateClosed || c.state == stateError {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			select {
			case <-c.wake:
			case <-stop:
				return
			case <-c.closed:
				return
			}
			c.mu.Lock()
		}
		call := c.sendQueue[0]
		c.sendQueue = c.sendQueue[1:]
		c.inflight = append(c.inflight, call)
		c.setStateLocked(stateSending)
		c.mu.Unlock()

		if err := c.writeRequest(call); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		if len(c.sendQueue) == 0 {
			c.setStateLocked(stateAwaiting)
		}
		c.mu.Unlock()
	}
}

func (c *Connection) writeRequest(call *Call) error {
	method, u, callHeader := call.requestSnapshot()

	header := callHeader.Clone()
	if header.Get("Host") == "" {
		header.Set("Host", u.Host)
	}
	if c.pl.opts.InhibitPersistency {
		header.Set("Connection", "close")
	}
	bodyLen := call.RequestBodyLength
	if call.RequestBody != nil {
		if bodyLen >= 0 {
			header.Set("Content-Length", codec.FormatContentLength(bodyLen))
		} else {
			header.Set("Transfer-Encoding", "chunked")
		}
	}
	expectContinue := call.Options.Expect100Continue && call.RequestBody != nil
	if expectContinue {
		header.Set("Expect", "100-continue")
	}
	if err := codec.ValidateHeader(header); err != nil {
		return err
	}

	target := u.RequestURI()
	if c.absoluteForm {
		target = u.String()
	}

	head := codec.RequestHead{Method: method.Name, Target: target, Header: header}
	if !expectContinue {
		if err := codec.WriteRequest(c.bw, head, call.RequestBody, bodyLen); err != nil {
			return err
		}
		return c.bw.Flush()
	}

	// Sending state's Expect: 100-continue handshake (spec.md §4.2): write
	// the header, pause for up to HandshakeTimeout for the server's "100
	// Continue", then send the body regardless of whether it arrived.
	if err := codec.WriteRequestHead(c.bw, head); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	c.drainContinueSignal()
	select {
	case <-c.continueCh:
	case <-time.After(c.pl.opts.HandshakeTimeout):
	}
	if err := codec.WriteRequestBody(c.bw, call.RequestBody, bodyLen); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Connection) drainContinueSignal() {
	select {
	case <-c.continueCh:
	default:
	}
}

func (c *Connection) readLoop(stop <-chan struct{}) {
	for {
		c.mu.Lock()
		for len(c.inflight) == 0 {
			if c.state == stateClosed || c.state == stateError {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			select {
			case <-c.wake:
			case <-stop:
				return
			case <-c.closed:
				return
			}
			c.mu.Lock()
		}
		call := c.inflight[0]
		c.setStateLocked(stateReading)
		c.mu.Unlock()

		head, err := codec.ReadResponseHead(c.br)
		if err != nil {
			if err == io.EOF {
				c.pl.counters.recordServerEOF()
				c.fail(&ReadFromServerError{Err: err})
				return
			}
			c.pl.counters.recordCrashed()
			if errors.Is(err, codec.ErrMalformedResponse) {
				c.fail(&BadMessageError{Reason: err.Error()})
			} else {
				c.fail(&ReadFromServerError{Err: err})
			}
			return
		}
		for head.StatusCode == 100 {
			select {
			case c.continueCh <- struct{}{}:
			default:
			}
			head, err = codec.ReadResponseHead(c.br)
			if err != nil {
				c.pl.counters.recordCrashed()
				if errors.Is(err, codec.ErrMalformedResponse) {
					c.fail(&BadMessageError{Reason: err.Error()})
				} else {
					c.fail(&ReadFromServerError{Err: err})
				}
				return
			}
		}

		c.mu.Lock()
		if head.ProtoMajor == 1 && head.ProtoMinor == 0 {
			c.pipeliningDisabled = true
		}
		c.sawFirstResponse = true
		c.mu.Unlock()

		connHeader := head.Header.Get("Connection")
		keepAlive := head.ProtoMajor == 1 && head.ProtoMinor >= 1 && !strings.EqualFold(connHeader, "close")
		if strings.EqualFold(connHeader, "keep-alive") {
			keepAlive = true
		}

		isHead := call.Method.Name == "HEAD"
		body, _, err := codec.NewBodyReader(c.br, head, isHead, !keepAlive)
		if err != nil {
			c.fail(&BadMessageError{Reason: err.Error()})
			return
		}

		storage := call.Options.Body
		w, openErr := storage.Open()
		var drainErr error
		if openErr != nil {
			drainErr = openErr
		} else {
			_, drainErr = io.Copy(w, body)
		}
		storage.Close()
		body.Close()
		if drainErr != nil {
			c.fail(&BadMessageError{Reason: drainErr.Error()})
			return
		}

		c.mu.Lock()
		c.inflight = c.inflight[1:]
		if !keepAlive {
			c.closing = true
		}
		closing := c.closing
		drained := len(c.inflight) == 0 && len(c.sendQueue) == 0
		c.setStateLocked(stateIdle)
		c.mu.Unlock()

		c.pl.completeCall(call, head, storage)

		switch {
		case closing && drained:
			c.closeGracefully()
			return
		case !closing && drained:
			c.pl.connectionIdle(c)
		}
	}
}

// fail aborts the Connection after any inflight/sendQueue Calls were
// already written or are waiting; their disposition (resend on another
// Connection, or terminate) is decided by Pipeline per spec.md §4.4.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.state == stateClosed || c.state == stateError {
		c.mu.Unlock()
		return
	}
	c.state = stateError
	c.lastErr = err
	pending := make([]*Call, 0, len(c.inflight)+len(c.sendQueue))
	pending = append(pending, c.inflight...)
	pending = append(pending, c.sendQueue...)
	c.inflight = nil
	c.sendQueue = nil
	c.mu.Unlock()

	if c.raw != nil {
		c.raw.Close()
	}
	c.closeOnce.Do(func() { close(c.closed) })
	c.pl.counters.recordFailed()
	c.pl.logger.Warn("connection failed, cleaning up", "id", c.id, "host", c.host, "port", c.port, "pending", len(pending), "err", err)
	c.pl.connectionFailed(c, pending, err)
}

func (c *Connection) closeGracefully() {
	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	if c.raw != nil {
		c.raw.Close()
	}
	c.closeOnce.Do(func() { close(c.closed) })
	c.pl.counters.recordSuccessful()
	c.pl.connectionRetired(c)
}

// Close satisfies connpool.Idle so the connection cache can tear down an
// idle Connection directly.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()
	var err error
	if c.raw != nil {
		err = c.raw.Close()
	}
	c.closeOnce.Do(func() { close(c.closed) })
	return err
}
