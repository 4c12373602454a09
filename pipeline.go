package httpipe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/badu/httpipe/auth"
	"github.com/badu/httpipe/connpool"
	"github.com/badu/httpipe/reactor"
	"github.com/badu/httpipe/typedpipe"
)

// completedEventsCapacity bounds the Pipeline's completion-notification
// pipe (spec.md §4.6). It is supplementary to the callback/Done() delivery
// path, so a full buffer simply drops the notification rather than
// blocking the Connection goroutine that completed the Call.
const completedEventsCapacity = 64

// Pipeline is the engine object of spec.md §4.1: it owns a set of per-origin
// queues, a connection cache, and an auth registry, and drives every Call
// added to it to a terminal condensed status by registering work on a
// Reactor. Per spec.md §5, one Pipeline is owned by at most one goroutine at
// a time for structural operations (Add/Run/Reset); Calls may be read from
// other goroutines once terminal.
type Pipeline struct {
	opts    Options
	reactor reactor.Reactor
	cache   *connpool.Cache[*Connection]

	authRegistry *auth.Registry
	keyring      *auth.KeyRing

	mu       sync.Mutex
	queues   map[connpool.Key]*originQueue
	sessions map[sessionKey]auth.Session
	pending  int64
	drainCh  chan struct{}

	counters Counters

	events       typedpipe.Writer[*Call]
	eventsReader typedpipe.Reader[*Call]

	nextConnID int64
	logger     hclog.Logger
}

// NewPipeline constructs a Pipeline ready to accept Calls. keyHandler may
// be nil; without one, every 401/407 terminates its Call with
// auth.ErrNoCredential unless a session already covers it.
func NewPipeline(opts Options, keyHandler auth.KeyHandler) *Pipeline {
	opts.fillDefaults()
	eventsReader, events := typedpipe.Create[*Call](completedEventsCapacity)
	p := &Pipeline{
		opts:         opts,
		reactor:      reactor.NewGoroutineReactor(),
		cache:        connpool.New[*Connection](opts.CacheMode),
		authRegistry: auth.NewRegistry(),
		keyring:      auth.NewKeyRing(keyHandler),
		queues:       make(map[connpool.Key]*originQueue),
		sessions:     make(map[sessionKey]auth.Session),
		drainCh:      make(chan struct{}, 1),
		events:       events,
		eventsReader: eventsReader,
		logger:       opts.Logger,
	}
	p.cache.SetActive(true)
	return p
}

// Events returns the read half of the Pipeline's completion notification
// pipe (spec.md §4.6): every Call, as it reaches a terminal condensed
// status, is offered on this pipe alongside its callback/Done() channel.
// Safe to drive from a goroutine other than the one that called Add/Run,
// which is the one cross-thread guarantee spec.md makes for this
// construct. A consumer that never reads it loses nothing else: delivery
// here is best-effort, not the primary completion path.
func (p *Pipeline) Events() typedpipe.Reader[*Call] { return p.eventsReader }

// RegisterAuthHandler adds or replaces a scheme implementation consulted
// against future 401/407 challenges (spec.md §4.3).
func (p *Pipeline) RegisterAuthHandler(h auth.Handler) { p.authRegistry.Register(h) }

// Counters returns the live Connection lifecycle counters (spec.md §4.1).
func (p *Pipeline) Counters() *Counters { return &p.counters }

// Add enqueues call without a completion callback; the caller observes its
// outcome via call.Done()/call.Status() after Run returns.
func (p *Pipeline) Add(call *Call) error { return p.AddFunc(call, nil) }

// AddFunc enqueues call and registers cb to run exactly once, when call
// reaches a terminal condensed status (spec.md §4.1 "add with completion
// callback").
func (p *Pipeline) AddFunc(call *Call, cb func(*Call)) error {
	call.mu.Lock()
	call.callback = cb
	call.mu.Unlock()

	p.attachAuthInAdvance(call)
	atomic.AddInt64(&p.pending, 1)
	return p.enqueueRouted(call)
}

// enqueueRouted resolves the origin route for call (direct or via proxy)
// and appends it to the corresponding origin queue, starting connections as
// needed. Used both by AddFunc and by the redirect/auth retry paths, which
// re-route a Call that may now target a different origin.
func (p *Pipeline) enqueueRouted(call *Call) error {
	rt, err := p.resolveRoute(call)
	if err != nil {
		p.terminateCall(call, wrapProtocolError(err))
		return nil
	}

	p.mu.Lock()
	oq, ok := p.queues[rt.key]
	if !ok {
		oq = newOriginQueue(rt.key, rt.host, rt.port, rt.absoluteForm)
		p.queues[rt.key] = oq
	}
	p.mu.Unlock()

	oq.mu.Lock()
	oq.waiting = append(oq.waiting, call)
	oq.mu.Unlock()

	p.dispatch(oq)
	return nil
}

// dispatch assigns as many of oq's waiting Calls as possible to existing or
// newly-opened Connections, bounded by NumberOfParallelConnections
// (spec.md §4.1/§4.4).
func (p *Pipeline) dispatch(oq *originQueue) {
	oq.mu.Lock()
	defer oq.mu.Unlock()
	for len(oq.waiting) > 0 {
		conn := p.pickConnectionLocked(oq)
		if conn == nil {
			if len(oq.active) >= p.opts.NumberOfParallelConnections {
				return
			}
			conn = p.openConnectionLocked(oq)
		}
		call := oq.waiting[0]
		oq.waiting = oq.waiting[1:]
		conn.enqueue(call)
	}
}

// pickConnectionLocked returns the least-loaded open Connection for oq that
// is not already failed/closed or draining toward a close, or nil if none is
// usable. oq.mu must be held by the caller.
func (p *Pipeline) pickConnectionLocked(oq *originQueue) *Connection {
	var best *Connection
	bestLoad := -1
	for _, conn := range oq.active {
		conn.mu.Lock()
		state := conn.state
		closing := conn.closing
		load := len(conn.sendQueue) + len(conn.inflight)
		conn.mu.Unlock()
		if state == stateClosed || state == stateError || closing {
			continue
		}
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = conn, load
		}
	}
	return best
}

// openConnectionLocked starts a fresh Connection for oq. oq.mu must be held
// by the caller.
func (p *Pipeline) openConnectionLocked(oq *originQueue) *Connection {
	id := atomic.AddInt64(&p.nextConnID, 1)
	conn := newConnection(p, id, oq.key, oq.host, oq.port, oq.absoluteForm)
	oq.active[id] = conn
	conn.start()
	return conn
}

// connectionReady is an ambient logging hook invoked once a Connection
// reaches Idle for the first time (spec.md §4.2 state machine entry into
// Idle following Connecting).
func (p *Pipeline) connectionReady(conn *Connection) {
	p.logger.Debug("connection established", "id", conn.id, "host", conn.host, "port", conn.port)
}

// connectionIdle marks conn as quiescent (no inflight or queued Calls) and
// releases it to the connection cache (spec.md §4.5). It remains tracked in
// its origin queue's active set for direct reuse within this Pipeline's
// lifetime.
func (p *Pipeline) connectionIdle(conn *Connection) {
	p.cache.Release(conn.key, conn)
}

// connectionRetired drops conn from its origin queue once it has physically
// closed after a drain-then-close sequence (spec.md §9 resolution).
func (p *Pipeline) connectionRetired(conn *Connection) {
	p.withOriginQueue(conn.key, func(oq *originQueue) {
		oq.mu.Lock()
		delete(oq.active, conn.id)
		oq.mu.Unlock()
	})
	p.cache.Remove(conn.key, conn)
}

// connectionFailed handles a Connection that broke down after it had
// already reached Idle at least once (a mid-pipeline transport error).
// pending are the Calls that were in flight or queued on it.
func (p *Pipeline) connectionFailed(conn *Connection, pending []*Call, err error) {
	p.cache.Remove(conn.key, conn)
	p.handleConnectionDown(conn, pending, err, false)
}

// dialFailed handles a Connection that never completed its handshake.
func (p *Pipeline) dialFailed(conn *Connection, err error) {
	conn.mu.Lock()
	pending := append([]*Call(nil), conn.sendQueue...)
	conn.mu.Unlock()
	p.handleConnectionDown(conn, pending, err, true)
}

func (p *Pipeline) withOriginQueue(key connpool.Key, fn func(*originQueue)) {
	p.mu.Lock()
	oq := p.queues[key]
	p.mu.Unlock()
	if oq != nil {
		fn(oq)
	}
}

// handleConnectionDown retires conn from its queue, tracks consecutive
// connection failures (spec.md §4.4 maximum_connection_failures), and
// decides per pending Call whether to resend (bounded by
// maximum_message_errors) or terminate it as protocol_error.
func (p *Pipeline) handleConnectionDown(conn *Connection, pending []*Call, err error, neverConnected bool) {
	p.mu.Lock()
	oq := p.queues[conn.key]
	p.mu.Unlock()
	if oq == nil {
		for _, call := range pending {
			p.terminateCall(call, wrapProtocolError(err))
		}
		return
	}

	oq.mu.Lock()
	delete(oq.active, conn.id)
	if neverConnected {
		oq.consecutiveFailures++
	} else {
		oq.consecutiveFailures = 0
	}
	exceeded := oq.consecutiveFailures >= p.opts.MaximumConnectionFailures
	oq.mu.Unlock()

	if exceeded {
		oq.mu.Lock()
		stale := oq.waiting
		oq.waiting = nil
		oq.mu.Unlock()
		for _, call := range pending {
			p.terminateCall(call, wrapProtocolError(err))
		}
		for _, call := range stale {
			p.terminateCall(call, wrapProtocolError(err))
		}
		return
	}

	for _, call := range pending {
		if !p.shouldRetry(call, err) {
			p.terminateCall(call, wrapProtocolError(err))
			continue
		}
		call.retryCount++
		if call.retryCount > p.opts.MaximumMessageErrors {
			p.terminateCall(call, wrapProtocolError(ErrNoReply))
			continue
		}
		oq.mu.Lock()
		oq.waiting = append(oq.waiting, call)
		oq.mu.Unlock()
	}
	p.dispatch(oq)
}

// shouldRetry applies the resend policy of spec.md §4.4
// (send_again | request_fails | inquire(fn) | send_again_if_idem). The
// default, send_again_if_idem, resends for GET/HEAD only (Method.ResendSafe)
// — general HTTP idempotence (Method.Idempotent, which also covers PUT/
// DELETE/OPTIONS/TRACE) is deliberately not used here; it drives
// redirect-following instead.
func (p *Pipeline) shouldRetry(call *Call, err error) bool {
	switch call.Options.Reconnect {
	case ReconnectSendAgain:
		return true
	case ReconnectRequestFails:
		return false
	case ReconnectInquire:
		if call.Options.Inquire != nil {
			return call.Options.Inquire(call, err)
		}
		return false
	default:
		return call.Method.ResendSafe
	}
}

// callTerminated decrements the Pipeline's outstanding-Call count and wakes
// Run once every added Call has reached a terminal status.
func (p *Pipeline) callTerminated(call *Call) {
	p.events.Write(true, call) // nonblock: a full/absent reader never stalls the caller
	if atomic.AddInt64(&p.pending, -1) == 0 {
		select {
		case p.drainCh <- struct{}{}:
		default:
		}
	}
}

// Run blocks until every Call added so far has reached a terminal condensed
// status, or ctx is done. It may be called repeatedly; Calls added while a
// previous Run call is still blocked are included in the same wait.
func (p *Pipeline) Run(ctx context.Context) error {
	for atomic.LoadInt64(&p.pending) > 0 {
		select {
		case <-p.drainCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Reset aborts every Call currently in flight or queued, across every
// origin, as protocol_error(no_reply) (ErrNoReply), and tears down every open and pooled
// Connection (spec.md §4.1 "reset").
func (p *Pipeline) Reset() {
	p.mu.Lock()
	queues := make([]*originQueue, 0, len(p.queues))
	for _, oq := range p.queues {
		queues = append(queues, oq)
	}
	p.queues = make(map[connpool.Key]*originQueue)
	p.mu.Unlock()

	for _, oq := range queues {
		oq.mu.Lock()
		waiting := oq.waiting
		oq.waiting = nil
		actives := make([]*Connection, 0, len(oq.active))
		for _, c := range oq.active {
			actives = append(actives, c)
		}
		oq.mu.Unlock()

		for _, call := range waiting {
			p.terminateCall(call, wrapProtocolError(ErrNoReply))
		}
		for _, conn := range actives {
			conn.mu.Lock()
			abandoned := append([]*Call(nil), conn.inflight...)
			abandoned = append(abandoned, conn.sendQueue...)
			conn.mu.Unlock()
			conn.Close()
			for _, call := range abandoned {
				p.terminateCall(call, wrapProtocolError(ErrNoReply))
			}
		}
	}

	p.cache.CloseAll()
}

// Shutdown tears down the Pipeline's reactor and marks its connection cache
// inactive, after which a restrictive-mode cache closes any future release
// immediately (spec.md §9 "restrictive cache eviction: per-creator").
func (p *Pipeline) Shutdown() {
	p.Reset()
	p.cache.SetActive(false)
	p.events.WriteEOF()
	if gr, ok := p.reactor.(*reactor.GoroutineReactor); ok {
		gr.Shutdown()
	}
}
