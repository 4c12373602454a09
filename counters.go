package httpipe

import "sync/atomic"

// Counters tracks Connection lifecycle totals across a Pipeline's lifetime
// (spec.md §4.1). Invariant P2: New == Failed + Successful at any point
// where no Connection is still open (i.e. between Run() calls).
type Counters struct {
	new        int64
	timedOut   int64
	crashed    int64
	serverEOF  int64
	successful int64
	failed     int64
}

func (c *Counters) recordNew()        { atomic.AddInt64(&c.new, 1) }
func (c *Counters) recordTimedOut()   { atomic.AddInt64(&c.timedOut, 1) }
func (c *Counters) recordCrashed()    { atomic.AddInt64(&c.crashed, 1) }
func (c *Counters) recordServerEOF()  { atomic.AddInt64(&c.serverEOF, 1) }
func (c *Counters) recordSuccessful() { atomic.AddInt64(&c.successful, 1) }
func (c *Counters) recordFailed()     { atomic.AddInt64(&c.failed, 1) }

// New is the number of Connections ever created.
func (c *Counters) New() int64 { return atomic.LoadInt64(&c.new) }

// TimedOut is the number of Connections that closed due to inactivity.
func (c *Counters) TimedOut() int64 { return atomic.LoadInt64(&c.timedOut) }

// Crashed is the number of Connections whose read of a response head failed
// with anything other than a clean end-of-stream: a transport error or an
// unparseable status line or header block.
func (c *Counters) Crashed() int64 { return atomic.LoadInt64(&c.crashed) }

// ServerEOF is the number of Connections the peer closed cleanly between
// messages.
func (c *Counters) ServerEOF() int64 { return atomic.LoadInt64(&c.serverEOF) }

// Successful is the number of Connections that were established and used
// without transport-level failure (regardless of the HTTP status codes
// served over them).
func (c *Counters) Successful() int64 { return atomic.LoadInt64(&c.successful) }

// Failed is the number of Connections that never reached the Idle state,
// or that later broke down with a transport or framing error, however many
// exchanges had succeeded on them before.
func (c *Counters) Failed() int64 { return atomic.LoadInt64(&c.failed) }

// Snapshot is an immutable copy of Counters for callers that want a
// consistent point-in-time read.
type Snapshot struct {
	New, TimedOut, Crashed, ServerEOF, Successful, Failed int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		New:        c.New(),
		TimedOut:   c.TimedOut(),
		Crashed:    c.Crashed(),
		ServerEOF:  c.ServerEOF(),
		Successful: c.Successful(),
		Failed:     c.Failed(),
	}
}
