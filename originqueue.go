package httpipe

import (
	"sync"

	"github.com/badu/httpipe/connpool"
)

// originQueue is the per-origin queue of spec.md §4.1/§4.4: Calls waiting
// to be assigned a Connection, plus the Connections currently open for this
// (host, port, transport), bounded by Options.NumberOfParallelConnections.
type originQueue struct {
	key          connpool.Key
	host         string
	port         int
	absoluteForm bool

	mu                  sync.Mutex
	waiting             []*Call
	active              map[int64]*Connection
	consecutiveFailures int
}

func newOriginQueue(key connpool.Key, host string, port int, absoluteForm bool) *originQueue {
	return &originQueue{
		key:          key,
		host:         host,
		port:         port,
		absoluteForm: absoluteForm,
		active:       make(map[int64]*Connection),
	}
}
