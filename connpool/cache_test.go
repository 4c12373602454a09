package connpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	id     int
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestCacheAcquireReleaseRoundTrip(t *testing.T) {
	c := New[*fakeConn](Aggressive)
	key := Key{Host: "example.com", Port: 80, Transport: "tcp"}

	_, ok := c.Acquire(key)
	assert.False(t, ok)

	conn := &fakeConn{id: 1}
	c.Release(key, conn)
	assert.Equal(t, 1, c.Len(key))

	got, ok := c.Acquire(key)
	assert.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 0, c.Len(key))
}

func TestCacheRestrictiveClosesWhenInactive(t *testing.T) {
	c := New[*fakeConn](Restrictive)
	key := Key{Host: "a", Port: 1, Transport: "tcp"}

	conn := &fakeConn{}
	c.Release(key, conn) // inactive by default
	assert.True(t, conn.closed)
	assert.Equal(t, 0, c.Len(key))
}

func TestCacheRestrictiveKeepsWhileActive(t *testing.T) {
	c := New[*fakeConn](Restrictive)
	c.SetActive(true)
	key := Key{Host: "a", Port: 1, Transport: "tcp"}

	conn := &fakeConn{}
	c.Release(key, conn)
	assert.False(t, conn.closed)
	assert.Equal(t, 1, c.Len(key))

	c.SetActive(false)
	// Already-idle connections stay pooled until CloseAll; only future
	// releases are rejected.
	assert.Equal(t, 1, c.Len(key))
}

func TestCacheCloseAll(t *testing.T) {
	c := New[*fakeConn](Aggressive)
	key := Key{Host: "a", Port: 1, Transport: "tcp"}
	c1, c2 := &fakeConn{id: 1}, &fakeConn{id: 2}
	c.Release(key, c1)
	c.Release(key, c2)

	c.CloseAll()
	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
	assert.Equal(t, 0, c.Len(key))
}
