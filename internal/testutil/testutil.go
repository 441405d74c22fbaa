// Package testutil holds fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("connection closed")

// FakeConn records everything sent to it. It satisfies room.Conn.
type FakeConn struct {
	mu         sync.Mutex
	sent       [][]byte
	pings      int
	terminated string
	closed     bool
	// FailSends makes every Send fail, like a peer that went away.
	FailSends bool
}

func NewFakeConn() *FakeConn { return &FakeConn{} }

func (c *FakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.FailSends {
		return ErrClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *FakeConn) Ping() {
	c.mu.Lock()
	c.pings++
	c.mu.Unlock()
}

func (c *FakeConn) Terminate(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.terminated = reason
	}
}

func (c *FakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *FakeConn) Terminated() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated, c.closed
}

// Events decodes every frame sent so far.
func (c *FakeConn) Events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *FakeConn) Types() []string {
	var types []string
	for _, ev := range c.Events() {
		t, _ := ev["type"].(string)
		types = append(types, t)
	}
	return types
}

// Last returns the most recent event of the given type, or nil.
func (c *FakeConn) Last(eventType string) map[string]any {
	evs := c.Events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i]["type"] == eventType {
			return evs[i]
		}
	}
	return nil
}

func (c *FakeConn) Count(eventType string) int {
	n := 0
	for _, t := range c.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
