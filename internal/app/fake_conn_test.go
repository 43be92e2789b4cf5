package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/skillswap-relay/internal/core"
	"github.com/dkeye/skillswap-relay/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type received struct {
	Name domain.EventName `json:"event"`
	Data json.RawMessage  `json:"data"`
}

func (c *fakeConn) events(t *testing.T) []received {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]received, 0, len(c.frames))
	for _, f := range c.frames {
		var r received
		if err := json.Unmarshal(f, &r); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		out = append(out, r)
	}
	return out
}
