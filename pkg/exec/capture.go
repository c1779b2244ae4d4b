package exec

import (
	"bytes"
	"io"
	"sync"
)

// cappedOutput collects stdout and stderr against one shared byte budget.
// Bytes beyond the budget are dropped and onOverflow fires once.
type cappedOutput struct {
	mu         sync.Mutex
	limit      int
	used       int
	overflowed bool
	onOverflow func()

	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newCappedOutput(limit int, onOverflow func()) *cappedOutput {
	return &cappedOutput{limit: limit, onOverflow: onOverflow}
}

func (c *cappedOutput) Stdout() io.Writer { return &captureStream{out: c, buf: &c.stdout} }

func (c *cappedOutput) Stderr() io.Writer { return &captureStream{out: c, buf: &c.stderr} }

func (c *cappedOutput) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}

func (c *cappedOutput) Strings() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.String(), c.stderr.String()
}

type captureStream struct {
	out *cappedOutput
	buf *bytes.Buffer
}

// Write always reports the full length so the child never sees a broken pipe
// from us; the overflow callback is what stops it.
func (s *captureStream) Write(p []byte) (int, error) {
	c := s.out
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit <= 0 {
		return s.buf.Write(p)
	}
	remaining := c.limit - c.used
	if len(p) <= remaining {
		s.buf.Write(p)
		c.used += len(p)
		return len(p), nil
	}
	if remaining > 0 {
		s.buf.Write(p[:remaining])
		c.used += remaining
	}
	if !c.overflowed {
		c.overflowed = true
		if c.onOverflow != nil {
			c.onOverflow()
		}
	}
	return len(p), nil
}

var _ io.Writer = (*captureStream)(nil)
