package sandbox

import (
	"errors"
	"strings"
	"sync"
)

var errOutputLimit = errors.New("output limit exceeded")

// channel is an append-only output stream. Each emission becomes one line.
//
// The mutex matters only after a timeout: the host snapshots the buffer
// while an interrupted runtime may still be unwinding.
type channel struct {
	mu    sync.Mutex
	buf   strings.Builder
	limit int
}

func newChannel(limit int) *channel {
	return &channel{limit: limit}
}

// emit appends line plus a newline, or rejects it whole when the limit
// would be crossed. Output is never cut mid-write.
func (c *channel) emit(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit > 0 && c.buf.Len()+len(line)+1 > c.limit {
		return errOutputLimit
	}
	c.buf.WriteString(line)
	c.buf.WriteByte('\n')
	return nil
}

func (c *channel) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
