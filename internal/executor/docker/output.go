package docker

import (
	"bytes"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"
)

// cappedBuffer collects one demultiplexed stream. Bytes past the limit are
// dropped but still reported as written so the copy keeps draining.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// output demultiplexes one exec stream into capped buffers.
type output struct {
	stdout *cappedBuffer
	stderr *cappedBuffer
	done   chan error
}

func collect(attach types.HijackedResponse, limit int) *output {
	out := &output{
		stdout: &cappedBuffer{limit: limit},
		stderr: &cappedBuffer{limit: limit},
		done:   make(chan error, 1),
	}
	go func() {
		_, err := stdcopy.StdCopy(out.stdout, out.stderr, attach.Reader)
		out.done <- err
	}()
	return out
}

// drain waits briefly for output buffered before a kill.
func (o *output) drain() {
	t := time.NewTimer(drainGrace)
	defer t.Stop()
	select {
	case <-o.done:
	case <-t.C:
	}
}
