package sandbox

import (
	"context"
	"math"
	"time"

	"github.com/dop251/goja"
)

// maxTimerDelay matches Node: larger delays are treated as 1ms.
const maxTimerDelay = math.MaxInt32

type timer struct {
	id       int64
	seq      int64
	due      time.Time
	interval time.Duration
	repeat   bool
	fn       goja.Callable
	args     []goja.Value
}

// timerQueue holds pending setTimeout/setInterval callbacks. It is only
// touched from the goroutine running the script.
type timerQueue struct {
	nextID  int64
	nextSeq int64
	active  map[int64]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{active: make(map[int64]*timer)}
}

func installTimers(c *Context) error {
	globals := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    c.schedule(false),
		"setInterval":   c.schedule(true),
		"clearTimeout":  c.cancelTimer,
		"clearInterval": c.cancelTimer,
	}
	for name, fn := range globals {
		if err := c.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) schedule(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(c.vm.NewTypeError("The \"callback\" argument must be of type function"))
		}

		delay := call.Argument(1).ToFloat()
		if !(delay >= 1) || delay > maxTimerDelay {
			delay = 1
		}

		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		id := c.timers.add(fn, args, time.Duration(delay*float64(time.Millisecond)), repeat)
		return c.vm.ToValue(id)
	}
}

func (c *Context) cancelTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0)
	if goja.IsUndefined(id) || goja.IsNull(id) {
		return goja.Undefined()
	}
	delete(c.timers.active, id.ToInteger())
	return goja.Undefined()
}

func (q *timerQueue) add(fn goja.Callable, args []goja.Value, delay time.Duration, repeat bool) int64 {
	q.nextID++
	q.nextSeq++
	q.active[q.nextID] = &timer{
		id:       q.nextID,
		seq:      q.nextSeq,
		due:      time.Now().Add(delay),
		interval: delay,
		repeat:   repeat,
		fn:       fn,
		args:     args,
	}
	return q.nextID
}

// earliest returns the next timer to fire; ties go to the one scheduled first.
func (q *timerQueue) earliest() *timer {
	var next *timer
	for _, t := range q.active {
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

// drain fires timers in due order until none are left or ctx is done.
func (q *timerQueue) drain(ctx context.Context) error {
	for len(q.active) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		next := q.earliest()
		if wait := time.Until(next.due); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		if next.repeat {
			q.nextSeq++
			next.seq = q.nextSeq
			next.due = time.Now().Add(next.interval)
		} else {
			delete(q.active, next.id)
		}

		if _, err := next.fn(goja.Undefined(), next.args...); err != nil {
			return err
		}
	}
	return nil
}
