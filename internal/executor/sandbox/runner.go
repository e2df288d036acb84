package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/dop251/goja"
)

// defaultStopGrace bounds how long the host waits for an interrupted
// runtime to unwind before reporting the timeout anyway.
const defaultStopGrace = 250 * time.Millisecond

// regexpMatchTimeout bounds one backtracking match. goja runs lookahead and
// backreference patterns on regexp2, which never observes an interrupt, so
// without it a pathological pattern keeps its goroutine spinning after the
// deadline. An aborted match reports no match and the interrupt then stops
// the script at its next instruction.
const regexpMatchTimeout = time.Second

var errDeadline = errors.New("execution deadline exceeded")

func init() {
	regexp2.DefaultMatchTimeout = regexpMatchTimeout
}

// Runner executes programs, each in its own fresh Context.
type Runner struct {
	logger    *slog.Logger
	stopGrace time.Duration
}

// NewRunner creates a Runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger:    logger,
		stopGrace: defaultStopGrace,
	}
}

// Run executes program under a wall-clock deadline of timeout.
//
// The script runs on a worker goroutine racing a deadline timer; whichever
// finishes first decides the report. On the deadline the runtime is
// interrupted, which stops it at its next instruction, so a busy loop cannot
// outlive its request. Cancellation of ctx itself is ignored: the deadline is
// the only way to stop a run.
//
// The error return is reserved for failures to build the sandbox.
func (r *Runner) Run(ctx context.Context, program string, caps Capabilities, timeout time.Duration) (Report, error) {
	sctx, err := newContext(caps)
	if err != nil {
		return Report{}, err
	}

	deadline, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- sctx.run(deadline, program)
	}()

	select {
	case err := <-done:
		return sctx.report(err, time.Since(start)), nil

	case <-deadline.Done():
		// A run that finished right at the deadline still counts as finished.
		select {
		case err := <-done:
			return sctx.report(err, time.Since(start)), nil
		default:
		}

		sctx.interrupt(errDeadline)
		select {
		case <-done:
		case <-time.After(r.stopGrace):
			r.logger.Warn("sandbox did not stop within grace period",
				slog.Duration("grace", r.stopGrace),
			)
		}
		return Report{
			State:   StateTimedOut,
			Stdout:  sctx.stdout.String(),
			Stderr:  sctx.stderr.String(),
			Elapsed: timeout,
		}, nil
	}
}

func (c *Context) report(err error, elapsed time.Duration) Report {
	rep := Report{
		State:   StateCompleted,
		Stdout:  c.stdout.String(),
		Stderr:  c.stderr.String(),
		Elapsed: elapsed,
	}

	switch {
	case err == nil:
	case isDeadline(err):
		rep.State = StateTimedOut
	default:
		rep.State = StateFaulted
		rep.Fault = faultMessage(err)
	}
	return rep
}

func isDeadline(err error) bool {
	var interrupted *goja.InterruptedError
	return errors.As(err, &interrupted) || errors.Is(err, context.DeadlineExceeded)
}

// uncaughtMessage is reported for thrown values that carry no text.
const uncaughtMessage = "Uncaught exception"

// faultMessage extracts what a Node user would see as error.message. A
// value without a message falls back to its name, as in `throw new Error()`.
func faultMessage(err error) string {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return nonEmpty(err.Error())
	}
	value := ex.Value()
	if value == nil {
		return nonEmpty(ex.Error())
	}
	if obj, ok := value.(*goja.Object); ok {
		if msg := textOf(obj.Get("message")); msg != "" {
			return msg
		}
		if name := textOf(obj.Get("name")); name != "" {
			return name
		}
	}
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return uncaughtMessage
	}
	return nonEmpty(value.String())
}

func textOf(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func nonEmpty(msg string) string {
	if msg == "" {
		return uncaughtMessage
	}
	return msg
}
