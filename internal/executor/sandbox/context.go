package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// capability installs one global into a fresh runtime.
type capability struct {
	name    string
	install func(c *Context) error
}

// capabilitySet is the complete list of what sandboxed code can reach.
var capabilitySet = []capability{
	{name: "console", install: installConsole},
	{name: "process", install: installProcess},
	{name: "timers", install: installTimers},
	{name: "Buffer", install: installBuffer},
}

// Context is the runtime of a single request. It is never reused.
type Context struct {
	vm     *goja.Runtime
	caps   Capabilities
	stdout *channel
	stderr *channel
	timers *timerQueue
}

func newContext(caps Capabilities) (c *Context, err error) {
	c = &Context{
		vm:     goja.New(),
		caps:   caps,
		stdout: newChannel(caps.MaxOutputBytes),
		stderr: newChannel(caps.MaxOutputBytes),
		timers: newTimerQueue(),
	}

	// goja reports some host-side failures by panicking.
	defer func() {
		if p := recover(); p != nil {
			c, err = nil, fmt.Errorf("sandbox: setting up runtime: %v", p)
		}
	}()

	for _, capability := range capabilitySet {
		if err := capability.install(c); err != nil {
			return nil, fmt.Errorf("sandbox: installing %s: %w", capability.name, err)
		}
	}
	return c, nil
}

// run compiles and runs source, then drains pending timers. It must be
// called on exactly one goroutine; goja runtimes are not goroutine-safe.
func (c *Context) run(ctx context.Context, source string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sandbox: runtime panic: %v", p)
		}
	}()

	program, err := goja.Compile(scriptName, source, false)
	if err != nil {
		return err
	}
	if _, err := c.vm.RunProgram(program); err != nil {
		return err
	}
	return c.timers.drain(ctx)
}

// interrupt stops the running script at its next instruction. Safe to call
// from any goroutine.
func (c *Context) interrupt(reason any) {
	c.vm.Interrupt(reason)
}
