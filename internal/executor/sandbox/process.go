package sandbox

import (
	"errors"
)

const scriptName = "script.js"

var errNoJSON = errors.New("JSON.stringify unavailable")

// installProcess exposes a synthetic process object holding only argv and
// env.
func installProcess(c *Context) error {
	argv := make([]any, 0, len(c.caps.Args)+2)
	argv = append(argv, "node", scriptName)
	for _, arg := range c.caps.Args {
		argv = append(argv, arg)
	}

	env := c.vm.NewObject()
	for k, v := range c.caps.Env {
		if err := env.Set(k, v); err != nil {
			return err
		}
	}

	process := c.vm.NewObject()
	if err := process.Set("argv", c.vm.NewArray(argv...)); err != nil {
		return err
	}
	if err := process.Set("env", env); err != nil {
		return err
	}
	return c.vm.Set("process", process)
}
