package sandbox

import (
	"strings"

	"github.com/dop251/goja"
)

func installConsole(c *Context) error {
	stringify, ok := goja.AssertFunction(c.vm.Get("JSON").ToObject(c.vm).Get("stringify"))
	if !ok {
		return errNoJSON
	}

	methods := []struct {
		name string
		out  *channel
	}{
		{"log", c.stdout},
		{"info", c.stdout},
		{"debug", c.stdout},
		{"error", c.stderr},
		{"warn", c.stderr},
	}

	console := c.vm.NewObject()
	for _, m := range methods {
		if err := console.Set(m.name, c.printer(m.out, stringify)); err != nil {
			return err
		}
	}
	return c.vm.Set("console", console)
}

// printer joins its arguments with a space and emits them as one line.
func (c *Context) printer(out *channel, stringify goja.Callable) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = formatValue(arg, stringify)
		}
		if err := out.emit(strings.Join(parts, " ")); err != nil {
			panic(c.vm.NewGoError(err))
		}
		return goja.Undefined()
	}
}

// formatValue renders objects (null included) with JSON.stringify and
// everything else with String(v).
func formatValue(v goja.Value, stringify goja.Callable) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFunc := goja.AssertFunction(obj); !isFunc {
			out, err := stringify(goja.Undefined(), obj)
			if err == nil {
				if goja.IsUndefined(out) {
					return "undefined"
				}
				return out.String()
			}
			// Cyclic values and throwing toJSON fall back to String(v).
		}
	}
	return v.String()
}
