package sandbox

import (
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/require"
)

// installBuffer exposes Node's Buffer. require is needed to load the core
// module and is removed again before any user code runs; the registry never
// reads module files from disk.
func installBuffer(c *Context) error {
	registry := require.NewRegistry(require.WithLoader(noModuleFiles))
	registry.Enable(c.vm)

	module := require.Require(c.vm, buffer.ModuleName).ToObject(c.vm)
	if err := c.vm.Set("Buffer", module.Get("Buffer")); err != nil {
		return err
	}
	return c.vm.GlobalObject().Delete("require")
}

func noModuleFiles(string) ([]byte, error) {
	return nil, require.ModuleFileDoesNotExistError
}
