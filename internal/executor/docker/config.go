package docker

import (
	"errors"
	"time"
)

// sourceEnv carries the program text into a build step.
const sourceEnv = "CODE_RUNNER_SOURCE"

// Toolchain describes how one language is started inside a container.
type Toolchain struct {
	// Name labels the pool's containers.
	Name string
	// Tmpfs holds the mount options of the writable /tmp.
	Tmpfs string
	// Build, when set, runs before the program with the source in
	// $CODE_RUNNER_SOURCE. A non-zero exit is a compile error.
	Build    []string
	BuildEnv []string
	// Command returns the argv that starts program with args.
	Command func(program string, args []string) []string
}

// Python runs the source with `python -c`.
func Python() Toolchain {
	return Toolchain{
		Name:  "python",
		Tmpfs: "rw,noexec,nosuid,size=16m",
		Command: func(program string, args []string) []string {
			return append([]string{"python", "-c", program}, args...)
		},
	}
}

// Go builds the source with `go build` and runs the binary. The build cache
// lives on the container's tmpfs, which must allow exec.
func Go() Toolchain {
	return Toolchain{
		Name:  "go",
		Tmpfs: "rw,exec,nosuid,size=256m",
		Build: []string{"sh", "-c", `printf '%s' "$` + sourceEnv + `" > main.go && go build -o runner main.go`},
		BuildEnv: []string{
			"HOME=/tmp",
			"GOCACHE=/tmp/.cache",
			"GOPATH=/tmp/go",
			"GOTOOLCHAIN=local",
			"CGO_ENABLED=0",
		},
		Command: func(_ string, args []string) []string {
			return append([]string{"./runner"}, args...)
		},
	}
}

// Config holds the configuration for container-backed execution.
type Config struct {
	Toolchain Toolchain
	// Image must provide the toolchain's binaries on PATH.
	Image string
	// MemoryLimit is the container memory ceiling in bytes.
	MemoryLimit int64
	// CPULimit is the number of CPUs a container may use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers kept ready.
	PoolSize int
	// AcquireTimeout bounds how long a request waits for a warm container.
	AcquireTimeout time.Duration
	// PidsLimit caps processes inside a container; zero leaves it unset.
	PidsLimit int64
	// BuildTimeout bounds the toolchain's build step.
	BuildTimeout time.Duration
}

// DefaultConfig provides defaults for a Python sandbox.
func DefaultConfig() Config {
	return Config{
		Toolchain:      Python(),
		Image:          "python:3.12-alpine",
		MemoryLimit:    128 * 1024 * 1024,
		CPULimit:       0.5,
		PoolSize:       3,
		AcquireTimeout: 10 * time.Second,
		PidsLimit:      64,
		BuildTimeout:   30 * time.Second,
	}
}

// GoConfig provides defaults for a Go sandbox. The compiler needs more
// memory and processes than an interpreter.
func GoConfig() Config {
	return Config{
		Toolchain:      Go(),
		Image:          "golang:1.25-alpine",
		MemoryLimit:    512 * 1024 * 1024,
		CPULimit:       1,
		PoolSize:       2,
		AcquireTimeout: 10 * time.Second,
		PidsLimit:      256,
		BuildTimeout:   30 * time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.Toolchain.Command == nil:
		return errors.New("docker: toolchain command is required")
	case c.Image == "":
		return errors.New("docker: image is required")
	case c.PoolSize < 1:
		return errors.New("docker: pool size must be at least 1")
	case c.MemoryLimit < 0 || c.CPULimit < 0:
		return errors.New("docker: resource limits must not be negative")
	case len(c.Toolchain.Build) > 0 && c.BuildTimeout <= 0:
		return errors.New("docker: build timeout must be positive")
	}
	return nil
}
