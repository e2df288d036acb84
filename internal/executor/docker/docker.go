// Package docker runs programs inside pre-warmed containers.
//
// Each request gets its own container from the Pool. A Toolchain says how
// the program starts there: Python runs the source with `python -c`, Go
// builds it first and runs the binary. Output is demultiplexed from the exec
// stream and the container is force-removed afterwards. A deadline is
// enforced by removing the container, which kills the process no matter what
// it is doing.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/executor/sandbox"
)

const (
	pullTimeout    = 2 * time.Minute
	inspectTimeout = 5 * time.Second
	// setupTimeout bounds exec creation and attach, which happen before the
	// deadline starts.
	setupTimeout = 10 * time.Second
	// drainGrace bounds the wait for buffered output after a kill.
	drainGrace = 250 * time.Millisecond
)

// Runner implements executor.Runner on top of the docker engine.
type Runner struct {
	cli    dockerClient
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the docker daemon from the environment, makes sure the
// image is present and starts the pool.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: create client: %w", err)
	}

	if err := pullImage(ctx, cli, cfg.Image, logger); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return newRunner(cli, cfg, logger), nil
}

func newRunner(cli dockerClient, cfg Config, logger *slog.Logger) *Runner {
	r := &Runner{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	r.pool.Start()
	return r
}

func pullImage(ctx context.Context, cli dockerClient, ref string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", ref))
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pull %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull is complete only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("docker: pull %s: %w", ref, err)
	}
	logger.Info("docker image is ready", slog.String("image", ref))
	return nil
}

var errBuildTimeout = errors.New("build timed out")

// IdleContainers reports how many warm containers are waiting.
func (r *Runner) IdleContainers() int {
	return r.pool.Idle()
}

// Close removes the idle containers and closes the client.
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// Run executes program with caps.Args as its arguments and caps.Env as the
// process environment. A toolchain with a build step builds first; its
// diagnostics come back as an apperror with ErrCompile. The deadline starts
// once the program is running.
func (r *Runner) Run(ctx context.Context, program string, caps sandbox.Capabilities, timeout time.Duration) (sandbox.Report, error) {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, r.config.AcquireTimeout)
	id, err := r.pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		return sandbox.Report{}, err
	}

	killed := false
	defer func() {
		if !killed {
			r.pool.Discard(id)
		}
	}()

	// Only the deadline stops a run; a client going away does not.
	ctx = context.WithoutCancel(ctx)

	if len(r.config.Toolchain.Build) > 0 {
		if err := r.build(ctx, id, program, caps.MaxOutputBytes); err != nil {
			return sandbox.Report{}, err
		}
	}

	setupCtx, cancelSetup := context.WithTimeout(ctx, setupTimeout)
	defer cancelSetup()
	execID, attach, err := r.start(setupCtx, id, container.ExecOptions{
		Cmd: r.config.Toolchain.Command(program, caps.Args),
		Env: envList(caps.Env),
	})
	if err != nil {
		return sandbox.Report{}, err
	}
	defer attach.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	out := collect(attach, caps.MaxOutputBytes)
	select {
	case err := <-out.done:
		if err != nil {
			r.logger.Debug("exec stream ended with error", slog.String("error", err.Error()))
		}
	case <-runCtx.Done():
		killed = true
		r.pool.Discard(id)
		attach.Close()
		out.drain()

		return sandbox.Report{
			State:   sandbox.StateTimedOut,
			Stdout:  out.stdout.String(),
			Stderr:  out.stderr.String(),
			Elapsed: timeout,
		}, nil
	}
	elapsed := time.Since(start)

	exitCode, err := r.exitCode(ctx, execID)
	if err != nil {
		return sandbox.Report{}, err
	}

	rep := sandbox.Report{
		State:   sandbox.StateCompleted,
		Stdout:  out.stdout.String(),
		Stderr:  out.stderr.String(),
		Elapsed: elapsed,
	}
	if exitCode != 0 {
		rep.State = sandbox.StateFaulted
		rep.Fault = fmt.Sprintf("process exited with status %d", exitCode)
	}
	return rep, nil
}

// build runs the toolchain's build step in container id.
func (r *Runner) build(ctx context.Context, id, program string, limit int) error {
	buildCtx, cancel := context.WithTimeout(ctx, r.config.BuildTimeout)
	defer cancel()

	env := append(append([]string(nil), r.config.Toolchain.BuildEnv...), sourceEnv+"="+program)
	execID, attach, err := r.start(buildCtx, id, container.ExecOptions{
		Cmd: r.config.Toolchain.Build,
		Env: env,
	})
	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			return apperror.CompileFailed(errBuildTimeout.Error(), errBuildTimeout)
		}
		return err
	}
	defer attach.Close()

	out := collect(attach, limit)
	select {
	case <-out.done:
	case <-buildCtx.Done():
		attach.Close()
		out.drain()
		return apperror.CompileFailed(diagnostics(out, errBuildTimeout), errBuildTimeout)
	}

	exitCode, err := r.exitCode(ctx, execID)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		cause := fmt.Errorf("build failed: exit status %d", exitCode)
		return apperror.CompileFailed(diagnostics(out, cause), cause)
	}
	return nil
}

// start creates an exec in container id and attaches to it, which starts
// the process as the unprivileged user in /tmp.
func (r *Runner) start(ctx context.Context, id string, opts container.ExecOptions) (string, types.HijackedResponse, error) {
	opts.AttachStdout = true
	opts.AttachStderr = true
	opts.User = "nobody"
	opts.WorkingDir = "/tmp"

	resp, err := r.cli.ContainerExecCreate(ctx, id, opts)
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("docker: create exec: %w", err)
	}
	attach, err := r.cli.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("docker: attach exec: %w", err)
	}
	return resp.ID, attach, nil
}

func (r *Runner) exitCode(ctx context.Context, execID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()
	inspect, err := r.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return 0, fmt.Errorf("docker: inspect exec: %w", err)
	}
	return inspect.ExitCode, nil
}

// diagnostics prefers the build's stderr, then its stdout, then cause.
func diagnostics(out *output, cause error) string {
	for _, s := range []string{out.stderr.String(), out.stdout.String()} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return cause.Error()
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
