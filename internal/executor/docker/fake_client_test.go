package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeExec scripts one exec: framed output, an exit code, or a stream that
// never ends until the attach is closed.
type fakeExec struct {
	stdout   string
	stderr   string
	exitCode int
	hang     bool
}

type fakeDockerClient struct {
	mu          sync.Mutex
	nextID      int
	imagePulls  []string
	created     []*container.HostConfig
	removed     []string
	execs       []container.ExecOptions
	script      fakeExec
	queue       []fakeExec
	execDelay   time.Duration
	createErr   error
	execErr     error
	inspectErr  error
	closed      bool
	execResults map[string]fakeExec
}

func newFakeDockerClient(script fakeExec) *fakeDockerClient {
	return &fakeDockerClient{
		script:      script,
		execResults: make(map[string]fakeExec),
	}
}

func (f *fakeDockerClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.imagePulls = append(f.imagePulls, ref)
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader([]byte(`{"status":"done"}`))), nil
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++
	f.created = append(f.created, hostConfig)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	f.removed = append(f.removed, containerID)
	f.mu.Unlock()
	return nil
}

// ContainerExecCreate scripts execs from the queue first, then from script.
// execDelay simulates a slow daemon and honors ctx like the real client.
func (f *fakeDockerClient) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	if f.execDelay > 0 {
		select {
		case <-time.After(f.execDelay):
		case <-ctx.Done():
			return container.ExecCreateResponse{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return container.ExecCreateResponse{}, f.execErr
	}
	script := f.script
	if len(f.queue) > 0 {
		script, f.queue = f.queue[0], f.queue[1:]
	}
	id := fmt.Sprintf("exec-%d-%s", len(f.execs), containerID)
	f.execs = append(f.execs, options)
	f.execResults[id] = script
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	script := f.execResults[execID]
	f.mu.Unlock()

	local, remote := net.Pipe()
	if script.hang {
		// Reads block until the runner closes the attach.
		go func() { _, _ = io.Copy(io.Discard, remote) }()
		return types.HijackedResponse{Conn: local, Reader: bufio.NewReader(local)}, nil
	}
	_ = remote.Close()

	var framed bytes.Buffer
	if script.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&framed, stdcopy.Stdout).Write([]byte(script.stdout))
	}
	if script.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&framed, stdcopy.Stderr).Write([]byte(script.stderr))
	}
	return types.HijackedResponse{Conn: local, Reader: bufio.NewReader(&framed)}, nil
}

func (f *fakeDockerClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErr != nil {
		return container.ExecInspect{}, f.inspectErr
	}
	return container.ExecInspect{ExecID: execID, ExitCode: f.execResults[execID].exitCode}, nil
}

func (f *fakeDockerClient) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func (f *fakeDockerClient) allExecs() []container.ExecOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]container.ExecOptions(nil), f.execs...)
}

func (f *fakeDockerClient) lastExec() container.ExecOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execs) == 0 {
		return container.ExecOptions{}
	}
	return f.execs[len(f.execs)-1]
}

var errDaemonDown = errors.New("cannot connect to the docker daemon")
