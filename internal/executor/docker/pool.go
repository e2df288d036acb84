package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
)

const (
	createTimeout = 10 * time.Second
	removeTimeout = 5 * time.Second
	refillBackoff = time.Second
	refillPoll    = 100 * time.Millisecond
)

// Pool keeps a number of idle, started containers so a request only pays
// for an exec. A container serves exactly one request and is then removed.
type Pool struct {
	cli        dockerClient
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPool creates a pool; nothing is created until Start.
func NewPool(cli dockerClient, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start begins filling the pool in the background.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting container pool", slog.String("toolchain", p.config.Toolchain.Name), slog.Int("poolSize", p.config.PoolSize), slog.String("image", p.config.Image))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop halts the refill loop and removes every idle container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.Discard(id)
			default:
				return
			}
		}
	})
}

// Acquire takes a warm container, blocking until one is ready or ctx ends.
// The caller owns the container and must Discard it.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("container pool is stopped")
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for a container: %w", ctx.Err())
	}
}

// Discard force-removes a container, killing anything still running in it.
func (p *Pool) Discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", slog.String("id", shortID(id)), slog.String("error", err.Error()))
	}
}

// Idle reports how many warm containers are waiting.
func (p *Pool) Idle() int {
	return len(p.containers)
}

func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		if len(p.containers) >= cap(p.containers) {
			if !p.sleep(refillPoll) {
				return
			}
			continue
		}

		id, err := p.createContainer()
		if err != nil {
			p.logger.Error("failed to create pre-warmed container", slog.String("error", err.Error()))
			if !p.sleep(refillBackoff) {
				return
			}
			continue
		}

		select {
		case p.containers <- id:
		case <-p.done:
			p.Discard(id)
			return
		}
	}
}

// sleep waits for d and reports false when the pool was stopped meanwhile.
func (p *Pool) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.done:
		return false
	case <-t.C:
		return true
	}
}

// createContainer starts an idle container with no network, a read-only
// root filesystem and an unprivileged user.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": p.config.Toolchain.Tmpfs},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
	}
	if p.config.PidsLimit > 0 {
		limit := p.config.PidsLimit
		hostConfig.Resources.PidsLimit = &limit
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.config.Image,
		Cmd:        []string{"sleep", "infinity"},
		User:       "nobody",
		WorkingDir: "/tmp",
		Labels:     map[string]string{"code-runner.pool": p.config.Toolchain.Name},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.Discard(resp.ID)
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
