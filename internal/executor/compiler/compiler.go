// Package compiler turns source text into an executable form by running an
// external build tool in a per-request scratch directory.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/code-runner/internal/apperror"
)

// Placeholders substituted in Config.Command.
const (
	SourcePlaceholder = "{source}"
	OutDirPlaceholder = "{outdir}"
)

var errCompileTimeout = errors.New("compilation timed out")

// Config configures one build tool.
type Config struct {
	// Label prefixes diagnostics, e.g. "TypeScript".
	Label string
	// Command is the argv template; {source} and {outdir} are replaced in
	// every argument.
	Command []string
	// Timeout bounds the build tool. It is independent of the execution
	// timeout.
	Timeout time.Duration
	// ScratchDir is the parent of the per-request directories.
	ScratchDir string
	// SourceName and OutputName are file names inside the scratch directory.
	SourceName string
	OutputName string
}

// TypeScript returns the layout used for TypeScript snippets.
func TypeScript(command []string, timeout time.Duration, scratchDir string) Config {
	return Config{
		Label:      "TypeScript",
		Command:    command,
		Timeout:    timeout,
		ScratchDir: scratchDir,
		SourceName: "script.ts",
		OutputName: "script.js",
	}
}

// Compiler implements executor.Preprocessor.
type Compiler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Compiler and makes sure the scratch root exists.
func New(cfg Config, logger *slog.Logger) (*Compiler, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("compiler command is empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("compiler timeout must be positive")
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &Compiler{cfg: cfg, logger: logger}, nil
}

// Prepare writes source to a fresh scratch directory, runs the build tool and
// returns the generated program. The directory is removed before returning.
//
// A failing build yields an apperror with ErrCompile carrying the tool's
// diagnostics; a missing tool or scratch I/O failure yields ErrEngineFault.
func (c *Compiler) Prepare(ctx context.Context, source string) (string, error) {
	dir := filepath.Join(c.cfg.ScratchDir, xid.New().String())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", apperror.EngineFault("failed to create scratch directory", err)
	}
	defer c.cleanup(dir)

	srcPath := filepath.Join(dir, c.cfg.SourceName)
	if err := os.WriteFile(srcPath, []byte(source), 0o600); err != nil {
		return "", apperror.EngineFault("failed to write source", err)
	}

	// The build has its own budget; the caller going away does not stop it.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	argv := c.argv(srcPath, dir)
	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case err == nil:
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		return "", apperror.CompileFailed(c.diagnostics(stdout.String(), stderr.String(), errCompileTimeout), errCompileTimeout)
	case isExitError(err):
		return "", apperror.CompileFailed(c.diagnostics(stdout.String(), stderr.String(), err), err)
	default:
		return "", apperror.EngineFault("failed to run compiler", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, c.cfg.OutputName))
	if err != nil {
		return "", apperror.EngineFault("compiled output missing", err)
	}
	return string(out), nil
}

func (c *Compiler) argv(srcPath, outDir string) []string {
	r := strings.NewReplacer(SourcePlaceholder, srcPath, OutDirPlaceholder, outDir)
	argv := make([]string, len(c.cfg.Command))
	for i, arg := range c.cfg.Command {
		argv[i] = r.Replace(arg)
	}
	return argv
}

// diagnostics prefers stderr; tsc reports type errors on stdout.
func (c *Compiler) diagnostics(stdout, stderr string, cause error) string {
	diag := stderr
	if strings.TrimSpace(diag) == "" {
		diag = stdout
	}
	if strings.TrimSpace(diag) == "" {
		diag = cause.Error()
	}
	return c.cfg.Label + " compilation error: " + diag
}

func (c *Compiler) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("failed to remove scratch directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// SweepStale removes scratch directories under root created more than
// olderThan ago. Only directories named by a scratch id are touched.
func SweepStale(root string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read scratch root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := xid.FromString(entry.Name())
		if err != nil || !id.Time().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
