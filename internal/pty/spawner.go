// Package pty starts shell processes inside pseudo-terminals.
package pty

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/user/shellbridge/internal/osc"
	"github.com/user/shellbridge/internal/shell"
)

const defaultTerm = "xterm-256color"

// Spawner implements shell.Spawner on top of creack/pty.
type Spawner struct {
	logger      *slog.Logger
	dir         string
	env         []string
	integration bool
}

type Option func(*Spawner)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Spawner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDir sets the working directory of spawned processes.
func WithDir(dir string) Option {
	return func(s *Spawner) { s.dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(s *Spawner) { s.env = append(s.env, env...) }
}

// WithShellIntegration starts bash with an rc file that emits the control
// signals the driver waits for. The file is removed when the shell exits.
func WithShellIntegration() Option {
	return func(s *Spawner) { s.integration = true }
}

func NewSpawner(opts ...Option) *Spawner {
	s := &Spawner{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ shell.Spawner = (*Spawner)(nil)

// Spawn starts path with args in a new PTY of the given size. ctx only
// bounds startup; the process outlives it.
func (s *Spawner) Spawn(ctx context.Context, path string, args []string, size shell.Size) (shell.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("pty: empty shell path")
	}

	var cleanup func()
	if s.integration {
		rc, err := writeRCFile()
		if err != nil {
			return nil, err
		}
		cleanup = func() { _ = os.Remove(rc) }
		args = integrationArgs(rc, args)
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), "TERM="+defaultTerm)
	cmd.Env = append(cmd.Env, s.env...)

	proc, err := start(cmd, uint16(size.Cols), uint16(size.Rows), cleanup)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("pty: start %s: %w", path, err)
	}

	s.logger.Info("shell spawned", "path", path, "args", args, "pid", proc.Pid(), "cols", size.Cols, "rows", size.Rows)
	return proc, nil
}

func writeRCFile() (string, error) {
	f, err := os.CreateTemp("", "shellbridge-*.bashrc")
	if err != nil {
		return "", fmt.Errorf("pty: create rc file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(osc.BashIntegration); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("pty: write rc file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}

// integrationArgs puts --rcfile first, as bash requires long options
// before short ones, and makes sure the shell is interactive.
func integrationArgs(rc string, args []string) []string {
	out := []string{"--rcfile", rc}
	out = append(out, args...)
	if !slices.Contains(args, "-i") {
		out = append(out, "-i")
	}
	return out
}
