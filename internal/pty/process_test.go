package pty

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/user/shellbridge/internal/shell"
)

func quietSpawner(opts ...Option) *Spawner {
	return NewSpawner(append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)...)
}

func spawn(t *testing.T, s *Spawner, path string, args ...string) *Process {
	t.Helper()
	proc, err := s.Spawn(context.Background(), path, args, shell.Size{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn(%s): %v", path, err)
	}
	p := proc.(*Process)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// readAll collects output until the channel closes.
func readAll(t *testing.T, p *Process) string {
	t.Helper()
	var out strings.Builder
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-p.Output():
			if !ok {
				return out.String()
			}
			out.WriteString(chunk)
		case <-timeout:
			t.Fatalf("timed out reading output, got %q", out.String())
		}
	}
}

func TestProcessOutput(t *testing.T) {
	p := spawn(t, quietSpawner(), "echo", "hello-pty")

	if out := readAll(t, p); !strings.Contains(out, "hello-pty") {
		t.Errorf("output = %q, want hello-pty", out)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after exit")
	}
	if err := p.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if _, err := p.Write([]byte("late")); err != ErrClosed {
		t.Errorf("Write after exit = %v, want ErrClosed", err)
	}
}

func TestProcessEnv(t *testing.T) {
	p := spawn(t, quietSpawner(WithEnv("SB_TEST_VALUE=forty-two")), "sh", "-c", "echo $TERM $SB_TEST_VALUE")

	out := readAll(t, p)
	if !strings.Contains(out, "xterm-256color forty-two") {
		t.Errorf("output = %q, want TERM and extra env", out)
	}
}

func TestProcessDir(t *testing.T) {
	dir := t.TempDir()
	p := spawn(t, quietSpawner(WithDir(dir)), "pwd")

	if out := readAll(t, p); !strings.Contains(out, dir) {
		t.Errorf("output = %q, want %q", out, dir)
	}
}

func TestProcessResize(t *testing.T) {
	p := spawn(t, quietSpawner(), "sleep", "10")

	if err := p.Resize(200, 50); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if cols, rows := p.Size(); cols != 200 || rows != 50 {
		t.Errorf("Size() = %dx%d, want 200x50", cols, rows)
	}
	if err := p.Resize(0, 10); err == nil {
		t.Error("Resize(0, 10) succeeded, want error")
	}
	if p.Pid() <= 0 {
		t.Errorf("Pid() = %d", p.Pid())
	}
}

func TestProcessWriteAndClose(t *testing.T) {
	p := spawn(t, quietSpawner(), "cat")

	if _, err := io.WriteString(p.Input(), "hello\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := p.Write([]byte("x")); err != ErrClosed {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := quietSpawner().Spawn(context.Background(), "/nonexistent/shell", nil, shell.Size{Cols: 80, Rows: 24})
	if err == nil {
		t.Fatal("Spawn of missing binary succeeded")
	}
}

func TestSpawnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := quietSpawner().Spawn(ctx, "sh", nil, shell.Size{Cols: 80, Rows: 24}); err == nil {
		t.Fatal("Spawn with canceled context succeeded")
	}
}
