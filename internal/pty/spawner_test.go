package pty

import (
	"context"
	"os"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/shellbridge/internal/osc"
	"github.com/user/shellbridge/internal/shell"
)

func TestIntegrationArgs(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{nil, []string{"--rcfile", "/tmp/rc", "-i"}},
		{[]string{"-i"}, []string{"--rcfile", "/tmp/rc", "-i"}},
		{[]string{"--noprofile"}, []string{"--rcfile", "/tmp/rc", "--noprofile", "-i"}},
	}
	for _, tt := range tests {
		if got := integrationArgs("/tmp/rc", tt.args); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("integrationArgs(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestWriteRCFile(t *testing.T) {
	path, err := writeRCFile()
	if err != nil {
		t.Fatalf("writeRCFile: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != osc.BashIntegration {
		t.Error("rc file content differs from the integration script")
	}
}

// lineTerminal is a minimal shell.Terminal that keeps what it displays.
type lineTerminal struct {
	mu  sync.Mutex
	out strings.Builder
}

func (l *lineTerminal) Cols() int           { return 0 }
func (l *lineTerminal) Rows() int           { return 0 }
func (l *lineTerminal) OnData(func(string)) {}
func (l *lineTerminal) Write(chunk string)  { l.mu.Lock(); l.out.WriteString(chunk); l.mu.Unlock() }

func TestDriverWithBash(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not installed")
	}

	t.Setenv("HOME", t.TempDir())
	spawner := quietSpawner(WithShellIntegration(), WithDir(t.TempDir()))
	d := shell.New(shell.WithLogger(spawner.logger), shell.WithShell(bash, "--noprofile"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := d.Initialize(ctx, spawner, &lineTerminal{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer d.Process().(*Process).Close()

	res, err := d.RunCommand(ctx, "it", "echo hello-$((6*7))", nil)
	if err != nil {
		t.Fatalf("RunCommand(echo): %v", err)
	}
	if !strings.Contains(res.Output, "hello-42") || res.ExitCode != 0 {
		t.Errorf("RunCommand(echo) = %+v, want hello-42 and exit 0", *res)
	}

	res, err = d.RunCommand(ctx, "it", "(exit 3)", nil)
	if err != nil {
		t.Fatalf("RunCommand(exit 3): %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}
