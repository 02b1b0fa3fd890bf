package console

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/user/shellbridge/internal/shell"
)

func pipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

func TestNewUsesFallbackSizeForPipes(t *testing.T) {
	inR, _ := pipe(t)
	_, outW := pipe(t)
	c := New(inR, outW, shell.Size{Cols: 100, Rows: 30})
	if c.Cols() != 100 || c.Rows() != 30 {
		t.Fatalf("size = %dx%d, want 100x30", c.Cols(), c.Rows())
	}
}

func TestWriteGoesToOutput(t *testing.T) {
	inR, _ := pipe(t)
	outR, outW := pipe(t)
	c := New(inR, outW, shell.Size{Cols: 80, Rows: 24})

	c.Write("hello\r\n")
	_ = outW.Close()
	data, err := io.ReadAll(outR)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "hello\r\n" {
		t.Fatalf("output = %q", data)
	}
}

func TestStartForwardsInput(t *testing.T) {
	inR, inW := pipe(t)
	_, outW := pipe(t)
	c := New(inR, outW, shell.Size{Cols: 80, Rows: 24})

	got := make(chan string, 4)
	c.OnData(func(data string) { got <- data })
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Restore()

	if _, err := inW.Write([]byte("y\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	select {
	case data := <-got:
		if data != "y\n" {
			t.Fatalf("forwarded %q, want y\\n", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("input not forwarded")
	}

	if err := c.Restore(); err != nil {
		t.Fatalf("Restore() on a pipe error = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := map[int]int{0: 0, 3: 3, 130: 130, 255: 255, -1: 1, 256: 1}
	for in, want := range tests {
		if got := ExitCode(in); got != want {
			t.Fatalf("ExitCode(%d) = %d, want %d", in, got, want)
		}
	}
}
