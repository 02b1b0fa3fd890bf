// Package console adapts the local stdin/stdout to shell.Terminal for
// running one command from the command line.
package console

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/user/shellbridge/internal/shell"
)

type Console struct {
	in  *os.File
	out io.Writer

	cols int
	rows int

	mu     sync.Mutex
	onData func(string)
	state  *term.State
}

var _ shell.Terminal = (*Console)(nil)

// New sizes the console from out when it is a terminal, else fallback.
func New(in *os.File, out *os.File, fallback shell.Size) *Console {
	c := &Console{in: in, out: out, cols: fallback.Cols, rows: fallback.Rows}
	if out != nil && term.IsTerminal(int(out.Fd())) {
		if w, h, err := term.GetSize(int(out.Fd())); err == nil && w > 0 && h > 0 {
			c.cols, c.rows = w, h
		}
	}
	return c
}

func (c *Console) Cols() int { return c.cols }
func (c *Console) Rows() int { return c.rows }

func (c *Console) Write(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, chunk)
}

func (c *Console) OnData(fn func(data string)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

// Start puts an interactive stdin in raw mode and forwards what it reads
// until EOF. Call Restore before exiting.
func (c *Console) Start() error {
	if c.in == nil {
		return nil
	}
	if term.IsTerminal(int(c.in.Fd())) {
		state, err := term.MakeRaw(int(c.in.Fd()))
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
	}
	go c.readLoop()
	return nil
}

func (c *Console) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			c.mu.Lock()
			fn := c.onData
			c.mu.Unlock()
			if fn != nil {
				fn(string(buf[:n]))
			}
		}
		if err != nil {
			return
		}
	}
}

// Restore leaves raw mode if Start entered it.
func (c *Console) Restore() error {
	c.mu.Lock()
	state := c.state
	c.state = nil
	c.mu.Unlock()
	if state == nil {
		return nil
	}
	return term.Restore(int(c.in.Fd()), state)
}

// ExitCode maps a command's exit status to a process exit status.
func ExitCode(code int) int {
	if code < 0 || code > 255 {
		return 1
	}
	return code
}
