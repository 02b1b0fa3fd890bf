package pty

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
)

// ErrClosed is returned by writes and resizes after Close or process exit.
var ErrClosed = errors.New("pty: process is closed")

const readBufferSize = 4096

// Process is a child running inside a PTY. It satisfies shell.Process.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File

	output chan string
	done   chan struct{}
	// cleanup runs once the child has exited.
	cleanup func()

	mu        sync.Mutex
	closed    bool
	cols      uint16
	rows      uint16
	waitErr   error
	closeOnce sync.Once
}

func start(cmd *exec.Cmd, cols, rows uint16, cleanup func()) (*Process, error) {
	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	p := &Process{
		cmd:     cmd,
		ptmx:    ptmx,
		output:  make(chan string, 1024),
		done:    make(chan struct{}),
		cleanup: cleanup,
		cols:    cols,
		rows:    rows,
	}

	go p.readPump()
	go p.waitExit()

	return p, nil
}

// readPump copies PTY output into the output channel until the PTY is
// closed or the read fails (EIO once the child is gone on Linux).
func (p *Process) readPump() {
	defer close(p.output)

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.output <- string(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) waitExit() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.closed = true
	p.waitErr = err
	p.mu.Unlock()

	if p.cleanup != nil {
		p.cleanup()
	}
	close(p.done)
}

// Input returns the process itself; writes go to the PTY.
func (p *Process) Input() io.Writer { return p }

// Output yields raw output chunks. It is closed when the PTY reaches EOF.
func (p *Process) Output() <-chan string { return p.output }

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the child's exit error after Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Write sends data to the child's terminal input.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	return p.ptmx.Write(data)
}

func (p *Process) Size() (cols, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.cols), int(p.rows)
}

// Resize changes the PTY window size.
func (p *Process) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return errors.New("pty: size must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := creackpty.Setsize(p.ptmx, &creackpty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return err
	}
	p.cols = uint16(cols)
	p.rows = uint16(rows)
	return nil
}

// Close sends SIGTERM to the child and closes the PTY. Safe to call more
// than once.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = p.ptmx.Close()
	})
	return err
}
