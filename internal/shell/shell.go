// Package shell drives one long-lived interactive shell process and runs
// commands against it one at a time.
//
// The shell reports its lifecycle in-band with OSC control signals (see
// package osc): "interactive" once it accepts input, "prompt" whenever it is
// back at its prompt and "exit=<code>" when a command finishes. The Driver
// tees the process output: one branch goes to the terminal display untouched,
// the other is scanned privately for those signals and collected as command
// output.
package shell

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotInitialized is returned by RunCommand before Initialize succeeded.
	ErrNotInitialized = errors.New("shell: driver not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("shell: driver already initialized")
	// ErrOutputClosed means the process output ended before the awaited
	// signal arrived, which usually means the shell exited.
	ErrOutputClosed = errors.New("shell: process output closed")
	// ErrSanitizeFailed is reported through the error event when output
	// formatting panics. The command still finishes with its raw output.
	ErrSanitizeFailed = errors.New("shell: sanitize output")
)

// Size is a terminal size in character cells.
type Size struct {
	Cols int
	Rows int
}

const (
	defaultCols = 80
	defaultRows = 15
)

// Process is a running shell with a pseudo-terminal attached.
type Process interface {
	// Input receives keystrokes and command text.
	Input() io.Writer
	// Output yields raw terminal output chunks and is closed when the
	// process output ends.
	Output() <-chan string
}

// Spawner starts shell processes.
type Spawner interface {
	Spawn(ctx context.Context, path string, args []string, size Size) (Process, error)
}

// Terminal is the display side of a session: the terminal the user watches
// and types into.
type Terminal interface {
	// Cols and Rows are size hints; zero or less means unknown.
	Cols() int
	Rows() int
	// Write displays raw output.
	Write(chunk string)
	// OnData registers the receiver of user keystrokes.
	OnData(fn func(data string))
}

// Result is the outcome of one command.
type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// ExecutionState is the bookkeeping for the running or most recently run
// command.
type ExecutionState struct {
	SessionID string
	Active    bool

	abort    func()
	done     chan struct{}
	result   *Result
	err      error
	reported bool
}

func newExecution(sessionID string, abort func()) *ExecutionState {
	return &ExecutionState{
		SessionID: sessionID,
		Active:    true,
		abort:     abort,
		done:      make(chan struct{}),
	}
}

// settle records the outcome and marks the execution inactive. Waiters are
// released separately by release, once the outcome's events have fired.
// Callers hold Driver.mu.
func (e *ExecutionState) settle(res *Result, err error, reported bool) {
	e.Active = false
	e.result = res
	e.err = err
	e.reported = reported
}

func (e *ExecutionState) release() {
	close(e.done)
}

// wait blocks until the execution is released. It returns the failure the
// caller still has to report, nil when there is none or it was reported.
func (e *ExecutionState) wait(ctx context.Context) error {
	select {
	case <-e.done:
		if e.reported {
			return nil
		}
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
