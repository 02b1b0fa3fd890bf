package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/user/shellbridge/internal/osc"
	"github.com/user/shellbridge/internal/parser"
	"github.com/user/shellbridge/internal/stream"
)

const defaultShell = "/bin/bash"

// Driver owns a single shell process and serializes command execution
// against it. The zero value is not usable; construct with New.
type Driver struct {
	logger    *slog.Logger
	shellPath string
	shellArgs []string
	sanitize  func(string) string
	events    *emitter

	// runMu serializes command preambles: interrupt, prompt, settle, write.
	runMu sync.Mutex
	// readMu guards the private output branch and pending.
	readMu  sync.Mutex
	pending string
	inputMu sync.Mutex

	mu       sync.Mutex
	started  bool
	process  Process
	terminal Terminal
	output   <-chan string
	exec     *ExecutionState

	interactive atomic.Bool
	ready       chan struct{}
	displayDone chan struct{}
}

type Option func(*Driver)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithShell sets the program spawned by Initialize.
func WithShell(path string, args ...string) Option {
	return func(d *Driver) {
		if path != "" {
			d.shellPath = path
			d.shellArgs = args
		}
	}
}

// WithSanitizer replaces the transform applied to command output.
func WithSanitizer(fn func(string) string) Option {
	return func(d *Driver) {
		if fn != nil {
			d.sanitize = fn
		}
	}
}

func New(opts ...Option) *Driver {
	d := &Driver{
		logger:      slog.Default(),
		shellPath:   defaultShell,
		sanitize:    parser.Sanitize,
		ready:       make(chan struct{}),
		displayDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.events = newEmitter(d.logger)
	return d
}

// Initialize spawns the shell sized to term, wires term to it and blocks
// until the shell reports it is interactive. There is no built-in timeout;
// bound ctx to impose one. A spawn failure is final for this Driver.
func (d *Driver) Initialize(ctx context.Context, spawner Spawner, term Terminal) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyInitialized
	}
	d.started = true
	d.mu.Unlock()

	size := Size{Cols: term.Cols(), Rows: term.Rows()}
	if size.Cols <= 0 {
		size.Cols = defaultCols
	}
	if size.Rows <= 0 {
		size.Rows = defaultRows
	}

	proc, err := spawner.Spawn(ctx, d.shellPath, d.shellArgs, size)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", d.shellPath, err)
	}

	branches := stream.Tee(proc.Output(), 2)

	d.mu.Lock()
	d.process = proc
	d.terminal = term
	d.output = branches[0]
	d.mu.Unlock()

	go d.display(term, branches[1])

	term.OnData(func(data string) {
		if !d.interactive.Load() {
			return
		}
		if err := d.write(proc, data); err != nil {
			d.logger.Warn("forwarding terminal input failed", "error", err)
		}
	})

	select {
	case <-d.ready:
	case <-d.displayDone:
		select {
		case <-d.ready:
		default:
			return fmt.Errorf("waiting for interactive shell: %w", ErrOutputClosed)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	d.logger.Info("shell interactive", "shell", d.shellPath, "cols", size.Cols, "rows", size.Rows)
	return nil
}

// display forwards every raw chunk to the terminal and watches for the
// interactive signal.
func (d *Driver) display(term Terminal, chunks <-chan string) {
	defer close(d.displayDone)

	var carry string
	for chunk := range chunks {
		if !d.interactive.Load() {
			scan := carry + chunk
			carry = scan[osc.PartialStart(scan):]
			if _, ok := osc.Find(scan, osc.Interactive); ok {
				carry = ""
				d.interactive.Store(true)
				close(d.ready)
				d.events.emit(Notification{Event: EventInitialized})
			}
		}
		term.Write(chunk)
	}
}

// RunCommand runs command in the shell and returns its sanitized output and
// exit code. A command still in flight is interrupted first: its abort
// callback runs, Ctrl-C is sent, and this call waits for the prompt and for
// the previous command to settle before writing its own. Failures of the
// previous command are reported through the error event, not returned here.
//
// If the output ends before the command exits, the partial result is
// returned together with ErrOutputClosed.
func (d *Driver) RunCommand(ctx context.Context, sessionID, command string, abort func()) (*Result, error) {
	d.mu.Lock()
	proc := d.process
	d.mu.Unlock()
	if proc == nil {
		return nil, ErrNotInitialized
	}

	select {
	case <-d.ready:
	case <-d.displayDone:
		return nil, ErrOutputClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	exec, err := d.start(ctx, proc, sessionID, command, abort)
	if err != nil {
		return nil, err
	}

	res, err := d.waitForSignal(ctx, osc.Exit)
	return d.finish(exec, res, err)
}

func (d *Driver) start(ctx context.Context, proc Process, sessionID, command string, abort func()) (*ExecutionState, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	prev := d.exec
	running := prev != nil && prev.Active
	d.mu.Unlock()

	if running && prev.abort != nil {
		prev.abort()
	}
	if !running {
		d.discardIdleOutput()
	}

	if err := d.write(proc, string(osc.Interrupt)); err != nil {
		return nil, fmt.Errorf("send interrupt: %w", err)
	}
	if _, err := d.waitForSignal(ctx, osc.Prompt); err != nil {
		return nil, fmt.Errorf("wait for prompt: %w", err)
	}

	if prev != nil {
		if err := prev.wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Only failures that finish never reported get here.
			d.events.emit(Notification{Event: EventError, SessionID: prev.SessionID, Err: err})
		}
	}

	d.events.emit(Notification{Event: EventCommandStarted, SessionID: sessionID, Command: command})

	exec := newExecution(sessionID, abort)
	d.mu.Lock()
	d.exec = exec
	d.mu.Unlock()

	if err := d.write(proc, strings.TrimSpace(command)+"\n"); err != nil {
		d.mu.Lock()
		exec.settle(nil, err, false)
		d.mu.Unlock()
		exec.release()
		return nil, fmt.Errorf("write command: %w", err)
	}
	return exec, nil
}

// finish settles exec and fires its outcome event. Waiters on exec are
// released only after every handler has run, so a preempting command's
// commandStarted always follows this one's commandFinished or error.
func (d *Driver) finish(exec *ExecutionState, res *Result, waitErr error) (*Result, error) {
	if res != nil {
		res.Output = d.sanitizeOutput(exec.SessionID, res.Output)
	}

	d.mu.Lock()
	exec.settle(res, waitErr, true)
	d.mu.Unlock()
	defer exec.release()

	if waitErr != nil {
		d.logger.Warn("command did not finish", "session", exec.SessionID, "error", waitErr)
		d.events.emit(Notification{Event: EventError, SessionID: exec.SessionID, Result: res, Err: waitErr})
		return res, waitErr
	}

	d.events.emit(Notification{Event: EventCommandFinished, SessionID: exec.SessionID, Result: res})
	return res, nil
}

func (d *Driver) sanitizeOutput(sessionID, raw string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrSanitizeFailed, r)
			d.logger.Error("formatting terminal output failed", "session", sessionID, "error", err)
			d.events.emit(Notification{Event: EventError, SessionID: sessionID, Err: err})
			out = raw
		}
	}()
	return d.sanitize(raw)
}

// waitForSignal reads the private output branch until a signal named name
// arrives. The returned output runs up to and including that signal; the
// rest of its chunk is kept for the next wait. Exit signals seen on the way
// set the exit code.
func (d *Driver) waitForSignal(ctx context.Context, name string) (*Result, error) {
	d.readMu.Lock()
	defer d.readMu.Unlock()

	var out strings.Builder
	var carry string
	res := &Result{}
	for {
		chunk, ok, err := d.nextChunk(ctx)
		if err != nil {
			d.pending = carry
			return nil, err
		}
		if !ok {
			out.WriteString(carry)
			res.Output = out.String()
			return res, ErrOutputClosed
		}
		chunk = carry + chunk
		carry = ""

		for _, sig := range osc.Scan(chunk) {
			if sig.Name == osc.Exit {
				if code, ok := sig.ExitCode(); ok {
					res.ExitCode = code
				}
			}
			if sig.Name == name {
				out.WriteString(chunk[:sig.End])
				d.pending = chunk[sig.End:]
				res.Output = out.String()
				return res, nil
			}
		}

		// A signal split across reads is completed by the next chunk.
		cut := osc.PartialStart(chunk)
		out.WriteString(chunk[:cut])
		carry = chunk[cut:]
	}
}

// nextChunk must be called with readMu held.
func (d *Driver) nextChunk(ctx context.Context) (string, bool, error) {
	if d.pending != "" {
		chunk := d.pending
		d.pending = ""
		return chunk, true, nil
	}
	select {
	case chunk, ok := <-d.output:
		return chunk, ok, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// discardIdleOutput drops what the shell printed while no command was
// running, so the prompt awaited next is the one answering our interrupt.
// That output has already reached the terminal through the display branch.
func (d *Driver) discardIdleOutput() {
	d.readMu.Lock()
	defer d.readMu.Unlock()

	d.pending = ""
	for {
		select {
		case _, ok := <-d.output:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (d *Driver) write(proc Process, data string) error {
	d.inputMu.Lock()
	defer d.inputMu.Unlock()

	_, err := io.WriteString(proc.Input(), data)
	return err
}

// AddEventHandler registers fn for event. Higher priority handlers run
// first; equal priorities run in registration order. Handlers run on the
// goroutine that fired the event and must not call RunCommand directly:
// the next command waits for them to return.
func (d *Driver) AddEventHandler(event Event, fn Handler, priority int) HandlerID {
	return d.events.add(event, fn, priority)
}

// RemoveEventHandler unregisters a handler. Unknown ids are ignored.
func (d *Driver) RemoveEventHandler(event Event, id HandlerID) {
	d.events.remove(event, id)
}

// Ready is closed once the shell is interactive.
func (d *Driver) Ready() <-chan struct{} {
	return d.ready
}

// Done is closed once the process output has ended.
func (d *Driver) Done() <-chan struct{} {
	return d.displayDone
}

func (d *Driver) Process() Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.process
}

func (d *Driver) Terminal() Terminal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terminal
}

// Execution returns a snapshot of the current or last command, if any.
func (d *Driver) Execution() (ExecutionState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exec == nil {
		return ExecutionState{}, false
	}
	return ExecutionState{SessionID: d.exec.SessionID, Active: d.exec.Active}, true
}
