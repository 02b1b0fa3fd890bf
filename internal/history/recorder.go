// Package history records driver commands in the command store.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/user/shellbridge/internal/db"
	"github.com/user/shellbridge/internal/shell"
)

// StartedPriority makes the recorder see commandStarted before handlers
// registered at the default priority, so a record exists by the time they
// run.
const StartedPriority = 100

const writeTimeout = 5 * time.Second

// Store is the subset of db.CommandRepo the recorder writes to.
type Store interface {
	Create(ctx context.Context, cmd *db.Command) error
	Finish(ctx context.Context, cmd *db.Command) error
}

// EventSource is implemented by *shell.Driver.
type EventSource interface {
	AddEventHandler(event shell.Event, fn shell.Handler, priority int) shell.HandlerID
	RemoveEventHandler(event shell.Event, id shell.HandlerID)
}

type registration struct {
	event shell.Event
	id    shell.HandlerID
}

// Recorder turns driver events into command records. Commands are keyed
// by session id; the driver runs one command at a time, so each session has
// at most one running record.
type Recorder struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*db.Command
	src     EventSource
	regs    []registration
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		running: make(map[string]*db.Command),
	}
}

// Attach subscribes to src. Attaching again first detaches.
func (r *Recorder) Attach(src EventSource) {
	r.Detach()

	regs := []registration{
		{shell.EventCommandStarted, src.AddEventHandler(shell.EventCommandStarted, r.onStarted, StartedPriority)},
		{shell.EventCommandFinished, src.AddEventHandler(shell.EventCommandFinished, r.onFinished, 0)},
		{shell.EventError, src.AddEventHandler(shell.EventError, r.onError, 0)},
	}

	r.mu.Lock()
	r.src = src
	r.regs = regs
	r.mu.Unlock()
}

func (r *Recorder) Detach() {
	r.mu.Lock()
	src, regs := r.src, r.regs
	r.src, r.regs = nil, nil
	r.mu.Unlock()

	for _, reg := range regs {
		src.RemoveEventHandler(reg.event, reg.id)
	}
}

// Running returns the open record for a session.
func (r *Recorder) Running(sessionID string) (db.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.running[sessionID]
	if !ok {
		return db.Command{}, false
	}
	return *cmd, true
}

func (r *Recorder) onStarted(n shell.Notification) {
	cmd := &db.Command{
		SessionID: n.SessionID,
		Command:   n.Command,
		Status:    db.StatusRunning,
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Create(ctx, cmd); err != nil {
		r.logger.Error("recording command failed", "session", n.SessionID, "error", err)
		return
	}

	r.mu.Lock()
	r.running[n.SessionID] = cmd
	r.mu.Unlock()
}

func (r *Recorder) onFinished(n shell.Notification) {
	cmd := r.take(n.SessionID)
	if cmd == nil {
		return
	}
	cmd.Status = db.StatusFinished
	if n.Result != nil {
		code := n.Result.ExitCode
		cmd.Output = n.Result.Output
		cmd.ExitCode = &code
	}
	r.finish(cmd)
}

// onError annotates the running record. A sanitize failure is followed by
// commandFinished; any other error ends the command.
func (r *Recorder) onError(n shell.Notification) {
	if n.Err == nil {
		return
	}
	if errors.Is(n.Err, shell.ErrSanitizeFailed) {
		r.mu.Lock()
		if cmd, ok := r.running[n.SessionID]; ok {
			cmd.Error = n.Err.Error()
		}
		r.mu.Unlock()
		return
	}

	cmd := r.take(n.SessionID)
	if cmd == nil {
		return
	}
	cmd.Status = db.StatusFailed
	cmd.Error = n.Err.Error()
	if n.Result != nil {
		cmd.Output = n.Result.Output
	}
	r.finish(cmd)
}

func (r *Recorder) take(sessionID string) *db.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.running[sessionID]
	if !ok {
		return nil
	}
	delete(r.running, sessionID)
	return cmd
}

func (r *Recorder) finish(cmd *db.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Finish(ctx, cmd); err != nil {
		r.logger.Error("recording command result failed", "id", cmd.ID, "session", cmd.SessionID, "error", err)
	}
}
