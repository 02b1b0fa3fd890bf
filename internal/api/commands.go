package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/shellbridge/internal/db"
)

const maxRunTimeout = 10 * time.Minute

type runCommandRequest struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type runCommandResponse struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	Error     string `json:"error,omitempty"`
}

func (h *handler) runCommand(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		jsonError(w, http.StatusServiceUnavailable, "shell unavailable")
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req runCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		jsonError(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.TimeoutMS < 0 {
		jsonError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = db.NewID()
	}

	ctx := r.Context()
	if req.TimeoutMS > 0 {
		timeout := time.Duration(req.TimeoutMS) * time.Millisecond
		if timeout > maxRunTimeout {
			timeout = maxRunTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	abort := func() {
		h.logger.Info("command preempted", "session_id", sessionID, "command", command)
	}
	res, err := h.runner.RunCommand(ctx, sessionID, command, abort)

	resp := runCommandResponse{SessionID: sessionID, Command: command}
	if res != nil {
		resp.Output = res.Output
		resp.ExitCode = res.ExitCode
	}
	if err == nil {
		jsonResponse(w, http.StatusOK, resp)
		return
	}

	resp.Error = err.Error()
	status := runErrorStatus(err)
	switch status {
	case 0:
		h.logger.Debug("run request canceled", "session_id", sessionID)
		return
	case http.StatusInternalServerError:
		h.logger.Error("run command failed", "session_id", sessionID, "error", err)
	}
	jsonResponse(w, status, resp)
}

func (h *handler) listCommands(w http.ResponseWriter, r *http.Request) {
	if h.commands == nil {
		jsonError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	var (
		list []*db.Command
		err  error
	)
	if sessionID := strings.TrimSpace(r.URL.Query().Get("session_id")); sessionID != "" {
		list, err = h.commands.ListBySession(r.Context(), sessionID, limit)
	} else {
		list, err = h.commands.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("list commands failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	if list == nil {
		list = []*db.Command{}
	}
	jsonResponse(w, http.StatusOK, list)
}

func (h *handler) getCommand(w http.ResponseWriter, r *http.Request) {
	if h.commands == nil {
		jsonError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}

	cmd, err := h.commands.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("get command failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get command")
		return
	}
	if cmd == nil {
		jsonError(w, http.StatusNotFound, "command not found")
		return
	}
	jsonResponse(w, http.StatusOK, cmd)
}

type executionBody struct {
	SessionID string `json:"session_id"`
	Active    bool   `json:"active"`
	CommandID string `json:"command_id,omitempty"`
	Command   string `json:"command,omitempty"`
}

type shellStatus struct {
	Ready     bool           `json:"ready"`
	Closed    bool           `json:"closed"`
	Activity  string         `json:"activity,omitempty"`
	Execution *executionBody `json:"execution"`
}

func (h *handler) getShell(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		jsonError(w, http.StatusServiceUnavailable, "shell unavailable")
		return
	}

	status := shellStatus{
		Ready:  isClosed(h.runner.Ready()),
		Closed: isClosed(h.runner.Done()),
	}
	if h.activity != nil {
		status.Activity = h.activity()
	}
	if exec, ok := h.runner.Execution(); ok {
		status.Execution = &executionBody{SessionID: exec.SessionID, Active: exec.Active}
		if exec.Active && h.running != nil {
			if cmd, ok := h.running.Running(exec.SessionID); ok {
				status.Execution.CommandID = cmd.ID
				status.Execution.Command = cmd.Command
			}
		}
	}
	jsonResponse(w, http.StatusOK, status)
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
