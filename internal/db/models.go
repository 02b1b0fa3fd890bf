package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CommandStatus string

const (
	StatusRunning  CommandStatus = "running"
	StatusFinished CommandStatus = "finished"
	StatusFailed   CommandStatus = "failed"
)

// Command is one command run through the shell driver.
type Command struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Command    string        `json:"command"`
	Output     string        `json:"output"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Status     CommandStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

func NewID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatTimestampOrEmpty(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return formatTimestamp(ts)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseOptionalTimestamp(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return parseTimestamp(raw)
}
