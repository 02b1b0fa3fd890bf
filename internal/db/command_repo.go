package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const commandColumns = `id, session_id, command, output, exit_code, status, error, started_at, finished_at`

type CommandRepo struct {
	db *sql.DB
}

func NewCommandRepo(db *sql.DB) *CommandRepo {
	return &CommandRepo{db: db}
}

// Create inserts cmd, filling in ID, StartedAt and Status when unset.
func (r *CommandRepo) Create(ctx context.Context, cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command is required")
	}
	if cmd.ID == "" {
		cmd.ID = NewID()
	}
	if cmd.StartedAt.IsZero() {
		cmd.StartedAt = nowUTC()
	}
	if cmd.Status == "" {
		cmd.Status = StatusRunning
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO commands (`+commandColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		cmd.ID,
		cmd.SessionID,
		cmd.Command,
		cmd.Output,
		exitCodeValue(cmd.ExitCode),
		string(cmd.Status),
		cmd.Error,
		formatTimestamp(cmd.StartedAt),
		formatTimestampOrEmpty(cmd.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create command: %w", err)
	}
	return nil
}

// Get returns nil, nil when no command has the id.
func (r *CommandRepo) Get(ctx context.Context, id string) (*Command, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get command %q: %w", id, err)
	}
	return cmd, nil
}

// Finish stores the outcome of a command.
func (r *CommandRepo) Finish(ctx context.Context, cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command is required")
	}
	if cmd.FinishedAt.IsZero() {
		cmd.FinishedAt = nowUTC()
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE commands
SET output = ?, exit_code = ?, status = ?, error = ?, finished_at = ?
WHERE id = ?
`,
		cmd.Output,
		exitCodeValue(cmd.ExitCode),
		string(cmd.Status),
		cmd.Error,
		formatTimestamp(cmd.FinishedAt),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish command %q: %w", cmd.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read updated rows for command %q: %w", cmd.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("command %q not found", cmd.ID)
	}
	return nil
}

// ListBySession returns a session's commands, newest first.
func (r *CommandRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Command, error) {
	return r.list(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE session_id = ?
ORDER BY started_at DESC, rowid DESC
LIMIT ?
`, sessionID, clampLimit(limit))
}

// ListRecent returns the newest commands across all sessions.
func (r *CommandRepo) ListRecent(ctx context.Context, limit int) ([]*Command, error) {
	return r.list(ctx, `
SELECT `+commandColumns+`
FROM commands
ORDER BY started_at DESC, rowid DESC
LIMIT ?
`, clampLimit(limit))
}

// FailRunning marks every running command failed with reason. Used at
// startup for commands cut short by a previous shutdown.
func (r *CommandRepo) FailRunning(ctx context.Context, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE commands
SET status = ?, error = ?, finished_at = ?
WHERE status = ?
`, string(StatusFailed), reason, formatTimestamp(nowUTC()), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to fail running commands: %w", err)
	}
	return res.RowsAffected()
}

func (r *CommandRepo) list(ctx context.Context, query string, args ...any) ([]*Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	out := make([]*Command, 0)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		out = append(out, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating commands: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*Command, error) {
	var cmd Command
	var status, startedRaw, finishedRaw string
	var exitCode sql.NullInt64
	if err := row.Scan(
		&cmd.ID,
		&cmd.SessionID,
		&cmd.Command,
		&cmd.Output,
		&exitCode,
		&status,
		&cmd.Error,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	cmd.Status = CommandStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		cmd.ExitCode = &code
	}

	var err error
	if cmd.StartedAt, err = parseTimestamp(startedRaw); err != nil {
		return nil, err
	}
	if cmd.FinishedAt, err = parseOptionalTimestamp(finishedRaw); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func exitCodeValue(code *int) sql.NullInt64 {
	if code == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*code), Valid: true}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
