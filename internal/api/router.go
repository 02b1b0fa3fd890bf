// Package api serves the shell driver, command history and model registry
// over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/user/shellbridge/internal/db"
	"github.com/user/shellbridge/internal/registry"
	"github.com/user/shellbridge/internal/shell"
)

// commandRunner is implemented by *shell.Driver.
type commandRunner interface {
	RunCommand(ctx context.Context, sessionID, command string, abort func()) (*shell.Result, error)
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Execution() (shell.ExecutionState, bool)
}

// commandStore is implemented by *db.CommandRepo.
type commandStore interface {
	Get(ctx context.Context, id string) (*db.Command, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*db.Command, error)
	ListRecent(ctx context.Context, limit int) ([]*db.Command, error)
}

// modelRegistry is implemented by *registry.Registry.
type modelRegistry interface {
	List(search string) []registry.Model
	ByProvider(provider registry.Provider) []registry.Model
	Refresh(ctx context.Context) error
	Snapshot() registry.Snapshot
}

// runningCommands is implemented by *history.Recorder.
type runningCommands interface {
	Running(sessionID string) (db.Command, bool)
}

type handler struct {
	runner   commandRunner
	commands commandStore
	models   modelRegistry
	running  runningCommands
	activity func() string
	logger   *slog.Logger
	limiter  *rate.Limiter
}

type Option func(*handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRunningCommands links GET /api/shell to the history record of the
// command in flight.
func WithRunningCommands(r runningCommands) Option {
	return func(h *handler) { h.running = r }
}

// WithActivity reports terminal activity on GET /api/shell.
func WithActivity(fn func() string) Option {
	return func(h *handler) { h.activity = fn }
}

// WithRunLimit caps POST /api/commands to perSecond requests with the given
// burst. A non-positive rate disables the limit.
func WithRunLimit(perSecond float64, burst int) Option {
	return func(h *handler) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewRouter(runner commandRunner, commands commandStore, models modelRegistry, token string, opts ...Option) http.Handler {
	handler := &handler{
		runner:   runner,
		commands: commands,
		models:   models,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/commands", handler.runCommand)
	mux.HandleFunc("GET /api/commands", handler.listCommands)
	mux.HandleFunc("GET /api/commands/{id}", handler.getCommand)
	mux.HandleFunc("GET /api/shell", handler.getShell)

	mux.HandleFunc("GET /api/models", handler.listModels)
	mux.HandleFunc("POST /api/models/refresh", handler.refreshModels)

	wrapped := authMiddleware(token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
