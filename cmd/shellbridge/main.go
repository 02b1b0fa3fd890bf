package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/user/shellbridge/internal/api"
	"github.com/user/shellbridge/internal/config"
	"github.com/user/shellbridge/internal/console"
	"github.com/user/shellbridge/internal/db"
	"github.com/user/shellbridge/internal/history"
	"github.com/user/shellbridge/internal/hub"
	"github.com/user/shellbridge/internal/parser"
	"github.com/user/shellbridge/internal/pty"
	"github.com/user/shellbridge/internal/registry"
	"github.com/user/shellbridge/internal/server"
	"github.com/user/shellbridge/internal/shell"
)

const initTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode := firstArg(cfg.Args); mode {
	case "", "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case "exec":
		code, err := execCommand(ctx, cfg, logger, strings.Join(cfg.Args[1:], " "))
		if err != nil {
			logger.Error("exec failed", "error", err)
			os.Exit(1)
		}
		os.Exit(code)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve or exec)\n", mode)
		os.Exit(2)
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newDriver(cfg *config.Config, logger *slog.Logger) (*shell.Driver, *pty.Spawner) {
	path, args, _ := cfg.ShellCommand()
	driver := shell.New(shell.WithLogger(logger), shell.WithShell(path, args...))
	spawner := pty.NewSpawner(
		pty.WithLogger(logger),
		pty.WithDir(cfg.Dir),
		pty.WithEnv(append([]string{"SHELLBRIDGE=1"}, cfg.Env...)...),
		pty.WithShellIntegration(),
	)
	return driver, spawner
}

func closeProcess(driver *shell.Driver, logger *slog.Logger) {
	if proc, ok := driver.Process().(*pty.Process); ok && proc != nil {
		if err := proc.Close(); err != nil {
			logger.Debug("close shell", "error", err)
		}
	}
}

func modelSources(cfg *config.Config) []registry.Source {
	var sources []registry.Source
	if cfg.OllamaURL != "" {
		sources = append(sources, registry.OllamaSource(cfg.OllamaURL))
	}
	if cfg.LMStudioURL != "" {
		sources = append(sources, registry.LMStudioSource(cfg.LMStudioURL))
	}
	if cfg.OpenRouterURL != "" {
		sources = append(sources, registry.OpenRouterSource(cfg.OpenRouterURL))
	}
	if cfg.TogetherURL != "" && cfg.TogetherKey != "" {
		sources = append(sources, registry.TogetherSource(cfg.TogetherURL, cfg.TogetherKey))
	}
	return sources
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("command history opened", "path", database.Path())

	commands := db.NewCommandRepo(database.SQL())
	stale, err := commands.FailRunning(ctx, "server restarted")
	if err != nil {
		return err
	}
	if stale > 0 {
		logger.Info("marked interrupted commands failed", "count", stale)
	}

	models, err := registry.NewRegistry(cfg.ModelsDir,
		registry.WithLogger(logger),
		registry.WithSources(modelSources(cfg)...),
	)
	if err != nil {
		return err
	}
	go func() {
		if err := models.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("model refresh failed", "error", err)
		}
	}()

	classifier := parser.New()
	defer classifier.Close()

	h := hub.New(cfg.Token,
		hub.WithLogger(logger),
		hub.WithSize(cfg.Cols, cfg.Rows),
		hub.WithClassifier(classifier),
	)
	go h.Run(ctx)

	driver, spawner := newDriver(cfg, logger)
	recorder := history.NewRecorder(commands, logger)
	recorder.Attach(driver)
	defer recorder.Detach()
	h.Attach(driver)

	h.SetOnRun(func(ctx context.Context, sessionID, command string) error {
		_, err := driver.RunCommand(ctx, sessionID, command, nil)
		return err
	})
	h.SetOnResize(func(cols, rows int) {
		if proc, ok := driver.Process().(*pty.Process); ok && proc != nil {
			if err := proc.Resize(cols, rows); err != nil {
				logger.Warn("resize shell", "error", err)
			}
		}
	})

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	err = driver.Initialize(initCtx, spawner, h)
	cancel()
	defer closeProcess(driver, logger)
	if err != nil {
		return err
	}

	apiHandler := api.NewRouter(driver, commands, models, cfg.Token,
		api.WithLogger(logger),
		api.WithRunLimit(cfg.RunRate, cfg.RunBurst),
		api.WithRunningCommands(recorder),
		api.WithActivity(func() string { return string(h.Activity()) }),
	)
	srv := server.New(cfg, h, apiHandler, logger)

	srvCtx, cancelSrv := context.WithCancel(ctx)
	defer cancelSrv()
	go func() {
		select {
		case <-driver.Done():
			logger.Warn("shell exited, shutting down")
			cancelSrv()
		case <-srvCtx.Done():
		}
	}()

	fmt.Printf("\nshellbridge running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}
	return srv.Start(srvCtx)
}

func execCommand(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string) (int, error) {
	if strings.TrimSpace(command) == "" {
		return 0, errors.New("exec needs a command")
	}

	term := console.New(os.Stdin, os.Stdout, shell.Size{Cols: cfg.Cols, Rows: cfg.Rows})
	driver, spawner := newDriver(cfg, logger)

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	err := driver.Initialize(initCtx, spawner, term)
	cancel()
	defer closeProcess(driver, logger)
	if err != nil {
		return 0, err
	}

	if err := term.Start(); err != nil {
		return 0, err
	}
	res, err := driver.RunCommand(ctx, "cli", command, nil)
	if restoreErr := term.Restore(); restoreErr != nil {
		logger.Warn("restore terminal", "error", restoreErr)
	}
	if err != nil {
		return 0, err
	}
	return console.ExitCode(res.ExitCode), nil
}
