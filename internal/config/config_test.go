package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	cfg := Default("/home/test")
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")

	content := "port: 9999\ntoken: test-token\ndb_path: /tmp/custom/shellbridge.db\nshell: /bin/zsh -l\n"
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	if cfg.Port != 9999 || cfg.Token != "test-token" || cfg.DBPath != "/tmp/custom/shellbridge.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Rows != 24 || cfg.LogLevel != "info" {
		t.Fatalf("defaults lost: rows=%d level=%q", cfg.Rows, cfg.LogLevel)
	}
}

func TestLoadFromFileRejectsBadYAML(t *testing.T) {
	cfg := Default("/home/test")
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg.ConfigPath, []byte("port: [\n"), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}
	if err := cfg.loadFromFile(); err == nil {
		t.Fatal("loadFromFile() error = nil")
	}
}

func TestLoadFromEnvOverridesOnlySetVariables(t *testing.T) {
	cfg := Default("/home/test")
	cfg.Token = "file-token"
	t.Setenv("SHELLBRIDGE_PORT", "7000")
	t.Setenv("SHELLBRIDGE_OLLAMA_URL", "")
	t.Setenv("SHELLBRIDGE_RUN_RATE", "0.5")
	t.Setenv("SHELLBRIDGE_LM_STUDIO_URL", "http://studio:1234/v1")
	t.Setenv("SHELL", "/usr/bin/fish")

	if err := cfg.loadFromEnv(); err != nil {
		t.Fatalf("loadFromEnv() error = %v", err)
	}
	if cfg.Port != 7000 || cfg.RunRate != 0.5 {
		t.Fatalf("env not applied: port=%d rate=%v", cfg.Port, cfg.RunRate)
	}
	if cfg.OllamaURL != "" {
		t.Fatalf("OllamaURL = %q, want empty (disabled)", cfg.OllamaURL)
	}
	if cfg.LMStudioURL != "http://studio:1234/v1" {
		t.Fatalf("LMStudioURL = %q", cfg.LMStudioURL)
	}
	if cfg.Shell != "/bin/bash" {
		t.Fatalf("Shell = %q, want default; unprefixed variables must not apply", cfg.Shell)
	}
	if cfg.Token != "file-token" {
		t.Fatalf("Token = %q, want file-token", cfg.Token)
	}
}

func TestLoadFromEnvShellEnv(t *testing.T) {
	cfg := Default("/home/test")
	t.Setenv("SHELLBRIDGE_ENV", "NODE_ENV=test,PAGER=cat")

	if err := cfg.loadFromEnv(); err != nil {
		t.Fatalf("loadFromEnv() error = %v", err)
	}
	if len(cfg.Env) != 2 || cfg.Env[0] != "NODE_ENV=test" || cfg.Env[1] != "PAGER=cat" {
		t.Fatalf("Env = %q", cfg.Env)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadFromEnvRejectsBadValue(t *testing.T) {
	cfg := Default("/home/test")
	t.Setenv("SHELLBRIDGE_COLS", "wide")
	if err := cfg.loadFromEnv(); err == nil {
		t.Fatal("loadFromEnv() error = nil")
	}
}

func TestParseFlags(t *testing.T) {
	cfg := Default("/home/test")
	args := []string{"-port", "9000", "-shell", "/bin/sh -c 'exec bash'", "-log-level", "debug", "exec", "ls", "-la"}
	if err := cfg.parseFlags(args, io.Discard); err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.Port != 9000 || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if want := []string{"exec", "ls", "-la"}; !reflect.DeepEqual(cfg.Args, want) {
		t.Fatalf("Args = %v, want %v", cfg.Args, want)
	}

	path, shellArgs, err := cfg.ShellCommand()
	if err != nil {
		t.Fatalf("ShellCommand() error = %v", err)
	}
	if path != "/bin/sh" || !reflect.DeepEqual(shellArgs, []string{"-c", "exec bash"}) {
		t.Fatalf("ShellCommand() = %q %v", path, shellArgs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"size", func(c *Config) { c.Cols = 0 }, "terminal size"},
		{"db", func(c *Config) { c.DBPath = " " }, "db path"},
		{"models", func(c *Config) { c.ModelsDir = "" }, "models dir"},
		{"empty shell", func(c *Config) { c.Shell = "  " }, "shell is required"},
		{"unterminated quote", func(c *Config) { c.Shell = "bash '" }, "invalid shell"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"env entry", func(c *Config) { c.Env = []string{"NOVALUE"} }, "invalid env entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/home/test")
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if err := Default("/home/test").Validate(); err != nil {
		t.Fatalf("Validate(defaults) error = %v", err)
	}
}

func TestLevel(t *testing.T) {
	cfg := Default("/home/test")
	cfg.LogLevel = "WARN"
	level, err := cfg.Level()
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("Level() = %v, %v", level, err)
	}
}

func TestLoadGeneratesAndSavesToken(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SHELLBRIDGE_CONFIG", "")

	cfg, err := Load([]string{"-port", "9100"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Token) != 32 {
		t.Fatalf("generated token = %q", cfg.Token)
	}
	if cfg.ConfigPath != filepath.Join(home, ".config", "shellbridge", "config.yaml") {
		t.Fatalf("ConfigPath = %q", cfg.ConfigPath)
	}
	if cfg.Addr() != "0.0.0.0:9100" {
		t.Fatalf("Addr() = %q", cfg.Addr())
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	var saved Config
	if err := yaml.Unmarshal(data, &saved); err != nil {
		t.Fatalf("parse saved config: %v", err)
	}
	if saved.Token != cfg.Token {
		t.Fatalf("saved token = %q, want %q", saved.Token, cfg.Token)
	}

	again, err := Load(nil)
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if again.Token != cfg.Token {
		t.Fatalf("token changed across loads: %q != %q", again.Token, cfg.Token)
	}
	if again.Port != 9100 {
		t.Fatalf("Port = %d, want saved 9100", again.Port)
	}
}

func TestLoadUsesConfigEnvPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("token: abc\nrows: 50\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SHELLBRIDGE_CONFIG", path)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Token != "abc" || cfg.Rows != 50 || cfg.ConfigPath != path {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
