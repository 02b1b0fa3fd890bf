package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix  = "SHELLBRIDGE"
	appDirName = "shellbridge"
)

// Config is layered: defaults, then the YAML file, then SHELLBRIDGE_*
// environment variables, then command-line flags.
type Config struct {
	Port      int    `yaml:"port" split_words:"true"`
	Host      string `yaml:"host" split_words:"true"`
	Token     string `yaml:"token" split_words:"true"`
	DBPath    string `yaml:"db_path" split_words:"true"`
	ModelsDir string `yaml:"models_dir" split_words:"true"`
	Shell     string `yaml:"shell" split_words:"true"`
	Dir       string `yaml:"dir,omitempty" split_words:"true"`
	Cols      int    `yaml:"cols" split_words:"true"`
	Rows      int    `yaml:"rows" split_words:"true"`
	LogLevel  string `yaml:"log_level" split_words:"true"`

	// Env holds extra KEY=VALUE pairs for the shell, comma separated in
	// SHELLBRIDGE_ENV.
	Env []string `yaml:"env,omitempty" split_words:"true"`

	RunRate  float64 `yaml:"run_rate" split_words:"true"`
	RunBurst int     `yaml:"run_burst" split_words:"true"`

	OllamaURL     string `yaml:"ollama_url" split_words:"true"`
	LMStudioURL   string `yaml:"lmstudio_url" split_words:"true"`
	OpenRouterURL string `yaml:"openrouter_url" split_words:"true"`
	TogetherURL   string `yaml:"together_url" split_words:"true"`
	TogetherKey   string `yaml:"together_key,omitempty" split_words:"true"`

	ConfigPath string   `yaml:"-" ignored:"true"`
	PrintToken bool     `yaml:"-" ignored:"true"`
	Args       []string `yaml:"-" ignored:"true"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) *Config {
	base := filepath.Join(home, ".config", appDirName)
	return &Config{
		Port:          8765,
		Host:          "0.0.0.0",
		DBPath:        filepath.Join(base, appDirName+".db"),
		ModelsDir:     filepath.Join(base, "models"),
		Shell:         "/bin/bash",
		Cols:          80,
		Rows:          24,
		LogLevel:      "info",
		RunRate:       5,
		RunBurst:      10,
		OllamaURL:     "http://localhost:11434",
		LMStudioURL:   "http://localhost:1234/v1",
		OpenRouterURL: "https://openrouter.ai/api/v1",
		TogetherURL:   "https://api.together.xyz/v1",
		ConfigPath:    filepath.Join(base, "config.yaml"),
	}
}

// Load builds the configuration from every layer. args excludes the
// program name. A generated token is written back to the config file.
func Load(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg := Default(homeDir)
	if path := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG")); path != "" {
		cfg.ConfigPath = path
	}

	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args, os.Stderr); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
	}
	return nil
}

// loadFromEnv overrides only the fields whose variables are set. Keys are
// SHELLBRIDGE_ plus the split field name, e.g. SHELLBRIDGE_DB_PATH.
func (c *Config) loadFromEnv() error {
	if err := envconfig.Process(envPrefix, c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

func (c *Config) parseFlags(args []string, output io.Writer) error {
	fs := flag.NewFlagSet(appDirName, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.IntVar(&c.Port, "port", c.Port, "server port (1-65535)")
	fs.StringVar(&c.Host, "host", c.Host, "listen host")
	fs.StringVar(&c.Token, "token", c.Token, "authentication token (auto-generated if empty)")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "command history database path")
	fs.StringVar(&c.ModelsDir, "models", c.ModelsDir, "model list directory")
	fs.StringVar(&c.Shell, "shell", c.Shell, "shell command line")
	fs.StringVar(&c.Dir, "dir", c.Dir, "shell working directory")
	fs.IntVar(&c.Cols, "cols", c.Cols, "terminal columns")
	fs.IntVar(&c.Rows, "rows", c.Rows, "terminal rows")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.Args = fs.Args()
	return nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.Cols < 1 || c.Rows < 1 {
		return fmt.Errorf("invalid terminal size %dx%d", c.Cols, c.Rows)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db path is required")
	}
	if strings.TrimSpace(c.ModelsDir) == "" {
		return errors.New("models dir is required")
	}
	if _, _, err := c.ShellCommand(); err != nil {
		return err
	}
	for _, kv := range c.Env {
		if key, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid env entry %q: want KEY=VALUE", kv)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// ShellCommand splits Shell into the program path and its arguments.
func (c *Config) ShellCommand() (string, []string, error) {
	words, err := shellquote.Split(c.Shell)
	if err != nil {
		return "", nil, fmt.Errorf("invalid shell %q: %w", c.Shell, err)
	}
	if len(words) == 0 {
		return "", nil, errors.New("shell is required")
	}
	return words[0], words[1:], nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
