// Package registry keeps the list of selectable models: static lists loaded
// from YAML plus whatever the configured model servers report.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/yaml.v3"
)

type Registry struct {
	dir     string
	logger  *slog.Logger
	client  *retryablehttp.Client
	sources []Source

	mu       sync.RWMutex
	static   []Model
	dynamic  []Model
	state    State
	loadedAt time.Time
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSources sets the servers Refresh queries.
func WithSources(sources ...Source) Option {
	return func(r *Registry) { r.sources = append(r.sources, sources...) }
}

func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(r *Registry) {
		if client != nil {
			r.client = client
		}
	}
}

// NewHTTPClient returns the retrying client used for model sources.
func NewHTTPClient(logger *slog.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = logger
	return client
}

// NewRegistry loads the static models in dir, writing the shipped defaults
// first when dir has none. Dynamic sources stay unloaded until Refresh.
func NewRegistry(dir string, opts ...Option) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("models dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	r := &Registry{
		dir:    dir,
		logger: slog.Default(),
		state:  StateNotLoaded,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = NewHTTPClient(r.logger)
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rereads the static YAML files.
func (r *Registry) Reload() error {
	loaded, err := loadDir(r.dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.static = loaded
	r.mu.Unlock()
	return nil
}

// Refresh queries every source concurrently and replaces the dynamic
// models. A failing source is logged and contributes nothing.
func (r *Registry) Refresh(ctx context.Context) error {
	results := make([][]Model, len(r.sources))
	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			models, err := src.Fetch(ctx, r.client)
			if err != nil {
				r.logger.Warn("model source unavailable", "provider", src.Provider(), "error", err)
				return
			}
			results[i] = models
		}(i, src)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	var dynamic []Model
	for _, models := range results {
		dynamic = append(dynamic, models...)
	}

	r.mu.Lock()
	r.dynamic = dynamic
	r.state = StateLoaded
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Info("model registry refreshed", "static", len(r.static), "dynamic", len(dynamic))
	return nil
}

// List returns all models whose name, provider or label contains search,
// case-insensitively. Static models come first.
func (r *Registry) List(search string) []Model {
	search = strings.ToLower(strings.TrimSpace(search))
	return r.filter(func(m Model) bool {
		if search == "" {
			return true
		}
		return strings.Contains(strings.ToLower(m.Name), search) ||
			strings.Contains(strings.ToLower(string(m.Provider)), search) ||
			strings.Contains(strings.ToLower(m.Label), search)
	})
}

func (r *Registry) ByProvider(provider Provider) []Model {
	return r.filter(func(m Model) bool { return m.Provider == provider })
}

// Get returns the first model with the given name.
func (r *Registry) Get(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range [][]Model{r.static, r.dynamic} {
		for _, m := range list {
			if m.Name == name {
				return m, true
			}
		}
	}
	return Model{}, false
}

// Default returns the model marked default, or the first static model.
func (r *Registry) Default() (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.static {
		if m.Default {
			return m, true
		}
	}
	if len(r.static) > 0 {
		return r.static[0], true
	}
	return Model{}, false
}

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{State: r.state, LoadedAt: r.loadedAt, Count: len(r.static) + len(r.dynamic)}
}

func (r *Registry) filter(keep func(Model) bool) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Model, 0)
	for _, list := range [][]Model{r.static, r.dynamic} {
		for _, m := range list {
			if keep(m) {
				out = append(out, m)
			}
		}
	}
	return out
}

func loadDir(dir string) ([]Model, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}

	var loaded []Model
	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		models, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			key := string(m.Provider) + "/" + m.Name
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("%s: duplicate model %q", path, key)
			}
			seen[key] = struct{}{}
			loaded = append(loaded, m)
		}
	}
	return loaded, nil
}

func loadFile(path string) ([]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model list %q: %w", path, err)
	}
	var file providerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model list %q: %w", path, err)
	}

	models := make([]Model, 0, len(file.Models))
	for _, m := range file.Models {
		if m.Provider == "" {
			m.Provider = file.Provider
		}
		if err := validate(&m); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		models = append(models, m)
	}
	return models, nil
}

func validate(m *Model) error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("model name is required")
	}
	if strings.TrimSpace(string(m.Provider)) == "" {
		return fmt.Errorf("model %q: provider is required", m.Name)
	}
	if m.InputPrice < 0 || m.OutputPrice < 0 {
		return fmt.Errorf("model %q: prices must not be negative", m.Name)
	}
	if m.Label == "" {
		m.Label = m.Name
	}
	return nil
}
