package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient() *retryablehttp.Client {
	client := NewHTTPClient(testLogger())
	client.RetryMax = 0
	return client
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s error = %v", name, err)
	}
}

func TestNewRegistryWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(dir, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "anthropic.yaml")); err != nil {
		t.Fatalf("default anthropic.yaml missing: %v", err)
	}
	if reg.State() != StateNotLoaded {
		t.Fatalf("State() = %q, want %q", reg.State(), StateNotLoaded)
	}
	if !reg.LoadedAt().IsZero() {
		t.Fatalf("LoadedAt() = %v, want zero", reg.LoadedAt())
	}

	def, ok := reg.Default()
	if !ok || def.Name != "claude-3-5-sonnet-20241022" {
		t.Fatalf("Default() = %+v, %v", def, ok)
	}
	if def.Provider != ProviderAnthropic {
		t.Fatalf("default provider = %q, want %q", def.Provider, ProviderAnthropic)
	}
	if len(reg.ByProvider(ProviderOpenAI)) == 0 {
		t.Fatalf("expected default OpenAI models")
	}
}

func TestNewRegistryKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "custom.yml", "provider: Ollama\nmodels:\n  - name: llama3\n")

	reg, err := NewRegistry(dir, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "anthropic.yaml")); !os.IsNotExist(err) {
		t.Fatalf("defaults should not be written when YAML exists, stat err = %v", err)
	}

	models := reg.List("")
	if len(models) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(models))
	}
	if models[0].Label != "llama3" {
		t.Fatalf("label = %q, want name fallback", models[0].Label)
	}
	if def, ok := reg.Default(); !ok || def.Name != "llama3" {
		t.Fatalf("Default() = %+v, %v, want first static model", def, ok)
	}
}

func TestLoadRejectsInvalidModels(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing name", "provider: Groq\nmodels:\n  - label: x\n", "name is required"},
		{"missing provider", "models:\n  - name: x\n", "provider is required"},
		{"duplicate", "provider: Groq\nmodels:\n  - name: x\n  - name: x\n", "duplicate"},
		{"negative price", "provider: Groq\nmodels:\n  - name: x\n    input_price: -1\n", "negative"},
		{"bad yaml", "provider: [\n", "parse model list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "list.yaml", tt.content)
			_, err := NewRegistry(dir, WithLogger(testLogger()))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("NewRegistry() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestNewRegistryRequiresDir(t *testing.T) {
	if _, err := NewRegistry("  "); err == nil {
		t.Fatalf("NewRegistry(blank) error = nil")
	}
}

func TestListSearch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "provider: Anthropic\nmodels:\n  - name: claude-x\n    label: Claude X\n")
	writeFile(t, dir, "b.yaml", "provider: Groq\nmodels:\n  - name: llama-fast\n    label: Llama Fast\n")

	reg, err := NewRegistry(dir, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		search string
		want   []string
	}{
		{"", []string{"claude-x", "llama-fast"}},
		{"CLAUDE", []string{"claude-x"}},
		{"groq", []string{"llama-fast"}},
		{"fast", []string{"llama-fast"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		got := reg.List(tt.search)
		var names []string
		for _, m := range got {
			names = append(names, m.Name)
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Fatalf("List(%q) = %v, want %v", tt.search, names, tt.want)
		}
	}
}

func TestRefreshMergesSources(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3:latest"},{"model":"qwen2"}]}`)
	}))
	defer ollama.Close()

	lmstudio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"id":"phi-3"}]}`)
	}))
	defer lmstudio.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "provider: Anthropic\nmodels:\n  - name: claude-x\n")

	reg, err := NewRegistry(dir,
		WithLogger(testLogger()),
		WithHTTPClient(testClient()),
		WithSources(
			OllamaSource(ollama.URL),
			LMStudioSource(lmstudio.URL+"/v1/"),
			OpenRouterSource(broken.URL),
		),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if reg.State() != StateLoaded {
		t.Fatalf("State() = %q, want %q", reg.State(), StateLoaded)
	}
	if reg.LoadedAt().IsZero() {
		t.Fatalf("LoadedAt() is zero after refresh")
	}

	snap := reg.Snapshot()
	if snap.Count != 4 {
		t.Fatalf("Snapshot().Count = %d, want 4", snap.Count)
	}

	if got := reg.ByProvider(ProviderOllama); len(got) != 2 || got[0].Name != "llama3:latest" || got[1].Name != "qwen2" {
		t.Fatalf("ByProvider(Ollama) = %+v", got)
	}
	m, ok := reg.Get("phi-3")
	if !ok || m.Provider != ProviderLMStudio || m.Label != "phi-3" {
		t.Fatalf("Get(phi-3) = %+v, %v", m, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("Get(missing) ok = true")
	}
	if got := reg.List(""); got[0].Name != "claude-x" {
		t.Fatalf("static models should come first, got %+v", got[0])
	}
}

func TestRefreshCanceled(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), WithLogger(testLogger()), WithHTTPClient(testClient()))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := reg.Refresh(ctx); err == nil {
		t.Fatalf("Refresh(canceled) error = nil")
	}
	if reg.State() != StateNotLoaded {
		t.Fatalf("State() = %q after canceled refresh", reg.State())
	}
}

func TestOpenRouterSourcePricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"openai/gpt-4o","name":"GPT-4o","pricing":{"prompt":"0.0000025","completion":"0.00001"},"top_provider":{"max_completion_tokens":16384}},{"id":""}]}`)
	}))
	defer srv.Close()

	models, err := OpenRouterSource(srv.URL).Fetch(context.Background(), testClient())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("len(models) = %d, want 1", len(models))
	}
	m := models[0]
	if m.InputPrice != 2.5 || m.OutputPrice != 10 || m.MaxOutputTokens != 16384 || m.Label != "GPT-4o" {
		t.Fatalf("model = %+v", m)
	}
	if m.Provider != ProviderOpenRouter {
		t.Fatalf("provider = %q", m.Provider)
	}
}

func TestTogetherSourceSendsKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `[{"id":"meta/llama","display_name":"Llama","pricing":{"input":0.2,"output":0.6}}]`)
	}))
	defer srv.Close()

	models, err := TogetherSource(srv.URL, "secret").Fetch(context.Background(), testClient())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("Authorization = %q", auth)
	}
	if len(models) != 1 || models[0].InputPrice != 0.2 || models[0].OutputPrice != 0.6 {
		t.Fatalf("models = %+v", models)
	}
}

func TestSourceDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	if _, err := OllamaSource(srv.URL).Fetch(context.Background(), testClient()); err == nil {
		t.Fatalf("Fetch() error = nil, want decode error")
	}
}

func TestPerMillion(t *testing.T) {
	tests := map[string]float64{
		"0.000003": 3,
		"0":        0,
		"":         0,
		"-1":       0,
		"abc":      0,
	}
	for in, want := range tests {
		if got := perMillion(in); got != want {
			t.Fatalf("perMillion(%q) = %v, want %v", in, got, want)
		}
	}
}
