package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

const maxResponseBytes = 8 << 20

// Source lists models from a remote or local model server.
type Source interface {
	Provider() Provider
	Fetch(ctx context.Context, client *retryablehttp.Client) ([]Model, error)
}

type httpSource struct {
	provider Provider
	url      string
	apiKey   string
	decode   func(body []byte) ([]Model, error)
}

func (s *httpSource) Provider() Provider { return s.provider }

func (s *httpSource) Fetch(ctx context.Context, client *retryablehttp.Client) ([]Model, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", s.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.url, err)
	}

	models, err := s.decode(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.url, err)
	}
	for i := range models {
		models[i].Provider = s.provider
		if models[i].Label == "" {
			models[i].Label = models[i].Name
		}
	}
	return models, nil
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// OllamaSource lists the models pulled into a local Ollama server,
// typically http://localhost:11434.
func OllamaSource(baseURL string) Source {
	return &httpSource{
		provider: ProviderOllama,
		url:      endpoint(baseURL, "/api/tags"),
		decode: func(body []byte) ([]Model, error) {
			var payload struct {
				Models []struct {
					Name  string `json:"name"`
					Model string `json:"model"`
				} `json:"models"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, err
			}
			out := make([]Model, 0, len(payload.Models))
			for _, m := range payload.Models {
				name := m.Name
				if name == "" {
					name = m.Model
				}
				if name != "" {
					out = append(out, Model{Name: name})
				}
			}
			return out, nil
		},
	}
}

// OpenAICompatibleSource lists models from a server speaking the OpenAI
// /models API. baseURL includes the version prefix, e.g.
// http://localhost:1234/v1.
func OpenAICompatibleSource(provider Provider, baseURL, apiKey string) Source {
	return &httpSource{
		provider: provider,
		url:      endpoint(baseURL, "/models"),
		apiKey:   apiKey,
		decode: func(body []byte) ([]Model, error) {
			var payload struct {
				Data []struct {
					ID          string `json:"id"`
					DisplayName string `json:"display_name"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, err
			}
			out := make([]Model, 0, len(payload.Data))
			for _, m := range payload.Data {
				if m.ID != "" {
					out = append(out, Model{Name: m.ID, Label: m.DisplayName})
				}
			}
			return out, nil
		},
	}
}

func LMStudioSource(baseURL string) Source {
	return OpenAICompatibleSource(ProviderLMStudio, baseURL, "")
}

// OpenRouterSource lists OpenRouter's catalog. Its prices are per token as
// decimal strings.
func OpenRouterSource(baseURL string) Source {
	return &httpSource{
		provider: ProviderOpenRouter,
		url:      endpoint(baseURL, "/models"),
		decode: func(body []byte) ([]Model, error) {
			var payload struct {
				Data []struct {
					ID          string `json:"id"`
					Name        string `json:"name"`
					Description string `json:"description"`
					Pricing     struct {
						Prompt     string `json:"prompt"`
						Completion string `json:"completion"`
					} `json:"pricing"`
					TopProvider struct {
						MaxCompletionTokens int `json:"max_completion_tokens"`
					} `json:"top_provider"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, err
			}
			out := make([]Model, 0, len(payload.Data))
			for _, m := range payload.Data {
				if m.ID == "" {
					continue
				}
				out = append(out, Model{
					Name:            m.ID,
					Label:           m.Name,
					Description:     m.Description,
					InputPrice:      perMillion(m.Pricing.Prompt),
					OutputPrice:     perMillion(m.Pricing.Completion),
					MaxOutputTokens: m.TopProvider.MaxCompletionTokens,
				})
			}
			return out, nil
		},
	}
}

// TogetherSource lists Together AI models; the endpoint requires a key.
func TogetherSource(baseURL, apiKey string) Source {
	return &httpSource{
		provider: ProviderTogetherAI,
		url:      endpoint(baseURL, "/models"),
		apiKey:   apiKey,
		decode: func(body []byte) ([]Model, error) {
			var payload []struct {
				ID          string `json:"id"`
				DisplayName string `json:"display_name"`
				Description string `json:"description"`
				Pricing     struct {
					Input  float64 `json:"input"`
					Output float64 `json:"output"`
				} `json:"pricing"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, err
			}
			out := make([]Model, 0, len(payload))
			for _, m := range payload {
				if m.ID == "" {
					continue
				}
				out = append(out, Model{
					Name:        m.ID,
					Label:       m.DisplayName,
					Description: m.Description,
					InputPrice:  m.Pricing.Input,
					OutputPrice: m.Pricing.Output,
				})
			}
			return out, nil
		},
	}
}

// perMillion converts a per-token price string to a per-million price
// rounded to cents. Unparseable prices are zero.
func perMillion(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 {
		return 0
	}
	return math.Round(v*1e6*100) / 100
}
