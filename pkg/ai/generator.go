package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

const defaultHTTPTimeout = 60 * time.Second

// ProviderConfig selects and configures one generation backend.
type ProviderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Headers  map[string]string // extra request headers, e.g. OpenRouter attribution
	Timeout  time.Duration
}

// NewTextGenerator builds the generator named by cfg.Provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		client.Timeout = defaultHTTPTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, ProviderOpenRouter:
		g := NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model)
		g.headers = cfg.Headers
		g.httpClient = client
		return g, nil
	case ProviderGemini:
		g, err := NewGeminiGenerator(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		if cfg.BaseURL != "" {
			g.baseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		g.httpClient = client
		return g, nil
	case ProviderOllama:
		g := NewOllamaGenerator(cfg.BaseURL, cfg.Model)
		g.httpClient = client
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
