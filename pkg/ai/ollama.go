package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator uses the Ollama /api/chat endpoint with JSON output mode.
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(ollamaChatRequest{Model: g.model, Messages: messages, Format: "json"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return "", fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return "", fmt.Errorf("ollama api error: %s", resp.Status)
	}
	var out struct {
		Message chatMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama decode: %w", err)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return out.Message.Content, nil
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Format   string        `json:"format,omitempty"`
	Stream   bool          `json:"stream"`
}
