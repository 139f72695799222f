package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/arborlabs/arbor/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider against the OpenAI HTTP API.
type OpenAIProvider struct {
	config config.LLMProvider
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate generates text for a single prompt.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	apiKey := p.resolveAPIKey(options)
	if apiKey == "" {
		return "", fmt.Errorf("openai api key not configured")
	}

	reqBody := chatRequest{Model: model}
	if system, ok := options["system"].(string); ok && system != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: system})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: prompt})
	if temp, ok := options["temperature"].(float64); ok {
		reqBody.Temperature = temp
	}
	if maxTokens, ok := options["max_tokens"].(int); ok {
		reqBody.MaxTokens = maxTokens
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("openai API error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("openai API returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai API returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Embed generates embeddings for the given texts.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	apiKey := p.resolveAPIKey(nil)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	model := p.config.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	requestBody := map[string]interface{}{
		"model": model,
		"input": texts,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	vecs := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	return vecs, nil
}

// resolveAPIKey prefers a per-call key from options, then config, then env.
func (p *OpenAIProvider) resolveAPIKey(options map[string]interface{}) string {
	if key, ok := options["api_key"].(string); ok && key != "" {
		return key
	}
	if p.config.APIKey != "" {
		return p.config.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}
