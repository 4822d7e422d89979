package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAICompatible spricht OpenAI-kompatible Endpunkte an (Groq, OpenAI).
type OpenAICompatible struct {
	name  string
	model llms.Model
}

// NewOpenAICompatible erstellt einen Client für baseURL; leer bedeutet die OpenAI-Standard-URL.
func NewOpenAICompatible(name, apiKey, baseURL, model string, timeout time.Duration) (*OpenAICompatible, error) {
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
		openai.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", name, err)
	}
	return &OpenAICompatible{name: name, model: m}, nil
}

func (c *OpenAICompatible) Name() string { return c.name }

func (c *OpenAICompatible) CompleteJSON(ctx context.Context, req Request) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}
	opts := []llms.CallOption{llms.WithJSONMode(), llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return ExtractJSON(resp.Choices[0].Content), nil
}
