package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"labscope/config"

	"go.uber.org/zap"
)

// ErrNotConfigured wird geliefert, wenn kein API-Key für den gewählten Anbieter gesetzt ist.
var ErrNotConfigured = errors.New("llm provider not configured")

// Request ist eine einzelne JSON-Anfrage an ein Sprachmodell.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client liefert JSON-Antworten eines Sprachmodells.
type Client interface {
	// CompleteJSON liefert den JSON-Text der Antwort, ohne Code-Fences.
	CompleteJSON(ctx context.Context, req Request) (string, error)
	Name() string
}

// New wählt den Anbieter anhand von LLM_PROVIDER.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "groq", "openai":
		if cfg.GroqAPIKey == "" {
			return nil, ErrNotConfigured
		}
		c, err := NewOpenAICompatible(cfg.LLMProvider, cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, cfg.LLMTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("LLM client ready", zap.String("provider", cfg.LLMProvider), zap.String("model", cfg.GroqModel))
		return c, nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, ErrNotConfigured
		}
		c, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		logger.Info("LLM client ready", zap.String("provider", "gemini"), zap.String("model", cfg.GeminiModel))
		return c, nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// ExtractJSON schneidet das äußerste JSON-Objekt aus einer Modellantwort.
// Modelle umgeben JSON trotz JSON-Modus gelegentlich mit Markdown-Fences oder Text.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return strings.TrimSpace(s)
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return strings.TrimSpace(s[start:])
	}
	return s[start : end+1]
}
