package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Generator produces the assistant reply for one user utterance.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// Config controls generator construction.
type Config struct {
	Mode          string
	HTTPURL       string
	HTTPTimeout   time.Duration
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
}

// NewGenerator builds the generator for cfg.Mode. In auto mode an OpenAI key
// wins over an HTTP endpoint, and the offline responder is used when neither
// is set.
func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.OpenAIKey) != "" {
			return NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
		}
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPGenerator(cfg.HTTPURL, cfg.HTTPTimeout), nil
		}
		return NewOfflineGenerator(), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("BRAIN_HTTP_URL is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.HTTPTimeout), nil
	case "offline":
		return NewOfflineGenerator(), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

// Name reports which implementation g is, for logs and readiness output.
func Name(g Generator) string {
	switch g.(type) {
	case *OpenAIGenerator:
		return "openai"
	case *HTTPGenerator:
		return "http"
	case *OfflineGenerator:
		return "offline"
	case *MockGenerator:
		return "mock"
	default:
		return "custom"
	}
}
