// Package llm adapts langchaingo chat models to the pipeline's LLM interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"corpus/internal/domain"
)

// Defaults applied to every chat request that leaves them unset.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1000
)

// Config selects and configures a chat model provider.
type Config struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// APIKey takes precedence over APIKeyEnv.
	APIKey    string `yaml:"-"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// New builds the chat model named by cfg.Provider. An empty provider selects OpenAI.
func New(cfg Config) (*Model, error) {
	switch cfg.Provider {
	case "", "openai":
		key := cfg.APIKey
		if key == "" && cfg.APIKeyEnv != "" {
			key = os.Getenv(cfg.APIKeyEnv)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: missing chat API key (env %s)", domain.ErrInvalidConfig, cfg.APIKeyEnv)
		}
		opts := []openai.Option{openai.WithToken(key)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai chat model: %w", err)
		}
		return NewModel(client, "openai"), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "mistral"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		client, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama chat model: %w", err)
		}
		return NewModel(client, "ollama"), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", domain.ErrInvalidConfig, cfg.Provider)
	}
}

var _ domain.LLM = (*Model)(nil)

// Model is a domain.LLM backed by a langchaingo model.
type Model struct {
	model    llms.Model
	provider string
}

// NewModel wraps a langchaingo model. Provider names the backend in errors.
func NewModel(model llms.Model, provider string) *Model {
	return &Model{model: model, provider: provider}
}

// Complete returns the full answer for req.
func (m *Model) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	resp, err := m.model.GenerateContent(ctx, messages(req), options(req)...)
	if err != nil {
		return "", m.wrap("complete", ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

// Stream calls onToken for every chunk the model produces and returns the
// concatenated answer.
func (m *Model) Stream(ctx context.Context, req domain.ChatRequest, onToken func(token string) error) (string, error) {
	var (
		full     strings.Builder
		tokenErr error
	)
	opts := append(options(req), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		token := string(chunk)
		full.WriteString(token)
		if err := onToken(token); err != nil {
			tokenErr = err
			return err
		}
		return nil
	}))

	_, err := m.model.GenerateContent(ctx, messages(req), opts...)
	if tokenErr != nil {
		return full.String(), tokenErr
	}
	if err != nil {
		return full.String(), m.wrap("stream", ctx, err)
	}
	return full.String(), nil
}

func (m *Model) wrap(op string, ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, ctxErr) || errors.Is(err, context.Canceled)) {
		return ctxErr
	}
	return &domain.UpstreamError{Provider: m.provider, Op: op, Err: err}
}

func messages(req domain.ChatRequest) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := llms.ChatMessageTypeHuman
		switch msg.Role {
		case domain.RoleSystem:
			role = llms.ChatMessageTypeSystem
		case domain.RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}

func options(req domain.ChatRequest) []llms.CallOption {
	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	opts = append(opts, llms.WithTemperature(req.Temperature))
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}
