package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"corpus/internal/domain"
)

// fakeModel answers with fixed chunks and records the last call.
type fakeModel struct {
	chunks   []string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	full := ""
	for _, c := range f.chunks {
		if f.opts.StreamingFunc != nil {
			if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
		full += c
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func request() domain.ChatRequest {
	return domain.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		Temperature: 0.2,
		MaxTokens:   1000,
	}
}

func TestModel_Complete(t *testing.T) {
	fake := &fakeModel{chunks: []string{"Hel", "lo"}}
	m := NewModel(fake, "openai")

	answer, err := m.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "Hello", answer)

	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.messages[1].Role)
	assert.Equal(t, "gpt-4o-mini", fake.opts.Model)
	assert.Equal(t, 0.2, fake.opts.Temperature)
	assert.Equal(t, 1000, fake.opts.MaxTokens)
}

func TestModel_Stream(t *testing.T) {
	m := NewModel(&fakeModel{chunks: []string{"a", "", "b", "c"}}, "openai")

	var tokens []string
	full, err := m.Stream(context.Background(), request(), func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tokens)
	assert.Equal(t, "abc", full)
}

func TestModel_StreamAbortedByConsumer(t *testing.T) {
	stop := errors.New("stop")
	m := NewModel(&fakeModel{chunks: []string{"a", "b", "c"}}, "openai")

	calls := 0
	full, err := m.Stream(context.Background(), request(), func(string) error {
		calls++
		return stop
	})
	assert.Same(t, stop, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "a", full)
}

func TestModel_UpstreamError(t *testing.T) {
	m := NewModel(&fakeModel{err: errors.New("rate limited")}, "ollama")

	_, err := m.Complete(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, "ollama complete: rate limited", err.Error())
}

func TestModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewModel(&fakeModel{err: context.Canceled}, "openai")

	_, err := m.Stream(ctx, request(), func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Provider: "openai", APIKeyEnv: "CORPUS_TEST_UNSET_KEY"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = New(Config{Provider: "anthropic"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	m, err := New(Config{Provider: "openai", APIKey: "sk-test", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", m.provider)
}
