package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/facechat/backend/internal/config"
)

var (
	// ErrEmptyResponse is returned when the chain yields no message at all.
	ErrEmptyResponse = errors.New("model returned no message")
	// ErrNotConfigured is returned by Disabled.
	ErrNotConfigured = errors.New("AI provider is not configured")
)

// Disabled stands in for Service when no provider credentials are set. Every
// generation fails, so turns are logged and dropped.
type Disabled struct{}

// Generate always returns ErrNotConfigured.
func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

// Service sends one prompt to the configured chat model and returns the
// complete reply. It keeps no conversation history: every call is a single
// independent generation, as the voice UI expects.
type Service struct {
	provider string
	model    string
	chain    compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the chat model described by cfg and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel compiles the generation chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(buildTemplate(cfg.SystemPrompt))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		provider: cfg.Provider,
		model:    cfg.Model,
		chain:    runnable,
	}, nil
}

// Generate runs one non-streaming generation for prompt. A reply with no
// text is returned as "" without error.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{"query": prompt})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", ErrEmptyResponse
	}

	log.Printf("[ai] generated response provider=%s model=%s length=%d", s.provider, s.model, len(response.Content))
	return response.Content, nil
}

func buildTemplate(systemPrompt string) prompt.ChatTemplate {
	if systemPrompt == "" {
		return prompt.FromMessages(schema.FString, schema.UserMessage("{query}"))
	}
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(escapeBraces(systemPrompt)),
		schema.UserMessage("{query}"),
	)
}

// escapeBraces keeps literal braces in a configured system prompt from being
// read as template variables.
func escapeBraces(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '{':
			out = append(out, '{', '{')
		case '}':
			out = append(out, '}', '}')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
