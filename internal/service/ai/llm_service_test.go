package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/facechat/backend/internal/config"
)

type fakeChatModel struct {
	reply    string
	err      error
	received []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not used")
}

func TestGenerateSendsPromptVerbatim(t *testing.T) {
	fake := &fakeChatModel{reply: "Sure: here you go"}
	svc, err := NewServiceWithModel(context.Background(), fake, config.AIConfig{Provider: "fake", Model: "m"})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	got, err := svc.Generate(context.Background(), "tell me {something}")
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if got != "Sure: here you go" {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(fake.received) != 1 || fake.received[0].Role != schema.User {
		t.Fatalf("expected a single user message, got %+v", fake.received)
	}
	if fake.received[0].Content != "tell me {something}" {
		t.Fatalf("prompt was altered: %q", fake.received[0].Content)
	}
}

func TestGenerateIncludesSystemPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	cfg := config.AIConfig{Provider: "fake", Model: "m", SystemPrompt: "Answer as {json}"}
	svc, err := NewServiceWithModel(context.Background(), fake, cfg)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	if _, err := svc.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if len(fake.received) != 2 || fake.received[0].Role != schema.System {
		t.Fatalf("expected system + user messages, got %+v", fake.received)
	}
	if fake.received[0].Content != "Answer as {json}" {
		t.Fatalf("system prompt braces not preserved: %q", fake.received[0].Content)
	}
}

func TestGenerateEmptyReply(t *testing.T) {
	svc, err := NewServiceWithModel(context.Background(), &fakeChatModel{}, config.AIConfig{})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	reply, err := svc.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("expected empty reply to succeed, got %v", err)
	}
	if reply != "" {
		t.Fatalf("expected empty reply, got %q", reply)
	}
}

func TestGenerateWrapsModelError(t *testing.T) {
	boom := errors.New("quota exceeded")
	svc, err := NewServiceWithModel(context.Background(), &fakeChatModel{err: boom}, config.AIConfig{})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	_, err = svc.Generate(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected model error to surface, got %v", err)
	}
}

func TestDisabledGeneratorFails(t *testing.T) {
	if _, err := (Disabled{}).Generate(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
