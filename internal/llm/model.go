package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

// Generator produces text for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrNoToken is returned when no model-access token is configured.
var ErrNoToken = errors.New("model token not configured")

// ScoutInstructions is the system prompt used for ranking calls.
var ScoutInstructions = strings.Join([]string{
	"You are Scout, a bounty discovery and analysis agent for Superteam Earn.",
	"",
	"When ranking bounties, consider:",
	"- Reward amount vs. estimated effort",
	"- Deadline (prefer bounties with >3 days remaining)",
	"- Type: dev, content, analysis, design (we excel at dev and analysis)",
	"- Clarity of requirements (vague bounties are risky)",
	"",
	"Output a ranked list with your reasoning for each bounty.",
}, "\n")

// Model wraps a langchaingo model for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	system    string
}

// NewModel creates the configured provider's model.
func NewModel(provider, name, token string) (*Model, error) {
	switch provider {
	case "anthropic", "":
		if token == "" {
			return nil, ErrNoToken
		}
		model, err := anthropic.New(
			anthropic.WithToken(token),
			anthropic.WithModel(name),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return &Model{llm: model, modelName: name, system: ScoutInstructions}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// Generate sends the prompt with the scout system prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	if m.system == "" {
		response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		return response, nil
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, m.system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}

// Name returns the model identifier.
func (m *Model) Name() string {
	return m.modelName
}

// Unavailable is a Generator that always fails with Err. It stands in for a
// model that could not be built so callers take their fallback path.
type Unavailable struct {
	Err error
}

func (u Unavailable) Generate(context.Context, string) (string, error) {
	if u.Err == nil {
		return "", ErrNoToken
	}
	return "", u.Err
}

// FromConfig returns a Model, or Unavailable carrying the build error.
func FromConfig(provider, name, token string) Generator {
	m, err := NewModel(provider, name, token)
	if err != nil {
		return Unavailable{Err: err}
	}
	return m
}
