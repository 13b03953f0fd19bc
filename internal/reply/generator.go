// Package reply turns a spoken prompt into the assistant's answer using a
// hosted chat-completion model.
package reply

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel        = openai.GPT4Dot1Mini
	DefaultMaxTokens    = 400
	DefaultInstructions = "You are an AI assistant named Aeris. Answer in a friendly, concise way without using emoji."
)

var (
	// ErrEmptyReply reports a completion without usable text.
	ErrEmptyReply = errors.New("reply generator returned no text")
	// ErrMissingAPIKey reports a generator built without credentials.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")
)

// Config controls the generator.
type Config struct {
	APIKey       string
	Model        string
	Instructions string
	MaxTokens    int
	// BaseURL overrides the API endpoint, e.g. for a compatible local server.
	BaseURL    string
	HTTPClient *http.Client
}

// Generator answers one prompt per call. It keeps no conversation history.
type Generator struct {
	client       *openai.Client
	model        string
	instructions string
	maxTokens    int
}

// New builds a Generator.
func New(cfg Config) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	g := &Generator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        strings.TrimSpace(cfg.Model),
		instructions: strings.TrimSpace(cfg.Instructions),
		maxTokens:    cfg.MaxTokens,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.instructions == "" {
		g.instructions = DefaultInstructions
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	return g, nil
}

// Generate returns the reply text for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyReply
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleDeveloper, Content: g.instructions},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: g.maxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
