// Package genai answers trivia questions with an OpenAI chat model.

package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultTemperature keeps answers factual.
	DefaultTemperature = 0.2
	// DefaultMaxCompletionTokens keeps answers to a chat line or two.
	DefaultMaxCompletionTokens = 120
	// DefaultHistoryTurns is how many previous question/answer pairs are replayed.
	DefaultHistoryTurns = 4
	// NoAnswerToken is what the model is told to reply when it cannot answer.
	NoAnswerToken = "UNKNOWN"
)

// ErrNoChoicesReturned is returned when the API responds without choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// SystemPrompt frames the model as a terse trivia bot in a group chat.
const SystemPrompt = "You are a friendly chat bot in a group channel. Answer factual questions, " +
	"especially about countries, in one short sentence without markdown. " +
	"If the message is not a factual question or you do not know the answer, reply with exactly " + NoAnswerToken + "."

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	HistoryTurns        int
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the answer length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithHistoryTurns sets how many earlier exchanges are sent as context.
func WithHistoryTurns(n int) Option {
	return func(o *Opts) { o.HistoryTurns = n }
}

type exchange struct {
	question string
	answer   string
}

// Client wraps the OpenAI ChatCompletion service and implements trivia.Answerer.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	historyTurns        int

	mu      sync.Mutex
	history []exchange
}

// NewClient initializes a new GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               string(openai.ChatModelGPT4oMini),
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		HistoryTurns:        DefaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "model", cfg.Model)
	return &Client{
		chat:                completionsAdapter{svc: &cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		historyTurns:        cfg.HistoryTurns,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Answer implements trivia.Answerer. Errors and refusals yield no answer.
func (c *Client) Answer(ctx context.Context, question string) (string, bool) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", false
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt)}
	c.mu.Lock()
	for _, ex := range c.history {
		messages = append(messages, openai.UserMessage(ex.question), openai.AssistantMessage(ex.answer))
	}
	c.mu.Unlock()
	messages = append(messages, openai.UserMessage(question))

	answer, err := c.complete(ctx, messages)
	if err != nil {
		slog.Warn("GenAI Answer failed", "error", err)
		return "", false
	}
	if answer == "" || strings.Contains(answer, NoAnswerToken) {
		slog.Debug("GenAI Answer declined", "question", question)
		return "", false
	}
	// one chat line
	answer = strings.Join(strings.Fields(answer), " ")

	c.remember(question, answer)
	return answer, true
}

func (c *Client) remember(question, answer string) {
	if c.historyTurns <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, exchange{question: question, answer: answer})
	if len(c.history) > c.historyTurns {
		c.history = c.history[len(c.history)-c.historyTurns:]
	}
}

// Forget clears the replayed history.
func (c *Client) Forget() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}
