// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	perrors "psqlm/cli/internal/errors"
)

// DefaultModel is used when the configuration names none.
const DefaultModel = "claude-sonnet-4-5-20250929"

// ErrNoAPIKey is returned by NewAnthropic without a key.
var ErrNoAPIKey = errors.New("anthropic API key is required")

// AnthropicConfig configures the Anthropic translator.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint; tests point it at a local server.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Anthropic implements Translator over the Anthropic Messages API.
type Anthropic struct {
	// client is the SDK client; requests are never retried automatically
	client anthropic.Client
	// model is the model identifier sent with every request
	model string
	// maxTokens bounds the length of generated SQL
	maxTokens int64
	log       *slog.Logger
}

// NewAnthropic creates an Anthropic translator.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrNoAPIKey
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		log:       log,
	}, nil
}

// Translate asks the model for SQL answering req.Question.
func (a *Anthropic) Translate(ctx context.Context, req Request) (Result, error) {
	messages := make([]anthropic.MessageParam, 0, 2*len(req.History)+1)
	for _, t := range req.History {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(t.Question)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(assistantTurn(t))),
		)
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Question)))
	return a.complete(ctx, systemPrompt(req.Schema), messages, req.OnToken)
}

// Fix asks the model to correct SQL that failed.
func (a *Anthropic) Fix(ctx context.Context, req FixRequest) (Result, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Question)),
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(req.SQL)),
		anthropic.NewUserMessage(anthropic.NewTextBlock(fixPrompt(req.Error))),
	}
	return a.complete(ctx, systemPrompt(req.Schema), messages, req.OnToken)
}

func (a *Anthropic) complete(ctx context.Context, system string, messages []anthropic.MessageParam, onToken func(string)) (Result, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  messages,
	}

	start := time.Now()
	var (
		text strings.Builder
		res  = Result{Model: a.model}
		err  error
	)
	if onToken != nil {
		err = a.stream(ctx, params, &text, onToken)
	} else {
		var msg *anthropic.Message
		msg, err = a.client.Messages.New(ctx, params)
		if err == nil {
			for _, block := range msg.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			res.InputTokens = msg.Usage.InputTokens
			res.OutputTokens = msg.Usage.OutputTokens
		}
	}
	a.log.Debug("model request", "model", a.model, "messages", len(messages), "duration", time.Since(start), "err", err)
	if err != nil {
		return Result{}, perrors.Wrap(perrors.TranslationError, "model request failed", err)
	}

	res.SQL = stripMarkdownSQL(text.String())
	if res.SQL == "" {
		return Result{}, perrors.New(perrors.TranslationError, "model returned no SQL")
	}
	return res, nil
}

func (a *Anthropic) stream(ctx context.Context, params anthropic.MessageNewParams, text *strings.Builder, onToken func(string)) error {
	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta()
		if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
			text.WriteString(delta.Delta.Text)
			onToken(delta.Delta.Text)
		}
	}
	return stream.Err()
}
