// Package llm adapts the Anthropic Messages API to the pipeline's query
// generation, URL selection, extraction, and summarization steps. Every
// prompt asks for a JSON reply which is decoded into pulse types.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 2048
	defaultTimeout   = 60 * time.Second
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("llm api key is required")
	// ErrEmptyReply is returned when the model answers without text.
	ErrEmptyReply = errors.New("llm reply is empty")
	// ErrMalformedReply is returned when the reply holds no decodable JSON.
	ErrMalformedReply = errors.New("llm reply is not valid json")
)

// Config describes the model endpoint.
type Config struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxTokens  int64         `mapstructure:"max_tokens"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Client implements the pulse QueryGenerator, URLSelector, Extractor,
// Summarizer, and AvailabilityChecker interfaces.
type Client struct {
	api    anthropic.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a client from cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:    anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.Named("llm"),
	}, nil
}

// Available sends a one-token request to confirm the key and model work.
func (c *Client) Available(ctx context.Context) error {
	if _, err := c.send(ctx, "Reply with OK.", "ping", 1); err != nil {
		return fmt.Errorf("llm provider unavailable: %w", err)
	}
	return nil
}

// complete sends one system+user exchange and decodes the JSON reply into dst.
func (c *Client) complete(ctx context.Context, system, user string, dst any) error {
	reply, err := c.send(ctx, system, user, c.cfg.MaxTokens)
	if err != nil {
		return err
	}
	return decodeJSON(reply, dst)
}

func (c *Client) send(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	started := time.Now()
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	c.logger.Debug("message complete",
		zap.String("model", c.cfg.Model),
		zap.Duration("duration", time.Since(started)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// decodeJSON accepts a bare JSON value or one wrapped in prose or a code fence.
func decodeJSON(reply string, dst any) error {
	reply = strings.TrimSpace(reply)
	if err := json.Unmarshal([]byte(reply), dst); err == nil {
		return nil
	}
	start := strings.IndexAny(reply, "{[")
	if start < 0 {
		return ErrMalformedReply
	}
	closer := byte('}')
	if reply[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(reply, closer)
	if end <= start {
		return ErrMalformedReply
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}
