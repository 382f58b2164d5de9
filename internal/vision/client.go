package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Supported inference backends.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Request carries one or more images plus a prompt to the inference
// service. Images appear in the message in the given order, before the
// prompt text.
type Request struct {
	Images    [][]byte // encoded image bytes
	MIME      string   // image MIME type, defaults to image/jpeg
	Prompt    string
	MaxTokens int // 0 uses the client default
}

// Client is the vision-language inference capability the pipeline depends
// on. The production implementation is LLMClient; tests substitute fakes.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config configures the production client.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	CallTimeout time.Duration
	CallDelay   time.Duration // minimum spacing between calls
}

// LLMClient calls a vision-language model through langchaingo. All calls
// share one rate limiter so concurrent chunk tasks respect the configured
// inter-call delay.
type LLMClient struct {
	provider    string
	model       string
	llm         llms.Model
	maxTokens   int
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter

	Stats *CallStats
}

func NewLLMClient(cfg Config) (*LLMClient, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(cfg.Model), anthropic.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", cfg.Provider, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.CallDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.CallDelay), 1)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &LLMClient{
		provider:    cfg.Provider,
		model:       cfg.Model,
		llm:         model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		limiter:     limiter,
		Stats:       NewCallStats(time.Hour),
	}, nil
}

// Model returns the configured model name.
func (c *LLMClient) Model() string {
	return c.model
}

// Generate sends the request and returns the raw response text. The call
// waits on the shared limiter, then runs under its own timeout so a stuck
// call degrades only its own chunk.
func (c *LLMClient) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Images) == 0 {
		return "", fmt.Errorf("vision request has no images")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parts := make([]llms.ContentPart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, c.imagePart(img, req.MIME))
	}
	parts = append(parts, llms.TextPart(req.Prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	opts := []llms.CallOption{
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(c.temperature),
	}

	start := time.Now()
	completion, err := c.llm.GenerateContent(callCtx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: parts,
		},
	}, opts...)
	c.Stats.Record(time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return "", classify(fmt.Errorf("vision %s: %w", c.provider, err))
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty response from vision model")
	}
	return completion.Choices[0].Content, nil
}

// imagePart picks the wire format the provider understands. OpenAI-style
// endpoints want a base64 data URL; anthropic and ollama take raw bytes.
func (c *LLMClient) imagePart(data []byte, mime string) llms.ContentPart {
	if mime == "" {
		mime = "image/jpeg"
	}
	if c.provider == ProviderOpenAI {
		return llms.ImageURLPart("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
	}
	return llms.BinaryPart(mime, data)
}

// RetryableError indicates a transient inference failure worth retrying.
type RetryableError struct {
	Message string
	Err     error
}

func (e *RetryableError) Error() string {
	return "retryable vision error: " + e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// langchaingo surfaces provider failures as opaque errors, so transient
// conditions are recognized by message content rather than status code.
var transientMarkers = []string{
	"429", "rate limit", "overloaded", "too many requests",
	"500", "502", "503", "504",
	"timeout", "deadline exceeded",
	"connection refused", "connection reset", "eof",
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RetryableError{Message: "call timed out", Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return &RetryableError{Message: truncate(err.Error(), 200), Err: err}
		}
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
