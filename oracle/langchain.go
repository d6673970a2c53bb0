// Package oracle adapts langchaingo chat models to multihop.Oracle.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/smhanov/multihop"
)

// EmptyResponseError is returned when the model answers with no content.
type EmptyResponseError struct {
	Provider string
	Model    string
	Duration time.Duration
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s model %s returned an empty response after %s", e.Provider, e.Model, e.Duration.Round(time.Millisecond))
}

// LangChain wraps any langchaingo model as a multihop.Oracle.
//
// Thread Safety: safe for concurrent use when the wrapped model is.
type LangChain struct {
	model    llms.Model
	provider string
	name     string

	limiter *rate.Limiter
	logger  *slog.Logger

	// Dollars per 1000 tokens; zero disables cost reporting.
	inputCost  float64
	outputCost float64
}

// Option configures a LangChain adapter.
type Option func(*LangChain)

// WithRateLimit caps outgoing calls at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(l *LangChain) {
		if perSecond <= 0 {
			l.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCost sets the dollar price per 1000 input and output tokens.
func WithCost(inputPer1K, outputPer1K float64) Option {
	return func(l *LangChain) {
		l.inputCost = inputPer1K
		l.outputCost = outputPer1K
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *LangChain) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New wraps an already constructed model. provider and name only label
// metrics and errors.
func New(model llms.Model, provider, name string, opts ...Option) *LangChain {
	l := &LangChain{
		model:    model,
		provider: provider,
		name:     name,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewOpenAI connects to an OpenAI compatible chat completions endpoint.
// An empty baseURL uses the public API.
func NewOpenAI(model, token, baseURL string, opts ...Option) (*LangChain, error) {
	clientOpts := []openai.Option{openai.WithModel(model), openai.WithToken(token)}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return New(llm, "openai", model, opts...), nil
}

// NewOllama connects to an Ollama server such as http://localhost:11434.
func NewOllama(model, serverURL string, opts ...Option) (*LangChain, error) {
	clientOpts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
			serverURL = "http://" + serverURL
		}
		clientOpts = append(clientOpts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return New(llm, "ollama", model, opts...), nil
}

// Generate implements multihop.Oracle.
func (l *LangChain) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (multihop.OracleResponse, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return multihop.OracleResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	activeRequests.WithLabelValues(l.provider).Inc()
	defer activeRequests.WithLabelValues(l.provider).Dec()

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	resp, err := l.model.GenerateContent(ctx, messages, llms.WithTemperature(temperature))
	duration := time.Since(start)
	if err != nil {
		recordCall(l.provider, duration, 0, 0, err)
		l.logger.Warn("oracle request failed", "provider", l.provider, "model", l.name, "error", err)
		return multihop.OracleResponse{}, fmt.Errorf("%s generate: %w", l.provider, err)
	}

	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		emptyErr := &EmptyResponseError{Provider: l.provider, Model: l.name, Duration: duration}
		recordCall(l.provider, duration, 0, 0, emptyErr)
		return multihop.OracleResponse{}, emptyErr
	}

	choice := resp.Choices[0]
	inputTokens, ok := intInfo(choice.GenerationInfo, "PromptTokens")
	if !ok {
		inputTokens = estimateTokens(systemPrompt) + estimateTokens(userPrompt)
	}
	outputTokens, ok := intInfo(choice.GenerationInfo, "CompletionTokens")
	if !ok {
		outputTokens = estimateTokens(choice.Content)
	}
	recordCall(l.provider, duration, inputTokens, outputTokens, nil)

	return multihop.OracleResponse{
		Text: choice.Content,
		Cost: (float64(inputTokens)*l.inputCost + float64(outputTokens)*l.outputCost) / 1000,
	}, nil
}

// intInfo reads a token count from provider generation info, which reports
// numbers as either int or float64 depending on the backend.
func intInfo(info map[string]any, key string) (int, bool) {
	switch v := info[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// estimateTokens approximates four characters per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
