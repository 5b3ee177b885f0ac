// Package llm holds text-completion clients for the analyzer. Each client is
// constructed once at startup and injected; nothing here is global.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"siteaudit/internal/ports"
)

const (
	defaultMaxTokens = 2048
	maxBodyBytes     = 10 * 1024 * 1024 // 10 MiB
)

// Options configure a provider client.
type Options struct {
	Provider string // openai or anthropic
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint, e.g. an OpenAI-compatible gateway.
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// New builds the completion client named by opts.Provider.
func New(opts Options) (ports.Completer, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key not set for provider %q", opts.Provider)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: model not set for provider %q", opts.Provider)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	client := &http.Client{Timeout: timeout}

	switch strings.ToLower(opts.Provider) {
	case "openai", "":
		base := opts.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &openaiProvider{
			endpoint:  strings.TrimRight(base, "/") + "/chat/completions",
			model:     opts.Model,
			apiKey:    opts.APIKey,
			maxTokens: maxTokens,
			client:    client,
		}, nil
	case "anthropic":
		base := opts.BaseURL
		if base == "" {
			base = "https://api.anthropic.com/v1"
		}
		return &anthropicProvider{
			endpoint:  strings.TrimRight(base, "/") + "/messages",
			model:     opts.Model,
			apiKey:    opts.APIKey,
			maxTokens: maxTokens,
			client:    client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q: supported providers are openai, anthropic", opts.Provider)
	}
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// Disabled returns a Completer that always fails with reason. It stands in
// when no provider is configured so every analysis takes the fallback path.
func Disabled(reason error) ports.Completer {
	return disabled{reason: reason}
}

type disabled struct{ reason error }

func (d disabled) Complete(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("llm disabled: %w", d.reason)
}

// StatusError is a non-200 reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Provider + ": " + e.Message
}

// Temporary reports whether repeating the request may succeed. Rate limits
// and server errors may; bad keys, bad models and bad requests will not.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
