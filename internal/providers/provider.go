package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the statically known provider families.
type Kind string

const (
	KindOpenAIChat Kind = "chatgpt"
	KindGemini     Kind = "gemini"
	KindClaude     Kind = "claude"
	KindGrok       Kind = "grok"
	KindCustom     Kind = "custom"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
)

// Kinds lists every provider kind in declaration order.
var Kinds = []Kind{KindOpenAIChat, KindGemini, KindClaude, KindGrok, KindCustom}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Text string
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// StatusError reports a non-2xx answer from a provider endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

func IsUnauthorized(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusUnauthorized
}

// SplitPrompt returns the trailing user prompt and the turns before it.
func SplitPrompt(msgs []Message) (history []Message, prompt string) {
	if len(msgs) == 0 {
		return nil, ""
	}
	last := msgs[len(msgs)-1]
	return msgs[:len(msgs)-1], last.Content
}
