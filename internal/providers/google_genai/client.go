package google_genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"chatrelay/internal/providers"
)

// ContextTurns is how many trailing history turns are folded into the prompt.
const ContextTurns = 5

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client sends a single flattened prompt through the genai SDK. Gemini gets
// recent history as a text prefix instead of structured turns.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     c.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.cfg.HTTPClient,
	}
	if base := strings.TrimSpace(c.cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("create genai client: %w", err)
	}

	history, prompt := providers.SplitPrompt(req.Messages)
	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(FlattenPrompt(history, prompt)), nil)
	if err != nil {
		return providers.ChatResponse{}, translateError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return providers.ChatResponse{}, fmt.Errorf("gemini returned no candidates")
	}

	parts := make([]string, 0, len(resp.Candidates[0].Content.Parts))
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	if len(parts) == 0 {
		return providers.ChatResponse{}, fmt.Errorf("gemini response has no text parts")
	}
	return providers.ChatResponse{Text: strings.Join(parts, "")}, nil
}

// FlattenPrompt folds the last ContextTurns turns into a "Context:" block.
func FlattenPrompt(history []providers.Message, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	if len(history) > ContextTurns {
		history = history[len(history)-ContextTurns:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return "Context:\n" + strings.Join(lines, "\n") + "\n\nUser: " + prompt
}

// translateError maps SDK API errors to status errors. Gemini reports a bad
// key as 400 with reason API_KEY_INVALID, which is treated as 401.
func translateError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gemini generate content: %w", err)
	}
	if strings.Contains(apiErr.Message, "API_KEY_INVALID") || strings.Contains(fmt.Sprint(apiErr.Details), "API_KEY_INVALID") {
		return &providers.StatusError{StatusCode: http.StatusUnauthorized, Message: "API_KEY_INVALID"}
	}
	return &providers.StatusError{StatusCode: apiErr.Code, Message: apiErr.Status}
}
