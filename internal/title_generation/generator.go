package title_generation

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
	maxRetries      = 3
	requestTimeout  = 30 * time.Second
	maxTokens       = 60
	temperature     = 0.7
	contentTemplate = `Generate a title for this message: "%s"`
)

// Generator calls an OpenAI-compatible chat completions endpoint to produce a raw title.
type Generator struct {
	prompt     string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

// NewGenerator creates a new title generator with the given system prompt.
func NewGenerator(prompt string) *Generator {
	return &Generator{
		prompt:     strings.TrimSpace(prompt),
		httpClient: &http.Client{Timeout: requestTimeout},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// Generate returns the model's title for req, retrying transient failures.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		title, err := g.callAI(ctx, req)
		if err == nil {
			return title, nil
		}

		lastErr = err

		if isRetryableError(err) && attempt < maxRetries {
			select {
			case <-time.After(g.backoff(attempt)):
				continue
			case <-ctx.Done():
				return "", fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		}
		break
	}

	return "", lastErr
}

// callAI makes a single API call to generate a title.
func (g *Generator) callAI(ctx context.Context, req GenerateRequest) (string, error) {
	clientConfig := openai.DefaultConfig(req.APIKey)
	clientConfig.BaseURL = req.BaseURL
	clientConfig.HTTPClient = g.httpClient
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.prompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(contentTemplate, req.UserContent)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("call AI at %s (model: %s): %w", req.BaseURL, req.Model, err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// isRetryableError checks if an error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"no such host", "EOF",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
