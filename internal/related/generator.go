package related

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eternisai/search-chat/internal/chat"
	"github.com/eternisai/search-chat/internal/config"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/routing"
	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"
)

const requestTimeout = 30 * time.Second

// Item is one suggested follow-up query.
type Item struct {
	Query string `json:"query" jsonschema:"required,description=A follow-up search query"`
}

// Questions is the payload of the related-questions annotation.
type Questions struct {
	Items []Item `json:"items" jsonschema:"required,description=Follow-up queries that explore the subject further"`
}

// Router resolves a model ID to an endpoint.
type Router interface {
	RouteModel(modelID string) (*routing.ProviderConfig, error)
}

// Generator asks a model for follow-up questions using a JSON schema response format.
type Generator struct {
	router     Router
	model      string
	prompt     string
	maxItems   int
	schema     *jsonschema.Schema
	httpClient *http.Client
	logger     *logger.Logger
}

func NewGenerator(router Router, cfg config.RelatedQuestionsConfig, logger *logger.Logger) *Generator {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = config.DefaultRelatedQuestionsMaxItems
	}

	prompt := cfg.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = config.DefaultRelatedQuestionsPrompt
	}

	return &Generator{
		router:     router,
		model:      cfg.Model,
		prompt:     strings.TrimSpace(prompt),
		maxItems:   maxItems,
		schema:     reflector.Reflect(&Questions{}),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.WithComponent("related-questions"),
	}
}

// Generate returns follow-up questions for the response transcript. The last message of
// the transcript is sent to the model as the user's input.
func (g *Generator) Generate(ctx context.Context, messages []chat.ClientMessage, modelID string) (*Questions, error) {
	if len(messages) == 0 {
		return nil, errors.New("empty transcript")
	}

	if g.model != "" {
		modelID = g.model
	}

	provider, err := g.router.RouteModel(modelID)
	if err != nil {
		return nil, fmt.Errorf("route related questions model: %w", err)
	}

	clientConfig := openai.DefaultConfig(provider.APIKey)
	clientConfig.BaseURL = provider.BaseURL
	clientConfig.HTTPClient = g.httpClient
	client := openai.NewClientWithConfig(clientConfig)

	last := messages[len(messages)-1]

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: provider.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("%s\nReturn at most %d queries.", g.prompt, g.maxItems),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: last.Text(),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "related_questions",
				Strict: true,
				Schema: g.schema,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call AI at %s (model: %s): %w", provider.BaseURL, provider.Model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	questions, err := parseQuestions(resp.Choices[0].Message.Content, g.maxItems)
	if err != nil {
		return nil, err
	}

	g.logger.WithContext(ctx).Debug("related questions generated",
		slog.String("model", provider.Model),
		slog.Int("count", len(questions.Items)),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()))

	return questions, nil
}

// parseQuestions decodes the model output, dropping blank queries and anything beyond
// maxItems.
func parseQuestions(content string, maxItems int) (*Questions, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw Questions
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("decode related questions: %w", err)
	}

	questions := &Questions{Items: make([]Item, 0, len(raw.Items))}
	for _, item := range raw.Items {
		query := strings.TrimSpace(item.Query)
		if query == "" {
			continue
		}
		questions.Items = append(questions.Items, Item{Query: query})
		if len(questions.Items) == maxItems {
			break
		}
	}
	return questions, nil
}
