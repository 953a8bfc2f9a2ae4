package title_generation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/routing"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	maxTitleWords  = 6
	fallbackLength = 100
)

// Router resolves a model ID to an endpoint.
type Router interface {
	RouteModel(modelID string) (*routing.ProviderConfig, error)
}

// Service produces conversation titles. It never fails: any problem yields the fallback
// excerpt of the seed text.
type Service struct {
	generator *Generator
	router    Router
	model     string
	logger    *logger.Logger
}

// NewService creates a title service. When model is non-empty it is used instead of the
// turn's model.
func NewService(generator *Generator, router Router, model string, logger *logger.Logger) *Service {
	return &Service{
		generator: generator,
		router:    router,
		model:     model,
		logger:    logger.WithComponent("title-generation"),
	}
}

// GenerateTitle returns a short title for seed generated by modelID.
func (s *Service) GenerateTitle(ctx context.Context, seed, modelID string) string {
	log := s.logger.WithContext(ctx)

	if s.model != "" {
		modelID = s.model
	}

	provider, err := s.router.RouteModel(modelID)
	if err != nil {
		log.Warn("no endpoint for title model, using fallback title",
			slog.String("model", modelID),
			slog.String("error", err.Error()))
		return Fallback(seed)
	}

	raw, err := s.generator.Generate(ctx, GenerateRequest{
		Model:       provider.Model,
		BaseURL:     provider.BaseURL,
		APIKey:      provider.APIKey,
		UserContent: seed,
	})
	if err != nil {
		log.Error("failed to generate title, using fallback title",
			slog.String("model", modelID),
			slog.String("provider", provider.Name),
			slog.String("error", err.Error()))
		return Fallback(seed)
	}

	title := NormalizeTitle(raw)
	if title == "" {
		log.Warn("model returned an empty title, using fallback title", slog.String("model", modelID))
		return Fallback(seed)
	}

	log.Debug("title generated", slog.String("title", title))
	return title
}

// NormalizeTitle trims the model output, strips quotes, keeps at most six words and
// title-cases them. Letters after the first of each word keep their case.
func NormalizeTitle(raw string) string {
	title := strings.NewReplacer(`"`, "", "'", "", "“", "", "”", "").Replace(strings.TrimSpace(raw))

	words := strings.Fields(title)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}

	return cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
}

// Fallback returns the first 100 characters of seed.
func Fallback(seed string) string {
	runes := []rune(seed)
	if len(runes) > fallbackLength {
		return string(runes[:fallbackLength])
	}
	return seed
}
