package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/eternisai/search-chat/internal/config"
	"github.com/eternisai/search-chat/internal/logger"
)

// ModelRouter resolves model identifiers to inference endpoints and capability profiles.
//
// Routing Strategy:
//  1. Exact match on the canonical name or an alias
//  2. Prefix match: "llama3.1:8b-instruct" → "llama3.1"
//  3. Fallback: the "*" wildcard model, if configured
type ModelRouter struct {
	aliases map[string]string
	routes  atomic.Pointer[map[string]ModelRoute]
	logger  *logger.Logger
}

// ModelRoute holds the endpoints and capability profile of one canonical model.
type ModelRoute struct {
	Endpoints []*ProviderConfig
	Profile   CapabilityProfile

	// RoundRobinCounter balances requests across Endpoints.
	RoundRobinCounter *atomic.Uint64
}

// ProviderConfig contains aggregated routing information for one model endpoint.
type ProviderConfig struct {
	// BaseURL is the OpenAI-compatible base URL (e.g. "https://api.openai.com/v1").
	BaseURL string

	// APIKey is the API key for authentication. Empty for local servers.
	APIKey string

	// Name is a human-readable provider name (e.g. "OpenAI", "Ollama").
	Name string

	// Model is the model name the provider expects in requests.
	Model string
}

// CapabilityProfile describes what a model can do. It is sourced from configuration and
// treated as opaque by the chat pipeline.
type CapabilityProfile struct {
	Model         string
	Capabilities  []string
	ContextWindow int
}

// Has reports whether the profile declares the given capability tag.
func (p CapabilityProfile) Has(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

// NewModelRouter creates a new model router from configuration.
func NewModelRouter(cfg *config.ModelRouterConfig, logger *logger.Logger) (*ModelRouter, error) {
	router := &ModelRouter{
		logger: logger.WithComponent("model-router"),
	}

	router.RebuildRoutes(cfg)

	routes := router.GetRoutes()
	if len(routes) == 0 {
		return nil, errors.New("model router has no model routes")
	}

	router.logger.Info("model router initialized",
		slog.Int("route_count", len(routes)))

	return router, nil
}

// GetRoutes retrieves the current routing map.
func (mr *ModelRouter) GetRoutes() map[string]ModelRoute {
	routes := mr.routes.Load()
	if routes == nil {
		return nil
	}
	return *routes
}

// SetRoutes atomically replaces the routing map.
func (mr *ModelRouter) SetRoutes(routes map[string]ModelRoute) {
	mr.routes.Store(&routes)
}

// RebuildRoutes rebuilds the routing table and alias mapping from declarative configuration.
func (mr *ModelRouter) RebuildRoutes(cfg *config.ModelRouterConfig) {
	if cfg == nil {
		return
	}

	aliases := make(map[string]string, len(cfg.Models)*2)
	routes := make(map[string]ModelRoute, len(cfg.Models))

	providers := make(map[string]config.ModelProviderConfig, len(cfg.Providers))
	for _, modelProvider := range cfg.Providers {
		if _, exists := providers[modelProvider.Name]; exists {
			mr.logger.Warn("skipping duplicate provider config entry",
				slog.String("provider", modelProvider.Name))
			continue
		}
		providers[modelProvider.Name] = modelProvider
	}

	for _, model := range cfg.Models {
		if _, exists := routes[model.Name]; exists {
			mr.logger.Warn("skipping duplicate model config entry",
				slog.String("model", model.Name))
			continue
		}

		var endpoints []*ProviderConfig
		for _, endpointProvider := range model.Providers {
			modelProvider, exists := providers[endpointProvider.Name]
			if !exists {
				mr.logger.Warn("skipping unknown model endpoint provider",
					slog.String("model", model.Name),
					slog.String("provider", endpointProvider.Name))
				continue
			}

			provider := &ProviderConfig{
				BaseURL: modelProvider.BaseURL,
				APIKey:  modelProvider.APIKey,
				Name:    modelProvider.Name,
				Model:   model.Name,
			}
			if endpointProvider.Model != "" {
				provider.Model = endpointProvider.Model
			}
			if endpointProvider.BaseURL != "" {
				provider.BaseURL = endpointProvider.BaseURL
			}
			if provider.BaseURL == "" {
				mr.logger.Warn("skipping model endpoint without base URL",
					slog.String("model", model.Name),
					slog.String("provider", endpointProvider.Name))
				continue
			}

			endpoints = append(endpoints, provider)
		}

		if len(endpoints) == 0 {
			mr.logger.Warn("skipping model with no configured provider endpoints",
				slog.String("model", model.Name))
			continue
		}

		contextWindow := model.ContextWindow
		if contextWindow <= 0 {
			contextWindow = config.DefaultContextWindow
		}

		routes[model.Name] = ModelRoute{
			Endpoints: endpoints,
			Profile: CapabilityProfile{
				Model:         model.Name,
				Capabilities:  slices.Clone(model.Capabilities),
				ContextWindow: contextWindow,
			},
			RoundRobinCounter: &atomic.Uint64{},
		}

		aliases[normalize(model.Name)] = model.Name
		for _, alias := range model.Aliases {
			aliases[normalize(alias)] = model.Name
		}
	}

	mr.aliases = aliases
	mr.SetRoutes(routes)
}

// RouteModel determines the endpoint for a given model ID.
func (mr *ModelRouter) RouteModel(modelID string) (*ProviderConfig, error) {
	if modelID == "" {
		return nil, errors.New("model ID is required")
	}

	canonical, ok := mr.resolve(modelID)
	if ok {
		if provider := mr.getModelEndpointProvider(canonical); provider != nil {
			mr.logger.Debug("model routed",
				slog.String("model", modelID),
				slog.String("canonical", canonical),
				slog.String("provider", provider.Name))
			return provider, nil
		}
	}

	if provider := mr.getModelEndpointProvider("*"); provider != nil {
		// The wildcard provider receives the model name as requested.
		prov := *provider
		prov.Model = modelID
		mr.logger.Info("model routed to fallback provider",
			slog.String("model", modelID),
			slog.String("provider", prov.Name))
		return &prov, nil
	}

	return nil, fmt.Errorf("no suitable endpoint provider found for model: %s", modelID)
}

// Capabilities returns the capability profile of a model. Unknown models get an empty
// capability set and the default context window.
func (mr *ModelRouter) Capabilities(modelID string) CapabilityProfile {
	if canonical, ok := mr.resolve(modelID); ok {
		if route, exists := mr.GetRoutes()[canonical]; exists {
			return route.Profile
		}
	}

	return CapabilityProfile{
		Model:         modelID,
		ContextWindow: config.DefaultContextWindow,
	}
}

// resolve maps a client-supplied identifier to a canonical model name using exact and
// then longest-prefix alias matching.
func (mr *ModelRouter) resolve(modelID string) (string, bool) {
	normalized := normalize(modelID)

	if canonical, exists := mr.aliases[normalized]; exists {
		return canonical, true
	}

	bestPrefix, bestCanonical := "", ""
	for prefix, canonical := range mr.aliases {
		if prefix == "*" {
			continue
		}
		if strings.HasPrefix(normalized, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix, bestCanonical = prefix, canonical
		}
	}

	return bestCanonical, bestPrefix != ""
}

func (mr *ModelRouter) getModelEndpointProvider(model string) *ProviderConfig {
	route, exists := mr.GetRoutes()[model]
	if !exists || len(route.Endpoints) == 0 {
		return nil
	}

	idx := (route.RoundRobinCounter.Add(1) - 1) % uint64(len(route.Endpoints))
	return route.Endpoints[idx]
}

// GetSupportedModels returns the explicitly configured models, sorted. Does not include "*".
func (mr *ModelRouter) GetSupportedModels() []string {
	routes := mr.GetRoutes()

	models := make([]string, 0, len(routes))
	for model := range routes {
		if model != "*" {
			models = append(models, model)
		}
	}

	sort.Strings(models)

	return models
}

func normalize(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
