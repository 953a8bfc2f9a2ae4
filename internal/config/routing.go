package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/goccy/go-yaml"
)

// DefaultContextWindow is assumed for models that do not declare one.
const DefaultContextWindow = 128_000

// ModelRouterConfig contains configuration for routing.ModelRouter used to build the
// model routing table and capability profiles.
type ModelRouterConfig struct {
	// Providers contain configuration for inference API providers.
	Providers []ModelProviderConfig `yaml:"providers"`

	// Models contain routing configuration for models known to the service.
	Models []ModelConfig `yaml:"models"`
}

// Validate performs validation of a ModelRouterConfig value:
// - Checks that provider and model lists are not empty
// - Checks that models reference known providers
// - Checks for duplicates in the lists of providers and models
func (cfg *ModelRouterConfig) Validate() error {
	if len(cfg.Providers) == 0 {
		return errors.New("no providers specified in model router configuration")
	}

	providers := make(map[string]struct{}, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if _, exists := providers[provider.Name]; exists {
			return fmt.Errorf("duplicate configuration entry for provider %v", provider.Name)
		}

		providers[provider.Name] = struct{}{}
	}

	if len(cfg.Models) == 0 {
		return errors.New("no models specified in model router configuration")
	}

	models := make(map[string]struct{}, len(cfg.Models))
	for _, model := range cfg.Models {
		for _, provider := range model.Providers {
			if _, providerExists := providers[provider.Name]; !providerExists {
				return fmt.Errorf("unknown provider %v specified for model %v", provider.Name, model.Name)
			}
		}

		if _, modelExists := models[model.Name]; modelExists {
			return fmt.Errorf("duplicate configuration entry for model %v", model.Name)
		}

		models[model.Name] = struct{}{}
	}

	return nil
}

func unmarshalModelRouterConfig(value *ModelRouterConfig, data []byte) error {
	type Aux ModelRouterConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ModelRouterConfig(aux)

	return value.Validate()
}

// ModelProviderConfig contains basic configuration of an inference API provider.
type ModelProviderConfig struct {
	// Name is the human-readable name of the API provider.
	Name string `yaml:"name"`

	// BaseURL is the base URL of the provider's OpenAI-compatible API
	// (e.g. "https://api.openai.com/v1" or "http://localhost:11434/v1").
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnvVar is the name of the environment variable that contains the API key.
	// Local inference servers usually need none.
	APIKeyEnvVar string `yaml:"api_key_env_var,omitempty"`

	// APIKey is resolved from APIKeyEnvVar. Explicit config values are ignored.
	APIKey string `yaml:"-"`
}

// Validate checks the name and URL and resolves APIKey from the environment.
func (cfg *ModelProviderConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("provider name must be specified in model provider configuration")
	}

	if err := validateURLString(cfg.BaseURL); err != nil {
		return err
	}

	if cfg.APIKeyEnvVar != "" {
		cfg.APIKey = os.Getenv(cfg.APIKeyEnvVar)
	}

	return nil
}

func unmarshalModelProviderConfig(value *ModelProviderConfig, data []byte) error {
	type Aux ModelProviderConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ModelProviderConfig(aux)

	return value.Validate()
}

// ModelConfig contains routing configuration and capability metadata for one model.
type ModelConfig struct {
	// Name is the canonical model identifier sent upstream unless a provider overrides it.
	Name string `yaml:"name"`

	// Aliases is the list of alternative identifiers accepted from clients.
	Aliases []string `yaml:"aliases,omitempty"`

	// Capabilities are opaque tags such as "tools" or "vision".
	Capabilities []string `yaml:"capabilities,omitempty"`

	// ContextWindow is the model context size in tokens. Defaults to DefaultContextWindow.
	ContextWindow int `yaml:"context_window,omitempty"`

	// Providers lists the endpoints able to serve this model.
	Providers []ModelEndpointProvider `yaml:"providers"`
}

// Validate checks the name and provider list and applies the context window default.
func (cfg *ModelConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("model name must be specified in model configuration")
	}

	if len(cfg.Providers) == 0 {
		return errors.New("no providers specified in model configuration")
	}

	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}

	return nil
}

func unmarshalModelConfig(value *ModelConfig, data []byte) error {
	type Aux ModelConfig
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ModelConfig(aux)

	return value.Validate()
}

// ModelEndpointProvider contains settings of a specific model endpoint for a provider.
type ModelEndpointProvider struct {
	// Name references a provider from ModelRouterConfig.Providers.
	Name string `yaml:"name"`

	// Model overrides the upstream model name for this provider.
	Model string `yaml:"model,omitempty"`

	// BaseURL overrides the provider base URL for this model.
	BaseURL string `yaml:"base_url,omitempty"`
}

// Validate checks the provider name and the optional URL override.
func (p *ModelEndpointProvider) Validate() error {
	if p.Name == "" {
		return errors.New("provider name must be specified in model endpoint configuration")
	}

	return validateURLString(p.BaseURL)
}

func unmarshalModelEndpointProvider(value *ModelEndpointProvider, data []byte) error {
	type Aux ModelEndpointProvider
	var aux Aux

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	*value = ModelEndpointProvider(aux)

	return value.Validate()
}

func init() {
	yaml.RegisterCustomUnmarshaler[ModelRouterConfig](unmarshalModelRouterConfig)
	yaml.RegisterCustomUnmarshaler[ModelProviderConfig](unmarshalModelProviderConfig)
	yaml.RegisterCustomUnmarshaler[ModelConfig](unmarshalModelConfig)
	yaml.RegisterCustomUnmarshaler[ModelEndpointProvider](unmarshalModelEndpointProvider)
}

// validateURLString performs basic sanity checks of a string that should contain a valid URL.
// Empty strings are ignored.
func validateURLString(str string) error {
	if str == "" {
		return nil
	}

	u, err := url.Parse(str)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL does not contain a hostname")
	}

	return nil
}
