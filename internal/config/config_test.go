package config

import (
	"strings"
	"testing"
)

const validConfig = `
model_router:
  providers:
    - name: OpenAI
      base_url: https://api.openai.com/v1
      api_key_env_var: SEARCH_CHAT_TEST_OPENAI_KEY
  models:
    - name: gpt-4o-mini
      providers:
        - name: OpenAI
related_questions:
  model: gpt-4o-mini
`

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("SEARCH_CHAT_TEST_OPENAI_KEY", "sk-test")

	cfg := &Config{StorageBackend: StorageBackendMemory, ValidatorType: "jwk"}
	if err := LoadConfigFile(strings.NewReader(validConfig), cfg); err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}

	if cfg.ModelRouterConfig == nil {
		t.Fatal("expected model router config")
	}
	if got := cfg.ModelRouterConfig.Providers[0].APIKey; got != "sk-test" {
		t.Errorf("APIKey = %q, want resolved from env", got)
	}
	if got := cfg.ModelRouterConfig.Models[0].ContextWindow; got != DefaultContextWindow {
		t.Errorf("ContextWindow = %d, want %d", got, DefaultContextWindow)
	}
	if cfg.RelatedQuestions.Model != "gpt-4o-mini" {
		t.Errorf("RelatedQuestions.Model = %q", cfg.RelatedQuestions.Model)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.TitleGeneration.Prompt != DefaultTitlePrompt {
		t.Error("expected default title prompt")
	}
	if cfg.RelatedQuestions.Prompt != DefaultRelatedQuestionsPrompt {
		t.Error("expected default related questions prompt")
	}
	if cfg.RelatedQuestions.MaxItems != DefaultRelatedQuestionsMaxItems {
		t.Errorf("MaxItems = %d", cfg.RelatedQuestions.MaxItems)
	}
}

func TestLoadConfigFileRejectsInvalidRouting(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown provider",
			yaml: `
model_router:
  providers:
    - name: OpenAI
      base_url: https://api.openai.com/v1
  models:
    - name: gpt-4o
      providers:
        - name: Anthropic
`,
		},
		{
			name: "duplicate provider",
			yaml: `
model_router:
  providers:
    - name: OpenAI
      base_url: https://api.openai.com/v1
    - name: OpenAI
      base_url: https://api.openai.com/v1
  models:
    - name: gpt-4o
      providers:
        - name: OpenAI
`,
		},
		{
			name: "bad base url",
			yaml: `
model_router:
  providers:
    - name: OpenAI
      base_url: ftp://api.openai.com/v1
  models:
    - name: gpt-4o
      providers:
        - name: OpenAI
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := LoadConfigFile(strings.NewReader(tt.yaml), &Config{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	router := &ModelRouterConfig{}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{StorageBackend: StorageBackendSQLite, ValidatorType: "jwk", ModelRouterConfig: router},
		},
		{
			name:    "unknown storage backend",
			cfg:     Config{StorageBackend: "mongo", ValidatorType: "jwk", ModelRouterConfig: router},
			wantErr: true,
		},
		{
			name:    "unknown validator",
			cfg:     Config{StorageBackend: StorageBackendMemory, ValidatorType: "saml", ModelRouterConfig: router},
			wantErr: true,
		},
		{
			name:    "firebase without project",
			cfg:     Config{StorageBackend: StorageBackendMemory, ValidatorType: "firebase", ModelRouterConfig: router},
			wantErr: true,
		},
		{
			name:    "missing router",
			cfg:     Config{StorageBackend: StorageBackendMemory, ValidatorType: "jwk"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
