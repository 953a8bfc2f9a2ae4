package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageBackendPostgres  = "postgres"
	StorageBackendSQLite    = "sqlite"
	StorageBackendFirestore = "firestore"
	StorageBackendMemory    = "memory"
)

type Config struct {
	Port    string
	GinMode string

	// Chat history persistence
	ChatHistoryEnabled bool   // ENABLE_SAVE_CHAT_HISTORY; when false finalize stops after assembling messages
	StorageBackend     string // postgres, sqlite, firestore or memory
	DatabaseURL        string
	SQLitePath         string

	// Firestore
	FirebaseProjectID string
	FirebaseCredJSON  string

	// Shared conversation cache (optional)
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	SharedCacheTTL  time.Duration
	SharedCacheSize int // in-memory cache entries when Redis is not configured

	// Annotation relay (optional)
	NatsURL string

	// Auth
	ValidatorType string // jwk or firebase
	JWTJWKSURL    string

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Server
	ServerShutdownTimeoutSeconds int
	CORSAllowedOrigins           string
	MetricsPort                  string // ops listener serving /metrics and /health

	// Logging
	LogLevel  string
	LogFormat string

	// Loaded from the YAML config file.
	ModelRouterConfig *ModelRouterConfig     `yaml:"model_router"`
	TitleGeneration   TitleGenerationConfig  `yaml:"title_generation"`
	RelatedQuestions  RelatedQuestionsConfig `yaml:"related_questions"`
}

// TitleGenerationConfig configures the conversation title generator.
type TitleGenerationConfig struct {
	// Model overrides the turn's model for title generation when set.
	Model  string `yaml:"model,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`
}

// RelatedQuestionsConfig configures the related-questions generator.
type RelatedQuestionsConfig struct {
	// Model overrides the turn's model when set.
	Model    string `yaml:"model,omitempty"`
	Prompt   string `yaml:"prompt,omitempty"`
	MaxItems int    `yaml:"max_items,omitempty"`
}

const (
	DefaultTitlePrompt = `You are a title generator. Generate a concise, descriptive title (3-6 words) for a chat conversation based on the user's first message.

Rules:
- Maximum 6 words
- No quotes or special characters
- Capture the main topic
- Be specific and clear
- Use title case`

	DefaultRelatedQuestionsPrompt = `As a professional web researcher, your task is to generate a set of three queries that explore the subject matter more deeply, building upon the initial query and the information uncovered in its search results.

Aim to create queries that progressively delve into more specific aspects, implications, or adjacent topics related to the initial query. The goal is to anticipate the user's potential information needs and guide them towards a more comprehensive understanding of the subject matter.
Please match the language of the response to the user's language.`

	DefaultRelatedQuestionsMaxItems = 3
)

var AppConfig *Config

func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Chat history
		ChatHistoryEnabled: getEnvOrDefault("ENABLE_SAVE_CHAT_HISTORY", "false") == "true",
		StorageBackend:     strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageBackendPostgres)),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "postgres://localhost/search_chat?sslmode=disable"),
		SQLitePath:         getEnvOrDefault("SQLITE_PATH", "search-chat.db"),

		// Firestore
		FirebaseProjectID: getEnvOrDefault("FIREBASE_PROJECT_ID", ""),
		FirebaseCredJSON:  getEnvOrDefault("FIREBASE_CRED_JSON", ""),

		// Redis
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword:  getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:         getEnvAsInt("REDIS_DB", 0),
		SharedCacheTTL:  getEnvAsDuration("SHARED_CACHE_TTL", 10*time.Minute),
		SharedCacheSize: getEnvAsInt("SHARED_CACHE_SIZE", 1000),

		// NATS
		NatsURL: getEnvOrDefault("NATS_URL", ""),

		// Auth
		ValidatorType: strings.ToLower(getEnvOrDefault("VALIDATOR_TYPE", "jwk")),
		JWTJWKSURL:    getEnvOrDefault("JWT_JWKS_URL", ""),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
		CORSAllowedOrigins:           getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		MetricsPort:                  getEnvOrDefault("METRICS_PORT", "9090"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// The config file only carries settings that are awkward as env vars: the model
	// routing table and prompts.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	log.Printf("Loading config file: %v", configFilePath)

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if err := AppConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if !AppConfig.ChatHistoryEnabled {
		log.Println("Chat history persistence is disabled. Set ENABLE_SAVE_CHAT_HISTORY=true to enable it.")
	}

	if AppConfig.ValidatorType == "jwk" && AppConfig.JWTJWKSURL == "" {
		log.Println("Warning: JWT_JWKS_URL is not set, bearer tokens are accepted without signature verification.")
	}

	if AppConfig.StorageBackend == StorageBackendFirestore && AppConfig.FirebaseProjectID == "" {
		log.Println("Warning: Firebase project ID is missing. Please set FIREBASE_PROJECT_ID environment variable.")
	}
}

// Validate checks settings that cannot be defaulted and fills in prompt defaults.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageBackendPostgres, StorageBackendSQLite, StorageBackendFirestore, StorageBackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.ValidatorType {
	case "jwk", "firebase":
	default:
		return fmt.Errorf("validator type must be either 'jwk' or 'firebase', got %q", c.ValidatorType)
	}

	if c.ValidatorType == "firebase" && c.FirebaseProjectID == "" {
		return fmt.Errorf("firebase project ID is required for the firebase validator")
	}

	if c.ModelRouterConfig == nil {
		return fmt.Errorf("model router configuration is empty")
	}

	if strings.TrimSpace(c.TitleGeneration.Prompt) == "" {
		c.TitleGeneration.Prompt = DefaultTitlePrompt
	}
	if strings.TrimSpace(c.RelatedQuestions.Prompt) == "" {
		c.RelatedQuestions.Prompt = DefaultRelatedQuestionsPrompt
	}
	if c.RelatedQuestions.MaxItems <= 0 {
		c.RelatedQuestions.MaxItems = DefaultRelatedQuestionsMaxItems
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
