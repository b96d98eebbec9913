// Package config provides layered configuration for sitechat.
// Configuration is loaded with the precedence: process env → .env file → YAML file → defaults.
// Values from files are projected onto environment variables, and every
// component reads its settings from the environment, so a deployment that only
// sets env vars never needs a file.
//
// YAML search order:
//  1. --config CLI flag (explicit path)
//  2. SITECHAT_CONFIG environment variable
//  3. ~/.sitechat/config.yaml
//  4. ./sitechat.yaml
//
// The .env file is read from --env-file, or ./.env when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Site describes the website being indexed.
	Site SiteConfig `yaml:"site"`

	// Ingest configures the ingestion pipeline.
	Ingest IngestConfig `yaml:"ingest"`

	// Retrieval configures search and re-ranking.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Chat configures the answer streamer.
	Chat ChatConfig `yaml:"chat"`

	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// VectorStore selects and configures the chunk store.
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Runs configures the ingest run ledger.
	Runs RunsConfig `yaml:"runs"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// SiteConfig holds the indexed site's settings.
type SiteConfig struct {
	// BaseURL is the site origin, e.g. https://www.example.com.
	BaseURL string `yaml:"base_url"`
	// SitemapPath is the root sitemap path relative to BaseURL.
	SitemapPath string `yaml:"sitemap_path"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// Token is the shared secret guarding the ingest endpoint. Prefer env var INGEST_TOKEN.
	Token string `yaml:"token"`
	// Delay is the minimum spacing between page fetches (Go duration).
	Delay string `yaml:"delay"`
	// ChunkMaxChars is the soft chunk size bound.
	ChunkMaxChars int `yaml:"chunk_max_chars"`
	// BatchSize is the number of chunks per embedding call.
	BatchSize int `yaml:"batch_size"`
	// PruneStale deletes chunks of a re-ingested page that were not rewritten.
	PruneStale bool `yaml:"prune_stale"`
	// FetchTimeout bounds each page or sitemap fetch (Go duration).
	FetchTimeout string `yaml:"fetch_timeout"`
}

// RetrievalConfig holds search and re-ranking settings.
type RetrievalConfig struct {
	// MatchCount is the over-fetch count requested from the store.
	MatchCount int `yaml:"match_count"`
	// SimilarityThreshold drops hits scoring below it.
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	// MaxPerURL caps hits kept per source page.
	MaxPerURL int `yaml:"max_per_url"`
	// MaxTotal caps the number of hits passed to generation.
	MaxTotal int `yaml:"max_total"`
	// SearchTimeout bounds the store search (Go duration).
	SearchTimeout string `yaml:"search_timeout"`
}

// ChatConfig holds answer streamer settings.
type ChatConfig struct {
	// SystemPrompt overrides the built-in instruction text.
	SystemPrompt string `yaml:"system_prompt"`
	// StrictValidation rejects an empty message with HTTP 400 instead of a streamed prompt.
	StrictValidation bool `yaml:"strict_validation"`
	// Timeout bounds one chat request end to end (Go duration).
	Timeout string `yaml:"timeout"`
	// ContextTokens is the token budget for the retrieved context block.
	ContextTokens int `yaml:"context_tokens"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: openai, responses, azure, ollama, gemini, ark.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`

	// Ark holds Volcengine Ark-specific settings.
	Ark ArkConfig `yaml:"ark"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL overrides the API root, e.g. for a proxy.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model ID.
	Model string `yaml:"model"`
	// BaseURL overrides the Ark API root.
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (openai, azure, ollama, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// VectorStoreConfig selects the chunk store.
type VectorStoreConfig struct {
	// Backend is qdrant or postgres.
	Backend string `yaml:"backend"`
	// Qdrant holds Qdrant settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
	// Postgres holds Postgres/pgvector settings.
	Postgres PostgresConfig `yaml:"postgres"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// PostgresConfig holds Postgres/pgvector settings.
type PostgresConfig struct {
	// DSN is the connection string. Prefer env var DATABASE_URL.
	DSN string `yaml:"dsn"`
	// Table is the chunk table name.
	Table string `yaml:"table"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is an optional Bearer token for the chat API. Prefer env var SITECHAT_API_KEY.
	APIKey string `yaml:"api_key"`
	// AllowedOrigins is a comma-separated CORS allow-list.
	AllowedOrigins string `yaml:"allowed_origins"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// RunsConfig holds ingest run ledger settings.
type RunsConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"SITE_BASE_URL", func(c *Config) string { return c.Site.BaseURL }},
	{"SITEMAP_PATH", func(c *Config) string { return c.Site.SitemapPath }},
	{"INGEST_TOKEN", func(c *Config) string { return c.Ingest.Token }},
	{"INGEST_DELAY", func(c *Config) string { return c.Ingest.Delay }},
	{"CHUNK_MAX_CHARS", func(c *Config) string { return intStr(c.Ingest.ChunkMaxChars) }},
	{"EMBED_BATCH_SIZE", func(c *Config) string { return intStr(c.Ingest.BatchSize) }},
	{"INGEST_PRUNE_STALE", func(c *Config) string { return boolStr(c.Ingest.PruneStale) }},
	{"FETCH_TIMEOUT", func(c *Config) string { return c.Ingest.FetchTimeout }},
	{"RAG_MATCH_COUNT", func(c *Config) string { return intStr(c.Retrieval.MatchCount) }},
	{"RAG_SIMILARITY_THRESHOLD", func(c *Config) string { return float32Str(c.Retrieval.SimilarityThreshold) }},
	{"RAG_MAX_PER_URL", func(c *Config) string { return intStr(c.Retrieval.MaxPerURL) }},
	{"RAG_MAX_TOTAL", func(c *Config) string { return intStr(c.Retrieval.MaxTotal) }},
	{"RAG_SEARCH_TIMEOUT", func(c *Config) string { return c.Retrieval.SearchTimeout }},
	{"CHAT_SYSTEM_PROMPT", func(c *Config) string { return c.Chat.SystemPrompt }},
	{"CHAT_STRICT_VALIDATION", func(c *Config) string { return boolStr(c.Chat.StrictValidation) }},
	{"CHAT_TIMEOUT", func(c *Config) string { return c.Chat.Timeout }},
	{"CHAT_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Chat.ContextTokens) }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"VECTOR_STORE", func(c *Config) string { return c.VectorStore.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.VectorStore.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.VectorStore.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.VectorStore.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.VectorStore.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.VectorStore.Qdrant.TLS) }},
	{"DATABASE_URL", func(c *Config) string { return c.VectorStore.Postgres.DSN }},
	{"POSTGRES_TABLE", func(c *Config) string { return c.VectorStore.Postgres.Table }},
	{"SITECHAT_HOST", func(c *Config) string { return c.Server.Host }},
	{"SITECHAT_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"SITECHAT_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"CORS_ALLOWED_ORIGINS", func(c *Config) string { return c.Server.AllowedOrigins }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"SITECHAT_RUNS_DB", func(c *Config) string { return c.Runs.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv applies KEY=VALUE pairs from a .env file to the process
// environment without overwriting variables that are already set. An empty
// path means ./.env; a missing default file is not an error.
func LoadDotEnv(path string, log *slog.Logger) (string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: failed to load %s: %w", path, err)
	}

	log.Debug("config: loaded .env file", slog.String("path", path))
	return path, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SITECHAT_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".sitechat", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("sitechat.yaml"); err == nil {
		return "sitechat.yaml"
	}

	return ""
}

// String returns the value of the named environment variable, or fallback if
// the variable is unset or empty.
func String(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Int returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func Int(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

// Float32 returns the float32 value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func Float32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

// Bool returns the boolean value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func Bool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// Duration returns the duration value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func Duration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

// List splits a comma-separated environment variable into trimmed, non-empty
// items. It returns nil when the variable is unset.
func List(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
