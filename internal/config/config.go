// Package config loads docchat settings from the project config file
// and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultDataDir is the default directory name for docchat data
	DefaultDataDir = ".docchat"
	// DefaultStoresDir is the directory under DataDir holding one
	// subdirectory per similarity store
	DefaultStoresDir = "stores"
	// DefaultHistoryDir is the directory under DataDir holding saved
	// conversations
	DefaultHistoryDir = "history"
	// DefaultConfigFile is the default config filename
	DefaultConfigFile = "config.yaml"
)

// Config holds the application configuration
type Config struct {
	// DataDir is the directory where docchat stores its data
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	// StoresDir is the directory holding the similarity stores
	StoresDir string `mapstructure:"stores_dir" yaml:"stores_dir,omitempty"`
	// HistoryDir is the directory holding saved conversations
	HistoryDir string `mapstructure:"history_dir" yaml:"history_dir,omitempty"`

	// MaxOpenStores bounds how many store handles stay in memory.
	// Zero disables eviction.
	MaxOpenStores int `mapstructure:"max_open_stores" yaml:"max_open_stores,omitempty"`

	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding,omitempty"`
	Chunking  ChunkingConfig  `mapstructure:"chunking" yaml:"chunking,omitempty"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval,omitempty"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat,omitempty"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest,omitempty"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server,omitempty"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	// Provider is the embedding provider: "ollama" or "openai"
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"`
	// Model is the embedding model name
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// OllamaURL is the Ollama API URL
	OllamaURL string `mapstructure:"ollama_url" yaml:"ollama_url,omitempty"`
	// Dimensions is the embedding vector dimensions
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions,omitempty"`
	// OpenAIAPIKey can also be set via OPENAI_API_KEY or DOCCHAT_OPENAI_API_KEY
	OpenAIAPIKey string `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	// OpenAIBaseURL can also be set via OPENAI_BASE_URL or DOCCHAT_OPENAI_BASE_URL
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url,omitempty"`
	// CacheSize is the embedding LRU cache capacity. Zero disables it.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size,omitempty"`
}

// ChunkingConfig holds document splitting settings
type ChunkingConfig struct {
	// ChunkSize is the target chunk size in characters
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
	// ChunkOverlap is the overlap between adjacent chunks in characters
	ChunkOverlap int `mapstructure:"chunk_overlap" yaml:"chunk_overlap,omitempty"`
}

// RetrievalConfig holds retrieval strategy settings
type RetrievalConfig struct {
	// Strategy is "similarity", "mmr", or "threshold"
	Strategy string `mapstructure:"strategy" yaml:"strategy,omitempty"`
	// K is the number of chunks to retrieve per query
	K int `mapstructure:"k" yaml:"k,omitempty"`
	// MMRLambda is the relevance/diversity tradeoff for the mmr strategy
	MMRLambda float32 `mapstructure:"mmr_lambda" yaml:"mmr_lambda,omitempty"`
	// ScoreThreshold is the minimum similarity for the threshold strategy
	ScoreThreshold float32 `mapstructure:"score_threshold" yaml:"score_threshold,omitempty"`
}

// ChatConfig holds answer-generation settings
type ChatConfig struct {
	// Model is the chat completion model name
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// Temperature for chat completions
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
}

// IngestConfig holds document ingestion settings
type IngestConfig struct {
	// IgnorePatterns are gitignore-style patterns skipped during ingestion
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns,omitempty"`
	// MaxFileSize is the maximum file size to ingest in bytes
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`
	// WatchDebounceMillis coalesces rapid file events into one reingest
	WatchDebounceMillis int `mapstructure:"watch_debounce_millis" yaml:"watch_debounce_millis,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	// Host is the server bind address
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	// Port is the server port
	Port int `mapstructure:"port" yaml:"port,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:       DefaultDataDir,
		StoresDir:     filepath.Join(DefaultDataDir, DefaultStoresDir),
		HistoryDir:    filepath.Join(DefaultDataDir, DefaultHistoryDir),
		MaxOpenStores: 16,
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			OllamaURL:  "http://localhost:11434",
			Dimensions: 768,
			CacheSize:  512,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			Strategy:       "similarity",
			K:              4,
			MMRLambda:      0.25,
			ScoreThreshold: 0.6,
		},
		Chat: ChatConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
		},
		Ingest: IngestConfig{
			IgnorePatterns: []string{
				".git/**",
				".docchat/**",
				"node_modules/**",
				"vendor/**",
				"*.min.js",
				"*.lock",
			},
			MaxFileSize:         1024 * 1024, // 1MB
			WatchDebounceMillis: 500,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// Load loads configuration for the given project directory. The config
// file is optional; defaults apply when it is absent. Environment
// variables with the DOCCHAT prefix override file values.
func Load(projectDir string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectDir, DefaultDataDir))
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCCHAT")
	v.AutomaticEnv()

	_ = v.BindEnv("embedding.provider", "DOCCHAT_EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.model", "DOCCHAT_EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.ollama_url", "DOCCHAT_OLLAMA_URL")
	_ = v.BindEnv("embedding.openai_api_key", "DOCCHAT_OPENAI_API_KEY")
	_ = v.BindEnv("embedding.openai_base_url", "DOCCHAT_OPENAI_BASE_URL")
	_ = v.BindEnv("chat.model", "DOCCHAT_CHAT_MODEL")
	_ = v.BindEnv("retrieval.strategy", "DOCCHAT_RETRIEVAL_STRATEGY")
	_ = v.BindEnv("server.host", "DOCCHAT_HOST")
	_ = v.BindEnv("server.port", "DOCCHAT_PORT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Resolve paths relative to the project directory.
	for _, p := range []*string{&cfg.DataDir, &cfg.StoresDir, &cfg.HistoryDir} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(projectDir, *p)
		}
	}

	return cfg, nil
}

// EnsureDirs creates the data, stores, and history directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.StoresDir, c.HistoryDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// WriteDefaultConfig writes the default config file to the data
// directory. An existing config is left untouched.
func (c *Config) WriteDefaultConfig() error {
	configPath := filepath.Join(c.DataDir, DefaultConfigFile)

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	v := viper.New()
	v.Set("embedding.provider", c.Embedding.Provider)
	v.Set("embedding.model", c.Embedding.Model)
	v.Set("embedding.ollama_url", c.Embedding.OllamaURL)
	v.Set("embedding.dimensions", c.Embedding.Dimensions)
	v.Set("chunking.chunk_size", c.Chunking.ChunkSize)
	v.Set("chunking.chunk_overlap", c.Chunking.ChunkOverlap)
	v.Set("retrieval.strategy", c.Retrieval.Strategy)
	v.Set("retrieval.k", c.Retrieval.K)
	v.Set("chat.model", c.Chat.Model)
	v.Set("ingest.ignore_patterns", c.Ingest.IgnorePatterns)
	v.Set("ingest.max_file_size", c.Ingest.MaxFileSize)
	v.Set("server.host", c.Server.Host)
	v.Set("server.port", c.Server.Port)

	return v.WriteConfigAs(configPath)
}

// FindProjectRoot walks upward from the working directory until it
// finds a .docchat directory.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		dataDir := filepath.Join(dir, DefaultDataDir)
		if info, err := os.Stat(dataDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a docchat project (no %s directory found)", DefaultDataDir)
		}
		dir = parent
	}
}
