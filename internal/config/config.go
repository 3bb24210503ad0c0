package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding" json:"embedding"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	HNSW       HNSWConfig       `yaml:"hnsw" json:"hnsw"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Agent      AgentConfig      `yaml:"agent" json:"agent"`
	Confidence ConfidenceConfig `yaml:"confidence" json:"confidence"`
	Files      FilesConfig      `yaml:"files" json:"files"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	TopP        float64 `yaml:"top_p" json:"top_p"`
	// Timeout is the per-request timeout (e.g. "120s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	// Timeout is the per-request timeout (e.g. "60s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// CacheTierConfig configures one cache tier.
type CacheTierConfig struct {
	MaxSize int `yaml:"max_size" json:"max_size"`
	// TTL is the per-entry time to live (e.g. "24h").
	TTL string `yaml:"ttl" json:"ttl"`
}

// CacheConfig configures the multi-tier cache.
type CacheConfig struct {
	Embedding  CacheTierConfig `yaml:"embedding" json:"embedding"`
	Query      CacheTierConfig `yaml:"query" json:"query"`
	Classifier CacheTierConfig `yaml:"classifier" json:"classifier"`
	// CleanupInterval is how often the expired-entry sweep runs.
	CleanupInterval string `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// ChunkingConfig configures the text chunker.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
	MaxChunkSize int `yaml:"max_chunk_size" json:"max_chunk_size"`
}

// HNSWConfig configures the vector index.
type HNSWConfig struct {
	MaxElements    int    `yaml:"max_elements" json:"max_elements"`
	EfConstruction int    `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int    `yaml:"ef_search" json:"ef_search"`
	M              int    `yaml:"m" json:"m"`
	Metric         string `yaml:"metric" json:"metric"`
}

// RetrievalConfig configures retrieval and post-processing.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k" json:"top_k"`
	FetchMultiplier     int     `yaml:"fetch_multiplier" json:"fetch_multiplier"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
}

// AgentConfig configures the query orchestrator.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// Timeout bounds a full query workflow (e.g. "300s").
	Timeout string `yaml:"timeout" json:"timeout"`
	// ConfidenceThreshold is the minimum confidence for accepting an answer.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// ConfidenceConfig holds the five scoring dimension weights.
// Weights must sum to 1.0.
type ConfidenceConfig struct {
	Retrieval     float64 `yaml:"retrieval" json:"retrieval"`
	Completeness  float64 `yaml:"completeness" json:"completeness"`
	KeywordMatch  float64 `yaml:"keyword_match" json:"keyword_match"`
	AnswerQuality float64 `yaml:"answer_quality" json:"answer_quality"`
	Consistency   float64 `yaml:"consistency" json:"consistency"`
}

// FilesConfig configures uploads and the temp-file janitor.
type FilesConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	QuotaMB       int `yaml:"quota_mb" json:"quota_mb"`
	// UploadTTL is how long temp uploads are kept (e.g. "24h").
	UploadTTL string `yaml:"upload_ttl" json:"upload_ttl"`
	// JanitorInterval is how often the cleanup sweep runs.
	JanitorInterval string `yaml:"janitor_interval" json:"janitor_interval"`
	// FileWeight scales attached-file document scores during fusion.
	FileWeight float64 `yaml:"file_weight" json:"file_weight"`
	// KBWeight scales knowledge-base document scores during fusion.
	KBWeight float64 `yaml:"kb_weight" json:"kb_weight"`
}

// CompactionConfig configures automatic background compaction of the
// vector index.
type CompactionConfig struct {
	// Enabled enables automatic background compaction.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// DeletionThreshold is the tombstone count that triggers a rebuild.
	DeletionThreshold int `yaml:"deletion_threshold" json:"deletion_threshold"`
	// IdleTimeout is how long without searches before the index is idle.
	// Compaction only runs during idle periods.
	IdleTimeout string `yaml:"idle_timeout" json:"idle_timeout"`
	// Cooldown is the minimum time between compactions for the same index.
	Cooldown string `yaml:"cooldown" json:"cooldown"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  "", // Empty uses ~/.kbrobot/logs/engine.log
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    false,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			APIKey:      "",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2000,
			TopP:        0.95,
			Timeout:     "120s",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			APIKey:     "",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  100,
			Timeout:    "60s",
		},
		Cache: CacheConfig{
			Embedding:       CacheTierConfig{MaxSize: 10000, TTL: "24h"},
			Query:           CacheTierConfig{MaxSize: 5000, TTL: "1h"},
			Classifier:      CacheTierConfig{MaxSize: 2000, TTL: "168h"},
			CleanupInterval: "1h",
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MinChunkSize: 100,
			MaxChunkSize: 4000,
		},
		HNSW: HNSWConfig{
			MaxElements:    1_000_000,
			EfConstruction: 200,
			EfSearch:       100,
			M:              16,
			Metric:         "l2",
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			FetchMultiplier:     5,
			SimilarityThreshold: 10.0,
		},
		Agent: AgentConfig{
			MaxIterations:       10,
			Timeout:             "300s",
			ConfidenceThreshold: 0.5,
		},
		Confidence: ConfidenceConfig{
			Retrieval:     0.45,
			Completeness:  0.25,
			KeywordMatch:  0.15,
			AnswerQuality: 0.10,
			Consistency:   0.05,
		},
		Files: FilesConfig{
			MaxFileSizeMB:   100,
			QuotaMB:         500,
			UploadTTL:       "24h",
			JanitorInterval: "1h",
			FileWeight:      1.0,
			KBWeight:        1.0,
		},
		Compaction: CompactionConfig{
			Enabled:           true,
			DeletionThreshold: 1000,
			IdleTimeout:       "30s",
			Cooldown:          "1h",
		},
	}
}

// defaultDataDir returns the default data directory (~/.kbrobot).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbrobot")
	}
	return filepath.Join(home, ".kbrobot")
}

// DBPath returns the sqlite metadata database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "knowledge_base.db")
}

// IndexDir returns the directory holding per-KB vector indexes.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "vector_index")
}

// UploadDir returns the temp-upload directory.
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "temp_uploads")
}

// TelemetryPath returns the query event log path.
func (c *Config) TelemetryPath() string {
	return filepath.Join(c.DataDir, "telemetry", "queries.jsonl")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/kbrobot/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/kbrobot/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbrobot", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbrobot", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbrobot", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/kbrobot/config.yaml)
//  3. Local config (kbrobot.yaml in dir)
//  4. Environment variables (KBROBOT_*), with a best-effort .env load first
func Load(dir string) (*Config, error) {
	// Best-effort .env load; missing file is not an error.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from kbrobot.yaml or kbrobot.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "kbrobot.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "kbrobot.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// LoadBytes parses configuration from raw YAML on top of defaults.
// Used for the embedded default config.
func LoadBytes(data []byte) (*Config, error) {
	cfg := NewConfig()
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.mergeWith(&parsed)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Logging.Stderr {
		c.Logging.Stderr = true
	}

	// LLM
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.TopP != 0 {
		c.LLM.TopP = other.LLM.TopP
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Embedding
	if other.Embedding.BaseURL != "" {
		c.Embedding.BaseURL = other.Embedding.BaseURL
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}
	if other.Embedding.Timeout != "" {
		c.Embedding.Timeout = other.Embedding.Timeout
	}

	// Cache tiers
	mergeTier := func(dst *CacheTierConfig, src CacheTierConfig) {
		if src.MaxSize != 0 {
			dst.MaxSize = src.MaxSize
		}
		if src.TTL != "" {
			dst.TTL = src.TTL
		}
	}
	mergeTier(&c.Cache.Embedding, other.Cache.Embedding)
	mergeTier(&c.Cache.Query, other.Cache.Query)
	mergeTier(&c.Cache.Classifier, other.Cache.Classifier)
	if other.Cache.CleanupInterval != "" {
		c.Cache.CleanupInterval = other.Cache.CleanupInterval
	}

	// Chunking
	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}
	if other.Chunking.MinChunkSize != 0 {
		c.Chunking.MinChunkSize = other.Chunking.MinChunkSize
	}
	if other.Chunking.MaxChunkSize != 0 {
		c.Chunking.MaxChunkSize = other.Chunking.MaxChunkSize
	}

	// HNSW
	if other.HNSW.MaxElements != 0 {
		c.HNSW.MaxElements = other.HNSW.MaxElements
	}
	if other.HNSW.EfConstruction != 0 {
		c.HNSW.EfConstruction = other.HNSW.EfConstruction
	}
	if other.HNSW.EfSearch != 0 {
		c.HNSW.EfSearch = other.HNSW.EfSearch
	}
	if other.HNSW.M != 0 {
		c.HNSW.M = other.HNSW.M
	}
	if other.HNSW.Metric != "" {
		c.HNSW.Metric = other.HNSW.Metric
	}

	// Retrieval
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.FetchMultiplier != 0 {
		c.Retrieval.FetchMultiplier = other.Retrieval.FetchMultiplier
	}
	if other.Retrieval.SimilarityThreshold != 0 {
		c.Retrieval.SimilarityThreshold = other.Retrieval.SimilarityThreshold
	}

	// Agent
	if other.Agent.MaxIterations != 0 {
		c.Agent.MaxIterations = other.Agent.MaxIterations
	}
	if other.Agent.Timeout != "" {
		c.Agent.Timeout = other.Agent.Timeout
	}
	if other.Agent.ConfidenceThreshold != 0 {
		c.Agent.ConfidenceThreshold = other.Agent.ConfidenceThreshold
	}

	// Confidence weights merge as a block: partial weights would not sum to 1.
	if other.Confidence != (ConfidenceConfig{}) {
		c.Confidence = other.Confidence
	}

	// Files
	if other.Files.MaxFileSizeMB != 0 {
		c.Files.MaxFileSizeMB = other.Files.MaxFileSizeMB
	}
	if other.Files.QuotaMB != 0 {
		c.Files.QuotaMB = other.Files.QuotaMB
	}
	if other.Files.UploadTTL != "" {
		c.Files.UploadTTL = other.Files.UploadTTL
	}
	if other.Files.JanitorInterval != "" {
		c.Files.JanitorInterval = other.Files.JanitorInterval
	}
	if other.Files.FileWeight != 0 {
		c.Files.FileWeight = other.Files.FileWeight
	}
	if other.Files.KBWeight != 0 {
		c.Files.KBWeight = other.Files.KBWeight
	}

	// Compaction
	// Enabled is boolean - only override when any compaction field was set
	if other.Compaction.DeletionThreshold != 0 ||
		other.Compaction.IdleTimeout != "" || other.Compaction.Cooldown != "" {
		c.Compaction.Enabled = other.Compaction.Enabled
	}
	if other.Compaction.DeletionThreshold != 0 {
		c.Compaction.DeletionThreshold = other.Compaction.DeletionThreshold
	}
	if other.Compaction.IdleTimeout != "" {
		c.Compaction.IdleTimeout = other.Compaction.IdleTimeout
	}
	if other.Compaction.Cooldown != "" {
		c.Compaction.Cooldown = other.Compaction.Cooldown
	}
}

// applyEnvOverrides applies KBROBOT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KBROBOT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("KBROBOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("KBROBOT_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("KBROBOT_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("KBROBOT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("KBROBOT_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("KBROBOT_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("KBROBOT_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("KBROBOT_EMBEDDING_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embedding.Dimensions = d
		}
	}
	// OPENAI_API_KEY is honored as a fallback for both providers.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
	}

	if v := os.Getenv("KBROBOT_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.TopK = k
		}
	}

	if v := os.Getenv("KBROBOT_COMPACTION_ENABLED"); v != "" {
		c.Compaction.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("KBROBOT_COMPACTION_DELETION_THRESHOLD"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			c.Compaction.DeletionThreshold = t
		}
	}
	if v := os.Getenv("KBROBOT_COMPACTION_IDLE_TIMEOUT"); v != "" {
		c.Compaction.IdleTimeout = v
	}
	if v := os.Getenv("KBROBOT_COMPACTION_COOLDOWN"); v != "" {
		c.Compaction.Cooldown = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %f", c.LLM.Temperature)
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p must be between 0 and 1, got %f", c.LLM.TopP)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkSize > c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking.chunk_size must not exceed max_chunk_size %d, got %d",
			c.Chunking.MaxChunkSize, c.Chunking.ChunkSize)
	}

	validMetrics := map[string]bool{"l2": true, "cosine": true, "ip": true}
	if !validMetrics[strings.ToLower(c.HNSW.Metric)] {
		return fmt.Errorf("hnsw.metric must be 'l2', 'cosine', or 'ip', got %s", c.HNSW.Metric)
	}
	if c.HNSW.M <= 0 || c.HNSW.EfSearch <= 0 || c.HNSW.MaxElements <= 0 {
		return fmt.Errorf("hnsw parameters must be positive")
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.FetchMultiplier <= 0 {
		return fmt.Errorf("retrieval.fetch_multiplier must be positive, got %d", c.Retrieval.FetchMultiplier)
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}

	sum := c.Confidence.Retrieval + c.Confidence.Completeness + c.Confidence.KeywordMatch +
		c.Confidence.AnswerQuality + c.Confidence.Consistency
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("confidence weights must sum to 1.0, got %.2f", sum)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	// Duration fields must parse
	for name, v := range map[string]string{
		"llm.timeout":              c.LLM.Timeout,
		"embedding.timeout":        c.Embedding.Timeout,
		"cache.embedding.ttl":      c.Cache.Embedding.TTL,
		"cache.query.ttl":          c.Cache.Query.TTL,
		"cache.classifier.ttl":     c.Cache.Classifier.TTL,
		"cache.cleanup_interval":   c.Cache.CleanupInterval,
		"agent.timeout":            c.Agent.Timeout,
		"files.upload_ttl":         c.Files.UploadTTL,
		"files.janitor_interval":   c.Files.JanitorInterval,
		"compaction.idle_timeout":  c.Compaction.IdleTimeout,
		"compaction.cooldown":      c.Compaction.Cooldown,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}

	return nil
}

// ParseDuration parses a config duration string, falling back to def when
// the value is empty or malformed. Validate catches malformed values at load
// time; the fallback keeps direct struct construction in tests safe.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
