package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the waypoint service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	ChatTimeout time.Duration `mapstructure:"chat_timeout"`
	// RunDetached keeps a chat run going after the client disconnects so the
	// exchange is still persisted.
	RunDetached bool `mapstructure:"run_detached"`
	// FailurePolicy overrides how a chat dependency failure is handled:
	// dependency name -> "degrade" or "propagate".
	FailurePolicy map[string]string `mapstructure:"failure_policy"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if s.ChatTimeout < 0 {
		return fmt.Errorf("server.chat_timeout cannot be negative")
	}
	for dep, mode := range s.FailurePolicy {
		if mode != "degrade" && mode != "propagate" {
			return fmt.Errorf("server.failure_policy.%s: mode must be degrade or propagate, got %q", dep, mode)
		}
	}
	return nil
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string        `mapstructure:"type"` // openai, anthropic, hash
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig names the provider and model used for each internal task.
// Values take the form "provider:model".
type LLMRoutingConfig struct {
	Summarizer string `mapstructure:"summarizer"`
	Sanitizer  string `mapstructure:"sanitizer"`
	Embedding  string `mapstructure:"embedding"`
}

func (l LLMConfig) Validate() error {
	for name, p := range l.Providers {
		switch p.Type {
		case "openai", "anthropic":
			if strings.TrimSpace(p.APIKey) == "" {
				return fmt.Errorf("llm.providers.%s.api_key required", name)
			}
		case "hash":
		default:
			return fmt.Errorf("llm.providers.%s.type %q not supported", name, p.Type)
		}
	}
	for task, ref := range map[string]string{
		"summarizer": l.Routing.Summarizer,
		"sanitizer":  l.Routing.Sanitizer,
		"embedding":  l.Routing.Embedding,
	} {
		provider, _ := SplitModelRef(ref)
		if provider == "" {
			return fmt.Errorf("llm.routing.%s required", task)
		}
		if _, ok := l.Providers[provider]; !ok {
			return fmt.Errorf("llm.routing.%s references unknown provider %q", task, provider)
		}
	}
	return nil
}

// SplitModelRef splits "provider:model" into its parts. A reference without a
// colon names only the provider.
func SplitModelRef(ref string) (provider, model string) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings. Redis is optional; when
// host is empty the service falls back to process-local locks.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxConns int           `mapstructure:"max_conns"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// MemoryConfig controls working and episodic memory behaviour.
type MemoryConfig struct {
	Working  WorkingMemoryConfig  `mapstructure:"working"`
	Episodic EpisodicMemoryConfig `mapstructure:"episodic"`
	Cache    EmbeddingCacheConfig `mapstructure:"cache"`
}

// WorkingMemoryConfig bounds the recent-history window injected into runs.
type WorkingMemoryConfig struct {
	MaxPairs int `mapstructure:"max_pairs"`
}

// EpisodicMemoryConfig defines summarization and recall settings.
type EpisodicMemoryConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	SearchLimit         int           `mapstructure:"search_limit"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Schedule            string        `mapstructure:"schedule"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	SummarizeTimeout    time.Duration `mapstructure:"summarize_timeout"`
	SweepBatch          int           `mapstructure:"sweep_batch"`
}

// EmbeddingCacheConfig sizes the query-embedding cache.
type EmbeddingCacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxEntries int64         `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// Normalize applies defaults for unset memory values.
func (m MemoryConfig) Normalize() MemoryConfig {
	if m.Working.MaxPairs <= 0 {
		m.Working.MaxPairs = 2
	}
	if m.Episodic.SearchLimit <= 0 {
		m.Episodic.SearchLimit = 2
	}
	if m.Episodic.EmbeddingDimensions <= 0 {
		m.Episodic.EmbeddingDimensions = 1536
	}
	if m.Episodic.LockTTL <= 0 {
		m.Episodic.LockTTL = 5 * time.Minute
	}
	if m.Episodic.SummarizeTimeout <= 0 {
		m.Episodic.SummarizeTimeout = 2 * time.Minute
	}
	if m.Episodic.SweepBatch <= 0 {
		m.Episodic.SweepBatch = 50
	}
	if m.Cache.MaxEntries <= 0 {
		m.Cache.MaxEntries = 10000
	}
	if m.Cache.TTL <= 0 {
		m.Cache.TTL = time.Hour
	}
	return m
}

// SummaryVectorDimensions is the width of session_summaries.embedding in the
// migrations. Embeddings of any other size cannot be stored.
const SummaryVectorDimensions = 1536

func (m MemoryConfig) Validate() error {
	if m.Working.MaxPairs < 0 {
		return fmt.Errorf("memory.working.max_pairs cannot be negative")
	}
	if !m.Episodic.Enabled {
		return nil
	}
	if m.Episodic.EmbeddingDimensions != SummaryVectorDimensions {
		return fmt.Errorf("memory.episodic.embedding_dimensions must be %d to match the session_summaries schema, got %d",
			SummaryVectorDimensions, m.Episodic.EmbeddingDimensions)
	}
	if m.Episodic.LockTTL <= m.Episodic.SummarizeTimeout {
		return fmt.Errorf("memory.episodic.lock_ttl (%s) must exceed summarize_timeout (%s)",
			m.Episodic.LockTTL, m.Episodic.SummarizeTimeout)
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./app/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("WAYPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (WAYPOINT_*)

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.service_name", "waypoint")
	v.SetDefault("general.version", "1.0.0")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.run_detached", true)
	v.SetDefault("memory.episodic.enabled", true)
	v.SetDefault("memory.cache.enabled", true)
	v.SetDefault("orchestrator.capability_timeout", "3m")
	v.SetDefault("orchestrator.sanitizer_timeout", "60s")
}

// decode unmarshals, normalizes and validates a loaded viper instance.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("fatal error config file: %w", err)
	}
	cfg.Memory = cfg.Memory.Normalize()
	cfg.Orchestrator = cfg.Orchestrator.Normalize()

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Memory.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Orchestrator.Validate(cfg.LLM); err != nil {
		return nil, err
	}
	return &cfg, nil
}
