package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tree      TreeConfig      `mapstructure:"tree"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type           string        `mapstructure:"type"` // openai for now
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig defines which model handles which call site.
type LLMRoutingConfig struct {
	Base     string `mapstructure:"base"`     // cheap/fast: decisions, classification, guard check
	Complex  string `mapstructure:"complex"`  // expensive: final answers, guard messages
	Fallback string `mapstructure:"fallback"` // used when a routed model is unset
}

// Model returns the routed model name with fallback applied.
func (r LLMRoutingConfig) Model(name string) string {
	if name != "" {
		return name
	}
	return r.Fallback
}

// TreeConfig controls the decision loop.
type TreeConfig struct {
	MaxIterations      int `mapstructure:"max_iterations"`
	DecisionMaxRetries int `mapstructure:"decision_max_retries"`
	HistoryWindow      int `mapstructure:"history_window"`
}

// GuardConfig controls the ethical guard.
type GuardConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	LogVerdicts bool   `mapstructure:"log_verdicts"`
	PromptsDir  string `mapstructure:"prompts_dir"` // optional policy/guideline documents
	TopK        int    `mapstructure:"top_k"`
}

// RetrievalConfig controls the knowledge bases.
type RetrievalConfig struct {
	DocsDir        string `mapstructure:"docs_dir"`        // HTML normative documents ingested at startup
	CollectionsDir string `mapstructure:"collections_dir"` // one subdirectory per searchable collection
	ChunkRunes     int    `mapstructure:"chunk_runes"`
	EmbedQueries   bool   `mapstructure:"embed_queries"`
	DefaultTopK    int    `mapstructure:"default_top_k"`
	MaxCollection  int    `mapstructure:"max_collection"` // cap on objects returned per collection query
}

// SessionConfig controls session lifecycle and eviction.
type SessionConfig struct {
	UserTTL         time.Duration `mapstructure:"user_ttl"`       // 0 disables user-level eviction
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
	ConnectionTTL   time.Duration `mapstructure:"connection_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	AutoSave        bool          `mapstructure:"auto_save"`
	SaveSchedule    string        `mapstructure:"save_schedule"` // optional cron expression
}

// StorageConfig contains durable storage settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// PostgresConfig contains postgres connection settings for the profile store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string, preferring URL when set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Tree.MaxIterations <= 0 {
		return fmt.Errorf("tree.max_iterations must be > 0")
	}
	if c.Tree.DecisionMaxRetries <= 0 {
		return fmt.Errorf("tree.decision_max_retries must be > 0")
	}
	if c.Session.ConversationTTL <= 0 {
		return fmt.Errorf("session.conversation_ttl must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be > 0")
	}
	return nil
}

// LoadConfig reads configuration from the given path (or the working
// directory) plus ARBOR_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults + env carry the load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")

	v.SetDefault("server.address", ":8080")

	v.SetDefault("llm.routing.base", "gpt-4o-mini")
	v.SetDefault("llm.routing.complex", "gpt-4o")
	v.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	v.SetDefault("tree.max_iterations", 5)
	v.SetDefault("tree.decision_max_retries", 3)
	v.SetDefault("tree.history_window", 6)

	v.SetDefault("guard.enabled", true)
	v.SetDefault("guard.log_verdicts", false)
	v.SetDefault("guard.top_k", 5)

	v.SetDefault("retrieval.chunk_runes", 1200)
	v.SetDefault("retrieval.embed_queries", true)
	v.SetDefault("retrieval.default_top_k", 5)
	v.SetDefault("retrieval.max_collection", 20)

	v.SetDefault("session.user_ttl", "24h")
	v.SetDefault("session.conversation_ttl", "30m")
	v.SetDefault("session.connection_ttl", "10m")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("session.auto_save", true)

	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("telemetry.enabled", true)
}
