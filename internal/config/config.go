package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full service configuration: code defaults, overridden by an
// optional YAML file (ROUTEWISE_CONFIG), overridden by ROUTEWISE_* env vars.
type Settings struct {
	Service ServiceConfig `mapstructure:"service"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Search  SearchConfig  `mapstructure:"search"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Session SessionConfig `mapstructure:"session"`
	Output  OutputConfig  `mapstructure:"output"`
	Rerank  RerankWeights `mapstructure:"rerank"`

	// FastMode is the process default; requests may override it per run.
	FastMode bool `mapstructure:"fast_mode"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// LLMConfig describes the external completion service. The API key is a
// startup-time requirement: a pipeline must never discover mid-run that it
// cannot call the service at all.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MinerModel  string        `mapstructure:"miner_model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	// Provider is duckduckgo, tavily, or hybrid.
	Provider     string        `mapstructure:"provider"`
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	// FetchTop is how many top-ranked documents get a full page fetch.
	FetchTop     int           `mapstructure:"fetch_top"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	FetchDelay   time.Duration `mapstructure:"fetch_delay"`
}

type CacheConfig struct {
	// Backend is file or redis.
	Backend   string        `mapstructure:"backend"`
	Dir       string        `mapstructure:"dir"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type BudgetConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
	// PolicyFile optionally overrides stage thresholds; watched for reload.
	PolicyFile string `mapstructure:"policy_file"`
}

type SessionConfig struct {
	DBPath       string `mapstructure:"db_path"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type OutputConfig struct {
	Dir           string `mapstructure:"dir"`
	SaveArtifacts bool   `mapstructure:"save_artifacts"`
}

// RerankWeights tunes the retrieval scoring heuristic. The relative intent is
// fixed (reward first-hand sources, penalize commercial ones); exact values
// are configuration, not contract.
type RerankWeights struct {
	Firsthand  float64 `mapstructure:"firsthand"`
	Official   float64 `mapstructure:"official"`
	SafetyTerm float64 `mapstructure:"safety_term"`
	Commercial float64 `mapstructure:"commercial"`
}

// Load reads settings from defaults, the optional config file, and env.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetDefault("service.port", 8080)
	v.SetDefault("service.read_timeout", 10*time.Second)
	v.SetDefault("service.write_timeout", 320*time.Second)
	v.SetDefault("service.graceful_timeout", 15*time.Second)

	v.SetDefault("llm.base_url", "http://localhost:8000")
	v.SetDefault("llm.model", "routewise-planner")
	v.SetDefault("llm.miner_model", "routewise-miner")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("search.provider", "hybrid")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.fetch_top", 8)
	v.SetDefault("search.fetch_timeout", 12*time.Second)
	v.SetDefault("search.fetch_delay", 200*time.Millisecond)

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("budget.deadline", 60*time.Second)

	v.SetDefault("session.db_path", "data/sessions/conversations.db")
	v.SetDefault("session.history_limit", 50)

	v.SetDefault("output.dir", "data/examples")
	v.SetDefault("output.save_artifacts", true)

	v.SetDefault("rerank.firsthand", 3.0)
	v.SetDefault("rerank.official", 2.0)
	v.SetDefault("rerank.safety_term", 1.0)
	v.SetDefault("rerank.commercial", -3.0)

	v.SetDefault("fast_mode", false)

	v.SetEnvPrefix("ROUTEWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	s.normalize()
	return &s, nil
}

// normalize repairs garbled values in place of raising; only missing
// credentials are fatal (checked by Validate).
func (s *Settings) normalize() {
	switch s.Search.Provider {
	case "duckduckgo", "tavily", "hybrid":
	default:
		s.Search.Provider = "hybrid"
	}
	if s.Search.MaxResults <= 0 {
		s.Search.MaxResults = 5
	}
	if s.Search.FetchTop <= 0 {
		s.Search.FetchTop = 8
	}
	if s.Search.FetchTimeout <= 0 {
		s.Search.FetchTimeout = 12 * time.Second
	}
	if s.LLM.Timeout <= 0 {
		s.LLM.Timeout = 30 * time.Second
	}
	switch s.Cache.Backend {
	case "file", "redis":
	default:
		s.Cache.Backend = "file"
	}
	if s.Session.HistoryLimit <= 0 {
		s.Session.HistoryLimit = 50
	}
}

// Validate enforces startup-time requirements.
func (s *Settings) Validate() error {
	if s.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set ROUTEWISE_LLM_API_KEY)")
	}
	if s.Cache.Backend == "redis" && s.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
	}
	return nil
}
