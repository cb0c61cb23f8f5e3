package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opencrew/deepresearch/internal/llm"
	"github.com/opencrew/deepresearch/internal/search"
)

// DefaultReportStructure is used when research.yaml does not override it.
const DefaultReportStructure = `Use this structure to create a report on the user-provided topic:

1. Introduction (no research needed)
   - Brief overview of the topic area

2. Main Body Sections:
   - Each section should focus on a sub-topic of the user-provided topic

3. Conclusion
   - Aim for 1 structural element (either a list or table) that distills the main body sections
   - Provide a concise summary of the report`

// ModelConfig selects a provider and model for one role in the pipeline.
type ModelConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
}

// ResearchConfig is the configuration surface of the research engine.
type ResearchConfig struct {
	ReportStructure       string        `mapstructure:"report_structure" yaml:"report_structure"`
	NumberOfQueries       int           `mapstructure:"number_of_queries" yaml:"number_of_queries"`
	MaxSearchDepth        int           `mapstructure:"max_search_depth" yaml:"max_search_depth"`
	SearchBackend         string        `mapstructure:"search_backend" yaml:"search_backend"`
	SourceTokenBudget     int           `mapstructure:"source_token_budget" yaml:"source_token_budget"`
	MaxConcurrentSections int           `mapstructure:"max_concurrent_sections" yaml:"max_concurrent_sections"`
	LLMTimeout            time.Duration `mapstructure:"llm_timeout" yaml:"llm_timeout"`

	Planner ModelConfig `mapstructure:"planner" yaml:"planner"`
	Writer  ModelConfig `mapstructure:"writer" yaml:"writer"`

	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Temporal TemporalConfig `mapstructure:"temporal" yaml:"temporal"`
}

// RedisConfig locates the session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
}

// PostgresConfig locates the run persistence database. Empty host disables
// persistence.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// TemporalConfig locates the workflow service.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port" yaml:"host_port"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	TaskQueue string `mapstructure:"task_queue" yaml:"task_queue"`
}

// Default returns the built-in configuration.
func Default() *ResearchConfig {
	return &ResearchConfig{
		ReportStructure:       DefaultReportStructure,
		NumberOfQueries:       2,
		MaxSearchDepth:        2,
		SearchBackend:         search.BackendTavily,
		SourceTokenBudget:     1000,
		MaxConcurrentSections: 5,
		LLMTimeout:            120 * time.Second,
		Planner:               ModelConfig{Provider: string(llm.ProviderOpenAI), Model: "gpt-4.1"},
		Writer:                ModelConfig{Provider: string(llm.ProviderAnthropic), Model: "claude-sonnet-4-5"},
		Redis:                 RedisConfig{Addr: "localhost:6379"},
		Postgres:              PostgresConfig{Port: 5432, SSLMode: "disable"},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "deep-research",
		},
	}
}

// Load reads research.yaml from path (or the RESEARCH_CONFIG_PATH env var
// when path is empty), applies env overrides and validates the result.
func Load(path string) (*ResearchConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unsupported configuration outright; unknown backends and
// providers are never silently defaulted.
func (c *ResearchConfig) Validate() error {
	if c.NumberOfQueries < 1 {
		return fmt.Errorf("config: number_of_queries must be >= 1, got %d", c.NumberOfQueries)
	}
	if c.MaxSearchDepth < 0 {
		return fmt.Errorf("config: max_search_depth must be >= 0, got %d", c.MaxSearchDepth)
	}
	switch c.SearchBackend {
	case search.BackendTavily, search.BackendPerplexity:
	default:
		return fmt.Errorf("config: unsupported search backend %q", c.SearchBackend)
	}
	for _, mc := range []struct {
		role string
		cfg  ModelConfig
	}{
		{"planner", c.Planner},
		{"writer", c.Writer},
	} {
		switch llm.Provider(mc.cfg.Provider) {
		case llm.ProviderOpenAI, llm.ProviderAnthropic:
		default:
			return fmt.Errorf("config: unsupported %s provider %q", mc.role, mc.cfg.Provider)
		}
		if mc.cfg.Model == "" {
			return fmt.Errorf("config: %s model must not be empty", mc.role)
		}
	}
	if c.SourceTokenBudget <= 0 {
		return fmt.Errorf("config: source_token_budget must be > 0, got %d", c.SourceTokenBudget)
	}
	if c.MaxConcurrentSections < 1 {
		return fmt.Errorf("config: max_concurrent_sections must be >= 1, got %d", c.MaxConcurrentSections)
	}
	return nil
}
