package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Agent       AgentConfig               `json:"agent"`
	Roles       map[string]string         `json:"roles"`
	Directory   DirectoryConfig           `json:"directory"`
	Session     SessionConfig             `json:"session"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	ServiceNow  ServiceNowConfig          `json:"servicenow"`
	Knowledge   KnowledgeConfig           `json:"knowledge"`
	SMTP        SMTPConfig                `json:"smtp"`
	Reports     ReportsConfig             `json:"reports"`
	Search      SearchConfig              `json:"search"`
	Bot         BotConfig                 `json:"bot"`
	OTel        OTelConfig                `json:"otel"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Environment   string `json:"environment"`
	// MaxIterations bounds model round-trips per turn.
	MaxIterations int `json:"max_iterations"`
	// TurnTimeout in seconds, zero disables.
	TurnTimeout int `json:"turn_timeout"`
	QueueSize   int `json:"queue_size"`
	// WorkerIdleTimeout in minutes.
	WorkerIdleTimeout int `json:"worker_idle_timeout"`
}

type AgentConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// DirectoryConfig maps chat display names to emails. Graph lookup is used when TenantID is set.
type DirectoryConfig struct {
	Users        map[string]string `json:"users"`
	TenantID     string            `json:"tenant_id"`
	ClientID     string            `json:"client_id"`
	ClientSecret string            `json:"client_secret"`
	GraphURL     string            `json:"graph_url"`
}

type SessionConfig struct {
	Backend string `json:"backend"`
	// TTL in minutes.
	TTL int `json:"ttl"`
	// SweepInterval in minutes.
	SweepInterval int    `json:"sweep_interval"`
	Database      string `json:"database"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServiceNowConfig struct {
	Instance string `json:"instance"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Timeout in seconds.
	Timeout int `json:"timeout"`
}

type KnowledgeConfig struct {
	CorpusPath     string  `json:"corpus_path"`
	EmbeddingModel string  `json:"embedding_model"`
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	TopK           int     `json:"top_k"`
	Threshold      float64 `json:"threshold"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

type ReportsConfig struct {
	OutputDir string `json:"output_dir"`
}

// SearchConfig enables Google search; DuckDuckGo needs no credentials.
type SearchConfig struct {
	GoogleAPIKey         string `json:"google_api_key"`
	GoogleSearchEngineID string `json:"google_search_engine_id"`
	Disabled             bool   `json:"disabled"`
}

type BotConfig struct {
	AppID       string `json:"app_id"`
	AppPassword string `json:"app_password"`
	TokenURL    string `json:"token_url"`
	Scope       string `json:"scope"`
}

type OTelConfig struct {
	Endpoint       string `json:"endpoint"`
	Headers        string `json:"headers"`
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
}

func (c RedisConfig) Enabled() bool      { return c.Host != "" }
func (c ServiceNowConfig) Enabled() bool { return c.Instance != "" }
func (c KnowledgeConfig) Enabled() bool  { return c.CorpusPath != "" }
func (c SMTPConfig) Enabled() bool       { return c.Host != "" }
func (c BotConfig) Enabled() bool        { return c.AppID != "" }
func (c OTelConfig) Enabled() bool       { return c.Endpoint != "" }
func (c DirectoryConfig) GraphEnabled() bool {
	return c.TenantID != "" && c.ClientID != ""
}

// IsDevelopment reports whether the service runs with development logging.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.BasicConfig.Environment)
	return env == "" || env == "development" || env == "dev"
}

// Load reads configuration from the provided path (defaults to config.json).
// .env files next to the working directory are applied first so secrets can
// stay out of the JSON file.
func Load(path string) (*Config, error) {
	loadDotEnv()
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() {
	if env := os.Getenv("HELPDESK_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load()
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p := c.Providers["openai"]
		if p.APIKey == "" {
			p.APIKey = key
		}
		c.Providers["openai"] = p
		if c.Knowledge.APIKey == "" {
			c.Knowledge.APIKey = key
		}
	}
	setIfEmpty(&c.ServiceNow.Instance, "SERVICENOW_INSTANCE")
	setIfEmpty(&c.ServiceNow.Username, "SERVICENOW_USERNAME")
	setIfEmpty(&c.ServiceNow.Password, "SERVICENOW_PASSWORD")
	setIfEmpty(&c.SMTP.Username, "SMTP_USERNAME")
	setIfEmpty(&c.SMTP.Password, "SMTP_PASSWORD")
	setIfEmpty(&c.Bot.AppID, "BOT_APP_ID")
	setIfEmpty(&c.Bot.AppPassword, "BOT_APP_PASSWORD")
	setIfEmpty(&c.Directory.ClientSecret, "DIRECTORY_CLIENT_SECRET")
	setIfEmpty(&c.Search.GoogleAPIKey, "GOOGLE_API_KEY")
	setIfEmpty(&c.Search.GoogleSearchEngineID, "GOOGLE_SEARCH_ENGINE_ID")
	setIfEmpty(&c.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setIfEmpty(dst *string, env string) {
	if *dst != "" {
		return
	}
	*dst = os.Getenv(env)
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8000"
	}
	if c.BasicConfig.MaxIterations <= 0 {
		c.BasicConfig.MaxIterations = 8
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 16
	}
	if c.BasicConfig.WorkerIdleTimeout <= 0 {
		c.BasicConfig.WorkerIdleTimeout = 10
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "openai"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 60
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = 5
	}
	if c.Session.Database == "" {
		c.Session.Database = "sqlite3"
	}
	if c.Knowledge.TopK <= 0 {
		c.Knowledge.TopK = 3
	}
	if c.Knowledge.Threshold <= 0 {
		c.Knowledge.Threshold = 0.3
	}
	if c.Knowledge.EmbeddingModel == "" {
		c.Knowledge.EmbeddingModel = "text-embedding-3-small"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 465
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
	if c.Reports.OutputDir == "" {
		c.Reports.OutputDir = "reports"
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "helpdesk-agent"
	}
}

func (c *Config) resolvePaths(base string) {
	if c.Knowledge.CorpusPath != "" && !filepath.IsAbs(c.Knowledge.CorpusPath) {
		c.Knowledge.CorpusPath = filepath.Join(base, c.Knowledge.CorpusPath)
	}
	if !filepath.IsAbs(c.Reports.OutputDir) {
		c.Reports.OutputDir = filepath.Join(base, c.Reports.OutputDir)
	}
	for name, db := range c.Databases {
		if (name == "sqlite" || name == "sqlite3") && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(base, db.DSN)
			c.Databases[name] = db
		}
	}
}

// Validate checks the values every deployment needs.
func (c *Config) Validate() error {
	if len(c.Roles) == 0 {
		return errors.New("roles must map at least one email to a role")
	}
	if _, ok := c.Providers[c.Agent.Provider]; !ok {
		return fmt.Errorf("agent provider %s not configured", c.Agent.Provider)
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return errors.New("session backend redis requires redis.host")
		}
	case "sql":
		if _, ok := c.Databases[c.Session.Database]; !ok {
			return fmt.Errorf("session backend sql requires databases.%s", c.Session.Database)
		}
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	return nil
}
