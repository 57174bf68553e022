package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Campaign   CampaignConfig   `yaml:"campaign" mapstructure:"campaign"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Pacing     PacingConfig     `yaml:"pacing" mapstructure:"pacing"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Followup   FollowupConfig   `yaml:"followup" mapstructure:"followup"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                 string `yaml:"key" mapstructure:"key"`
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	HaikuModel          string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel         string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	NoBatch             bool   `yaml:"no_batch" mapstructure:"no_batch"`
	SmallBatchThreshold int    `yaml:"small_batch_threshold" mapstructure:"small_batch_threshold"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings (profile fetch fallback).
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// NotionConfig holds Notion credentials for the lead queue source.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM sync.
type SalesforceConfig struct {
	ClientID   string  `yaml:"client_id" mapstructure:"client_id"`
	Username   string  `yaml:"username" mapstructure:"username"`
	KeyPath    string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	LeadSource string  `yaml:"lead_source" mapstructure:"lead_source"`
}

// CampaignConfig holds campaign service settings.
type CampaignConfig struct {
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	ListID         string   `yaml:"list_id" mapstructure:"list_id"`
	CampaignID     string   `yaml:"campaign_id" mapstructure:"campaign_id"`
	AcceptedStatus string   `yaml:"accepted_status" mapstructure:"accepted_status"`
	PageSize       int      `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	IdentityFields []string `yaml:"identity_fields" mapstructure:"identity_fields"`
}

// QuotaConfig configures the daily acquisition budget.
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit" mapstructure:"daily_limit"`
	Timezone   string `yaml:"timezone" mapstructure:"timezone"`
}

// Location resolves Timezone. Empty and "Local" mean the host's zone.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" || q.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: quota.timezone %q", q.Timezone)
	}
	return loc, nil
}

// PacingConfig configures randomized inter-request delays.
type PacingConfig struct {
	MinMs    int `yaml:"min_ms" mapstructure:"min_ms"`
	MaxMs    int `yaml:"max_ms" mapstructure:"max_ms"`
	StdDevMs int `yaml:"stddev_ms" mapstructure:"stddev_ms"`
}

// ClassifyConfig configures verdict interpretation.
type ClassifyConfig struct {
	CriteriaPath       string   `yaml:"criteria_path" mapstructure:"criteria_path"`
	QualifyingDecision []string `yaml:"qualifying_decisions" mapstructure:"qualifying_decisions"`
	MinScore           float64  `yaml:"min_score" mapstructure:"min_score"`
	DecisionField      string   `yaml:"decision_field" mapstructure:"decision_field"`
	MaxProseLen        int      `yaml:"max_prose_len" mapstructure:"max_prose_len"`
	MaxListItems       int      `yaml:"max_list_items" mapstructure:"max_list_items"`
	MaxListItemLen     int      `yaml:"max_list_item_len" mapstructure:"max_list_item_len"`
	AutoSubmit         bool     `yaml:"auto_submit" mapstructure:"auto_submit"`
}

// FollowupConfig configures follow-up draft generation.
type FollowupConfig struct {
	Prompt   string `yaml:"prompt" mapstructure:"prompt"`
	MaxChars int    `yaml:"max_chars" mapstructure:"max_chars"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
	ClaimTTLSecs int `yaml:"claim_ttl_secs" mapstructure:"claim_ttl_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadflow.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.claim_ttl_secs", 600)
	v.SetDefault("quota.daily_limit", 80)
	v.SetDefault("quota.timezone", "Local")
	v.SetDefault("pacing.min_ms", 3000)
	v.SetDefault("pacing.max_ms", 8000)
	v.SetDefault("pacing.stddev_ms", 1500)
	v.SetDefault("classify.qualifying_decisions", []string{"TIER_1", "TIER_2"})
	v.SetDefault("classify.min_score", 70)
	v.SetDefault("classify.decision_field", "decision")
	v.SetDefault("classify.max_prose_len", 500)
	v.SetDefault("classify.max_list_items", 5)
	v.SetDefault("classify.max_list_item_len", 100)
	v.SetDefault("classify.auto_submit", true)
	v.SetDefault("followup.max_chars", 600)
	v.SetDefault("campaign.base_url", "https://api.heyreach.io")
	v.SetDefault("campaign.accepted_status", "CONNECTION_ACCEPTED")
	v.SetDefault("campaign.page_size", 100)
	v.SetDefault("campaign.timeout_secs", 30)
	v.SetDefault("campaign.rate_limit", 5)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.small_batch_threshold", 3)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5)
	v.SetDefault("salesforce.lead_source", "LinkedIn Outreach")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by the given command mode are
// present. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var missing []string
	require := func(ok bool, msg string) {
		if !ok {
			missing = append(missing, msg)
		}
	}

	require(c.Store.DatabaseURL != "", "store.database_url is required")
	require(c.Store.Driver == "sqlite" || c.Store.Driver == "postgres", "store.driver must be sqlite or postgres")

	switch mode {
	case "acquire", "stats", "serve":
		_, err := c.Quota.Location()
		require(err == nil, fmt.Sprintf("quota.timezone %q is not a known time zone", c.Quota.Timezone))
	}

	switch mode {
	case "acquire":
		require(c.Quota.DailyLimit > 0, "quota.daily_limit must be > 0")
		require(c.Pacing.MinMs >= 0 && c.Pacing.MaxMs >= c.Pacing.MinMs, "pacing.max_ms must be >= pacing.min_ms >= 0")
		require(c.Jina.Key != "", "jina.key is required")
		require(c.Anthropic.Key != "", "anthropic.key is required")
	case "classify":
		require(c.Anthropic.Key != "", "anthropic.key is required")
		require(c.Classify.CriteriaPath != "", "classify.criteria_path is required")
		require(len(c.Classify.QualifyingDecision) > 0, "classify.qualifying_decisions is required")
		require(c.Campaign.APIKey != "", "campaign.api_key is required")
		require(c.Campaign.ListID != "", "campaign.list_id is required")
	case "submit":
		require(c.Campaign.APIKey != "", "campaign.api_key is required")
		require(c.Campaign.ListID != "", "campaign.list_id is required")
	case "reconcile":
		require(c.Campaign.APIKey != "", "campaign.api_key is required")
		require(c.Campaign.PageSize > 0, "campaign.page_size must be > 0")
		require(c.Campaign.AcceptedStatus != "", "campaign.accepted_status is required")
	case "followup":
		require(c.Anthropic.Key != "", "anthropic.key is required")
	case "crm":
		require(c.Salesforce.ClientID != "", "salesforce.client_id is required")
		require(c.Salesforce.Username != "", "salesforce.username is required")
		require(c.Salesforce.KeyPath != "", "salesforce.key_path is required")
	case "serve":
		require(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
