// Package config loads the environment-driven configuration recognized by
// the crawler, layering github.com/spf13/viper's env binding with
// github.com/caarlos0/env/v11 struct-tag defaults so every setting has a
// documented fallback even when unset.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/newsguild/unicrawl/internal/urlnorm"
)

// Config is every environment-recognized setting, bound via struct tags so
// Load can populate it from either viper (which also reads a config file,
// when present) or raw environment variables.
type Config struct {
	MaxSiteBatches       int     `mapstructure:"max_site_batches" env:"UNIFIED_CRAWLER_MAX_SITE_BATCHES" envDefault:"4"`
	PaywallSkipThreshold int     `mapstructure:"paywall_skip_threshold" env:"UNIFIED_CRAWLER_PAYWALL_SKIP_THRESHOLD" envDefault:"3"`
	URLNormalizationMode string  `mapstructure:"url_normalization" env:"ARTICLE_URL_NORMALIZATION" envDefault:"strict"`
	URLHashAlgo          string  `mapstructure:"url_hash_algo" env:"ARTICLE_URL_HASH_ALGO" envDefault:"sha256"`
	MinWords             int     `mapstructure:"min_words" env:"ARTICLE_MIN_WORDS" envDefault:"120"`
	MinTextHTMLRatio     float64 `mapstructure:"min_text_html_ratio" env:"ARTICLE_MIN_TEXT_HTML_RATIO" envDefault:"0.015"`
	EnableHTTPFetch      bool    `mapstructure:"enable_http_fetch" env:"UNIFIED_CRAWLER_ENABLE_HTTP_FETCH" envDefault:"true"`
	PerDomainRPS         float64 `mapstructure:"per_domain_rps" env:"UNIFIED_CRAWLER_PER_DOMAIN_RPS" envDefault:"2"`
	PerDomainJitter      float64 `mapstructure:"per_domain_jitter" env:"UNIFIED_CRAWLER_PER_DOMAIN_JITTER" envDefault:"0.2"`

	HITLServiceURL         string `mapstructure:"hitl_service_url" env:"HITL_SERVICE_URL"`
	HITLServiceAddress     string `mapstructure:"hitl_service_address" env:"HITL_SERVICE_ADDRESS"`
	EnableHITLPipeline     bool   `mapstructure:"enable_hitl_pipeline" env:"ENABLE_HITL_PIPELINE" envDefault:"true"`
	HITLStatsIntervalSecs  int    `mapstructure:"hitl_stats_interval_seconds" env:"HITL_STATS_INTERVAL_SECONDS" envDefault:"60"`
	HITLFailureBackoffSecs int    `mapstructure:"hitl_failure_backoff_seconds" env:"HITL_FAILURE_BACKOFF_SECONDS" envDefault:"180"`
	HITLPrioritySites      string `mapstructure:"hitl_priority_sites" env:"HITL_PRIORITY_SITES"`

	MCPBusURL string `mapstructure:"mcp_bus_url" env:"MCP_BUS_URL" envDefault:"http://localhost:8000"`
}

// HITLURL returns whichever of HITLServiceURL/HITLServiceAddress is set,
// preferring the former.
func (c Config) HITLURL() string {
	if c.HITLServiceURL != "" {
		return c.HITLServiceURL
	}
	return c.HITLServiceAddress
}

// PrioritySites splits HITLPrioritySites' CSV into a trimmed slice.
func (c Config) PrioritySites() []string {
	if c.HITLPrioritySites == "" {
		return nil
	}
	parts := strings.Split(c.HITLPrioritySites, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizationMode validates and returns the configured urlnorm.Mode,
// defaulting to strict on an unrecognized value.
func (c Config) NormalizationMode() urlnorm.Mode {
	switch urlnorm.Mode(strings.ToLower(c.URLNormalizationMode)) {
	case urlnorm.ModeLenient:
		return urlnorm.ModeLenient
	case urlnorm.ModeNone:
		return urlnorm.ModeNone
	default:
		return urlnorm.ModeStrict
	}
}

// Load reads configuration from the environment (and an optional config
// file at configPath), applying the documented defaults for anything unset.
// viper supplies file + env-var binding; env/v11 guarantees every field has
// a typed default even when viper finds nothing to bind.
func Load(configPath string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse defaults: %w", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read config file %q: %w", configPath, err)
		}
	}

	bindEnv(v, cfg)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// bindEnv explicitly binds every mapstructure key to its env tag so
// viper.AutomaticEnv's default UPPER(key) guess doesn't miss the prefixed
// variable names (e.g. UNIFIED_CRAWLER_MAX_SITE_BATCHES vs the guessed
// MAX_SITE_BATCHES).
func bindEnv(v *viper.Viper, cfg Config) {
	binds := map[string]string{
		"max_site_batches":             "UNIFIED_CRAWLER_MAX_SITE_BATCHES",
		"paywall_skip_threshold":       "UNIFIED_CRAWLER_PAYWALL_SKIP_THRESHOLD",
		"url_normalization":            "ARTICLE_URL_NORMALIZATION",
		"url_hash_algo":                "ARTICLE_URL_HASH_ALGO",
		"min_words":                    "ARTICLE_MIN_WORDS",
		"min_text_html_ratio":          "ARTICLE_MIN_TEXT_HTML_RATIO",
		"enable_http_fetch":            "UNIFIED_CRAWLER_ENABLE_HTTP_FETCH",
		"per_domain_rps":               "UNIFIED_CRAWLER_PER_DOMAIN_RPS",
		"per_domain_jitter":            "UNIFIED_CRAWLER_PER_DOMAIN_JITTER",
		"hitl_service_url":             "HITL_SERVICE_URL",
		"hitl_service_address":         "HITL_SERVICE_ADDRESS",
		"enable_hitl_pipeline":         "ENABLE_HITL_PIPELINE",
		"hitl_stats_interval_seconds":  "HITL_STATS_INTERVAL_SECONDS",
		"hitl_failure_backoff_seconds": "HITL_FAILURE_BACKOFF_SECONDS",
		"hitl_priority_sites":          "HITL_PRIORITY_SITES",
		"mcp_bus_url":                  "MCP_BUS_URL",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
		v.SetDefault(key, defaultFor(cfg, key))
	}
}

func defaultFor(cfg Config, key string) any {
	switch key {
	case "max_site_batches":
		return cfg.MaxSiteBatches
	case "paywall_skip_threshold":
		return cfg.PaywallSkipThreshold
	case "url_normalization":
		return cfg.URLNormalizationMode
	case "url_hash_algo":
		return cfg.URLHashAlgo
	case "min_words":
		return cfg.MinWords
	case "min_text_html_ratio":
		return cfg.MinTextHTMLRatio
	case "enable_http_fetch":
		return cfg.EnableHTTPFetch
	case "per_domain_rps":
		return cfg.PerDomainRPS
	case "per_domain_jitter":
		return cfg.PerDomainJitter
	case "hitl_service_url":
		return cfg.HITLServiceURL
	case "hitl_service_address":
		return cfg.HITLServiceAddress
	case "enable_hitl_pipeline":
		return cfg.EnableHITLPipeline
	case "hitl_stats_interval_seconds":
		return cfg.HITLStatsIntervalSecs
	case "hitl_failure_backoff_seconds":
		return cfg.HITLFailureBackoffSecs
	case "hitl_priority_sites":
		return cfg.HITLPrioritySites
	case "mcp_bus_url":
		return cfg.MCPBusURL
	default:
		return nil
	}
}
