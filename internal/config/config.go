package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`
	Fallback   FallbackConfig   `yaml:"fallback" mapstructure:"fallback"`
	Routing    RoutingConfig    `yaml:"routing" mapstructure:"routing"`
	Geo        GeoConfig        `yaml:"geo" mapstructure:"geo"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ReportConfig configures the upstream reporting API client.
type ReportConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Username         string  `yaml:"username" mapstructure:"username"`
	Password         string  `yaml:"password" mapstructure:"password"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	TokenTTLMins     int     `yaml:"token_ttl_mins" mapstructure:"token_ttl_mins"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldown  int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ModelConfig configures the inference client behind the repair path.
type ModelConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FallbackConfig bounds the model-assisted repair path.
type FallbackConfig struct {
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	Disabled    []string `yaml:"disabled" mapstructure:"disabled"`
}

// RoutingConfig points at the keyword overlay file, if any.
type RoutingConfig struct {
	KeywordsPath string `yaml:"keywords_path" mapstructure:"keywords_path"`
}

// GeoConfig configures location resolution.
type GeoConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
	MaxResults  int    `yaml:"max_results" mapstructure:"max_results"`
	// ConfidenceFloor is applied at grouping time, 0-100 scale.
	ConfidenceFloor float64 `yaml:"confidence_floor" mapstructure:"confidence_floor"`
}

// PipelineConfig configures the question pipeline.
type PipelineConfig struct {
	PatternsPath string `yaml:"patterns_path" mapstructure:"patterns_path"`
	// ComplexityThreshold is the time-phrase count at which a question is
	// handed to the complex-query repair path.
	ComplexityThreshold int `yaml:"complexity_threshold" mapstructure:"complexity_threshold"`
	// DispatchConcurrency bounds the parallel report calls per question.
	DispatchConcurrency int `yaml:"dispatch_concurrency" mapstructure:"dispatch_concurrency"`
	CallTimeoutSecs     int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	// RecoveryRetryCap caps model-repair retries per dispatch location.
	RecoveryRetryCap int `yaml:"recovery_retry_cap" mapstructure:"recovery_retry_cap"`
}

// LedgerConfig configures the decision and error ledger backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// MonitoringConfig configures the in-process health monitor.
type MonitoringConfig struct {
	WindowSize  int     `yaml:"window_size" mapstructure:"window_size"`
	WebhookURL  string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRate   float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	SQLRate     float64 `yaml:"sql_rate_threshold" mapstructure:"sql_rate_threshold"`
	LatencySecs float64 `yaml:"latency_threshold_secs" mapstructure:"latency_threshold_secs"`
}

// Validate checks the fields required for the given run mode. Modes map to
// the top-level commands: "ask", "route", and "serve".
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(ok bool, msg string) {
		if !ok {
			missing = append(missing, msg)
		}
	}

	switch mode {
	case "ask":
		check(c.Report.BaseURL != "", "report.base_url is required")
		check(c.Report.Username != "", "report.username is required")
		check(c.Report.Password != "", "report.password is required")
	case "route":
		// Keyword routing needs no credentials.
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Report.BaseURL != "", "report.base_url is required")
		check(c.Report.Username != "", "report.username is required")
		check(c.Report.Password != "", "report.password is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	check(c.Pipeline.DispatchConcurrency >= 1 && c.Pipeline.DispatchConcurrency <= 32,
		"pipeline.dispatch_concurrency must be between 1 and 32")
	check(c.Pipeline.RecoveryRetryCap >= 0,
		"pipeline.recovery_retry_cap must be >= 0")
	check(c.Geo.ConfidenceFloor >= 0 && c.Geo.ConfidenceFloor <= 100,
		"geo.confidence_floor must be between 0 and 100")

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AQROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("report.timeout_secs", 30)
	v.SetDefault("report.token_ttl_mins", 30)
	v.SetDefault("report.rate_per_sec", 5.0)
	v.SetDefault("report.rate_burst", 10)
	v.SetDefault("report.breaker_threshold", 5)
	v.SetDefault("report.breaker_cooldown_secs", 30)
	v.SetDefault("model.model", "claude-haiku-4-5-20251001")
	v.SetDefault("model.max_tokens", 1024)
	v.SetDefault("fallback.timeout_secs", 10)
	v.SetDefault("fallback.max_attempts", 2)
	v.SetDefault("geo.max_results", 10)
	v.SetDefault("geo.confidence_floor", 70)
	v.SetDefault("pipeline.complexity_threshold", 2)
	v.SetDefault("pipeline.dispatch_concurrency", 4)
	v.SetDefault("pipeline.call_timeout_secs", 30)
	v.SetDefault("pipeline.recovery_retry_cap", 1)
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.path", "aqroute.db")
	v.SetDefault("monitoring.window_size", 1000)
	v.SetDefault("monitoring.error_rate_threshold", 0.3)
	v.SetDefault("monitoring.sql_rate_threshold", 0.5)
	v.SetDefault("monitoring.latency_threshold_secs", 20)

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
