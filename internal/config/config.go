package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"corridor-router/internal/logging"
	"corridor-router/internal/oracle"
	"corridor-router/internal/risk"
	"corridor-router/internal/routing"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	AuditQueueSize  int           `mapstructure:"audit_queue_size"`
	AuditTimeout    time.Duration `mapstructure:"audit_timeout"`
}

// SchedulerConfig governs recompute cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// RiskConfig covers signal aggregation and the corridor set.
type RiskConfig struct {
	GlobalMaxAdjustmentBps int                          `mapstructure:"global_max_adjustment_bps"`
	DecayHalfLife          time.Duration                `mapstructure:"decay_half_life"`
	PruneThreshold         float64                      `mapstructure:"prune_threshold"`
	WindowPolicy           string                       `mapstructure:"window_policy"`
	SeedPresets            bool                         `mapstructure:"seed_presets"`
	SourceWeights          map[string]risk.SourceWeight `mapstructure:"source_weights"`
	Corridors              []risk.CorridorConfig        `mapstructure:"corridors"`
}

// RoutingConfig covers provider fan-out and scoring.
type RoutingConfig struct {
	TopK            int                    `mapstructure:"top_k"`
	ProviderTimeout time.Duration          `mapstructure:"provider_timeout"`
	RequestTimeout  time.Duration          `mapstructure:"request_timeout"`
	MarkupPercent   float64                `mapstructure:"markup_percent"`
	MaxConcurrency  int                    `mapstructure:"max_concurrency"`
	Weights         routing.Weights        `mapstructure:"weights"`
	Static          []routing.StaticConfig `mapstructure:"static_providers"`
	Remote          []routing.HTTPOptions  `mapstructure:"http_providers"`
}

// OracleConfig covers the FX reference price sources.
type OracleConfig struct {
	Enabled      bool            `mapstructure:"enabled"`
	Policy       string          `mapstructure:"deviation_policy"`
	ThresholdBps float64         `mapstructure:"deviation_threshold_bps"`
	Timeout      time.Duration   `mapstructure:"timeout"`
	Pegged       []string        `mapstructure:"pegged"`
	Chainlink    ChainlinkConfig `mapstructure:"chainlink"`
	Pyth         PythConfig      `mapstructure:"pyth"`
	Redis        RedisConfig     `mapstructure:"redis"`
}

// ChainlinkConfig covers on-chain aggregator access.
type ChainlinkConfig struct {
	RPCURL string                 `mapstructure:"rpc_url"`
	MaxAge time.Duration          `mapstructure:"max_age"`
	Feeds  []oracle.ChainlinkFeed `mapstructure:"feeds"`
}

// PythConfig covers the Hermes REST API.
type PythConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	BaseURL   string            `mapstructure:"base_url"`
	MaxAge    time.Duration     `mapstructure:"max_age"`
	UserAgent string            `mapstructure:"user_agent"`
	Feeds     []oracle.PythFeed `mapstructure:"feeds"`
}

// RedisConfig covers the rate cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HTTPConfig covers the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WebsocketBuffer int           `mapstructure:"websocket_buffer"`
}

// KafkaConfig covers event streaming.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	ClientID     string        `mapstructure:"client_id"`
	Compression  string        `mapstructure:"compression"`
	RequiredAcks int           `mapstructure:"required_acks"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	RiskThreshold float64        `mapstructure:"risk_threshold"`
	AlertOnCap    bool           `mapstructure:"alert_on_cap"`
	Cooldown      time.Duration  `mapstructure:"cooldown"`
	Channels      []string       `mapstructure:"channels"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CORRIDOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "corridor-router")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.audit_queue_size", 256)
	v.SetDefault("database.audit_timeout", "5s")

	v.SetDefault("scheduler.interval", "10s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("risk.global_max_adjustment_bps", 75)
	v.SetDefault("risk.decay_half_life", "1h")
	v.SetDefault("risk.prune_threshold", risk.DefaultPruneThreshold)
	v.SetDefault("risk.window_policy", string(risk.WindowPolicyFirstMatch))
	v.SetDefault("risk.seed_presets", false)

	v.SetDefault("routing.top_k", routing.DefaultTopK)
	v.SetDefault("routing.provider_timeout", routing.DefaultProviderTimeout.String())
	v.SetDefault("routing.request_timeout", routing.DefaultRequestTimeout.String())
	v.SetDefault("routing.markup_percent", routing.DefaultMarkupPercent)
	v.SetDefault("routing.max_concurrency", 16)
	v.SetDefault("routing.weights.fee", 0.40)
	v.SetDefault("routing.weights.latency", 0.25)
	v.SetDefault("routing.weights.liquidity", 0.25)
	v.SetDefault("routing.weights.volume", 0.10)

	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.deviation_policy", string(oracle.DeviationAdvisory))
	v.SetDefault("oracle.deviation_threshold_bps", oracle.DefaultDeviationThresholdBps)
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.pegged", []string{"USDC", "USDT"})
	v.SetDefault("oracle.chainlink.max_age", "26h")
	v.SetDefault("oracle.pyth.enabled", true)
	v.SetDefault("oracle.pyth.base_url", "https://hermes.pyth.network")
	v.SetDefault("oracle.pyth.max_age", "5m")
	v.SetDefault("oracle.pyth.user_agent", "corridor-router/1.0")
	v.SetDefault("oracle.redis.prefix", "corridor:oracle")
	v.SetDefault("oracle.redis.ttl", "60s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.websocket_buffer", 32)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "corridor.events")
	v.SetDefault("kafka.client_id", "corridor-router")
	v.SetDefault("kafka.compression", "snappy")
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.risk_threshold", 0.6)
	v.SetDefault("alerting.alert_on_cap", true)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// applyFallbacks installs the stock corridors and rails when none are configured.
func (c *Config) applyFallbacks() {
	if len(c.Risk.Corridors) == 0 {
		c.Risk.Corridors = risk.DefaultCorridors()
	}
	if len(c.Routing.Static) == 0 && len(c.Routing.Remote) == 0 {
		c.Routing.Static = routing.DefaultStaticProviders()
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Risk.GlobalMaxAdjustmentBps < 0 {
		return fmt.Errorf("risk.global_max_adjustment_bps cannot be negative")
	}
	if _, err := risk.ParseWindowPolicy(c.Risk.WindowPolicy); err != nil {
		return fmt.Errorf("risk.window_policy: %w", err)
	}
	for name := range c.Risk.SourceWeights {
		if _, err := risk.ParseSource(name); err != nil {
			return fmt.Errorf("risk.source_weights: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(c.Risk.Corridors))
	for _, cc := range c.Risk.Corridors {
		corridor, err := risk.CompileCorridor(cc)
		if err != nil {
			return fmt.Errorf("risk.corridors: %w", err)
		}
		if _, dup := seen[corridor.Pair]; dup {
			return fmt.Errorf("risk.corridors: duplicate corridor %s", corridor.Pair)
		}
		seen[corridor.Pair] = struct{}{}
	}

	if c.Routing.TopK < 0 {
		return fmt.Errorf("routing.top_k cannot be negative")
	}
	if c.Routing.MarkupPercent < 0 {
		return fmt.Errorf("routing.markup_percent cannot be negative")
	}
	if err := c.Routing.Weights.Validate(); err != nil {
		return fmt.Errorf("routing.weights: %w", err)
	}

	if _, err := oracle.ParseDeviationPolicy(c.Oracle.Policy); err != nil {
		return fmt.Errorf("oracle.deviation_policy: %w", err)
	}
	if c.Oracle.ThresholdBps < 0 {
		return fmt.Errorf("oracle.deviation_threshold_bps cannot be negative")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must be set when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic must be set when kafka is enabled")
		}
	}

	if c.Alerting.RiskThreshold < 0 || c.Alerting.RiskThreshold > 1 {
		return fmt.Errorf("alerting.risk_threshold must be within [0,1]")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
