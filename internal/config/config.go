// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Store     StoreConfig     `mapstructure:"store"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Index     IndexConfig     `mapstructure:"index"`
	Visited   VisitedConfig   `mapstructure:"visited"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name" validate:"required"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
}

// PipelineConfig sizes the local pipeline.
type PipelineConfig struct {
	Workers              int           `mapstructure:"workers" validate:"gt=0"`
	Republishers         int           `mapstructure:"republishers" validate:"gt=0"`
	IngestQueueCapacity  int           `mapstructure:"ingest_queue_capacity" validate:"gt=0"`
	ShuffleQueueCapacity int           `mapstructure:"shuffle_queue_capacity" validate:"gt=0"`
	DomainTTL            time.Duration `mapstructure:"domain_ttl" validate:"gt=0"`
	AcceptedLanguage     string        `mapstructure:"accepted_language" validate:"len=2"`
	WorkTimeout          time.Duration `mapstructure:"work_timeout" validate:"gt=0"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	HealthInterval       time.Duration `mapstructure:"health_interval" validate:"gt=0"`
	PublishRate          float64       `mapstructure:"publish_rate" validate:"gte=0"`
	PublishBurst         int           `mapstructure:"publish_burst" validate:"gte=0"`
	PublishMaxAttempts   int           `mapstructure:"publish_max_attempts" validate:"gt=0"`
	PublishTimeout       time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
	BackoffInitial       time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffMax           time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffInitial"`
}

// FetcherConfig controls page retrieval.
type FetcherConfig struct {
	UserAgent    string        `mapstructure:"user_agent" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes" validate:"gt=0"`
	IgnoreRobots bool          `mapstructure:"ignore_robots"`
}

// BrokerConfig selects the frontier broker.
type BrokerConfig struct {
	Backend              string `mapstructure:"backend" validate:"oneof=memory pubsub"`
	ProjectID            string `mapstructure:"project_id" validate:"required_if=Backend pubsub"`
	FrontierTopic        string `mapstructure:"frontier_topic" validate:"required_if=Backend pubsub"`
	FrontierSubscription string `mapstructure:"frontier_subscription" validate:"required_if=Backend pubsub"`
	PageTopic            string `mapstructure:"page_topic"`
}

// StoreConfig selects the page store.
type StoreConfig struct {
	Backend         string        `mapstructure:"backend" validate:"oneof=memory postgres"`
	DSN             string        `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BlobConfig selects where page markup is archived.
type BlobConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=none memory local gcs"`
	Bucket  string `mapstructure:"bucket" validate:"required_if=Backend gcs"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir" validate:"required_if=Backend local"`
}

// IndexConfig selects the page index.
type IndexConfig struct {
	Backend   string   `mapstructure:"backend" validate:"oneof=memory elasticsearch"`
	Addresses []string `mapstructure:"addresses" validate:"required_if=Backend elasticsearch,dive,url"`
	Name      string   `mapstructure:"name"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// VisitedConfig selects the shared visited set.
type VisitedConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory redis sqlite"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisKey      string `mapstructure:"redis_key"`
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "crawl-pipeline")
	v.SetDefault("telemetry.tracing_enabled", false)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.republishers", 2)
	v.SetDefault("pipeline.ingest_queue_capacity", 64)
	v.SetDefault("pipeline.shuffle_queue_capacity", 256)
	v.SetDefault("pipeline.domain_ttl", "10m")
	v.SetDefault("pipeline.accepted_language", "en")
	v.SetDefault("pipeline.work_timeout", "45s")
	v.SetDefault("pipeline.shutdown_timeout", "60s")
	v.SetDefault("pipeline.health_interval", "10s")
	v.SetDefault("pipeline.publish_rate", 0)
	v.SetDefault("pipeline.publish_burst", 1)
	v.SetDefault("pipeline.publish_max_attempts", 5)
	v.SetDefault("pipeline.publish_timeout", "10s")
	v.SetDefault("pipeline.backoff_initial", "250ms")
	v.SetDefault("pipeline.backoff_max", "5s")

	v.SetDefault("fetcher.user_agent", "crawl-pipeline-bot/0.1")
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.max_body_bytes", 10<<20)
	v.SetDefault("fetcher.ignore_robots", false)

	v.SetDefault("broker.backend", "memory")
	v.SetDefault("broker.frontier_topic", "crawl-frontier")
	v.SetDefault("broker.frontier_subscription", "crawl-frontier-sub")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.table", "pages")

	v.SetDefault("blob.backend", "none")
	v.SetDefault("blob.prefix", "pages")

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.name", "pages")

	v.SetDefault("visited.backend", "memory")
	v.SetDefault("visited.redis_key", "crawler:visited")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	val.RegisterStructValidation(validateShutdownBudget, PipelineConfig{})
	return val
}

// validateShutdownBudget requires the role wait to outlast one in-flight link
// plus one publish, so roles normally exit before the flush.
func validateShutdownBudget(sl validator.StructLevel) {
	pc, ok := sl.Current().Interface().(PipelineConfig)
	if !ok {
		return
	}
	if pc.WorkTimeout <= 0 || pc.PublishTimeout <= 0 {
		return
	}
	if pc.ShutdownTimeout <= pc.WorkTimeout+pc.PublishTimeout {
		sl.ReportError(pc.ShutdownTimeout, "shutdown_timeout", "ShutdownTimeout", "shutdown_budget", "")
	}
}

// Validate enforces required values and reasonable limits. Failures are
// reported as section.key messages.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "gt":
		return fmt.Sprintf("%s must be > %s", key, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", key, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", key, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", key, fe.Param())
	case "len":
		return fmt.Sprintf("%s must have length %s", key, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be >= backoff_initial", key)
	case "shutdown_budget":
		return key + " must exceed work_timeout + publish_timeout"
	default:
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}
