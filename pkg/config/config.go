package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigError marks a malformed configuration. It is the only error class
// that is fatal at startup; after startup every failure degrades to a
// per-instrument outcome.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrf(field, format string, a ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, a...)}
}

type Config struct {
	Environment string `json:"environment" yaml:"environment" default:"production"`

	// Retraining pipeline keys. Missing keys fall back to these defaults;
	// unknown keys in the file are ignored.
	ModelsDir             string   `json:"models_dir" yaml:"models_dir" default:"models"`
	DataDir               string   `json:"data_dir" yaml:"data_dir" default:"data"`
	BackupDir             string   `json:"backup_dir" yaml:"backup_dir" default:"backups"`
	Symbols               []string `json:"symbols" yaml:"symbols" default:"[\"BTC-USD\",\"ETH-USD\",\"AAPL\",\"GOOGL\"]"`
	SequenceLength        int      `json:"sequence_length" yaml:"sequence_length" default:"60" validate:"gte=2"`
	Features              []string `json:"features" yaml:"features" default:"[\"close\",\"volume\",\"high\",\"low\"]"`
	ValidationThreshold   float64  `json:"validation_threshold" yaml:"validation_threshold" default:"0.15" validate:"gte=0"`
	MinimumAccuracy       float64  `json:"minimum_accuracy" yaml:"minimum_accuracy" default:"0.45" validate:"gte=0"`
	RetrainFrequencyHours int      `json:"retrain_frequency_hours" yaml:"retrain_frequency_hours" default:"24" validate:"gte=1"`
	RetrainOnStart        bool     `json:"retrain_on_start" yaml:"retrain_on_start"`
	DataFreshnessHours    int      `json:"data_freshness_hours" yaml:"data_freshness_hours" default:"6" validate:"gte=1"`
	BackupRetentionDays   int      `json:"backup_retention_days" yaml:"backup_retention_days" default:"30" validate:"gte=1"`
	LookbackDays          int      `json:"lookback_days" yaml:"lookback_days" default:"365" validate:"gte=1"`

	Training struct {
		Mode         string  `json:"mode" yaml:"mode" default:"regression" validate:"oneof=regression direction"`
		Epochs       int     `json:"epochs" yaml:"epochs" default:"50" validate:"gte=1"`
		BatchSize    int     `json:"batch_size" yaml:"batch_size" default:"32" validate:"gte=1"`
		HiddenSizes  []int   `json:"hidden_sizes" yaml:"hidden_sizes" default:"[100,100,50]"`
		DenseSize    int     `json:"dense_size" yaml:"dense_size" default:"25" validate:"gte=1"`
		Dropout      float64 `json:"dropout" yaml:"dropout" default:"0.2" validate:"gte=0,lt=1"`
		LearningRate float64 `json:"learning_rate" yaml:"learning_rate" default:"0.001" validate:"gt=0"`
		TrainSplit   float64 `json:"train_split" yaml:"train_split" default:"0.8" validate:"gt=0,lt=1"`
		Patience     int     `json:"patience" yaml:"patience" default:"10" validate:"gte=1"`
		LRPatience   int     `json:"lr_patience" yaml:"lr_patience" default:"5" validate:"gte=1"`
		LRDecay      float64 `json:"lr_decay" yaml:"lr_decay" default:"0.5" validate:"gt=0,lt=1"`
		MinLR        float64 `json:"min_learning_rate" yaml:"min_learning_rate" default:"0.00001"`
		Seed         int64   `json:"seed" yaml:"seed" default:"42"`
	} `json:"training" yaml:"training"`

	MarketData struct {
		Source      string `json:"source" yaml:"source" default:"clickhouse" validate:"oneof=clickhouse http"`
		AuditFormat string `json:"audit_format" yaml:"audit_format" default:"csv" validate:"oneof=csv parquet"`
		HTTP        struct {
			BaseURL      string        `json:"base_url" yaml:"base_url"`
			Timeout      time.Duration `json:"timeout" yaml:"timeout" default:"30s"`
			RatePerSec   float64       `json:"rate_per_sec" yaml:"rate_per_sec" default:"5"`
			RateBurst    float64       `json:"rate_burst" yaml:"rate_burst" default:"10"`
			RetryMax     int           `json:"retry_max" yaml:"retry_max" default:"3"`
		} `json:"http" yaml:"http"`
	} `json:"market_data" yaml:"market_data"`

	Server struct {
		Enabled         bool          `json:"enabled" yaml:"enabled" default:"true"`
		Port            int           `json:"port" yaml:"port" default:"8085"`
		ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" default:"10s"`
	} `json:"server" yaml:"server"`

	Metrics struct {
		Enabled bool   `json:"enabled" yaml:"enabled" default:"true"`
		Path    string `json:"path" yaml:"path" default:"/metrics"`
	} `json:"metrics" yaml:"metrics"`

	ClickHouse struct {
		Enabled      bool          `json:"enabled" yaml:"enabled" default:"true"`
		Host         string        `json:"host" yaml:"host" default:"localhost"`
		Port         int           `json:"port" yaml:"port" default:"9000"`
		Database     string        `json:"database" yaml:"database" default:"fintrain"`
		User         string        `json:"user" yaml:"user" default:"default"`
		Password     string        `json:"password" yaml:"password"`
		CandlesTable string        `json:"candles_table" yaml:"candles_table" default:"candles_1d"`
		RunsTable    string        `json:"runs_table" yaml:"runs_table" default:"pipeline_runs"`
		DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" default:"30s"`
	} `json:"clickhouse" yaml:"clickhouse"`

	Kafka struct {
		Enabled     bool     `json:"enabled" yaml:"enabled"`
		Brokers     []string `json:"brokers" yaml:"brokers"`
		EventsTopic string   `json:"events_topic" yaml:"events_topic" default:"fintrain.events"`
		LogsTopic   string   `json:"logs_topic" yaml:"logs_topic" default:"fintrain.logs"`
		Commands    struct {
			Enabled    bool          `json:"enabled" yaml:"enabled"`
			Topic      string        `json:"topic" yaml:"topic" default:"fintrain.commands"`
			GroupID    string        `json:"group_id" yaml:"group_id" default:"fintrain"`
			RetryMax   int           `json:"retry_max" yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `json:"backoff_min" yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `json:"backoff_max" yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `json:"dlq_topic" yaml:"dlq_topic"`
		} `json:"commands" yaml:"commands"`
	} `json:"kafka" yaml:"kafka"`

	Redis struct {
		Enabled  bool   `json:"enabled" yaml:"enabled" default:"true"`
		Host     string `json:"host" yaml:"host" default:"localhost"`
		Port     int    `json:"port" yaml:"port" default:"6379"`
		Password string `json:"password" yaml:"password"`
		DB       int    `json:"db" yaml:"db"`
		Prefix   string `json:"prefix" yaml:"prefix" default:"fintrain"`
	} `json:"redis" yaml:"redis"`

	Lock struct {
		TTL time.Duration `json:"ttl" yaml:"ttl" default:"30m"`
	} `json:"lock" yaml:"lock"`

	Queue struct {
		RetryLimit int           `json:"retry_limit" yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" default:"10s"`
	} `json:"queue" yaml:"queue"`

	Logger struct {
		Level     string `json:"level" yaml:"level" default:"info"`
		Format    string `json:"format" yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `json:"output" yaml:"output" default:"stdout"`
		Collector struct {
			Enabled        bool          `json:"enabled" yaml:"enabled"`
			FlushInterval  time.Duration `json:"flush_interval" yaml:"flush_interval" default:"30s"`
			CountThreshold int           `json:"count_threshold" yaml:"count_threshold" default:"100"`
		} `json:"collector" yaml:"collector"`
	} `json:"logger" yaml:"logger"`
}

// Load reads and parses a configuration file. JSON is the default encoding;
// a .yaml/.yml extension switches to YAML.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read config: %w", err)}
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parse yaml config: %w", err)}
		}
	default:
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parse json config: %w", err)}
		}
	}

	// Fill documented defaults for everything the file left out
	if err := defaults.Set(&c); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("apply defaults: %w", err)}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// LoadWithEnv loads config from file and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port := splitHostPort(v, c.Redis.Port)
		c.Redis.Host = host
		c.Redis.Port = port
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MARKET_DATA_URL"); v != "" {
		c.MarketData.HTTP.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return configErrf(verrs[0].Namespace(), "failed %q validation", verrs[0].Tag())
		}
		return &ConfigError{Err: err}
	}

	if len(c.Symbols) == 0 {
		return configErrf("symbols", "cannot be empty")
	}
	if len(c.Features) == 0 {
		return configErrf("features", "cannot be empty")
	}
	if len(c.Training.HiddenSizes) == 0 {
		return configErrf("training.hidden_sizes", "needs at least one recurrent layer")
	}
	if c.MarketData.Source == "http" && c.MarketData.HTTP.BaseURL == "" {
		return configErrf("market_data.http.base_url", "required when market_data.source is 'http'")
	}
	if c.MarketData.Source == "clickhouse" && !c.ClickHouse.Enabled {
		return configErrf("clickhouse.enabled", "required when market_data.source is 'clickhouse'")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return configErrf("kafka.brokers", "cannot be empty when kafka is enabled")
	}
	if c.Kafka.Commands.Enabled && !c.Kafka.Enabled {
		return configErrf("kafka.commands.enabled", "requires kafka.enabled")
	}
	if c.Logger.Collector.Enabled && !c.Kafka.Enabled {
		return configErrf("logger.collector.enabled", "requires kafka.enabled for the log topic")
	}
	return nil
}

// RetrainInterval returns the scheduler period.
func (c *Config) RetrainInterval() time.Duration {
	return time.Duration(c.RetrainFrequencyHours) * time.Hour
}

// FreshnessWindow returns the max age before collected data counts as stale.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.DataFreshnessHours) * time.Hour
}

// BackupRetention returns the prune horizon.
func (c *Config) BackupRetention() time.Duration {
	return time.Duration(c.BackupRetentionDays) * 24 * time.Hour
}

func splitHostPort(addr string, defPort int) (string, int) {
	host := addr
	port := defPort
	if i := strings.LastIndex(addr, ":"); i > 0 {
		host = addr[:i]
		if p, err := parsePort(addr[i+1:]); err == nil {
			port = p
		}
	}
	return host, port
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}
