package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel  string
	RedisAddr string
	Queues    []string
	WorkerID  string

	LockTTL           time.Duration
	HeartbeatInterval time.Duration
	FetchTimeout      time.Duration
	TaskTimeout       time.Duration

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	ReporterTarget  string
	ReporterTimeout time.Duration

	RolesFile   string
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string

	PostgresDSN  string
	KafkaBrokers string
	DLQTopic     string

	PhaseRateLimit  int
	PhaseRateWindow time.Duration

	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:          v.GetString("log_level"),
		RedisAddr:         v.GetString("redis_addr"),
		Queues:            splitList(v.GetStringSlice("queues")),
		WorkerID:          v.GetString("worker_id"),
		LockTTL:           v.GetDuration("lock_ttl"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		FetchTimeout:      v.GetDuration("fetch_timeout"),
		TaskTimeout:       v.GetDuration("task_timeout"),
		MaxRetries:        v.GetInt("max_retries"),
		BaseDelay:         v.GetDuration("base_delay"),
		MaxDelay:          v.GetDuration("max_delay"),
		ReporterTarget:    v.GetString("reporter_target"),
		ReporterTimeout:   v.GetDuration("reporter_timeout"),
		RolesFile:         v.GetString("roles_file"),
		LLMProvider:       v.GetString("llm_provider"),
		LLMAPIKey:         v.GetString("llm_api_key"),
		LLMBaseURL:        v.GetString("llm_base_url"),
		LLMModel:          v.GetString("llm_model"),
		PostgresDSN:       v.GetString("postgres_dsn"),
		KafkaBrokers:      v.GetString("kafka_brokers"),
		DLQTopic:          v.GetString("dlq_topic"),
		PhaseRateLimit:    v.GetInt("phase_rate_limit"),
		PhaseRateWindow:   v.GetDuration("phase_rate_window"),
		MetricsAddr:       v.GetString("metrics_addr"),
		OTelEndpoint:      v.GetString("otel_endpoint"),
	}
}

// Validate rejects settings the worker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis_addr is required"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock_ttl must be positive"))
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LockTTL {
		errs = append(errs, fmt.Errorf("heartbeat_interval %s must be positive and shorter than lock_ttl %s", c.HeartbeatInterval, c.LockTTL))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		errs = append(errs, fmt.Errorf("base_delay %s must be positive and not exceed max_delay %s", c.BaseDelay, c.MaxDelay))
	}
	if c.PhaseRateLimit > 0 && c.PhaseRateWindow <= 0 {
		errs = append(errs, errors.New("phase_rate_window must be positive when phase_rate_limit is set"))
	}
	return errors.Join(errs...)
}

// Brokers splits the comma-separated broker list. Empty means Kafka is off.
func (c Config) Brokers() []string {
	return splitList([]string{c.KafkaBrokers})
}

// splitList flattens comma-separated entries and drops blanks, so both YAML
// lists and "a,b" env values work.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
