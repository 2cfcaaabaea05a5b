// Package config provides configuration loading for the shadowpulse core.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retention RetentionConfig `mapstructure:"retention"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the postgres:// form used by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration (API rate limiting only; the core
// coordinates exclusively through Postgres).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkerConfig holds job worker configuration.
type WorkerConfig struct {
	// WorkerID is the stable identity written to jobs.locked_by.
	// Empty means derive one from the process id.
	WorkerID                   string `mapstructure:"worker_id"`
	PollSeconds                int    `mapstructure:"poll_seconds"`
	MaxConcurrentJobsGlobal    int    `mapstructure:"max_concurrent_jobs_global"`
	MaxConcurrentJobsPerTarget int    `mapstructure:"max_concurrent_jobs_per_target"`
}

// SchedulerConfig holds schedule-firing loop configuration.
type SchedulerConfig struct {
	PollSeconds int `mapstructure:"poll_seconds"`
}

// RetentionConfig holds data retention policy configuration.
type RetentionConfig struct {
	RawOutputDays     int `mapstructure:"raw_output_days"`
	CompletedRunsDays int `mapstructure:"completed_runs_days"`
}

// RecoveryConfig holds startup crash-recovery configuration.
type RecoveryConfig struct {
	// MinLockAge limits job recovery to jobs whose locked_at is older than
	// this. Zero recovers every running job, which is only safe for
	// single-process deployments.
	MinLockAge time.Duration `mapstructure:"min_lock_age"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/shadowpulse")

	v.SetEnvPrefix("SHADOWPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Legacy unprefixed environment keys kept for deployment compatibility.
	v.BindEnv("worker.worker_id", "SHADOWPULSE_WORKER_WORKER_ID", "WORKER_ID")
	v.BindEnv("worker.poll_seconds", "SHADOWPULSE_WORKER_POLL_SECONDS", "WORKER_POLL_SECONDS")
	v.BindEnv("worker.max_concurrent_jobs_global", "SHADOWPULSE_WORKER_MAX_CONCURRENT_JOBS_GLOBAL", "MAX_CONCURRENT_JOBS_GLOBAL")
	v.BindEnv("worker.max_concurrent_jobs_per_target", "SHADOWPULSE_WORKER_MAX_CONCURRENT_JOBS_PER_TARGET", "MAX_CONCURRENT_JOBS_PER_TARGET")
	v.BindEnv("scheduler.poll_seconds", "SHADOWPULSE_SCHEDULER_POLL_SECONDS", "SCHEDULER_POLL_SECONDS")
	v.BindEnv("retention.raw_output_days", "SHADOWPULSE_RETENTION_RAW_OUTPUT_DAYS", "RETENTION_RAW_OUTPUT_DAYS")
	v.BindEnv("retention.completed_runs_days", "SHADOWPULSE_RETENTION_COMPLETED_RUNS_DAYS", "RETENTION_COMPLETED_RUNS_DAYS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "shadowpulse")
	v.SetDefault("database.password", "shadowpulse")
	v.SetDefault("database.database", "shadowpulse")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Worker defaults
	v.SetDefault("worker.worker_id", "")
	v.SetDefault("worker.poll_seconds", 2)
	v.SetDefault("worker.max_concurrent_jobs_global", 5)
	v.SetDefault("worker.max_concurrent_jobs_per_target", 2)

	// Scheduler defaults
	v.SetDefault("scheduler.poll_seconds", 5)

	// Retention defaults
	v.SetDefault("retention.raw_output_days", 30)
	v.SetDefault("retention.completed_runs_days", 90)

	// Recovery defaults
	v.SetDefault("recovery.min_lock_age", "0s")
}
