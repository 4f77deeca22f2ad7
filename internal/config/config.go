package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Routing   RoutingConfig   `yaml:"routing"`
	Policy    PolicyConfig    `yaml:"policy"`
	Progress  ProgressConfig  `yaml:"progress"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	GRPCPort         int           `yaml:"grpc_port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
}

// HistoryConfig selects the audit store. Driver is one of sqlite, postgres or none.
type HistoryConfig struct {
	Driver            string         `yaml:"driver"`
	SQLitePath        string         `yaml:"sqlite_path"`
	Postgres          DatabaseConfig `yaml:"postgres"`
	BufferSize        int            `yaml:"buffer_size"`
	RetentionDays     int            `yaml:"retention_days"`
	RetentionSchedule string         `yaml:"retention_schedule"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// URL is the plain connection URL understood by every postgres driver.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// DSN is URL plus the pgxpool sizing parameters.
func (d DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("%s&pool_max_conns=%d", d.URL(), max(d.MaxOpenConns, 1))
	if d.ConnMaxLifetime > 0 {
		dsn += "&pool_max_conn_lifetime=" + d.ConnMaxLifetime.String()
	}
	return dsn
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RoutingConfig holds the knobs that shape the fallback chain at request time.
type RoutingConfig struct {
	RateLimitSeconds   int `yaml:"rate_limit_seconds"`
	RetryTimeoutMillis int `yaml:"retry_timeout_millis"`
}

// CooldownWindow is how long a model stays reported as rate limited after a mark.
func (r RoutingConfig) CooldownWindow() time.Duration {
	return time.Duration(r.RateLimitSeconds) * time.Second
}

// AttemptTimeout bounds each variant attempt. Zero means no deadline.
func (r RoutingConfig) AttemptTimeout() time.Duration {
	return time.Duration(r.RetryTimeoutMillis) * time.Millisecond
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

// ProgressConfig controls delivery of per-attempt progress events.
type ProgressConfig struct {
	QueueSize    int    `yaml:"queue_size"`
	RedisChannel string `yaml:"redis_channel"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			GRPCPort:         8001,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     300 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxBodyBytes:     10 << 20,
		},
		History: HistoryConfig{
			Driver:     "sqlite",
			SQLitePath: "request_history.db",
			Postgres: DatabaseConfig{
				Host:            "localhost",
				Port:            5432,
				Name:            "relay",
				User:            "relay",
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
			BufferSize:        256,
			RetentionDays:     30,
			RetentionSchedule: "0 3 * * *",
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Routing: RoutingConfig{
			RateLimitSeconds:   60,
			RetryTimeoutMillis: 0,
		},
		Policy: PolicyConfig{
			Enabled:           false,
			BundlePath:        "configs/policies",
			EvaluationTimeout: 100 * time.Millisecond,
		},
		Progress: ProgressConfig{
			QueueSize:    128,
			RedisChannel: "relay:progress",
		},
	}
}
