package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

type RedisConfig struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
}

type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

type AllocationConfig struct {
	MaxRetries int
	RetryBase  time.Duration
}

type AppConfig struct {
	Port     string
	LogLevel string
	Postgres PostgresConfig
	Redis    RedisConfig
	S3       S3Config
	AMQP     AMQPConfig

	Allocation            AllocationConfig
	ArrearsCacheTTL       time.Duration
	StatusRefreshInterval time.Duration

	ExportDir         string
	ExportRetention   time.Duration
	FilesPublicPrefix string
	ExternalURL       string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration value %q: %v", s, err)
	}
	return d
}

func Load() AppConfig {
	return AppConfig{
		Port:     getenv("APP_PORT", "8010"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Postgres: PostgresConfig{
			Host:            getenv("PG_HOST", "127.0.0.1"),
			Port:            mustAtoi(getenv("PG_PORT", "5432")),
			User:            getenv("PG_USER", "renttrack"),
			Password:        getenv("PG_PASSWORD", "renttrack"),
			DBName:          getenv("PG_DB", "renttrack"),
			SSLMode:         getenv("PG_SSLMODE", "disable"),
			MaxOpenConns:    mustAtoi(getenv("PG_MAX_OPEN_CONNS", "20")),
			MaxIdleConns:    mustAtoi(getenv("PG_MAX_IDLE_CONNS", "5")),
			ConnMaxLifetime: mustDuration(getenv("PG_CONN_MAX_LIFETIME", "30m")),
			RunMigrations:   mustBool(getenv("PG_RUN_MIGRATIONS", "true")),
		},
		Redis: RedisConfig{
			URL:         getenv("REDIS_URL", ""),
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			PoolSize:    mustAtoi(getenv("REDIS_POOL_SIZE", "10")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "renttrack"),
		},
		S3: S3Config{
			Enabled:         mustBool(getenv("S3_ENABLED", "false")),
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "exports"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", ""),
		},
		AMQP: AMQPConfig{
			URL:      getenv("AMQP_URL", ""),
			Exchange: getenv("AMQP_EXCHANGE", "renttrack"),
			Queue:    getenv("AMQP_QUEUE", "ledger-events"),
		},
		Allocation: AllocationConfig{
			MaxRetries: mustAtoi(getenv("ALLOCATION_MAX_RETRIES", "3")),
			RetryBase:  mustDuration(getenv("ALLOCATION_RETRY_BASE", "25ms")),
		},
		ArrearsCacheTTL:       mustDuration(getenv("ARREARS_CACHE_TTL", "60s")),
		StatusRefreshInterval: mustDuration(getenv("STATUS_REFRESH_INTERVAL", "24h")),
		ExportDir:             getenv("EXPORT_DIR", "./exports"),
		ExportRetention:       mustDuration(getenv("EXPORT_RETENTION", "30m")),
		FilesPublicPrefix:     getenv("FILES_PUBLIC_PREFIX", "/files"),
		ExternalURL:           getenv("APP_EXTERNAL_URL", ""),
	}
}

// Validate reports every invalid setting at once.
func (c AppConfig) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid port %q: must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.Postgres.Host == "" || c.Postgres.DBName == "" {
		errs = append(errs, errors.New("postgres host and database name are required"))
	}
	if c.Postgres.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("PG_MAX_OPEN_CONNS must be positive, got %d", c.Postgres.MaxOpenConns))
	}

	if c.Allocation.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("ALLOCATION_MAX_RETRIES must be at least 1, got %d", c.Allocation.MaxRetries))
	}
	if c.Allocation.RetryBase <= 0 {
		errs = append(errs, fmt.Errorf("ALLOCATION_RETRY_BASE must be positive, got %s", c.Allocation.RetryBase))
	}
	if c.ArrearsCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("ARREARS_CACHE_TTL must be positive, got %s", c.ArrearsCacheTTL))
	}
	if c.StatusRefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("STATUS_REFRESH_INTERVAL must be at least 1m, got %s", c.StatusRefreshInterval))
	}

	if c.ExportRetention <= 0 {
		errs = append(errs, fmt.Errorf("EXPORT_RETENTION must be positive, got %s", c.ExportRetention))
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET cannot be empty when S3 is enabled"))
	}

	if c.AMQP.URL != "" {
		if u, err := url.Parse(c.AMQP.URL); err != nil {
			errs = append(errs, fmt.Errorf("invalid AMQP URL: %w", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Errorf("invalid AMQP URL scheme %q: must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQP.Exchange == "" {
			errs = append(errs, errors.New("AMQP exchange name cannot be empty when AMQP URL is provided"))
		}
	}

	return errors.Join(errs...)
}
