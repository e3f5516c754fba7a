package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name           string          `yaml:"name"`
	Port           string          `yaml:"port"`
	Env            string          `yaml:"env"`
	LogLevel       string          `yaml:"log_level"`
	BaseURL        string          `yaml:"base_url"`
	CommissionRate decimal.Decimal `yaml:"commission_rate"`
	Currency       string          `yaml:"currency"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// DSN возвращает строку подключения в формате key=value.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Issuer    string        `yaml:"issuer"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	ReturnURL     string `yaml:"return_url"`
	RefreshURL    string `yaml:"refresh_url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	PublicBaseURL string `yaml:"public_base_url"`
	LocalDir      string `yaml:"local_dir"`
}

type MailConfig struct {
	Driver string `yaml:"driver"`
	From   string `yaml:"from"`
	Region string `yaml:"region"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Storage  StorageConfig  `yaml:"storage"`
	Mail     MailConfig     `yaml:"mail"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "costume-exchange"
	cfg.App.Port = "8080"
	cfg.App.Env = "development"
	cfg.App.LogLevel = "info"
	cfg.App.BaseURL = "http://localhost:3000"
	cfg.App.CommissionRate = decimal.RequireFromString("0.12")
	cfg.App.Currency = "usd"

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	cfg.Auth.Issuer = "costume-exchange"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Kafka.Topic = "marketplace.orders"

	cfg.Storage.Driver = "local"
	cfg.Storage.LocalDir = "uploads"
	cfg.Mail.Driver = "log"
	cfg.Mail.From = "no-reply@costume-exchange.local"
	return cfg
}

// Load собирает конфигурацию: YAML-файл (если задан), затем .env, затем переменные окружения.
func Load(yamlPath, envPath string) (*Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		file, err := os.Open(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")
	setString(&cfg.App.BaseURL, "APP_BASE_URL")
	setString(&cfg.App.Currency, "APP_CURRENCY")
	if v := os.Getenv("COMMISSION_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid COMMISSION_RATE %q: %w", v, err)
		}
		cfg.App.CommissionRate = rate
	}

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DB_MAX_CONNS %q: %w", v, err)
		}
		cfg.Postgres.MaxConns = int32(n)
	}

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	if v := os.Getenv("JWT_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_TTL %q: %w", v, err)
		}
		cfg.Auth.TokenTTL = ttl
	}

	setString(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&cfg.Stripe.ReturnURL, "STRIPE_CONNECT_RETURN_URL")
	setString(&cfg.Stripe.RefreshURL, "STRIPE_CONNECT_REFRESH_URL")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.Redis.DB = n
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")

	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.Bucket, "STORAGE_BUCKET")
	setString(&cfg.Storage.Region, "STORAGE_REGION")
	setString(&cfg.Storage.PublicBaseURL, "STORAGE_PUBLIC_BASE_URL")
	setString(&cfg.Storage.LocalDir, "STORAGE_LOCAL_DIR")

	setString(&cfg.Mail.Driver, "MAIL_DRIVER")
	setString(&cfg.Mail.From, "MAIL_FROM")
	setString(&cfg.Mail.Region, "MAIL_REGION")

	return nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"DB_HOST":     c.Postgres.Host,
		"DB_USER":     c.Postgres.User,
		"DB_PASSWORD": c.Postgres.Password,
		"DB_NAME":     c.Postgres.DBName,
		"JWT_SECRET":  c.Auth.JWTSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if c.App.CommissionRate.IsNegative() || c.App.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate must be in [0, 1), got %s", c.App.CommissionRate)
	}

	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("STORAGE_BUCKET is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Mail.Driver {
	case "log", "ses":
	default:
		return fmt.Errorf("unknown mail driver %q", c.Mail.Driver)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
