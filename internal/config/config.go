package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kidbank/backend/internal/events"
	"github.com/kidbank/backend/internal/ledger"
	"github.com/kidbank/backend/internal/money"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	// Brokers empty disables event publication.
	Brokers []string
	Topic   string
}

type PINConfig struct {
	MaxAttempts int
	Lockout     time.Duration
}

type Config struct {
	Server    ServerConfig
	Kafka     KafkaConfig
	Ledger    ledger.Config
	PIN       PINConfig
	JWTSecret string
	LogLevel  string
}

// envBindings maps config keys to the environment variables that override
// them. Keys without an entry still resolve through AutomaticEnv as
// DATABASE_HOST style names.
var envBindings = map[string]string{
	"server.port":              "PORT",
	"database.host":            "DATABASE_HOST",
	"database.port":            "DATABASE_PORT",
	"database.user":            "DATABASE_USER",
	"database.password":        "DATABASE_PASSWORD",
	"database.name":            "DATABASE_NAME",
	"database.ssl_mode":        "DATABASE_SSL_MODE",
	"redis.host":               "REDIS_HOST",
	"redis.port":               "REDIS_PORT",
	"redis.password":           "REDIS_PASSWORD",
	"redis.db":                 "REDIS_DB",
	"kafka.brokers":            "KAFKA_BROKERS",
	"kafka.topic":              "KAFKA_TOPIC",
	"jwt.secret_key":           "JWT_SECRET_KEY",
	"ledger.min_deposit_cents": "MIN_DEPOSIT_CENTS",
	"ledger.max_deposit_cents": "MAX_DEPOSIT_CENTS",
	"ledger.pin_policy":        "PIN_POLICY",
	"ledger.pin_max_attempts":  "PIN_MAX_ATTEMPTS",
	"ledger.pin_lockout":       "PIN_LOCKOUT",
	"log.level":                "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", events.TopicTransactionCommitted)
	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("ledger.min_deposit_cents", 1)
	v.SetDefault("ledger.max_deposit_cents", 1_000_000)
	v.SetDefault("ledger.pin_policy", string(ledger.PINOptional))
	v.SetDefault("ledger.pin_max_attempts", 5)
	v.SetDefault("ledger.pin_lockout", 15*time.Minute)
	v.SetDefault("log.level", "info")
}

// Load reads .env (if present) and the environment into the global viper
// instance and returns the validated process configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	return FromViper(viper.GetViper())
}

// FromViper binds environment variables on v and builds the config from it.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Ledger: ledger.Config{
			MinDeposit: money.Amount(v.GetInt64("ledger.min_deposit_cents")),
			MaxDeposit: money.Amount(v.GetInt64("ledger.max_deposit_cents")),
			PINPolicy:  ledger.PINPolicy(strings.ToLower(v.GetString("ledger.pin_policy"))),
		},
		PIN: PINConfig{
			MaxAttempts: v.GetInt("ledger.pin_max_attempts"),
			Lockout:     v.GetDuration("ledger.pin_lockout"),
		},
		JWTSecret: v.GetString("jwt.secret_key"),
		LogLevel:  v.GetString("log.level"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt.secret_key (JWT_SECRET_KEY) is required")
	}
	if c.PIN.MaxAttempts < 1 {
		return fmt.Errorf("ledger.pin_max_attempts must be at least 1, got %d", c.PIN.MaxAttempts)
	}
	if c.PIN.Lockout <= 0 {
		return fmt.Errorf("ledger.pin_lockout must be positive, got %s", c.PIN.Lockout)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are configured")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
