package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config del servicio. Se carga desde env (y .env si existe).
type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	AppName string `env:"APP_NAME" envDefault:"tnr-records"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Database DatabaseConfig
	Locks    LockConfig
	Scoring  ScoringConfig
	Kafka    KafkaConfig
	IAM      IAMConfig

	OTelEnabled bool `env:"OTEL_ENABLED" envDefault:"false"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig: DB_DRIVER=memory|postgres|sqlite.
type DatabaseConfig struct {
	Driver      string `env:"DB_DRIVER" envDefault:"memory"`
	DSN         string `env:"DB_DSN"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type LockConfig struct {
	TTL          time.Duration `env:"LOCK_TTL" envDefault:"15m"`
	ReapSchedule string        `env:"LOCK_REAP_SCHEDULE" envDefault:"@every 30s"`
	// EditPolicy: required (hay que tener el lock para editar) | advisory.
	EditPolicy string `env:"EDIT_LOCK_POLICY" envDefault:"required"`
}

type ScoringConfig struct {
	WeightsFile string `env:"SCORER_WEIGHTS_FILE"`
}

// KafkaConfig del feed de pares candidatos (opcional).
type KafkaConfig struct {
	Enabled       bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers       []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic         string   `env:"KAFKA_CANDIDATES_TOPIC" envDefault:"entity-match-candidates"`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"tnr-records"`
}

// IAMConfig del verificador de tokens de staff. Sin BaseURL => modo dev.
type IAMConfig struct {
	BaseURL string        `env:"IAM_BASE_URL"`
	APIKey  string        `env:"IAM_API_KEY"`
	Timeout time.Duration `env:"IAM_TIMEOUT" envDefault:"5s"`
}

// Load lee .env (si existe) y luego el entorno.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse lee solo el entorno.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("DB_DSN is required for DB_DRIVER=%s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Locks.TTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	switch strings.ToLower(c.Locks.EditPolicy) {
	case "required", "advisory":
	default:
		return fmt.Errorf("unsupported EDIT_LOCK_POLICY %q", c.Locks.EditPolicy)
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}
