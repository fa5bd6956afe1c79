// Package config loads service configuration from a yaml file with
// environment variable overrides.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Saga     Saga     `yaml:"saga"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Mongo    Mongo    `yaml:"mongo"`
	NATS     NATS     `yaml:"nats"`
	Kafka    Kafka    `yaml:"kafka"`
	Tracing  Tracing  `yaml:"tracing"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"offer"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port     int    `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api/v1"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Saga selects the coordination topology and the broker carrying the events.
type Saga struct {
	// Topology is "chain" or "fanout".
	Topology string `yaml:"topology" env:"SAGA_TOPOLOGY" env-default:"fanout"`
	// Broker is "inmemory", "nats" or "kafka".
	Broker string `yaml:"broker" env:"SAGA_BROKER" env-default:"inmemory"`
	// Store is "inmemory", "postgres" or "redis".
	Store string `yaml:"store" env:"SAGA_STORE" env-default:"inmemory"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"offer"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"offer"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"offer"`
}

// DSN renders the connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.DBName)
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Mongo struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DB" env-default:"offer"`
}

type NATS struct {
	URL string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"offer-group"`
}

type Tracing struct {
	Enabled      bool    `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	SamplingRate float64 `yaml:"sampling_rate" env:"TRACING_SAMPLING_RATE" env-default:"1.0"`
}

// New reads config.yaml when present, then lets environment variables
// override it.
func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		_ = cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
