package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is read from YAML and then overridden by TRIVIA_* environment
// variables.
type Config struct {
	Server struct {
		Port string `yaml:"port" env:"TRIVIA_SERVER_PORT"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr" env:"TRIVIA_REDIS_ADDR"`
		Password string `yaml:"password" env:"TRIVIA_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"TRIVIA_REDIS_DB"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"TRIVIA_POSTGRES_URL"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path" env:"TRIVIA_SQLITE_PATH"`
	} `yaml:"sqlite"`
	Questions struct {
		CacheTTL string `yaml:"cacheTTL" env:"TRIVIA_QUESTIONS_CACHE_TTL"`
	} `yaml:"questions"`
	Game struct {
		// Retention is how long completed games stay readable.
		Retention     string `yaml:"retention" env:"TRIVIA_GAME_RETENTION"`
		SweepInterval string `yaml:"sweepInterval" env:"TRIVIA_GAME_SWEEP_INTERVAL"`
		CodeAttempts  int    `yaml:"codeAttempts" env:"TRIVIA_GAME_CODE_ATTEMPTS"`
	} `yaml:"game"`
	Log struct {
		Level  string `yaml:"level" env:"TRIVIA_LOG_LEVEL"`
		Format string `yaml:"format" env:"TRIVIA_LOG_FORMAT"`
	} `yaml:"log"`
	Telemetry struct {
		Endpoint    string `yaml:"endpoint" env:"TRIVIA_OTEL_ENDPOINT"`
		ServiceName string `yaml:"serviceName" env:"TRIVIA_OTEL_SERVICE_NAME"`
	} `yaml:"telemetry"`
}

// Load reads YAML config from path. A missing file is not an error; defaults
// and the environment still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
