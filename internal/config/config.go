package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Gateway struct {
		URL     string `yaml:"url" validate:"required,url"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"gateway"`
	Auth struct {
		// JWTSecret is the backend's token signing key; the relay verifies
		// caller tokens with it.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Session struct {
		MaxSubmitAttempts int    `yaml:"max_submit_attempts" validate:"gte=0,lte=20"`
		RetryBackoff      string `yaml:"retry_backoff"`
		EnforceWindow     bool   `yaml:"enforce_window"`
	} `yaml:"session"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=json pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Exam struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"exam"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error as long as the environment supplies the
// gateway URL. A .env file in the working directory is loaded if present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Gateway.URL, "EXAM_GATEWAY_URL")
	setString(&cfg.Gateway.Token, "EXAM_TOKEN")
	setString(&cfg.Gateway.Timeout, "EXAM_GATEWAY_TIMEOUT")
	setString(&cfg.Auth.JWTSecret, "EXAM_JWT_SECRET")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	if v := os.Getenv("EXAM_MAX_SUBMIT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxSubmitAttempts = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Session.MaxSubmitAttempts == 0 {
		cfg.Session.MaxSubmitAttempts = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "pretty"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
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
