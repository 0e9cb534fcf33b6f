package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Server    ServerConfig     `json:"server"`
	Redis     RedisConfig      `json:"redis"`
	Postgres  PostgresConfig   `json:"postgres"`
	Providers []ProviderConfig `json:"providers"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
	JWTSecret   string `json:"jwt_secret"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type ProviderConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	// APIKeysEnv names an environment variable holding newline-separated
	// upstream keys. Keys never live in the config file itself.
	APIKeysEnv string `json:"api_keys_env"`
	Model      string `json:"model"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	config.applyEnvOverrides()

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	return &config, nil
}

// applyEnvOverrides lets deployment environments override secrets and
// endpoints without editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
}
