package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the optional YAML file. Zero values mean "not set".
type fileConfig struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Retry struct {
		MaxRetries *int          `yaml:"max_retries"`
		BaseDelay  time.Duration `yaml:"base_delay"`
	} `yaml:"retry"`
	Sync struct {
		Interval         time.Duration `yaml:"interval"`
		TransactionLimit *int          `yaml:"transaction_limit"`
		TickTimeout      time.Duration `yaml:"tick_timeout"`
		RefreshOnOpen    *bool         `yaml:"refresh_on_open"`
	} `yaml:"sync"`
	Storage struct {
		Driver      string `yaml:"driver"`
		RedisURL    string `yaml:"redis_url"`
		RedisPrefix string `yaml:"redis_prefix"`
		Postgres    struct {
			Host    string `yaml:"host"`
			Port    *int   `yaml:"port"`
			User    string `yaml:"user"`
			DBName  string `yaml:"dbname"`
			SSLMode string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"storage"`
	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
		HSTS *bool  `yaml:"hsts"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// loadFile parses the YAML file at path. An empty path yields an empty config.
// Secrets are read from the environment only.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fc, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fc, nil
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return def
}

func orInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func orBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}
