package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTP         HTTPConfig
	API          APIConfig
	Storage      StorageConfig
	AuditLogFile string
	LogLevel     string
	CORSOrigins  []string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type StorageConfig struct {
	Driver      string
	FilePath    string
	SQLitePath  string
	DatabaseURL string
}

// fileConfig is the optional YAML file named by DASHBOARD_CONFIG_FILE. Its
// values replace the built-in defaults; environment variables win over both.
type fileConfig struct {
	HTTP struct {
		Addr               string `yaml:"addr"`
		ReadTimeoutSec     int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec    int    `yaml:"write_timeout_sec"`
		ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	} `yaml:"http"`
	API struct {
		BaseURL    string `yaml:"base_url"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"api"`
	Storage struct {
		Driver      string `yaml:"driver"`
		FilePath    string `yaml:"file_path"`
		SQLitePath  string `yaml:"sqlite_path"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"storage"`
	AuditLogFile string   `yaml:"audit_log_file"`
	LogLevel     string   `yaml:"log_level"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

func Load() (Config, error) {
	var fc fileConfig
	if path := getEnv("DASHBOARD_CONFIG_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read DASHBOARD_CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return Config{}, fmt.Errorf("parse DASHBOARD_CONFIG_FILE: %w", err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", or(fc.HTTP.Addr, "127.0.0.1:8787")),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", orInt(fc.HTTP.ReadTimeoutSec, 10))) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", orInt(fc.HTTP.WriteTimeoutSec, 45))) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", orInt(fc.HTTP.ShutdownTimeoutSec, 20))) * time.Second,
		},
		API: APIConfig{
			BaseURL: getEnv("TASKFLOW_API_URL", or(fc.API.BaseURL, "http://localhost:8000")),
			Timeout: time.Duration(getEnvInt("TASKFLOW_API_TIMEOUT_SEC", orInt(fc.API.TimeoutSec, 15))) * time.Second,
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(getEnv("STORAGE_DRIVER", or(fc.Storage.Driver, StorageFile))),
			FilePath:    getEnv("SESSION_STATE_FILE", or(fc.Storage.FilePath, "./data/session.json")),
			SQLitePath:  getEnv("SESSION_SQLITE_PATH", or(fc.Storage.SQLitePath, "./data/session.db")),
			DatabaseURL: getEnv("DATABASE_URL", fc.Storage.DatabaseURL),
		},
		AuditLogFile: getEnv("AUDIT_LOG_FILE", or(fc.AuditLogFile, "./data/audit.log")),
		LogLevel:     getEnv("LOG_LEVEL", or(fc.LogLevel, "info")),
		CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", orList(fc.CORSOrigins, []string{"http://localhost:5173"})),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_READ_TIMEOUT_SEC must be > 0")
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("HTTP_WRITE_TIMEOUT_SEC must be > 0")
	}
	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("TASKFLOW_API_URL must not be empty")
	}
	if cfg.API.Timeout <= 0 {
		return Config{}, fmt.Errorf("TASKFLOW_API_TIMEOUT_SEC must be > 0")
	}
	switch cfg.Storage.Driver {
	case StorageFile:
		if cfg.Storage.FilePath == "" {
			return Config{}, fmt.Errorf("SESSION_STATE_FILE must not be empty")
		}
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			return Config{}, fmt.Errorf("SESSION_SQLITE_PATH must not be empty")
		}
	case StoragePostgres:
		if cfg.Storage.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when STORAGE_DRIVER=postgres")
		}
	case StorageMemory:
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be one of file, sqlite, postgres, memory; got %q", cfg.Storage.Driver)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func orList(v, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return v
}
