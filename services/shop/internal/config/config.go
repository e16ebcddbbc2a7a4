package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with SHOP_CONFIG.
const ConfigPath = "config.yaml"

const (
	StorageFile  = "file"
	StorageRedis = "redis"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	APIBaseURL             string  `yaml:"apiBaseURL"`
	LogLevel               string  `yaml:"logLevel"`
	LogFile                string  `yaml:"logFile"`
	RequestTimeout         string  `yaml:"requestTimeout"`
	RequestsPerSecond      float64 `yaml:"requestsPerSecond"`
	Storage                string  `yaml:"storage"`
	DataDir                string  `yaml:"dataDir"`
	RedisAddr              string  `yaml:"redisAddr"`
	RedisPassword          string  `yaml:"redisPassword"`
	RedisKeyPrefix         string  `yaml:"redisKeyPrefix"`
	LoginAttemptsPerMinute int     `yaml:"loginAttemptsPerMinute"`
	SuccessDelay           string  `yaml:"successDelay"`
	MetricsAddr            string  `yaml:"metricsAddr"`
}

// Load reads config from path. An empty path falls back to SHOP_CONFIG and
// then config.yaml.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("SHOP_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.Storage == "" {
		cfg.Storage = StorageFile
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("SHOP_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("SHOP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHOP_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("SHOP_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = v
	}
	if v := os.Getenv("SHOP_REQUESTS_PER_SECOND"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RequestsPerSecond = n
		}
	}
	if v := os.Getenv("SHOP_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("SHOP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SHOP_REDIS_KEY_PREFIX"); v != "" {
		cfg.RedisKeyPrefix = v
	}
	if v := os.Getenv("SHOP_LOGIN_ATTEMPTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginAttemptsPerMinute = n
		}
	}
	if v := os.Getenv("SHOP_SUCCESS_DELAY"); v != "" {
		cfg.SuccessDelay = v
	}
	if v := os.Getenv("SHOP_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// ParseDuration parses a config duration; empty means zero so callers fall
// back to their defaults.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", v)
	}
	return d, nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return errors.New("config: apiBaseURL is required (set in config.yaml or SHOP_API_BASE_URL)")
	}
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: apiBaseURL %q must be an absolute http(s) URL", cfg.APIBaseURL)
	}
	if _, err := ParseDuration(cfg.RequestTimeout); err != nil {
		return fmt.Errorf("config: requestTimeout: %w", err)
	}
	if _, err := ParseDuration(cfg.SuccessDelay); err != nil {
		return fmt.Errorf("config: successDelay: %w", err)
	}
	if cfg.RequestsPerSecond < 0 {
		return errors.New("config: requestsPerSecond must be >= 0")
	}
	switch cfg.Storage {
	case StorageFile:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required when storage=file (set in config.yaml or SHOP_DATA_DIR)")
		}
	case StorageRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when storage=redis (set in config.yaml or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: storage must be %q or %q, got %q", StorageFile, StorageRedis, cfg.Storage)
	}
	if cfg.LoginAttemptsPerMinute < 0 {
		return errors.New("config: loginAttemptsPerMinute must be >= 0")
	}
	if cfg.LoginAttemptsPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when loginAttemptsPerMinute > 0")
	}
	return nil
}
