package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"storefront/internal/util"
)

// ConfigPath is the default config file, overridable with DEVAPI_CONFIG.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string `yaml:"port"`
	LogLevel               string `yaml:"logLevel"`
	JWTSecret              string `yaml:"jwtSecret"`
	TokenTTL               string `yaml:"tokenTTL"`
	SeedProducts           bool   `yaml:"seedProducts"`
	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	LoginAttemptsPerMinute int    `yaml:"loginAttemptsPerMinute"`
	// TrustedProxyCIDRs may set X-Forwarded-For for login throttling keys.
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to DEVAPI_CONFIG, then config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("DEVAPI_CONFIG")
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
	// Override with environment variables
	if v := os.Getenv("DEVAPI_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DEVAPI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEVAPI_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("DEVAPI_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = v
	}
	if v := os.Getenv("DEVAPI_SEED_PRODUCTS"); v != "" {
		if seed, err := strconv.ParseBool(v); err == nil {
			cfg.SeedProducts = seed
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DEVAPI_LOGIN_ATTEMPTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginAttemptsPerMinute = n
		}
	}
	if v := os.Getenv("DEVAPI_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TokenTTLDuration returns the parsed token lifetime; empty means zero so
// the issuer picks its default.
func (c FileConfig) TokenTTLDuration() time.Duration {
	d, _ := parseDuration(c.TokenTTL)
	return d
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or DEVAPI_PORT)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or DEVAPI_JWT_SECRET)")
	}
	if d, err := parseDuration(cfg.TokenTTL); err != nil || d < 0 {
		return fmt.Errorf("config: tokenTTL %q is not a valid duration", cfg.TokenTTL)
	}
	if cfg.LoginAttemptsPerMinute < 0 {
		return errors.New("config: loginAttemptsPerMinute must be >= 0")
	}
	if cfg.LoginAttemptsPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when loginAttemptsPerMinute > 0")
	}
	if _, err := util.ParseTrustedProxies(cfg.TrustedProxyCIDRs); err != nil {
		return fmt.Errorf("config: trustedProxyCidrs: %w", err)
	}
	return nil
}
