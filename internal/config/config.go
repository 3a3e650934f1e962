// Package config loads gateway configuration from an optional TOML file
// overridden by environment variables. No business logic reads raw
// environment variables directly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything the gateway process needs.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

// ServerConfig configures the HTTP listener and its API-key guard.
type ServerConfig struct {
	Port   int    `toml:"port"`
	APIKey string `toml:"api_key"`
}

// GatewayConfig configures the session and dispatch behavior.
type GatewayConfig struct {
	AuthFolder       string        `toml:"auth_folder"`
	MessageDelay     time.Duration `toml:"-"`
	MessageDelayMS   int           `toml:"message_delay_ms"`
	DailyLimit       int           `toml:"daily_message_limit"`
	CountryPrefix    string        `toml:"country_prefix"`
	LogLevel         string        `toml:"log_level"`
	TypingSimulation bool          `toml:"typing_simulation"`
	NumberCheck      bool          `toml:"number_check"`
}

// DashboardConfig configures operator console login.
type DashboardConfig struct {
	Username string        `toml:"username"`
	Password string        `toml:"password"`
	JWTSecret string       `toml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"-"`
	TokenTTLS string        `toml:"token_ttl"`
}

// Load reads the optional TOML file at path, applies environment
// overrides, fills defaults, and validates. An empty path or a missing
// file is not an error; env-only operation is the common deployment.
func Load(path string) (Config, error) {
	cfg := Config{
		Server: ServerConfig{Port: 8080},
		Gateway: GatewayConfig{
			AuthFolder:     "./auth",
			MessageDelayMS: 1000,
			DailyLimit:     500,
			CountryPrefix:  "62",
			LogLevel:       "info",
		},
		Dashboard: DashboardConfig{TokenTTL: 12 * time.Hour},
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	var parseErrs []error
	overrideInt(&cfg.Server.Port, "PORT", &parseErrs)
	overrideString(&cfg.Server.APIKey, "API_KEY")
	overrideInt(&cfg.Gateway.MessageDelayMS, "MESSAGE_DELAY_MS", &parseErrs)
	overrideString(&cfg.Gateway.AuthFolder, "AUTH_FOLDER")
	overrideInt(&cfg.Gateway.DailyLimit, "DAILY_MESSAGE_LIMIT", &parseErrs)
	overrideString(&cfg.Gateway.CountryPrefix, "COUNTRY_PREFIX")
	overrideString(&cfg.Gateway.LogLevel, "LOG_LEVEL")
	overrideBool(&cfg.Gateway.TypingSimulation, "TYPING_SIMULATION", &parseErrs)
	overrideBool(&cfg.Gateway.NumberCheck, "NUMBER_CHECK", &parseErrs)
	overrideString(&cfg.Dashboard.Username, "DASHBOARD_USERNAME")
	overrideString(&cfg.Dashboard.Password, "DASHBOARD_PASSWORD")
	overrideString(&cfg.Dashboard.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.Dashboard.TokenTTLS, "TOKEN_TTL")

	cfg.Gateway.MessageDelay = time.Duration(cfg.Gateway.MessageDelayMS) * time.Millisecond
	if cfg.Dashboard.TokenTTLS != "" {
		d, err := time.ParseDuration(cfg.Dashboard.TokenTTLS)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("TOKEN_TTL must be a duration, got %q", cfg.Dashboard.TokenTTLS))
		} else {
			cfg.Dashboard.TokenTTL = d
		}
	}

	if err := errors.Join(parseErrs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the process relies on.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a valid port, got %d", c.Server.Port))
	}
	if c.Server.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.Gateway.AuthFolder == "" {
		errs = append(errs, errors.New("AUTH_FOLDER is required"))
	}
	if c.Gateway.MessageDelayMS < 0 {
		errs = append(errs, fmt.Errorf("MESSAGE_DELAY_MS must not be negative, got %d", c.Gateway.MessageDelayMS))
	}
	if c.Gateway.DailyLimit < 0 {
		errs = append(errs, fmt.Errorf("DAILY_MESSAGE_LIMIT must not be negative, got %d", c.Gateway.DailyLimit))
	}
	if c.Dashboard.Username == "" {
		errs = append(errs, errors.New("DASHBOARD_USERNAME is required"))
	}
	if c.Dashboard.Password == "" {
		errs = append(errs, errors.New("DASHBOARD_PASSWORD is required"))
	}
	if c.Dashboard.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Dashboard.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}

	return errors.Join(errs...)
}

// HTTPAddr returns the listen address for the HTTP server.
func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return
	}
	*dst = n
}

func overrideBool(dst *bool, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return
	}
	*dst = b
}
