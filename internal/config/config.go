package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PAIRPEN"
	defaultHTTPAddress       = "0.0.0.0:4000"
	defaultDatabasePath      = "pairpen.db"
	defaultRedisURL          = "redis://localhost:6379"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 7 * 24 * 60
	defaultDebounceMillis    = 200
	defaultTypingMillis      = 700
	defaultAutosaveSeconds   = 30
	defaultCORSAllowedOrigin = "*"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	RedisURL       string
	SigningSecret  string
	TokenTTL       time.Duration
	LogLevel       string
	CORSOrigins    []string
	DebounceWindow time.Duration
	TypingThrottle time.Duration
	AutosavePeriod time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.url", defaultRedisURL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("cors.origins", defaultCORSAllowedOrigin)
	configViper.SetDefault("collab.debounce_ms", defaultDebounceMillis)
	configViper.SetDefault("collab.typing_throttle_ms", defaultTypingMillis)
	configViper.SetDefault("collab.autosave_seconds", defaultAutosaveSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		RedisURL:       configViper.GetString("redis.url"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LogLevel:       configViper.GetString("log.level"),
		CORSOrigins:    splitOrigins(configViper.GetString("cors.origins")),
		DebounceWindow: time.Duration(configViper.GetInt("collab.debounce_ms")) * time.Millisecond,
		TypingThrottle: time.Duration(configViper.GetInt("collab.typing_throttle_ms")) * time.Millisecond,
		AutosavePeriod: time.Duration(configViper.GetInt("collab.autosave_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.DebounceWindow <= 0 || c.TypingThrottle <= 0 || c.AutosavePeriod <= 0 {
		return fmt.Errorf("collab timing windows must be positive")
	}
	return nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultCORSAllowedOrigin}
	}
	return origins
}
