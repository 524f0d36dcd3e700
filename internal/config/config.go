package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "WORKLOG"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "worklog.db"
	defaultMaxOpenConns     = 1
	defaultConnMaxIdleTime  = 5 * time.Minute
	defaultOperationTimeout = 10 * time.Second
	defaultAuthIssuer       = "worklog-auth"
	defaultTokenTTL         = 12 * time.Hour
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultBulkConcurrency  = 4
	logFormatJSON           = "json"
	logFormatConsole        = "console"
	keyHTTPAddress          = "http.address"
	keyDatabasePath         = "database.path"
	keyDatabaseMaxOpenConns = "database.max_open_conns"
	keyDatabaseConnIdleTime = "database.conn_max_idle_time"
	keyDatabaseOpTimeout    = "database.operation_timeout"
	keyAuthSigningSecret    = "auth.signing_secret"
	keyAuthIssuer           = "auth.issuer"
	keyAuthTokenTTL         = "auth.token_ttl"
	keyLogLevel             = "log.level"
	keyLogFormat            = "log.format"
	keyCORSAllowedOrigins   = "cors.allowed_origins"
	keySyncBulkConcurrency  = "sync.bulk_concurrency"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	MaxOpenConns     int
	ConnMaxIdleTime  time.Duration
	OperationTimeout time.Duration
	SigningSecret    string
	Issuer           string
	TokenTTL         time.Duration
	LogLevel         string
	LogFormat        string
	AllowedOrigins   []string
	BulkConcurrency  int
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

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyDatabaseMaxOpenConns, defaultMaxOpenConns)
	configViper.SetDefault(keyDatabaseConnIdleTime, defaultConnMaxIdleTime)
	configViper.SetDefault(keyDatabaseOpTimeout, defaultOperationTimeout)
	configViper.SetDefault(keyAuthIssuer, defaultAuthIssuer)
	configViper.SetDefault(keyAuthTokenTTL, defaultTokenTTL)
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keyLogFormat, defaultLogFormat)
	configViper.SetDefault(keyCORSAllowedOrigins, []string{})
	configViper.SetDefault(keySyncBulkConcurrency, defaultBulkConcurrency)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString(keyHTTPAddress),
		DatabasePath:     configViper.GetString(keyDatabasePath),
		MaxOpenConns:     configViper.GetInt(keyDatabaseMaxOpenConns),
		ConnMaxIdleTime:  configViper.GetDuration(keyDatabaseConnIdleTime),
		OperationTimeout: configViper.GetDuration(keyDatabaseOpTimeout),
		SigningSecret:    configViper.GetString(keyAuthSigningSecret),
		Issuer:           configViper.GetString(keyAuthIssuer),
		TokenTTL:         configViper.GetDuration(keyAuthTokenTTL),
		LogLevel:         configViper.GetString(keyLogLevel),
		LogFormat:        strings.ToLower(strings.TrimSpace(configViper.GetString(keyLogFormat))),
		AllowedOrigins:   splitOrigins(configViper.GetStringSlice(keyCORSAllowedOrigins)),
		BulkConcurrency:  configViper.GetInt(keySyncBulkConcurrency),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("%s is required", keyAuthSigningSecret)
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%s is required", keyAuthIssuer)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%s is required", keyDatabasePath)
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("%s must be positive", keyDatabaseMaxOpenConns)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("%s must be positive", keyDatabaseOpTimeout)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", keyAuthTokenTTL)
	}
	if c.BulkConcurrency <= 0 {
		return fmt.Errorf("%s must be positive", keySyncBulkConcurrency)
	}
	if c.LogFormat != logFormatJSON && c.LogFormat != logFormatConsole {
		return fmt.Errorf("%s must be %q or %q", keyLogFormat, logFormatJSON, logFormatConsole)
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
