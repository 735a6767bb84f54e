package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "LEXCASE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "lexcase.db"
	defaultLogLevel     = "info"
	defaultSessionTTL   = 12 * time.Hour
	defaultImminent     = 20 * time.Minute
	defaultDueNowSlack  = time.Minute
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	SessionTTL     time.Duration
	AIFlowBaseURL  string
	MatchSeed      int64
	ImminentWindow time.Duration
	DueNowSlack    time.Duration
	AllowedOrigins []string
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("reminders.imminent_window", defaultImminent)
	configViper.SetDefault("reminders.due_now_slack", defaultDueNowSlack)
	configViper.SetDefault("matching.shuffle_seed", int64(0))
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("session.signing_secret"),
		SessionTTL:     configViper.GetDuration("session.ttl"),
		AIFlowBaseURL:  configViper.GetString("aiflow.base_url"),
		MatchSeed:      configViper.GetInt64("matching.shuffle_seed"),
		ImminentWindow: configViper.GetDuration("reminders.imminent_window"),
		DueNowSlack:    configViper.GetDuration("reminders.due_now_slack"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.ImminentWindow <= 0 || c.DueNowSlack <= 0 {
		return fmt.Errorf("reminder windows must be positive")
	}
	return nil
}
