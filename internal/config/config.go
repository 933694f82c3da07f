package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "STICKYBOARD"
	defaultHTTPAddress       = "0.0.0.0:10101"
	defaultDatabasePath      = "stickyboard.db"
	defaultUploadsDir        = "uploads"
	defaultLogLevel          = "info"
	defaultCookieName        = "board_session"
	defaultSessionTTLMinutes = 720
	defaultHistoryLimit      = 50
	defaultBroadcastWindow   = 100
	defaultRealtimeBuffer    = 64
	defaultCleanupQueueSize  = 128
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	AllowedOrigins      []string
	DatabasePath        string
	UploadsDir          string
	LogLevel            string
	SharedPassword      string
	SigningSecret       string
	CookieName          string
	CookieSecure        bool
	SessionTTL          time.Duration
	HistoryDefaultLimit int
	BroadcastWindow     int
	RealtimeBufferSize  int
	CleanupQueueSize    int
}

// AuthEnabled reports whether the board is gated behind the shared password.
func (c AppConfig) AuthEnabled() bool {
	return c.SharedPassword != ""
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("uploads.dir", defaultUploadsDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.shared_password", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.cookie_secure", false)
	configViper.SetDefault("auth.session_ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("history.default_limit", defaultHistoryLimit)
	configViper.SetDefault("history.broadcast_window", defaultBroadcastWindow)
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBuffer)
	configViper.SetDefault("cleanup.queue_size", defaultCleanupQueueSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		AllowedOrigins:      splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabasePath:        configViper.GetString("database.path"),
		UploadsDir:          configViper.GetString("uploads.dir"),
		LogLevel:            configViper.GetString("log.level"),
		SharedPassword:      configViper.GetString("auth.shared_password"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		CookieName:          configViper.GetString("auth.cookie_name"),
		CookieSecure:        configViper.GetBool("auth.cookie_secure"),
		SessionTTL:          time.Duration(configViper.GetInt("auth.session_ttl_minutes")) * time.Minute,
		HistoryDefaultLimit: configViper.GetInt("history.default_limit"),
		BroadcastWindow:     configViper.GetInt("history.broadcast_window"),
		RealtimeBufferSize:  configViper.GetInt("realtime.buffer_size"),
		CleanupQueueSize:    configViper.GetInt("cleanup.queue_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitList accepts both list values and comma separated env strings.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.UploadsDir) == "" {
		return fmt.Errorf("uploads.dir is required")
	}
	if c.AuthEnabled() {
		if strings.TrimSpace(c.SigningSecret) == "" {
			return fmt.Errorf("auth.signing_secret is required when auth.shared_password is set")
		}
		if strings.TrimSpace(c.CookieName) == "" {
			return fmt.Errorf("auth.cookie_name is required")
		}
		if c.SessionTTL <= 0 {
			return fmt.Errorf("auth.session_ttl_minutes must be positive")
		}
	}
	if c.HistoryDefaultLimit <= 0 {
		return fmt.Errorf("history.default_limit must be positive")
	}
	if c.BroadcastWindow <= 0 {
		return fmt.Errorf("history.broadcast_window must be positive")
	}
	if c.RealtimeBufferSize <= 0 {
		return fmt.Errorf("realtime.buffer_size must be positive")
	}
	if c.CleanupQueueSize <= 0 {
		return fmt.Errorf("cleanup.queue_size must be positive")
	}
	return nil
}
