package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	API           APIConfig           `mapstructure:"api" validate:"required"`
	Session       SessionConfig       `mapstructure:"session"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// APIConfig points at the facilities backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	WSURL   string        `mapstructure:"ws_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	StorePath string `mapstructure:"store_path"`
	Watch     bool   `mapstructure:"watch"`
}

type AlertsConfig struct {
	DisplayTimeout time.Duration `mapstructure:"display_timeout"`
	ToastTimeout   time.Duration `mapstructure:"toast_timeout"`
	BellInterval   time.Duration `mapstructure:"bell_interval"`
}

type RealtimeConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ApplyDefaults fills zero values with the console defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8787
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Session.StorePath == "" {
		c.Session.StorePath = "facilities-session.db"
	}
	if c.Alerts.DisplayTimeout == 0 {
		c.Alerts.DisplayTimeout = 30 * time.Second
	}
	if c.Alerts.ToastTimeout == 0 {
		c.Alerts.ToastTimeout = 8 * time.Second
	}
	if c.Alerts.BellInterval == 0 {
		c.Alerts.BellInterval = 2 * time.Second
	}
	if c.Realtime.MaxRetries == 0 {
		c.Realtime.MaxRetries = 5
	}
	if c.Realtime.InitialInterval == 0 {
		c.Realtime.InitialInterval = time.Second
	}
	if c.Realtime.MaxInterval == 0 {
		c.Realtime.MaxInterval = 10 * time.Second
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// LoadConfigFromEnv builds the config from FACILITIES_* variables.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("FACILITIES_HTTP_PORT", 8787),
			AllowedOrigins: getEnv("FACILITIES_ALLOWED_ORIGINS", ""),
		},
		API: APIConfig{
			BaseURL: getEnv("FACILITIES_API_BASE_URL", ""),
			WSURL:   getEnv("FACILITIES_WS_URL", ""),
			Timeout: getEnvAsDuration("FACILITIES_API_TIMEOUT", 15*time.Second),
		},
		Session: SessionConfig{
			StorePath: getEnv("FACILITIES_SESSION_STORE", ""),
			Watch:     getEnv("FACILITIES_SESSION_WATCH", "true") == "true",
		},
		Alerts: AlertsConfig{
			DisplayTimeout: getEnvAsDuration("FACILITIES_ALERT_DISPLAY_TIMEOUT", 0),
			ToastTimeout:   getEnvAsDuration("FACILITIES_ALERT_TOAST_TIMEOUT", 0),
		},
		Realtime: RealtimeConfig{
			MaxRetries:  getEnvAsInt("FACILITIES_REALTIME_MAX_RETRIES", 0),
			MaxInterval: getEnvAsDuration("FACILITIES_REALTIME_MAX_INTERVAL", 0),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("FACILITIES_LOG_LEVEL", "info"),
				Format: getEnv("FACILITIES_LOG_FORMAT", "json"),
			},
			Metrics: MetricsConfig{
				Enabled: getEnv("FACILITIES_METRICS_ENABLED", "true") == "true",
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.API.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("api config: %v", err))
	}

	if err := c.Alerts.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("alerts config: %v", err))
	}

	if err := c.Realtime.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("realtime config: %v", err))
	}

	if err := c.Observability.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *APIConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url must be an http(s) url: %s", c.BaseURL)
	}
	if c.WSURL == "" {
		return errors.New("ws_url is required")
	}
	w, err := url.Parse(c.WSURL)
	if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") {
		return fmt.Errorf("ws_url must be a ws(s) url: %s", c.WSURL)
	}
	return nil
}

func (c *AlertsConfig) Validate() error {
	if c.DisplayTimeout < 0 || c.ToastTimeout < 0 {
		return errors.New("alert timeouts cannot be negative")
	}
	return nil
}

func (c *RealtimeConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if c.MaxInterval > 0 && c.InitialInterval > c.MaxInterval {
		return errors.New("initial_interval cannot exceed max_interval")
	}
	return nil
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	if c.Format != "json" && c.Format != "text" {
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
