package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/frahmantamala/facilities-console/internal"
	"github.com/frahmantamala/facilities-console/internal/apiclient"
	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/session"
	sessionSqlite "github.com/frahmantamala/facilities-console/internal/session/sqlite"
	"github.com/frahmantamala/facilities-console/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facilities",
	Short: "Facilities Console",
	Long:  `Operator console for the facilities platform: session, permissions and critical alerts.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*internal.Config, error) {
	// Check if we're running in a container environment
	if os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true" {
		cfg := internal.LoadConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("error validating config from environment: %w", err)
		}
		return cfg, nil
	}

	// Load configuration from file (development)
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}
	return &cfg, nil
}

// runtime is the wiring shared by every command that touches the session.
type runtime struct {
	config  *internal.Config
	logger  *slog.Logger
	bus     *events.EventBus
	manager *session.Manager
	client  *apiclient.Client
	close   func()
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Configure(os.Stderr, cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := sessionSqlite.Open(cfg.Session.StorePath)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access session store: %w", err)
	}
	if err := sessionSqlite.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	bus := events.NewEventBus(lg)
	manager := session.NewManager(sessionSqlite.NewRepository(db), bus, lg)
	if err := manager.Init(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	client := apiclient.NewClient(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, manager, lg, apiclient.WithSessionExpiredHook(func(ctx context.Context, cause error) {
		lg.Warn("session expired, sign in again", "error", cause)
		if err := bus.PublishSync(ctx, events.NewSessionExpiredEvent(cause.Error())); err != nil {
			lg.Error("session expired handler failed", "error", err)
		}
	}))

	return &runtime{
		config:  cfg,
		logger:  lg,
		bus:     bus,
		manager: manager,
		client:  client,
		close: func() {
			if err := sqlDB.Close(); err != nil {
				lg.Error("session store close error", "error", err)
			}
		},
	}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding config.yml")

	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(migrateCmd)
}
