package cmd

import (
	"fmt"

	sessionSqlite "github.com/frahmantamala/facilities-console/internal/session/sqlite"
	"github.com/spf13/cobra"
)

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "to run the embedded session store migrations",
	}
	migrateRollback bool
)

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "to rollback the latest version of sql migration")
}

func runMigration(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := sessionSqlite.Open(cfg.Session.StorePath)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("goose: failed to open DB: %w", err)
	}
	defer sqlDB.Close()

	if migrateRollback {
		return sessionSqlite.Rollback(sqlDB)
	}
	return sessionSqlite.Migrate(sqlDB)
}
