// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gameroom/internal/room"
)

// migrator is the part of room.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Pending() ([]uint, error)
	Close() error
}

// migratorFactory is swapped out in tests.
var migratorFactory = func(databaseURL string) (migrator, error) {
	return room.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL room schema",
		Long: `Apply or roll back the room schema migrations. The database is taken
from --database-url, rooms.database_url in the config file, or DATABASE_URL.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m migrator) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m migrator) error {
			cmd.Println("Rolling back migrations...")
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Rollback completed successfully")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		RunE: withMigrator(runMigrateStatus),
	})
	return cmd
}

func runMigrateStatus(cmd *cobra.Command, m migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}
	cmd.Printf("version: %d\n", version)
	if dirty {
		cmd.Println("state:   dirty (a migration failed; fix and force the version)")
	}
	if len(pending) == 0 {
		cmd.Println("pending: none")
		return nil
	}
	cmd.Printf("pending: %v\n", pending)
	return nil
}

func withMigrator(run func(*cobra.Command, migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.Rooms.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("database URL is required (--database-url or DATABASE_URL)")
		}

		m, err := migratorFactory(cfg.Rooms.DatabaseURL)
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "connect to database").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrln("warning: failed to close migrator:", closeErr)
			}
		}()
		return run(cmd, m)
	}
}
