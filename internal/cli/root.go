// Package cli is the battle-backend command line: the server itself plus a
// few operator tools.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/battle-backend/internal/config"
	"github.com/DoyleJ11/battle-backend/internal/store"
	"github.com/DoyleJ11/battle-backend/internal/store/sqlstore"
)

// NewRootCmd builds the command tree. Running it without a subcommand
// starts the server.
func NewRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "battle-backend",
		Short: "Live verse-battle server",
		Long: `battle-backend serves the battle HTTP API and the websocket rooms that
spectators and hosts join, and closes rooms that go quiet.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(
		newServeCmd(&envFile),
		newMigrateCmd(&envFile),
		newScoreCmd(),
		newBroadcastCmd(&envFile),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore returns the configured battle store and a func that releases it.
func openStore(ctx context.Context, cfg config.Config) (store.BattleStore, func() error, error) {
	if cfg.DatabaseType == config.DatabaseMemory {
		return store.NewMemory(), func() error { return nil }, nil
	}
	db, err := sqlstore.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, db.Close, nil
}
