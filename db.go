package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamiai/internal/config"
	"gamiai/internal/logging"
	"gamiai/internal/profiles"
	"gamiai/internal/service/conversation"
	"gamiai/internal/storage"
)

func newDBCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	cmd.AddCommand(newDBCheckCmd(loadConfig))
	cmd.AddCommand(newDBInitCmd(loadConfig))
	return cmd
}

func newDBCheckCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show which database backend would be used and ping it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			db, backend, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer storage.Close(db) //nolint:errcheck

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", backend)
			fmt.Fprintf(out, "DSN: %s\n", backend.Redacted())
			if err := storage.Ping(cmd.Context(), db); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}
			fmt.Fprintln(out, "Database reachable.")
			return nil
		},
	}
}

func newDBInitCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema and seed the default profiles",
		Long:  "Creates chat_profiles and messages if missing and inserts any default profile not yet present. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			db, backend, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer storage.Close(db) //nolint:errcheck

			store, err := prepareStore(cmd.Context(), db)
			if err != nil {
				return err
			}
			rows, err := store.ListProfiles(cmd.Context())
			if err != nil {
				return fmt.Errorf("list profiles: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", backend)
			fmt.Fprintf(out, "Profiles:")
			for _, p := range rows {
				fmt.Fprintf(out, " %s", p.Name)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Database initialized.")
			return nil
		},
	}
}

// openDatabase makes the one-time backend decision and connects to it.
func openDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, storage.Backend, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	selector := storage.NewSelector(cfg.Database.SQLitePath, cfg.Database.InternalHostSuffixes, cfg.ProbeTimeout(), logger)
	backend := selector.Select(ctx, cfg.Database.URL)
	db, err := storage.Open(ctx, backend, logger)
	if err != nil {
		return nil, backend, fmt.Errorf("open database %s: %w", backend.Redacted(), err)
	}
	return db, backend, nil
}

func prepareStore(ctx context.Context, db *gorm.DB) (*conversation.Store, error) {
	store, err := conversation.NewStore(db)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := store.EnsureDefaultProfiles(ctx, profiles.Seeds()); err != nil {
		return nil, fmt.Errorf("seed profiles: %w", err)
	}
	return store, nil
}
