package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the relational schema and the Neo4j constraints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if cfg.Store.Driver == "memory" {
				return fmt.Errorf("migrate: nothing to migrate for the memory driver")
			}
			db, err := store.OpenSQL(cfg.Store.Driver, cfg.Store.DSN)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			st := store.NewSQLStore(db, logger)
			defer func() { _ = st.Close() }()
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("relational schema up to date", "driver", cfg.Store.Driver)

			if cfg.Neo4j.URI == "" {
				return nil
			}
			n4j, err := store.NewNeo4jKnowledgeStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer func() { _ = n4j.Close(ctx) }()
			if err := n4j.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("neo4j schema up to date", "uri", cfg.Neo4j.URI)
			return nil
		},
	}
}
