package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenant role table",
			SQL: `
				CREATE TABLE rbac_roles (
					id BIGSERIAL PRIMARY KEY,
					tenant TEXT NOT NULL,
					role_key TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_by TEXT NOT NULL DEFAULT '',
					created_date TEXT NOT NULL DEFAULT '',
					updated_by TEXT NOT NULL DEFAULT '',
					updated_date TEXT NOT NULL DEFAULT '',
					UNIQUE (tenant, role_key)
				);

				CREATE INDEX idx_rbac_roles_tenant ON rbac_roles(tenant);
			`,
		},
		{
			Version:     2,
			Description: "Create tenant permission table",
			SQL: `
				CREATE TABLE rbac_permissions (
					id BIGSERIAL PRIMARY KEY,
					tenant TEXT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES rbac_roles(id),
					ms_name TEXT NOT NULL,
					privilege_key TEXT NOT NULL,
					disabled BOOLEAN NOT NULL DEFAULT FALSE,
					env_condition TEXT NOT NULL DEFAULT '',
					resource_condition TEXT NOT NULL DEFAULT '',
					reaction_strategy TEXT NOT NULL DEFAULT '',
					UNIQUE (role_id, ms_name, privilege_key)
				);

				CREATE INDEX idx_rbac_permissions_tenant ON rbac_permissions(tenant);
				CREATE INDEX idx_rbac_permissions_role_id ON rbac_permissions(role_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations.
func RunMigrations(ctx context.Context, db *sql.DB, log *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatehouse_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM gatehouse_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log.WithField("version", migration.Version).Infof("running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gatehouse_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.WithField("version", migration.Version).Info("migration completed")
	}

	return nil
}
