package registrar

import (
	"context"
	"embed"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

const (
	migrationsDir        = "data/sql/migrations"
	migrationsTable      = "registrar_migrations"
	migrationsLocksTable = "registrar_migration_locks"
)

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// NewMigrator returns a bun migrator over the embedded migrations. Applied
// versions are tracked in the registrar_migrations table.
func NewMigrator(db *bun.DB) (*migrate.Migrator, error) {
	sub, err := fs.Sub(migrationsFS, migrationsDir)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	return migrate.NewMigrator(db, migrations,
		migrate.WithTableName(migrationsTable),
		migrate.WithLocksTableName(migrationsLocksTable),
		migrate.WithMarkAppliedOnSuccess(true),
	), nil
}

// CreateSchema applies every embedded migration not applied yet. Running it
// again is a no-op.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	_, err := withMigrator(ctx, db, func(m *migrate.Migrator) (*migrate.MigrationGroup, error) {
		return m.Migrate(ctx)
	})
	return err
}

// DropSchema rolls back every applied migration group, newest first.
func DropSchema(ctx context.Context, db *bun.DB) error {
	_, err := withMigrator(ctx, db, func(m *migrate.Migrator) (*migrate.MigrationGroup, error) {
		for {
			group, err := m.Rollback(ctx)
			if err != nil {
				return nil, err
			}
			if group == nil || len(group.Migrations) == 0 {
				return group, nil
			}
		}
	})
	return err
}

// SchemaStatus lists applied and pending migration names.
func SchemaStatus(ctx context.Context, db *bun.DB) (applied []string, pending []string, err error) {
	m, err := NewMigrator(db)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Init(ctx); err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to init migrations table")
	}

	ms, err := m.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read migration status")
	}

	applied, pending = []string{}, []string{}
	for _, mig := range ms.Applied() {
		applied = append(applied, mig.String())
	}
	for _, mig := range ms.Unapplied() {
		pending = append(pending, mig.String())
	}
	return applied, pending, nil
}

func withMigrator(ctx context.Context, db *bun.DB, run func(*migrate.Migrator) (*migrate.MigrationGroup, error)) (*migrate.MigrationGroup, error) {
	m, err := NewMigrator(db)
	if err != nil {
		return nil, err
	}

	if err := m.Init(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to init migrations table")
	}
	if err := m.Lock(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "migrations are locked")
	}
	defer m.Unlock(ctx) //nolint:errcheck

	group, err := run(m)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations")
	}
	return group, nil
}
