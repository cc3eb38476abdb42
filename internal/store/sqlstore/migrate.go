package sqlstore

import (
	"context"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// RunMigrations applies every pending migration for the given dialect.
func RunMigrations(ctx context.Context, db *gorm.DB, dialect string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	gooseDialect, dir := "sqlite3", "migrations/sqlite"
	if dialect == DialectPostgres {
		gooseDialect, dir = "postgres", "migrations/postgres"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return err
	}

	return nil
}
