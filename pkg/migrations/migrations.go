package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed sql
var embedded embed.FS

// dialects maps gorm dialector names to goose dialects and their folder.
var dialects = map[string]struct {
	goose  string
	folder string
}{
	"postgres": {goose: "postgres", folder: "sql/postgres"},
	"sqlite":   {goose: "sqlite3", folder: "sql/sqlite"},
}

func MigrateStore(ctx context.Context, db *sql.DB, dialect string) error {
	d, ok := dialects[dialect]
	if !ok {
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}

	goose.SetLogger(&logger{})

	migrationFS, err := fs.Sub(embedded, d.folder)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrationFS)

	if err := goose.SetDialect(d.goose); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) {
	zap.S().Named("migrations").Infof(format, v...)
}
func (m *logger) Fatalf(format string, v ...interface{}) {
	zap.S().Named("migrations").Fatalf(format, v...)
}
