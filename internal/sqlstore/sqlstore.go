// Package sqlstore opens database/sql handles for the two supported drivers
// and applies embedded, numbered migrations.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver
)

// Driver names as registered with database/sql.
const (
	Postgres = "pgx"
	SQLite   = "sqlite"
)

// Open connects with driver and pings. For SQLite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case Postgres:
	case SQLite:
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Migrate applies every *.sql file under dir/<driver> in name order that
// has not yet been recorded in versionTable.
func Migrate(ctx context.Context, db *sql.DB, migrations fs.FS, dir, driver, versionTable string) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM `+versionTable)
	if err = row.Scan(&current); err != nil {
		return err
	}

	sub := dir + "/" + dialectDir(driver)
	entries, err := fs.ReadDir(migrations, sub)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i := current + 1; i < len(names); i++ {
		data, readErr := fs.ReadFile(migrations, sub+"/"+names[i])
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d (%s): %w", i, names[i], execErr)
		}
		if _, execErr := db.ExecContext(ctx, `INSERT INTO `+versionTable+` (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

func dialectDir(driver string) string {
	if driver == SQLite {
		return "sqlite"
	}
	return "postgres"
}
