// Package storekit holds the sqlite-open and goose-migrate boilerplate
// shared by the three singleton stores (coordinator, agentstate, lock).
package storekit

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Open opens a modernc.org/sqlite database at path with the pragmas the
// single-writer actors in this repo rely on: WAL for read concurrency
// across HTTP handlers, a busy timeout so a rare lock collision waits
// instead of erroring, and foreign keys on.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Every singleton in this repo is single-writer by design; one
	// connection avoids SQLITE_BUSY races between concurrent readers
	// and the actor's own writes.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies every embedded *.sql migration under dir using goose.
// goose's SQL dialect is always named "sqlite3" regardless of which
// driver registered the connection.
func Migrate(db *sql.DB, migrations embed.FS, dir string) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations in %s: %w", dir, err)
	}
	return nil
}
