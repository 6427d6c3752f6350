package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

type Database struct {
	db  *sql.DB
	get *sql.Stmt
	set *sql.Stmt
	del *sql.Stmt
}

func NewSQLite(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("db: apply schema: %w", err), db.Close())
	}

	d := &Database{db: db}
	if d.get, err = db.Prepare(`SELECT value FROM kv WHERE key = ?`); err != nil {
		return nil, multierr.Append(fmt.Errorf("db: prepare get: %w", err), d.Close())
	}
	if d.set, err = db.Prepare(`
        INSERT INTO kv (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`); err != nil {
		return nil, multierr.Append(fmt.Errorf("db: prepare set: %w", err), d.Close())
	}
	if d.del, err = db.Prepare(`DELETE FROM kv WHERE key = ?`); err != nil {
		return nil, multierr.Append(fmt.Errorf("db: prepare delete: %w", err), d.Close())
	}
	return d, nil
}

func (d *Database) Get(key string) ([]byte, error) {
	var value []byte
	err := d.get.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get %s: %w", key, err)
	}
	return value, nil
}

func (d *Database) Set(key string, value []byte) error {
	if _, err := d.set.Exec(key, value); err != nil {
		return fmt.Errorf("db: set %s: %w", key, err)
	}
	return nil
}

func (d *Database) Delete(key string) error {
	if _, err := d.del.Exec(key); err != nil {
		return fmt.Errorf("db: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the prepared statements and the underlying connection pool.
func (d *Database) Close() error {
	var err error
	for _, stmt := range []*sql.Stmt{d.get, d.set, d.del} {
		if stmt != nil {
			err = multierr.Append(err, stmt.Close())
		}
	}
	return multierr.Append(err, d.db.Close())
}
