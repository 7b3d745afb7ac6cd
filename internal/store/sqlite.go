// Package store owns the embedded relational database: threads, runs,
// events, automations, and review comments. It exposes a dual reader/writer
// pool over a single WAL-mode SQLite file, following the control plane's
// single-source-of-truth, serialized-facade model (spec.md §5).
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

// Pool provides separate read and write handles over the same SQLite file.
// The writer is limited to a single open connection to avoid SQLITE_BUSY
// under write contention; the reader allows several concurrent connections
// that observe consistent WAL snapshots.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and returns a Pool with schema applied.
func Open(path string) (*Pool, error) {
	writer, err := openSQLite(path, 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	reader, err := openSQLite(path, 4)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}

	p := &Pool{writer: writer, reader: reader}
	if err := p.migrate(); err != nil {
		p.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func openSQLite(path string, maxOpenConns int) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Ping verifies the reader connection is still reachable, for liveness
// checks.
func (p *Pool) Ping() error {
	return p.reader.Ping()
}

// Writer returns the write connection used for INSERT/UPDATE/DELETE.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the read connection used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	rErr := p.reader.Close()
	if wErr != nil {
		return wErr
	}
	return rErr
}
