package store

import "github.com/jmoiron/sqlx"

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	task             TEXT NOT NULL,
	repo_path        TEXT NOT NULL,
	worktree_path    TEXT NOT NULL,
	branch_name      TEXT NOT NULL,
	agent            TEXT NOT NULL,
	validate_json    TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	thread_id      TEXT NOT NULL REFERENCES threads(id),
	status         TEXT NOT NULL,
	max_iterations INTEGER NOT NULL,
	iterations     INTEGER NOT NULL DEFAULT 0,
	task_override  TEXT,
	source_run_id  TEXT,
	error          TEXT,
	created_at     DATETIME NOT NULL,
	started_at     DATETIME,
	finished_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at DESC);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id  TEXT NOT NULL,
	run_id     TEXT,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, created_at DESC);

CREATE TABLE IF NOT EXISTS automations (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	cron_expr        TEXT NOT NULL,
	thread_id        TEXT NOT NULL REFERENCES threads(id),
	max_iterations   INTEGER NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	last_triggered   DATETIME,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_comments (
	id          TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL REFERENCES threads(id),
	run_id      TEXT,
	file_path   TEXT NOT NULL,
	line_number INTEGER NOT NULL,
	body        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_thread ON review_comments(thread_id, created_at DESC);
`

// migrate applies the schema. Column additions beyond the original schema
// are performed lazily via EnsureColumn at startup, not through a
// versioned migration chain (spec.md §6).
func (p *Pool) migrate() error {
	_, err := p.writer.Exec(schema)
	return err
}

// ColumnExists reports whether table has column, via PRAGMA table_info.
func ColumnExists(db *sqlx.DB, table, column string) (bool, error) {
	rows, err := db.Queryx("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return false, err
		}
		// PRAGMA table_info columns: cid, name, type, notnull, dflt_value, pk
		if len(cols) > 1 {
			if name, ok := cols[1].(string); ok && name == column {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}

// EnsureColumn adds column to table with the given SQL type if it does not
// already exist, for lazy, non-destructive schema evolution.
func EnsureColumn(db *sqlx.DB, table, column, sqlType string) error {
	exists, err := ColumnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + sqlType)
	return err
}
