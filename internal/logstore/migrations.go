package logstore

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS device_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	port TEXT NOT NULL,
	line TEXT NOT NULL,
	logged_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS device_logs_port_logged_at
ON device_logs(port, logged_at DESC);

CREATE TABLE IF NOT EXISTS build_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	action TEXT NOT NULL CHECK(action IN ('build','deploy')),
	success INTEGER NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	port TEXT NOT NULL DEFAULT '',
	seconds REAL NOT NULL DEFAULT 0,
	warnings INTEGER NOT NULL DEFAULT 0,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS build_history_project_finished_at
ON build_history(project, finished_at DESC);
`,
		DownSQL: `
DROP TABLE IF EXISTS build_history;
DROP TABLE IF EXISTS device_logs;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
