// Package logstore archives device log lines and build/deploy outcomes in
// a local sqlite database so they survive dashboard restarts. Archival is
// best effort; a write failure never interrupts a live tail.
package logstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	ActionBuild  = "build"
	ActionDeploy = "deploy"
)

// LogLine is one archived serial-monitor line.
type LogLine struct {
	Port     string
	Line     string
	LoggedAt time.Time
}

// BuildRecord is one finished build or deploy.
type BuildRecord struct {
	Project    string
	Action     string
	Success    bool
	Detail     string
	Port       string
	Seconds    float64
	Warnings   int
	FinishedAt time.Time
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod log db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AppendLogLine(ctx context.Context, entry LogLine) error {
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO device_logs(port, line, logged_at) VALUES (?, ?, ?)
`, entry.Port, entry.Line, ts(entry.LoggedAt))
	if err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}

func (s *Store) AppendBuildRecord(ctx context.Context, rec BuildRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO build_history(project, action, success, detail, port, seconds, warnings, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, rec.Project, rec.Action, boolToInt(rec.Success), rec.Detail, rec.Port, rec.Seconds, rec.Warnings, ts(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("append build record: %w", err)
	}
	return nil
}

// RecentLogs returns up to limit archived lines for a port, oldest first.
func (s *Store) RecentLogs(ctx context.Context, port string, limit int) ([]LogLine, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT port, line, logged_at FROM (
	SELECT id, port, line, logged_at FROM device_logs
	WHERE port = ? ORDER BY id DESC LIMIT ?
) ORDER BY id ASC
`, port, limit)
	if err != nil {
		return nil, fmt.Errorf("query device logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []LogLine
	for rows.Next() {
		var entry LogLine
		var at string
		if err := rows.Scan(&entry.Port, &entry.Line, &at); err != nil {
			return nil, fmt.Errorf("scan device log: %w", err)
		}
		if entry.LoggedAt, err = parseTS(at); err != nil {
			return nil, fmt.Errorf("parse logged_at: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// BuildHistory returns up to limit finished builds/deploys, newest first.
// An empty project matches every project.
func (s *Store) BuildHistory(ctx context.Context, project string, limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT project, action, success, detail, port, seconds, warnings, finished_at
FROM build_history
WHERE (? = '' OR project = ?)
ORDER BY id DESC LIMIT ?
`, project, project, limit)
	if err != nil {
		return nil, fmt.Errorf("query build history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []BuildRecord
	for rows.Next() {
		var rec BuildRecord
		var success int
		var at string
		if err := rows.Scan(&rec.Project, &rec.Action, &success, &rec.Detail, &rec.Port, &rec.Seconds, &rec.Warnings, &at); err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		rec.Success = success != 0
		if rec.FinishedAt, err = parseTS(at); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes archived rows older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) error {
	cutoff := ts(time.Now().UTC().Add(-retention))
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_logs WHERE logged_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune device logs: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM build_history WHERE finished_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune build history: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// tsLayout keeps a fixed-width fraction so stored timestamps compare
// lexicographically in time order; RFC3339Nano drops trailing zeros and
// breaks the string comparison Prune relies on.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
