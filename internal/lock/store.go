package lock

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/coordhub/coordhub/internal/storekit"
)

//go:embed migrations/*.sql
var migrations embed.FS

// store is the raw SQL layer for the Lock singleton. One database holds
// every resource's current row and history; business logic lives in
// lock.go and manager.go.
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := storekit.Open(path)
	if err != nil {
		return nil, err
	}
	if err := storekit.Migrate(db, migrations, "migrations"); err != nil {
		db.Close()
		return nil, err
	}
	return &store{db: db}, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *store) getCurrent(resourcePath string) (*LockRecord, error) {
	row := s.db.QueryRow(`SELECT resource_path, resource_type, locked_by, reason, locked_at, expires_at
		FROM current_locks WHERE resource_path = ?`, resourcePath)
	var rec LockRecord
	var lockedAt, expiresAt string
	err := row.Scan(&rec.ResourcePath, &rec.ResourceType, &rec.LockedBy, &rec.Reason, &lockedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current lock: %w", err)
	}
	rec.LockedAt = parseTime(lockedAt)
	rec.ExpiresAt = parseTime(expiresAt)
	return &rec, nil
}

func (s *store) putCurrent(rec *LockRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO current_locks (resource_path, resource_type, locked_by, reason, locked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_path) DO UPDATE SET
			resource_type = excluded.resource_type, locked_by = excluded.locked_by, reason = excluded.reason,
			locked_at = excluded.locked_at, expires_at = excluded.expires_at`,
		rec.ResourcePath, rec.ResourceType, rec.LockedBy, rec.Reason, fmtTime(rec.LockedAt), fmtTime(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put current lock: %w", err)
	}
	return nil
}

func (s *store) deleteCurrent(resourcePath string) error {
	if _, err := s.db.Exec(`DELETE FROM current_locks WHERE resource_path = ?`, resourcePath); err != nil {
		return fmt.Errorf("delete current lock: %w", err)
	}
	return nil
}

func (s *store) appendHistory(e *HistoryEntry) error {
	_, err := s.db.Exec(`INSERT INTO lock_history (id, resource_path, event, agent, reason, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ResourcePath, e.Event, e.Agent, e.Reason, fmtTime(e.At))
	if err != nil {
		return fmt.Errorf("append lock history: %w", err)
	}
	return nil
}

func (s *store) listHistory(resourcePath string) ([]*HistoryEntry, error) {
	rows, err := s.db.Query(`SELECT id, resource_path, event, agent, reason, at FROM lock_history WHERE resource_path = ? ORDER BY at ASC`, resourcePath)
	if err != nil {
		return nil, fmt.Errorf("list lock history: %w", err)
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var at string
		if err := rows.Scan(&e.ID, &e.ResourcePath, &e.Event, &e.Agent, &e.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan lock history: %w", err)
		}
		e.At = parseTime(at)
		out = append(out, &e)
	}
	return out, rows.Err()
}
