package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS missions (
    id TEXT PRIMARY KEY,
    template TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME,
    saved_at DATETIME,
    snapshot_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missions_saved_at ON missions(saved_at);
`

// SQLiteStore persists snapshots in a SQLite database, one row per mission.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *scope.Snapshot) error {
	if snap == nil || snap.Mission.ID == "" {
		return errors.New("save: snapshot has no mission id")
	}
	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("save %s: %w", snap.Mission.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO missions (id, template, status, created_at, saved_at, snapshot_json)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    saved_at = excluded.saved_at,
    snapshot_json = excluded.snapshot_json`,
		snap.Mission.ID, snap.Template, string(snap.Mission.Status), snap.CreatedAt, snap.SavedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", snap.Mission.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, missionID string) (*scope.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM missions WHERE id = ?`, missionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", missionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", missionID, err)
	}
	return scope.Unmarshal([]byte(data))
}

// List returns summaries, most recently saved first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template, status, created_at, saved_at FROM missions ORDER BY saved_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		var status string
		var createdAt, savedAt sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.Template, &status, &createdAt, &savedAt); err != nil {
			return nil, fmt.Errorf("list missions: %w", err)
		}
		sum.Status = scope.Status(status)
		if createdAt.Valid {
			sum.CreatedAt = createdAt.Time
		}
		if savedAt.Valid {
			sum.SavedAt = savedAt.Time
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, missionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, missionID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", missionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %s: %w", missionID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
