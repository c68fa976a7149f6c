package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/loophabits/loop-client/internal/core/domain"
)

var (
	_ domain.SnapshotStore = (*SQLiteStore)(nil)
	_ domain.TokenStore    = (*SQLiteStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	user_id    TEXT PRIMARY KEY,
	snap_date  TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS auth_token (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	token      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore is the default durable local store: one file per
// machine, one snapshot row per user, a single token row.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localstore: failed to open sqlite at %s: %w", path, err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent service calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: failed to init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type snapshotRow struct {
	UserID   string `db:"user_id"`
	SnapDate string `db:"snap_date"`
	Data     string `db:"data"`
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, userID string) (*domain.DailySnapshot, error) {
	var row snapshotRow
	query := `SELECT user_id, snap_date, data FROM snapshots WHERE user_id = $1`

	err := s.db.GetContext(ctx, &row, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var data []domain.HabitCompletionStatus
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		// Corrupt row: fail open and drop it so the next save starts clean.
		log.Printf("[STORE] Corrupted snapshot for user %s, discarding: %v", userID, err)
		s.deleteSnapshot(ctx, userID)
		return nil, nil
	}

	return &domain.DailySnapshot{Date: row.SnapDate, Data: data}, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, userID string, snap *domain.DailySnapshot) error {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO snapshots (user_id, snap_date, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			snap_date = excluded.snap_date,
			data = excluded.data,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query, userID, snap.Date, string(data), time.Now().UTC())
	return err
}

func (s *SQLiteStore) UpdateOne(ctx context.Context, userID, habitID string, actualValue int) error {
	snap, err := s.LoadSnapshot(ctx, userID)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	for i := range snap.Data {
		if snap.Data[i].HabitID == habitID {
			value := actualValue
			snap.Data[i].CompletedToday = true
			snap.Data[i].ActualValue = &value
			break
		}
	}

	return s.SaveSnapshot(ctx, userID, snap)
}

func (s *SQLiteStore) deleteSnapshot(ctx context.Context, userID string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE user_id = $1`, userID); err != nil {
		log.Printf("[STORE] Failed to drop snapshot for user %s: %v", userID, err)
	}
}

func (s *SQLiteStore) LoadToken(ctx context.Context) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token, `SELECT token FROM auth_token WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func (s *SQLiteStore) SaveToken(ctx context.Context, token string) error {
	query := `
		INSERT INTO auth_token (id, token, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, token, time.Now().UTC())
	return err
}

func (s *SQLiteStore) ClearToken(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_token WHERE id = 1`)
	return err
}
