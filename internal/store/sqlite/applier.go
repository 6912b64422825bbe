// Package sqlite provides a SQLite-backed reference implementation of the
// persistence collaborator, useful for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
	"github.com/halcyon-ai/halcyon-sync/internal/store"
)

// Open opens (or creates) a SQLite database at the given path and enables WAL
// journal mode for better concurrency under read-heavy sync traffic.
func Open(path string) (*sql.DB, error) {
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_events (
    entity_type TEXT    NOT NULL,
    entity_id   TEXT    NOT NULL,
    version     INTEGER NOT NULL,
    event_id    TEXT    NOT NULL,
    action      TEXT    NOT NULL,
    data        TEXT,
    ts          TEXT    NOT NULL,
    user_id     TEXT,
    device_id   TEXT,
    applied_at  TEXT    NOT NULL,
    PRIMARY KEY (entity_type, entity_id, version)
);
`

// EnsureSchema creates the event table when missing.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

// NewWithDB constructs the applier. Callers should run EnsureSchema first.
func NewWithDB(db *sql.DB) store.Applier { return &applier{db: db} }

type applier struct{ db *sql.DB }

// Apply records one event as the entity's next version. The primary key
// makes the write atomic and rejects duplicate versions outright.
func (a *applier) Apply(ctx context.Context, e *model.SyncEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
INSERT INTO sync_events (entity_type, entity_id, version, event_id, action, data, ts, user_id, device_id, applied_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.EntityType), e.EntityID, e.Version, e.ID, string(e.Action),
		string(data), e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.UserID, e.DeviceID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// LastVersion returns the highest applied (version, event) for the entity,
// or (0, nil, nil) when it has never been written.
func (a *applier) LastVersion(ctx context.Context, et model.EntityType, entityID string) (int64, *model.SyncEvent, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT version, event_id, action, data, ts, user_id, device_id
FROM sync_events
WHERE entity_type = ? AND entity_id = ?
ORDER BY version DESC
LIMIT 1`, string(et), entityID)

	var (
		e       model.SyncEvent
		data    sql.NullString
		ts      string
		userID  sql.NullString
		devID   sql.NullString
		version int64
	)
	err := row.Scan(&version, &e.ID, &e.Action, &data, &ts, &userID, &devID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	e.EntityType = et
	e.EntityID = entityID
	e.Version = version
	e.UserID = userID.String
	e.DeviceID = devID.String
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return 0, nil, fmt.Errorf("parse event timestamp: %w", err)
	}
	if data.Valid && data.String != "" && data.String != "null" {
		if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
			return 0, nil, fmt.Errorf("unmarshal event data: %w", err)
		}
	}
	return version, &e, nil
}

// HealthPing implements health.HealthPinger.
func (a *applier) HealthPing(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
