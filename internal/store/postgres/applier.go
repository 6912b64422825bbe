// Package postgres provides the Postgres-backed persistence collaborator,
// the deployment default for multi-instance setups.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
	"github.com/halcyon-ai/halcyon-sync/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
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
    entity_type TEXT        NOT NULL,
    entity_id   TEXT        NOT NULL,
    version     BIGINT      NOT NULL,
    event_id    TEXT        NOT NULL,
    action      TEXT        NOT NULL,
    data        JSONB,
    ts          TIMESTAMPTZ NOT NULL,
    user_id     TEXT,
    device_id   TEXT,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (entity_type, entity_id, version)
);
`

// EnsureSchema creates the event table when missing.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

// NewWithDB constructs the applier backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Applier { return &pgApplier{db: db} }

type pgApplier struct{ db *sql.DB }

func (a *pgApplier) Apply(ctx context.Context, e *model.SyncEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
INSERT INTO sync_events (entity_type, entity_id, version, event_id, action, data, ts, user_id, device_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.EntityType), e.EntityID, e.Version, e.ID, string(e.Action),
		string(data), e.Timestamp.UTC(), e.UserID, e.DeviceID)
	return err
}

func (a *pgApplier) LastVersion(ctx context.Context, et model.EntityType, entityID string) (int64, *model.SyncEvent, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT version, event_id, action, data, ts, user_id, device_id
FROM sync_events
WHERE entity_type = $1 AND entity_id = $2
ORDER BY version DESC
LIMIT 1`, string(et), entityID)

	var (
		e       model.SyncEvent
		data    sql.NullString
		ts      time.Time
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
	e.Timestamp = ts
	e.UserID = userID.String
	e.DeviceID = devID.String
	if data.Valid && data.String != "" && data.String != "null" {
		if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
			return 0, nil, fmt.Errorf("unmarshal event data: %w", err)
		}
	}
	return version, &e, nil
}

// HealthPing implements health.HealthPinger.
func (a *pgApplier) HealthPing(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
