// Package postgres archives telemetry events for later inspection.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const (
	defaultLimit = 200
	maxLimit     = 10000
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Instance  string                 `json:"instance"`
	RunID     *string                `json:"run_id,omitempty"`
}

// Filter narrows Query results. Zero values match everything.
type Filter struct {
	Event string
	RunID string
	Since time.Time
	Limit int
}

// Archive is an events.Sink backed by Postgres. Rows are partitioned by
// instance so several engines can share one database.
type Archive struct {
	db       *sql.DB
	instance string
}

// Open connects with dsn, verifies the connection and ensures the schema.
func Open(ctx context.Context, dsn, instance string) (*Archive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	a := &Archive{db: db, instance: instance}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS visor_events (
			event_id BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			event    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB,
			instance TEXT NOT NULL,
			run_id   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_visor_events_ts ON visor_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_visor_events_run ON visor_events(run_id);
	`)
	return err
}

// Append inserts an event. It satisfies events.Sink.
func (a *Archive) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, runID string) error {
	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO visor_events (ts, level, event, msg, fields, instance, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ts, level, event, nullable(msg), fieldsJSON, a.instance, nullable(runID))
	return err
}

// Query returns matching events, newest first.
func (a *Archive) Query(ctx context.Context, f Filter) ([]EventRow, error) {
	query, args := buildQuery(a.instance, f)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, runID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.Instance, &runID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if runID.Valid {
			e.RunID = &runID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func buildQuery(instance string, f Filter) (string, []interface{}) {
	query := `SELECT event_id, ts, level, event, msg, fields, instance, run_id
		FROM visor_events WHERE instance = $1`
	args := []interface{}{instance}

	if f.Event != "" {
		args = append(args, f.Event)
		query += fmt.Sprintf(" AND event = $%d", len(args))
	}
	if f.RunID != "" {
		args = append(args, f.RunID)
		query += fmt.Sprintf(" AND run_id = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}

	args = append(args, clampLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))
	return query, args
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
